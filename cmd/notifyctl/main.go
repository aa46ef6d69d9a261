// Command notifyctl sends a test doctor notification through the configured
// channels and prints the result as JSON.
//
//	notifyctl -mode synthetic -booking test-42
//	notifyctl -mode custom -payload @request.json
//	notifyctl -lookup -booking bk-1001
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/app"
	"github.com/lalithlochan/medinotify/internal/booking"
	"github.com/lalithlochan/medinotify/internal/config"
	"github.com/lalithlochan/medinotify/internal/notify"
	"github.com/lalithlochan/medinotify/internal/observ"
)

// Exit codes.
const (
	exitOK           = 0
	exitError        = 1
	exitNotDelivered = 2
)

type options struct {
	bookingID string
	mode      string
	payload   string
	lookup    bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	// Logs go to stderr so stdout stays machine readable.
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := app.ConnectBackends(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	defer b.Close()

	senders := app.BuildSenders(ctx, cfg, logger)
	engine := notify.NewEngine(cfg.NotifyConfig(), senders.Email, senders.Messaging, app.BuildStore(cfg, b, logger), logger)

	if opts.lookup {
		return lookup(ctx, engine, opts.bookingID, stdout, stderr)
	}

	payload, err := readPayload(opts.payload)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	mode, err := booking.ParseMode(opts.mode)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	sim := booking.NewSimulator(engine, booking.Config{
		ClinicName:     cfg.ClinicName,
		BookingURLBase: cfg.BookingURLBase,
	}, booking.Doctor{
		Email: cfg.SimDoctorEmail,
		Phone: cfg.SimDoctorPhone,
	}, logger)

	res, err := sim.Run(ctx, mode, opts.bookingID, payload)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}

	if err := printJSON(stdout, res); err != nil {
		logger.Error("failed to write result", zap.Error(err))
		return exitError
	}
	if !res.Success {
		return exitNotDelivered
	}
	return exitOK
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("notifyctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.bookingID, "booking", "", "booking id (generated when empty)")
	fs.StringVar(&opts.mode, "mode", string(booking.ModeSynthetic), "synthetic, simulation or custom")
	fs.StringVar(&opts.payload, "payload", "", "custom NotificationRequest as JSON, or @file")
	fs.BoolVar(&opts.lookup, "lookup", false, "print the stored record for -booking instead of sending")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if opts.lookup && opts.bookingID == "" {
		return opts, errors.New("-lookup requires -booking")
	}
	return opts, nil
}

// readPayload returns raw inline JSON, or the contents of the file named
// after a leading '@'.
func readPayload(raw string) (json.RawMessage, error) {
	if raw == "" {
		return nil, nil
	}
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		return json.RawMessage(data), nil
	}
	return json.RawMessage(raw), nil
}

func lookup(ctx context.Context, engine *notify.Engine, bookingID string, stdout, stderr io.Writer) int {
	rec, ok, err := engine.Lookup(ctx, bookingID)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	if !ok {
		fmt.Fprintf(stderr, "no notification record for %s\n", bookingID)
		return exitNotDelivered
	}
	if err := printJSON(stdout, rec); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitError
	}
	return exitOK
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
