package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/api"
	"github.com/lalithlochan/medinotify/internal/app"
	"github.com/lalithlochan/medinotify/internal/booking"
	"github.com/lalithlochan/medinotify/internal/config"
	"github.com/lalithlochan/medinotify/internal/db"
	"github.com/lalithlochan/medinotify/internal/metrics"
	"github.com/lalithlochan/medinotify/internal/notify"
	"github.com/lalithlochan/medinotify/internal/observ"
	"github.com/lalithlochan/medinotify/internal/redis"
	"github.com/lalithlochan/medinotify/internal/sns"
	"github.com/lalithlochan/medinotify/internal/sqs"
	"github.com/lalithlochan/medinotify/internal/worker"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting medinotify gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Bool("feature_enabled", cfg.FeatureEnabled),
		zap.Bool("sandbox_mode", cfg.SandboxMode),
		zap.String("idempotency_backend", cfg.IdempotencyBackend),
	)

	ctx := context.Background()

	b, err := app.ConnectBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	senders := app.BuildSenders(ctx, cfg, logger)
	store := app.BuildStore(cfg, b, logger)
	engine := notify.NewEngine(cfg.NotifyConfig(), senders.Email, senders.Messaging, store, logger)

	var records booking.Records
	if b.Database != nil {
		records = db.NewRepository(b.Database, logger)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory booking records")
		records = booking.NewMemoryRecords()
	}

	var alerter booking.Alerter
	if cfg.AlertTopicARN != "" {
		var a *sns.Alerter
		if cfg.AWSEndpoint != "" {
			a, err = sns.NewAlerterWithEndpoint(ctx, cfg.AWSRegion, cfg.AlertTopicARN, cfg.AWSEndpoint, logger)
		} else {
			a, err = sns.NewAlerter(ctx, cfg.AWSRegion, cfg.AlertTopicARN, logger)
		}
		if err != nil {
			logger.Warn("alert publisher unavailable, failures will only be logged", zap.Error(err))
		} else {
			alerter = a
		}
	}

	bookingCfg := booking.Config{
		ClinicName:     cfg.ClinicName,
		BookingURLBase: cfg.BookingURLBase,
	}
	orchestrator := booking.NewOrchestrator(records, engine, alerter, bookingCfg, logger)
	simulator := booking.NewSimulator(engine, bookingCfg, booking.Doctor{
		Email: cfg.SimDoctorEmail,
		Phone: cfg.SimDoctorPhone,
	}, logger)

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Payment confirmations go through SQS when a queue is configured.
	var handler *api.Handler
	if cfg.SQSQueueURL != "" {
		sqsCfg := sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.SQSQueueURL,
			Endpoint: cfg.AWSEndpoint,
		}
		producer, err := sqs.NewProducer(ctx, sqsCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqs producer: %w", err)
		}
		handler = api.NewHandlerWithSQS(logger, orchestrator, engine, simulator, producer)

		if cfg.WorkerEnabled {
			consumer, err := sqs.NewConsumer(ctx, sqsCfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create sqs consumer: %w", err)
			}
			w := worker.New(consumer, orchestrator, worker.Config{BatchSize: cfg.WorkerBatchSize}, logger)
			go w.Start(bgCtx)
			logger.Info("background worker started")
		}
	} else {
		handler = api.NewHandler(logger, orchestrator, engine, simulator)
	}

	var rateLimiter *redis.RateLimiter
	if b.Redis != nil && cfg.RateLimitPerMinute > 0 {
		rateLimiter = redis.NewRateLimiter(b.Redis, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: 1 * time.Minute,
		})
	}

	go reportConnections(bgCtx, b)
	if idem, ok := store.(*db.IdempotencyStore); ok && cfg.IdempotencyTTL > 0 && cfg.RetentionInterval > 0 {
		go purgeRecords(bgCtx, idem, cfg.IdempotencyTTL, cfg.RetentionInterval, logger)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
		handler.Register(r)
	})

	checks := map[string]api.HealthCheck{}
	if b.Database != nil {
		checks["postgres"] = b.Database.Health
	}
	if b.Redis != nil {
		checks["redis"] = b.Redis.Ping
	}
	r.Get("/health", api.HealthHandler(checks, senders.Breakers...))

	r.Handle("/metrics", metrics.Handler())

	// WriteTimeout covers a full retry schedule on a synchronous confirmation.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		bgCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}

// reportConnections publishes pool gauges until ctx is done.
func reportConnections(ctx context.Context, b app.Backends) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.Database != nil {
				metrics.SetDBConnections(b.Database.AcquiredConns())
			}
			if b.Redis != nil {
				metrics.SetRedisConnections(b.Redis.OpenConnections())
			}
		}
	}
}

// purgeRecords drops notification records older than ttl every interval.
func purgeRecords(ctx context.Context, store *db.IdempotencyStore, ttl, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.Purge(ctx, ttl)
			if err != nil {
				logger.Error("failed to purge notification records", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("purged notification records", zap.Int("removed", removed))
			}
		}
	}
}
