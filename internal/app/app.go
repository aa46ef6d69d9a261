// Package app assembles transports and stores from configuration for the
// gateway and the CLI.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/circuitbreaker"
	"github.com/lalithlochan/medinotify/internal/config"
	"github.com/lalithlochan/medinotify/internal/db"
	"github.com/lalithlochan/medinotify/internal/metrics"
	"github.com/lalithlochan/medinotify/internal/notify"
	"github.com/lalithlochan/medinotify/internal/redis"
	"github.com/lalithlochan/medinotify/internal/sender"
)

// Senders holds the transports handed to the engine. A nil sender
// surfaces as a misconfigured channel at dispatch time.
type Senders struct {
	Email     sender.Sender
	Messaging sender.Sender
	Breakers  []*circuitbreaker.CircuitBreaker
}

// BuildSenders creates the configured transports, each behind its own
// circuit breaker.
func BuildSenders(ctx context.Context, cfg *config.Config, logger *zap.Logger) Senders {
	var out Senders

	switch cfg.EmailProvider {
	case config.ProviderSES:
		sesSender, err := sender.NewSESSender(ctx, sender.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			logger.Warn("SES sender unavailable, email notifications disabled", zap.Error(err))
			break
		}
		out.Email = out.protect(sesSender, "ses", cfg, logger)
	case config.ProviderLog:
		out.Email = sender.NewLogSender(sender.ChannelEmail, logger)
	}

	switch cfg.MessagingProvider {
	case config.ProviderSNS:
		snsSender, err := sender.NewSNSSender(ctx, sender.SNSConfig{
			Region:   cfg.SNSRegion,
			SenderID: cfg.SNSSenderID,
		}, logger)
		if err != nil {
			logger.Warn("SNS sender unavailable, messaging notifications disabled", zap.Error(err))
			break
		}
		out.Messaging = out.protect(snsSender, "sns", cfg, logger)
	case config.ProviderChat:
		chat := sender.NewChatSender(sender.ChatConfig{
			URL:     cfg.ChatAPIURL,
			Token:   cfg.ChatAPIToken,
			Timeout: cfg.ChatTimeout,
		}, logger)
		out.Messaging = out.protect(chat, "chat", cfg, logger)
	case config.ProviderLog:
		out.Messaging = sender.NewLogSender(sender.ChannelMessaging, logger)
	}

	logger.Info("initialized notification channels",
		zap.String("email_provider", cfg.EmailProvider),
		zap.String("messaging_provider", cfg.MessagingProvider),
		zap.Bool("email_enabled", out.Email != nil),
		zap.Bool("messaging_enabled", out.Messaging != nil),
	)
	return out
}

func (c *Senders) protect(s sender.Sender, name string, cfg *config.Config, logger *zap.Logger) sender.Sender {
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:                name,
		MaxFailures:         cfg.BreakerMaxFailures,
		RecoveryTimeout:     cfg.BreakerRecoveryTimeout,
		HalfOpenMaxRequests: 1,
		OnStateChange: func(name string, from, to circuitbreaker.State) {
			metrics.SetBreakerState(name, int(to))
		},
	}, logger)
	metrics.SetBreakerState(name, int(circuitbreaker.StateClosed))

	c.Breakers = append(c.Breakers, breaker)
	return circuitbreaker.NewProtectedSender(s, breaker, logger)
}

// Backends holds the optional infrastructure connections.
type Backends struct {
	Database *db.DB
	Redis    *redis.Client
}

// ConnectBackends opens the database and Redis connections that cfg names.
func ConnectBackends(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Backends, error) {
	var b Backends

	if cfg.DatabaseURL != "" {
		database, err := db.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return b, fmt.Errorf("failed to connect to database: %w", err)
		}
		b.Database = database
	}

	if cfg.RedisAddr != "" {
		client, err := redis.New(ctx, redis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			if cfg.IdempotencyBackend == config.BackendRedis {
				b.Close()
				return b, fmt.Errorf("failed to connect to redis: %w", err)
			}
			logger.Warn("redis unavailable, rate limiting disabled",
				zap.Error(err),
				zap.String("addr", cfg.RedisAddr),
			)
		} else {
			b.Redis = client
		}
	}

	return b, nil
}

func (b Backends) Close() {
	if b.Redis != nil {
		_ = b.Redis.Close()
	}
	if b.Database != nil {
		b.Database.Close()
	}
}

// BuildStore returns the idempotency store selected by IDEMPOTENCY_BACKEND.
func BuildStore(cfg *config.Config, b Backends, logger *zap.Logger) notify.Store {
	switch cfg.IdempotencyBackend {
	case config.BackendRedis:
		return redis.NewIdempotencyStore(b.Redis, logger, cfg.IdempotencyTTL)
	case config.BackendPostgres:
		return db.NewIdempotencyStore(b.Database, logger)
	default:
		logger.Warn("using in-memory idempotency store, records do not survive restarts")
		return notify.NewMemoryStore(cfg.IdempotencyTTL)
	}
}
