package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Netflix/go-env"

	"github.com/lalithlochan/medinotify/internal/notify"
	"github.com/lalithlochan/medinotify/internal/retry"
)

// Idempotency store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Transport providers.
const (
	ProviderSES  = "ses"
	ProviderSNS  = "sns"
	ProviderChat = "chat"
	ProviderLog  = "log"
)

type Config struct {
	Port     int    `env:"PORT,default=8080"`
	LogLevel string `env:"LOG_LEVEL,default=info"`
	Env      string `env:"ENV,default=development"`

	// Dispatch
	FeatureEnabled          bool   `env:"NOTIFY_FEATURE_ENABLED,default=true"`
	SandboxMode             bool   `env:"SANDBOX_MODE,default=false"`
	SandboxEmailAddress     string `env:"SANDBOX_EMAIL_ADDRESS"`
	SandboxMessagingAddress string `env:"SANDBOX_MESSAGING_ADDRESS"`
	PhoneCountryCode        string `env:"PHONE_COUNTRY_CODE,default=56"`
	RetryMaxAttempts        int    `env:"RETRY_MAX_ATTEMPTS,default=3"`
	// RetryDelaysRaw is a comma separated list, so its default lives in Load.
	RetryDelaysRaw string `env:"RETRY_DELAYS"`

	// Idempotency
	IdempotencyBackend string `env:"IDEMPOTENCY_BACKEND,default=memory"`
	IdempotencyTTLRaw  string `env:"IDEMPOTENCY_TTL,default=720h"`
	RetentionEveryRaw  string `env:"RETENTION_INTERVAL,default=1h"`

	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Redis config
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB,default=0"`

	// AWS Services
	AWSRegion   string `env:"AWS_REGION,default=us-east-1"`
	AWSEndpoint string `env:"AWS_ENDPOINT_URL"`

	EmailProvider string `env:"EMAIL_PROVIDER,default=ses"`
	SESFromEmail  string `env:"SES_FROM_EMAIL"`

	MessagingProvider string `env:"MESSAGING_PROVIDER,default=log"`
	SNSRegion         string `env:"SNS_REGION"`
	SNSSenderID       string `env:"SNS_SENDER_ID"`
	ChatAPIURL        string `env:"CHAT_API_URL"`
	ChatAPIToken      string `env:"CHAT_API_TOKEN"`
	ChatTimeoutRaw    string `env:"CHAT_API_TIMEOUT,default=10s"`

	AlertTopicARN string `env:"ALERT_TOPIC_ARN"`

	// SQS config
	SQSQueueURL     string `env:"SQS_QUEUE_URL"`
	WorkerEnabled   bool   `env:"WORKER_ENABLED,default=true"`
	WorkerBatchSize int    `env:"WORKER_BATCH_SIZE,default=5"`

	// Booking
	BookingURLBase string `env:"BOOKING_URL_BASE"`
	ClinicName     string `env:"CLINIC_NAME"`

	// Destination for test notifications.
	SimDoctorEmail string `env:"SIM_DOCTOR_EMAIL"`
	SimDoctorPhone string `env:"SIM_DOCTOR_PHONE"`

	// Resilience
	BreakerMaxFailures        int    `env:"BREAKER_MAX_FAILURES,default=5"`
	BreakerRecoveryTimeoutRaw string `env:"BREAKER_RECOVERY_TIMEOUT,default=30s"`
	RateLimitPerMinute        int    `env:"RATE_LIMIT_PER_MINUTE,default=100"`

	// Parsed forms of the raw values above.
	RetryDelays            retry.Schedule
	IdempotencyTTL         time.Duration
	RetentionInterval      time.Duration
	ChatTimeout            time.Duration
	BreakerRecoveryTimeout time.Duration
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.parse(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) parse() error {
	if strings.TrimSpace(c.RetryDelaysRaw) == "" {
		c.RetryDelays = retry.DefaultSchedule
	} else {
		schedule, err := retry.ParseSchedule(c.RetryDelaysRaw)
		if err != nil {
			return fmt.Errorf("invalid RETRY_DELAYS: %w", err)
		}
		c.RetryDelays = schedule
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"IDEMPOTENCY_TTL", c.IdempotencyTTLRaw, &c.IdempotencyTTL},
		{"RETENTION_INTERVAL", c.RetentionEveryRaw, &c.RetentionInterval},
		{"CHAT_API_TIMEOUT", c.ChatTimeoutRaw, &c.ChatTimeout},
		{"BREAKER_RECOVERY_TIMEOUT", c.BreakerRecoveryTimeoutRaw, &c.BreakerRecoveryTimeout},
	}
	for _, d := range durations {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.name, err)
		}
		if v < 0 {
			return fmt.Errorf("invalid %s: negative duration", d.name)
		}
		*d.dst = v
	}

	if c.SNSRegion == "" {
		c.SNSRegion = c.AWSRegion
	}
	return nil
}

func (c *Config) validate() error {
	switch c.IdempotencyBackend {
	case BackendMemory, BackendRedis, BackendPostgres:
	default:
		return fmt.Errorf("invalid IDEMPOTENCY_BACKEND %q", c.IdempotencyBackend)
	}
	if c.IdempotencyBackend == BackendPostgres && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres idempotency backend")
	}
	if c.IdempotencyBackend == BackendRedis && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required for the redis idempotency backend")
	}

	switch c.EmailProvider {
	case ProviderSES, ProviderLog:
	default:
		return fmt.Errorf("invalid EMAIL_PROVIDER %q", c.EmailProvider)
	}
	switch c.MessagingProvider {
	case ProviderSNS, ProviderChat, ProviderLog:
	default:
		return fmt.Errorf("invalid MESSAGING_PROVIDER %q", c.MessagingProvider)
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("invalid RETRY_MAX_ATTEMPTS %d: must be at least 1", c.RetryMaxAttempts)
	}
	if c.BreakerMaxFailures < 1 {
		return fmt.Errorf("invalid BREAKER_MAX_FAILURES %d: must be at least 1", c.BreakerMaxFailures)
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE %d", c.RateLimitPerMinute)
	}
	return nil
}

// NotifyConfig derives the dispatch engine settings.
func (c *Config) NotifyConfig() notify.Config {
	return notify.Config{
		FeatureEnabled: c.FeatureEnabled,
		Sandbox: notify.Sandbox{
			Enabled:   c.SandboxMode,
			Email:     c.SandboxEmailAddress,
			Messaging: c.SandboxMessagingAddress,
		},
		CountryCode: c.PhoneCountryCode,
		Retry: retry.Policy{
			MaxAttempts: c.RetryMaxAttempts,
			Backoff:     c.RetryDelays,
		},
	}
}
