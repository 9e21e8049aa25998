// Package config provides application configuration loaded from environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Queue drivers.
const (
	QueueDriverSync  = "sync"
	QueueDriverRedis = "redis"
	QueueDriverRiver = "river"
	QueueDriverKafka = "kafka"
	QueueDriverSQS   = "sqs"
)

// App manager drivers.
const (
	AppManagerArray    = "array"
	AppManagerPostgres = "postgres"
)

// Config holds all application configuration.
type Config struct {
	Port     string
	APIKey   string
	LogLevel string
	LogFile  string
	Debug    bool

	// ProcessID identifies this process in the webhook User-Agent.
	ProcessID string

	BatchingEnabled  bool
	BatchingDuration time.Duration

	QueueDriver            string
	QueueProcessingEnabled bool
	QueueConcurrency       int
	EnqueueMaxRetries      int

	RedisURL          string
	RedisQueuePrefix  string
	DatabaseURL       string
	DatabaseMaxConns  int
	RiverMigrate      bool
	KafkaBrokers      []string
	KafkaGroupID      string
	KafkaTopicPrefix  string
	SQSQueueURLPrefix string
	SQSRegion         string
	// SQSMaxMessages is how many messages one poll takes (1 to 10).
	SQSMaxMessages int
	// SQSVisibilityTimeout hides received messages from other pollers. Zero derives it from
	// the delivery timeout and SQSMaxMessages.
	SQSVisibilityTimeout time.Duration

	AppManagerDriver string
	AppsFile         string
	AppCacheSize     int
	AppCacheTTL      time.Duration

	WebhookHTTPTimeout            time.Duration
	WebhookHTTPMaxRetries         int
	WebhookMaxDeliveriesPerSecond int

	MaxRequestBodyBytes int64

	OtelMetricsExporter  string
	OtelTracesExporter   string
	OtelTracesSampler    string
	OtelTracesSamplerArg string
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBool retrieves an environment variable as a bool or returns a default value.
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsDuration accepts Go durations ("250ms") or a bare integer of milliseconds.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	if ms, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(ms) * time.Millisecond
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string

	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}

	return out
}

// Load reads configuration from environment variables and returns a Config struct.
// It automatically loads .env file if it exists.
// API_KEY is required; driver-specific settings are required only for the selected driver.
func Load() (*Config, error) {
	// Skip logging when .env is absent (e.g. env from secrets/parameter store).
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	apiKey := os.Getenv("API_KEY")
	if apiKey == "" {
		return nil, errors.New("API_KEY environment variable is required but not set")
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		APIKey:   apiKey,
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  os.Getenv("LOG_FILE"),
		Debug:    getEnvAsBool("DEBUG", false),

		ProcessID: getEnv("INSTANCE_PROCESS_ID", uuid.Must(uuid.NewV7()).String()),

		BatchingEnabled:  getEnvAsBool("WEBHOOK_BATCHING_ENABLED", false),
		BatchingDuration: getEnvAsDuration("WEBHOOK_BATCHING_DURATION", 50*time.Millisecond),

		QueueDriver:            getEnv("QUEUE_DRIVER", QueueDriverSync),
		QueueProcessingEnabled: getEnvAsBool("QUEUE_PROCESSING_ENABLED", true),
		QueueConcurrency:       getEnvAsInt("QUEUE_CONCURRENCY", 10),
		EnqueueMaxRetries:      getEnvAsInt("ENQUEUE_MAX_RETRIES", 3),

		RedisURL:          getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisQueuePrefix:  getEnv("REDIS_QUEUE_PREFIX", "pushgate:queue:"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DatabaseMaxConns:  getEnvAsInt("DATABASE_MAX_CONNS", 0),
		RiverMigrate:      getEnvAsBool("RIVER_MIGRATE", true),
		KafkaBrokers:      getEnvAsList("KAFKA_BROKERS"),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", "pushgate-webhooks"),
		KafkaTopicPrefix:  getEnv("KAFKA_TOPIC_PREFIX", "pushgate."),
		SQSQueueURLPrefix: os.Getenv("SQS_QUEUE_URL_PREFIX"),
		SQSRegion:         getEnv("SQS_REGION", "us-east-1"),
		SQSMaxMessages:    getEnvAsInt("SQS_MAX_MESSAGES", 10),

		SQSVisibilityTimeout: getEnvAsDuration("SQS_VISIBILITY_TIMEOUT", 0),

		AppManagerDriver: getEnv("APP_MANAGER_DRIVER", AppManagerArray),
		AppsFile:         getEnv("APPS_FILE", "apps.yaml"),
		AppCacheSize:     getEnvAsInt("APP_CACHE_SIZE", 1000),
		AppCacheTTL:      getEnvAsDuration("APP_CACHE_TTL", time.Minute),

		WebhookHTTPTimeout:            getEnvAsDuration("WEBHOOK_HTTP_TIMEOUT", 15*time.Second),
		WebhookHTTPMaxRetries:         getEnvAsInt("WEBHOOK_HTTP_MAX_RETRIES", 0),
		WebhookMaxDeliveriesPerSecond: getEnvAsInt("WEBHOOK_MAX_DELIVERIES_PER_SECOND", 0),

		MaxRequestBodyBytes: int64(getEnvAsInt("MAX_REQUEST_BODY_BYTES", 1<<20)),

		OtelMetricsExporter:  os.Getenv("OTEL_METRICS_EXPORTER"),
		OtelTracesExporter:   os.Getenv("OTEL_TRACES_EXPORTER"),
		OtelTracesSampler:    os.Getenv("OTEL_TRACES_SAMPLER"),
		OtelTracesSamplerArg: os.Getenv("OTEL_TRACES_SAMPLER_ARG"),
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.BatchingEnabled && c.BatchingDuration <= 0 {
		return errors.New("WEBHOOK_BATCHING_DURATION must be positive when batching is enabled")
	}

	if c.QueueConcurrency <= 0 {
		return errors.New("QUEUE_CONCURRENCY must be a positive integer")
	}

	if c.EnqueueMaxRetries < 0 {
		return errors.New("ENQUEUE_MAX_RETRIES must not be negative")
	}

	if c.WebhookHTTPTimeout <= 0 {
		return errors.New("WEBHOOK_HTTP_TIMEOUT must be positive")
	}

	if c.WebhookHTTPMaxRetries < 0 {
		return errors.New("WEBHOOK_HTTP_MAX_RETRIES must not be negative")
	}

	if c.WebhookMaxDeliveriesPerSecond < 0 {
		return errors.New("WEBHOOK_MAX_DELIVERIES_PER_SECOND must not be negative")
	}

	if c.AppCacheSize <= 0 {
		return errors.New("APP_CACHE_SIZE must be a positive integer")
	}

	switch c.QueueDriver {
	case QueueDriverSync:
		if !c.QueueProcessingEnabled {
			return errors.New("QUEUE_PROCESSING_ENABLED=false needs a shared QUEUE_DRIVER, not sync")
		}
	case QueueDriverRedis:
	case QueueDriverRiver:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for QUEUE_DRIVER=river")
		}
	case QueueDriverKafka:
		if len(c.KafkaBrokers) == 0 {
			return errors.New("KAFKA_BROKERS is required for QUEUE_DRIVER=kafka")
		}
	case QueueDriverSQS:
		if c.SQSQueueURLPrefix == "" {
			return errors.New("SQS_QUEUE_URL_PREFIX is required for QUEUE_DRIVER=sqs")
		}

		if c.SQSMaxMessages < 1 || c.SQSMaxMessages > 10 {
			return errors.New("SQS_MAX_MESSAGES must be between 1 and 10")
		}

		if c.SQSVisibilityTimeout < 0 || c.SQSVisibilityTimeout > 12*time.Hour {
			return errors.New("SQS_VISIBILITY_TIMEOUT must be between 0 and 12h")
		}
	default:
		return fmt.Errorf("unsupported QUEUE_DRIVER %q", c.QueueDriver)
	}

	switch c.AppManagerDriver {
	case AppManagerArray:
		if c.AppsFile == "" {
			return errors.New("APPS_FILE is required for APP_MANAGER_DRIVER=array")
		}
	case AppManagerPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for APP_MANAGER_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unsupported APP_MANAGER_DRIVER %q", c.AppManagerDriver)
	}

	return nil
}

// NeedsDatabase reports whether any selected driver talks to Postgres.
func (c *Config) NeedsDatabase() bool {
	return c.QueueDriver == QueueDriverRiver || c.AppManagerDriver == AppManagerPostgres
}
