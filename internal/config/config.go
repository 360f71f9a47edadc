// Package config provides environment-based configuration management
// All settings come from environment variables, optionally seeded from a .env file
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DBConfig holds database connection parameters
type DBConfig struct {
	Driver   string // mysql | postgres | sqlite
	DSN      string // overrides the fields below when set
	Host     string
	Port     int
	User     string
	Password string
	Database string // file path for sqlite
	SSLMode  string // postgres only
}

// RedisConfig holds Redis connection parameters.
// Redis is optional: without an address the SQL idempotency index is used.
type RedisConfig struct {
	Addr           string // Format: host:port
	Password       string
	DB             int
	IdempotencyTTL time.Duration
}

// Enabled reports whether a Redis server is configured
func (c RedisConfig) Enabled() bool {
	return c.Addr != ""
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Port            int
	ShutdownTimeout time.Duration
	NumberCacheTTL  time.Duration
}

// EvolutionConfig holds the Evolution API server and the default line
type EvolutionConfig struct {
	BaseURL  string
	APIKey   string
	Instance string
	Timeout  time.Duration
}

// WebhookConfig holds inbound webhook authentication
type WebhookConfig struct {
	Secret      string        // URL path token
	MaxEventAge time.Duration // 0 disables the timestamp window
}

// OutboxConfig controls the delivery worker
type OutboxConfig struct {
	Token             string // x-outbox-token for the manual trigger; endpoint disabled when empty
	PollInterval      time.Duration
	BatchSize         int
	MaxAttempts       int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	ProcessingTimeout time.Duration
	SignedURLTTL      time.Duration
}

// S3Config holds media storage settings. Disabled when Bucket is empty.
type S3Config struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PathStyle bool
}

// Enabled reports whether media storage is configured
func (c S3Config) Enabled() bool {
	return c.Bucket != ""
}

// AMQPConfig holds RabbitMQ settings. Disabled when URL is empty.
type AMQPConfig struct {
	URL        string
	Exchange   string
	NudgeQueue string
}

// Enabled reports whether a broker is configured
func (c AMQPConfig) Enabled() bool {
	return c.URL != ""
}

// WatchdogConfig holds the resource guard thresholds (percent)
type WatchdogConfig struct {
	Interval        time.Duration
	MemoryThreshold float64
	DiskThreshold   float64
	DiskPath        string
}

// Config aggregates all configuration sections
type Config struct {
	DB        DBConfig
	Redis     RedisConfig
	App       AppConfig
	Evolution EvolutionConfig
	Webhook   WebhookConfig
	Outbox    OutboxConfig
	S3        S3Config
	AMQP      AMQPConfig
	Watchdog  WatchdogConfig
}

// LoadConfig reads configuration from environment variables
// Returns error if critical variables are missing
func LoadConfig() (*Config, error) {
	// A missing .env is normal in containers
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, relying on environment variables", "error", err)
	}

	cfg := &Config{}

	// Database Configuration
	cfg.DB.Driver = strings.ToLower(getEnv("DB_DRIVER", "mysql"))
	cfg.DB.DSN = getEnv("DB_DSN", "")
	cfg.DB.Host = getEnv("DB_HOST", "localhost")
	cfg.DB.User = getEnv("DB_USER", "root")
	cfg.DB.Password = getEnv("DB_PASS", "")
	cfg.DB.Database = getEnv("DB_NAME", "evolution_relay")
	cfg.DB.SSLMode = getEnv("DB_SSLMODE", "disable")
	defaultPort := 3306
	if cfg.DB.Driver == "postgres" {
		defaultPort = 5432
	}
	cfg.DB.Port = getEnvAsInt("DB_PORT", defaultPort)

	// Redis Configuration
	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvAsInt("REDIS_DB", 0)
	cfg.Redis.IdempotencyTTL = getEnvAsDuration("IDEMPOTENCY_TTL", 24*time.Hour)

	// Application Configuration
	cfg.App.Port = getEnvAsInt("APP_PORT", 8080)
	cfg.App.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second)
	cfg.App.NumberCacheTTL = getEnvAsDuration("NUMBER_CACHE_TTL", 5*time.Minute)

	// Evolution Configuration
	cfg.Evolution.BaseURL = getEnv("EVOLUTION_API_BASE_URL", "")
	cfg.Evolution.APIKey = getEnv("EVOLUTION_API_KEY", "")
	cfg.Evolution.Instance = getEnv("EVOLUTION_INSTANCE", "")
	cfg.Evolution.Timeout = getEnvAsDuration("EVOLUTION_TIMEOUT", 15*time.Second)

	// Webhook Configuration
	cfg.Webhook.Secret = getEnv("EVOLUTION_WEBHOOK_SECRET", "")
	cfg.Webhook.MaxEventAge = getEnvAsDuration("EVOLUTION_WEBHOOK_MAX_AGE_SECONDS", 300*time.Second)

	// Outbox Configuration
	cfg.Outbox.Token = getEnv("OUTBOX_WORKER_TOKEN", "")
	cfg.Outbox.PollInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 5*time.Second)
	cfg.Outbox.BatchSize = getEnvAsInt("OUTBOX_BATCH_SIZE", 10)
	cfg.Outbox.MaxAttempts = getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5)
	cfg.Outbox.BaseDelay = getEnvAsDuration("OUTBOX_BASE_DELAY", 5*time.Second)
	cfg.Outbox.MaxDelay = getEnvAsDuration("OUTBOX_MAX_DELAY", 300*time.Second)
	cfg.Outbox.ProcessingTimeout = getEnvAsDuration("OUTBOX_PROCESSING_TIMEOUT", 5*time.Minute)
	cfg.Outbox.SignedURLTTL = getEnvAsDuration("MEDIA_SIGNED_URL_TTL", time.Hour)

	// S3 Configuration
	cfg.S3.Endpoint = getEnv("S3_ENDPOINT", "")
	cfg.S3.Region = getEnv("S3_REGION", "us-east-1")
	cfg.S3.Bucket = getEnv("S3_BUCKET", "")
	cfg.S3.AccessKey = getEnv("S3_ACCESS_KEY", "")
	cfg.S3.SecretKey = getEnv("S3_SECRET_KEY", "")
	cfg.S3.PathStyle = getEnvAsBool("S3_PATH_STYLE", false)

	// AMQP Configuration
	cfg.AMQP.URL = getEnv("AMQP_URL", "")
	cfg.AMQP.Exchange = getEnv("AMQP_EXCHANGE", "evolution-relay.events")
	cfg.AMQP.NudgeQueue = getEnv("AMQP_NUDGE_QUEUE", "evolution-relay.outbox-nudge")

	// Watchdog Configuration
	cfg.Watchdog.Interval = getEnvAsDuration("WATCHDOG_INTERVAL", time.Minute)
	cfg.Watchdog.MemoryThreshold = getEnvAsFloat("WATCHDOG_MEMORY_THRESHOLD", 90)
	cfg.Watchdog.DiskThreshold = getEnvAsFloat("WATCHDOG_DISK_THRESHOLD", 90)
	cfg.Watchdog.DiskPath = getEnv("WATCHDOG_DISK_PATH", ".")

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.DB.Driver {
	case "mysql", "postgres":
		if c.DB.DSN == "" && c.DB.Password == "" {
			return fmt.Errorf("DB_PASS environment variable is required")
		}
	case "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER %q is not supported (mysql, postgres, sqlite)", c.DB.Driver)
	}

	if c.Webhook.Secret == "" {
		return fmt.Errorf("EVOLUTION_WEBHOOK_SECRET environment variable is required")
	}
	if c.Evolution.BaseURL == "" {
		return fmt.Errorf("EVOLUTION_API_BASE_URL environment variable is required")
	}
	return nil
}

// GetDSN returns the connection string for the configured driver
func (c *DBConfig) GetDSN() string {
	if c.DSN != "" {
		return c.DSN
	}

	switch c.Driver {
	case "postgres":
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:     c.Database,
			RawQuery: "sslmode=" + c.SSLMode,
		}
		return u.String()
	case "sqlite":
		return c.Database + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	default:
		// clientFoundRows makes RowsAffected count matched rows
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&clientFoundRows=true",
			c.User,
			c.Password,
			c.Host,
			c.Port,
			c.Database,
		)
	}
}

// getEnv reads environment variable with fallback default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt reads environment variable as integer with fallback default
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("30s") or plain seconds ("30")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
