package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Session backends.
const (
	SessionBackendMemory = "memory"
	SessionBackendRedis  = "redis"
)

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Telegram
	BotToken       string        `env:"BOT_TOKEN"`
	TelegramAPIURL string        `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	PollTimeout    time.Duration `env:"POLL_TIMEOUT" envDefault:"30s"`
	Workers        int           `env:"WORKERS" envDefault:"8"`
	AdminIDs       []int64       `env:"ADMIN_IDS" envSeparator:","`

	// Reminders
	ReminderDays   []int  `env:"REMINDER_DAYS" envSeparator:"," envDefault:"14,3"`
	ReminderHour   int    `env:"REMINDER_HOUR" envDefault:"10"`
	ReminderMinute int    `env:"REMINDER_MINUTE" envDefault:"0"`
	Timezone       string `env:"TIMEZONE" envDefault:"Europe/Moscow"`

	// Database
	StoreDriver  string        `env:"STORE_DRIVER" envDefault:"postgres"`
	StoreTimeout time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	DatabaseURL  string        `env:"DATABASE_URL"`
	PGHost       string        `env:"PGHOST" envDefault:"localhost"`
	PGPort       int           `env:"PGPORT" envDefault:"5432"`
	PGUser       string        `env:"PGUSER" envDefault:"medbook"`
	PGPassword   string        `env:"PGPASSWORD" envDefault:"medbook"`
	PGDatabase   string        `env:"PGDATABASE" envDefault:"medbook"`
	PGMaxConns   int32         `env:"PG_MAX_CONNS" envDefault:"10"`

	// Sessions
	SessionBackend string        `env:"SESSION_BACKEND" envDefault:"memory"`
	RedisURL       string        `env:"REDIS_URL" envDefault:"redis://localhost:6379"`
	SessionTTL     time.Duration `env:"SESSION_TTL" envDefault:"24h"`

	// Kafka
	KafkaBrokers       string        `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled       bool          `env:"KAFKA_ENABLED" envDefault:"false"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"2s"`
	OutboxRetention    time.Duration `env:"OUTBOX_RETENTION" envDefault:"168h"`

	// Ops
	OpsPort            int    `env:"OPS_PORT" envDefault:"9090"`
	RateLimitPerMinute int    `env:"RATE_LIMIT_PER_MINUTE" envDefault:"30"`
	LogLevel           string `env:"LOG_LEVEL" envDefault:"info"`
}

// LoadConfig reads .env when present, then parses environment variables into a Config.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate rejects configuration the bot cannot run with.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return errors.New("BOT_TOKEN is required")
	}
	if c.ReminderHour < 0 || c.ReminderHour > 23 {
		return fmt.Errorf("REMINDER_HOUR out of range: %d", c.ReminderHour)
	}
	if c.ReminderMinute < 0 || c.ReminderMinute > 59 {
		return fmt.Errorf("REMINDER_MINUTE out of range: %d", c.ReminderMinute)
	}
	if len(c.ReminderDays) == 0 {
		return errors.New("REMINDER_DAYS must list at least one window")
	}
	for _, d := range c.ReminderDays {
		if d <= 0 {
			return fmt.Errorf("REMINDER_DAYS must be positive, got %d", d)
		}
	}
	switch c.StoreDriver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.SessionBackend {
	case SessionBackendMemory, SessionBackendRedis:
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", c.SessionBackend)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return nil
}

// Location returns the reminder time zone. Validate has already checked it loads.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}

// PoolOptions returns the pgx pool settings for the given process name.
func (c *Config) PoolOptions(appName string) PoolOptions {
	return PoolOptions{MaxConns: c.PGMaxConns, AppName: appName, TimeZone: c.Timezone}
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
