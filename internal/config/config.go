package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the migrator.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Migration    MigrationConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds target store connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32

	// ConnectRetrySeconds bounds how long startup waits for the database.
	ConnectRetrySeconds int
	// StatementTimeoutMS applies to every session; 0 leaves the server default.
	StatementTimeoutMS int
}

// RedisConfig holds Redis connection values used for item leases.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level    string
	// Encoding is "json" (default) or "console".
	Encoding string
}

// AuthConfig defines operator authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
	// Operators is a comma separated list of name:role:bcrypt-hash entries.
	Operators string
}

// MigrationConfig tunes reconstruction and emission.
type MigrationConfig struct {
	SourceDir              string
	Workers                int
	ItemTimeoutSeconds     int
	LeaseTTLSeconds        int
	SystemAuthor           string
	SourceTimezone         string
	MandatoryAttributes    []string
	ReplaceExisting        bool
	RetryMaxElapsedSeconds int
	RetryMaxAttempts       int
}

// NotificationConfig holds the operator webhook endpoint.
type NotificationConfig struct {
	WebhookURL     string
	TimeoutSeconds int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	workers := getEnvAsInt("MIGRATION_WORKERS", 4)
	if workers <= 0 {
		return nil, fmt.Errorf("invalid MIGRATION_WORKERS: %d", workers)
	}

	tz := getEnv("MIGRATION_SOURCE_TIMEZONE", "UTC")
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, fmt.Errorf("invalid MIGRATION_SOURCE_TIMEZONE: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "history-migrator"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 60),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),

			ConnectRetrySeconds: getEnvAsInt("POSTGRES_CONNECT_RETRY_SECONDS", 30),
			StatementTimeoutMS:  getEnvAsInt("POSTGRES_STATEMENT_TIMEOUT_MS", 30000),
		},
		Redis: RedisConfig{
			Addr:     os.Getenv("REDIS_ADDR"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level:    getEnv("LOG_LEVEL", "info"),
			Encoding: getEnv("LOG_ENCODING", "json"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
			Operators:             os.Getenv("AUTH_OPERATORS"),
		},
		Migration: MigrationConfig{
			SourceDir:              getEnv("MIGRATION_SOURCE_DIR", "exports"),
			Workers:                workers,
			ItemTimeoutSeconds:     getEnvAsInt("MIGRATION_ITEM_TIMEOUT_SECONDS", 120),
			LeaseTTLSeconds:        getEnvAsInt("MIGRATION_LEASE_TTL_SECONDS", 300),
			SystemAuthor:           getEnv("MIGRATION_SYSTEM_AUTHOR", "migration-bot"),
			SourceTimezone:         tz,
			MandatoryAttributes:    getEnvAsList("MIGRATION_MANDATORY_ATTRIBUTES", []string{"subject", "status", "type", "priority"}),
			ReplaceExisting:        getEnvAsBool("MIGRATION_REPLACE_EXISTING", false),
			RetryMaxElapsedSeconds: getEnvAsInt("MIGRATION_RETRY_MAX_ELAPSED_SECONDS", 60),
			RetryMaxAttempts:       getEnvAsInt("MIGRATION_RETRY_MAX_ATTEMPTS", 5),
		},
		Notification: NotificationConfig{
			WebhookURL:     getEnv("NOTIFY_WEBHOOK_URL", ""),
			TimeoutSeconds: getEnvAsInt("NOTIFY_WEBHOOK_TIMEOUT_SECONDS", 5),
		},
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Location returns the time zone for local source timestamps.
func (m MigrationConfig) Location() *time.Location {
	loc, err := time.LoadLocation(m.SourceTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ItemTimeout bounds the processing of a single item.
func (m MigrationConfig) ItemTimeout() time.Duration {
	return secondsOrZero(m.ItemTimeoutSeconds)
}

// LeaseTTL is how long an item lease is held before it expires.
func (m MigrationConfig) LeaseTTL() time.Duration {
	return secondsOrZero(m.LeaseTTLSeconds)
}

// RetryMaxElapsed bounds whole-batch retries of one chain.
func (m MigrationConfig) RetryMaxElapsed() time.Duration {
	return secondsOrZero(m.RetryMaxElapsedSeconds)
}

func secondsOrZero(sec int) time.Duration {
	if sec <= 0 {
		return 0
	}
	return time.Duration(sec) * time.Second
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
