// Package config provides configuration management for the A/B testing
// gateway. It handles loading configuration from environment variables with
// sensible defaults and validates the configuration so the application fails
// fast on operator misconfiguration.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//
// Database Configuration:
//   - DATABASE_TYPE: Database type - "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./ab_gateway.db)
//   - POSTGRES_HOST: PostgreSQL host (required if using PostgreSQL)
//   - POSTGRES_PORT: PostgreSQL port (default: 5432)
//   - POSTGRES_DB: PostgreSQL database name (required if using PostgreSQL)
//   - POSTGRES_USER: PostgreSQL username (required if using PostgreSQL)
//   - POSTGRES_PASSWORD: PostgreSQL password
//   - POSTGRES_SSL_MODE: PostgreSQL SSL mode (default: disable)
//
// Redis Configuration (optional; enables distributed rate limiting and the
// redis-backed caches):
//   - REDIS_ADDRESS: Redis server address (empty disables Redis)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Experiment Definition Cache:
//   - AB_CACHE_ENABLED: Enable the definition cache (default: true)
//   - AB_CACHE_TTL: Definition cache TTL (default: 24h)
//   - AB_CACHE_PREFIX: Cache key prefix (default: ab)
//
// Session Settings:
//   - AB_REQUEST_PARAM: Query parameter for instance id override (default: abid)
//   - AB_ALLOW_PARAM: Allow the override parameter (default: false)
//   - AB_PARAM_RATE_LIMIT: Override attempts per minute (default: 10)
//
// Webhook Goal Ingestion:
//   - AB_WEBHOOK_ENABLED: Enable the inbound goal webhook (default: false)
//   - AB_WEBHOOK_SECRET: Shared HMAC secret (required when enabled)
//   - AB_WEBHOOK_PATH: Endpoint path (default: /ab/webhook/goal)
//   - AB_WEBHOOK_TOLERANCE: Replay window in seconds (default: 300)
//   - AB_WEBHOOK_IDEMPOTENCY_TTL: Idempotency record TTL in seconds (default: 86400)
//   - AB_WEBHOOK_RATE_LIMIT: Webhook requests per window per caller (default: 60)
//   - AB_WEBHOOK_RATE_WINDOW: Webhook rate limit window (default: 60s)
//
// Analytics:
//   - AB_ANALYTICS_DRIVER: none, log, google, plausible, webhook, amqp (default: none)
//   - AB_ANALYTICS_TIMEOUT: Outbound dispatch timeout (default: 5s)
//   - AB_GA4_MEASUREMENT_ID / AB_GA4_API_SECRET: Google Analytics 4 credentials
//   - AB_PLAUSIBLE_DOMAIN / AB_PLAUSIBLE_API_KEY: Plausible settings
//   - AB_ANALYTICS_WEBHOOK_URL / AB_ANALYTICS_WEBHOOK_SECRET: outbound webhook sink
//   - AB_AMQP_URL / AB_AMQP_EXCHANGE / AB_AMQP_ROUTING_KEY: RabbitMQ sink
//
// Reporting:
//   - AB_REPORT_AUTH: none, basic, token (default: none)
//   - AB_REPORT_USERNAME / AB_REPORT_PASSWORD_HASH: basic auth credentials
//     (password is a bcrypt hash)
//   - AB_REPORT_TOKEN_SECRET: HS256 secret for token auth (min 32 chars)
//   - AB_EXPORT_SCHEDULE: cron spec for the scheduled analytics export
//     (empty disables the job)
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the A/B testing gateway.
// Load it with Load() and call Validate() before use.
type Config struct {
	// Application settings
	Port     string
	LogLevel string

	// Database configuration
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Redis configuration
	RedisAddress  string
	RedisPassword string
	RedisDB       string
	RedisPoolSize string

	// Experiment definition cache
	CacheEnabled bool
	CacheTTL     time.Duration
	CachePrefix  string

	// Session settings
	RequestParam   string
	AllowParam     bool
	ParamRateLimit int

	// Webhook goal ingestion
	WebhookEnabled        bool
	WebhookSecret         string
	WebhookPath           string
	WebhookTolerance      time.Duration
	WebhookIdempotencyTTL time.Duration
	WebhookRateLimit      int
	WebhookRateWindow     time.Duration

	// Analytics
	AnalyticsDriver        string
	AnalyticsTimeout       time.Duration
	GA4MeasurementID       string
	GA4APISecret           string
	PlausibleDomain        string
	PlausibleAPIKey        string
	AnalyticsWebhookURL    string
	AnalyticsWebhookSecret string
	AMQPURL                string
	AMQPExchange           string
	AMQPRoutingKey         string

	// Reporting
	ReportAuth         string
	ReportUsername     string
	ReportPasswordHash string
	ReportTokenSecret  string
	ExportSchedule     string
}

// Load creates a new Config instance with values loaded from environment
// variables. It does not validate - call Validate() on the returned Config.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./ab_gateway.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "ab_gateway"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisAddress:  getEnv("REDIS_ADDRESS", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		CacheEnabled: getBoolEnv("AB_CACHE_ENABLED", true),
		CacheTTL:     getDurationEnv("AB_CACHE_TTL", 24*time.Hour),
		CachePrefix:  getEnv("AB_CACHE_PREFIX", "ab"),

		RequestParam:   getEnv("AB_REQUEST_PARAM", "abid"),
		AllowParam:     getBoolEnv("AB_ALLOW_PARAM", false),
		ParamRateLimit: getIntEnv("AB_PARAM_RATE_LIMIT", 10),

		WebhookEnabled:        getBoolEnv("AB_WEBHOOK_ENABLED", false),
		WebhookSecret:         getEnv("AB_WEBHOOK_SECRET", ""),
		WebhookPath:           getEnv("AB_WEBHOOK_PATH", "/ab/webhook/goal"),
		WebhookTolerance:      time.Duration(getIntEnv("AB_WEBHOOK_TOLERANCE", 300)) * time.Second,
		WebhookIdempotencyTTL: time.Duration(getIntEnv("AB_WEBHOOK_IDEMPOTENCY_TTL", 86400)) * time.Second,
		WebhookRateLimit:      getIntEnv("AB_WEBHOOK_RATE_LIMIT", 60),
		WebhookRateWindow:     getDurationEnv("AB_WEBHOOK_RATE_WINDOW", time.Minute),

		AnalyticsDriver:        getEnv("AB_ANALYTICS_DRIVER", "none"),
		AnalyticsTimeout:       getDurationEnv("AB_ANALYTICS_TIMEOUT", 5*time.Second),
		GA4MeasurementID:       getEnv("AB_GA4_MEASUREMENT_ID", ""),
		GA4APISecret:           getEnv("AB_GA4_API_SECRET", ""),
		PlausibleDomain:        getEnv("AB_PLAUSIBLE_DOMAIN", ""),
		PlausibleAPIKey:        getEnv("AB_PLAUSIBLE_API_KEY", ""),
		AnalyticsWebhookURL:    getEnv("AB_ANALYTICS_WEBHOOK_URL", ""),
		AnalyticsWebhookSecret: getEnv("AB_ANALYTICS_WEBHOOK_SECRET", ""),
		AMQPURL:                getEnv("AB_AMQP_URL", ""),
		AMQPExchange:           getEnv("AB_AMQP_EXCHANGE", "ab.events"),
		AMQPRoutingKey:         getEnv("AB_AMQP_ROUTING_KEY", "ab.analytics"),

		ReportAuth:         getEnv("AB_REPORT_AUTH", "none"),
		ReportUsername:     getEnv("AB_REPORT_USERNAME", ""),
		ReportPasswordHash: getEnv("AB_REPORT_PASSWORD_HASH", ""),
		ReportTokenSecret:  getEnv("AB_REPORT_TOKEN_SECRET", ""),
		ExportSchedule:     getEnv("AB_EXPORT_SCHEDULE", ""),
	}
}

// getEnv retrieves an environment variable value or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv retrieves a boolean environment variable or returns a default.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getIntEnv retrieves an integer environment variable or returns a default.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable or returns a default.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// knownAnalyticsDrivers are the driver names bundled with the gateway.
// Custom drivers registered by the embedding application are validated at
// manager construction instead.
var knownAnalyticsDrivers = map[string]bool{
	"none":      true,
	"log":       true,
	"google":    true,
	"plausible": true,
	"webhook":   true,
	"amqp":      true,
	"custom":    true,
}

// Validate performs comprehensive validation on the configuration.
// It checks required fields, value formats, and cross-field dependencies,
// and should be called before the configuration is used.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	if c.WebhookEnabled {
		if c.WebhookSecret == "" {
			return fmt.Errorf("AB_WEBHOOK_SECRET is required when AB_WEBHOOK_ENABLED is true")
		}
		if len(c.WebhookSecret) < 32 {
			return fmt.Errorf("AB_WEBHOOK_SECRET must be at least 32 characters long")
		}
		if c.WebhookTolerance <= 0 {
			return fmt.Errorf("AB_WEBHOOK_TOLERANCE must be a positive number of seconds")
		}
		if c.WebhookIdempotencyTTL <= 0 {
			return fmt.Errorf("AB_WEBHOOK_IDEMPOTENCY_TTL must be a positive number of seconds")
		}
		if c.WebhookRateLimit < 1 {
			return fmt.Errorf("AB_WEBHOOK_RATE_LIMIT must be a positive number")
		}
	}

	if !knownAnalyticsDrivers[c.AnalyticsDriver] {
		return fmt.Errorf("AB_ANALYTICS_DRIVER %q is not a known analytics driver", c.AnalyticsDriver)
	}

	if c.AnalyticsTimeout <= 0 {
		return fmt.Errorf("AB_ANALYTICS_TIMEOUT must be a positive duration")
	}

	switch c.ReportAuth {
	case "none":
	case "basic":
		if c.ReportUsername == "" || c.ReportPasswordHash == "" {
			return fmt.Errorf("AB_REPORT_USERNAME and AB_REPORT_PASSWORD_HASH are required for basic report auth")
		}
	case "token":
		if len(c.ReportTokenSecret) < 32 {
			return fmt.Errorf("AB_REPORT_TOKEN_SECRET must be at least 32 characters long for token report auth")
		}
	default:
		return fmt.Errorf("AB_REPORT_AUTH must be 'none', 'basic' or 'token'")
	}

	return nil
}
