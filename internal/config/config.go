package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

const defaultSecretSentinel = "change-this-to-a-secure-secret"

// Config holds all configuration for the account service. It is parsed once
// at startup and passed down explicitly; nothing reads the environment at
// call time.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"ACCOUNT_HTTP_PORT" envDefault:"8004"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"streamtube"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"streamtube_secret"`
	PostgresDB   string `env:"ACCOUNT_DB_NAME" envDefault:"account_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Session store backend: "postgres" keeps the single refresh-token slot
	// on the account row, "redis" keeps it in a TTL'd key.
	SessionStore string `env:"SESSION_STORE" envDefault:"postgres"`

	// Redis (used when SessionStore is "redis")
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Tokens. Access and refresh tokens are signed with distinct secrets so
	// one kind can never be replayed as the other.
	AccessTokenSecret  string `env:"ACCESS_TOKEN_SECRET" envDefault:"change-this-to-a-secure-secret"`
	RefreshTokenSecret string `env:"REFRESH_TOKEN_SECRET" envDefault:"change-this-to-a-secure-secret"`
	AccessTokenExpiry  string `env:"ACCESS_TOKEN_EXPIRY" envDefault:"15m"`
	RefreshTokenExpiry string `env:"REFRESH_TOKEN_EXPIRY" envDefault:"240h"`

	// Media upload service
	MediaServiceURL string `env:"MEDIA_SERVICE_URL" envDefault:"http://localhost:8010"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse account config: %w", err)
	}
	if cfg.HTTPPort < 1 || cfg.HTTPPort > 65535 {
		return nil, fmt.Errorf("invalid HTTP port: %d", cfg.HTTPPort)
	}
	if cfg.SessionStore != "postgres" && cfg.SessionStore != "redis" {
		return nil, fmt.Errorf("invalid SESSION_STORE %q: must be postgres or redis", cfg.SessionStore)
	}

	// In non-development environments, require explicitly set, strong,
	// distinct token secrets.
	if cfg.Environment != "development" {
		for name, secret := range map[string]string{
			"ACCESS_TOKEN_SECRET":  cfg.AccessTokenSecret,
			"REFRESH_TOKEN_SECRET": cfg.RefreshTokenSecret,
		} {
			if secret == defaultSecretSentinel {
				return nil, fmt.Errorf("%s must be explicitly set via environment variable in %q mode", name, cfg.Environment)
			}
			if len(secret) < 32 {
				return nil, fmt.Errorf("%s must be at least 32 characters long, got %d", name, len(secret))
			}
		}
		if cfg.AccessTokenSecret == cfg.RefreshTokenSecret {
			return nil, fmt.Errorf("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
		}
	}

	if _, err := cfg.AccessExpiry(); err != nil {
		return nil, fmt.Errorf("parse access token expiry %q: %w", cfg.AccessTokenExpiry, err)
	}
	if _, err := cfg.RefreshExpiry(); err != nil {
		return nil, fmt.Errorf("parse refresh token expiry %q: %w", cfg.RefreshTokenExpiry, err)
	}

	return cfg, nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}

// AccessExpiry returns the parsed access token lifetime.
func (c *Config) AccessExpiry() (time.Duration, error) {
	return time.ParseDuration(c.AccessTokenExpiry)
}

// RefreshExpiry returns the parsed refresh token lifetime.
func (c *Config) RefreshExpiry() (time.Duration, error) {
	return time.ParseDuration(c.RefreshTokenExpiry)
}

// RedisAddr returns the Redis address string.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}
