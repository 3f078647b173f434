package config

import (
	"errors"
	"fmt"
	"time"

	pkgconfig "github.com/utafrali/cartengine/pkg/config"
)

const defaultOrderTokenSecret = "change-this-to-a-secure-secret"

// Config holds all configuration for the cart engine.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"CARTENGINE_HTTP_PORT" envDefault:"8003"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB   string `env:"CARTENGINE_DB_NAME" envDefault:"cart_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"20"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"2"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINS" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINS" envDefault:"10"`
	SlowQueryThresholdMs  int   `env:"DB_SLOW_QUERY_THRESHOLD_MS" envDefault:"200"`

	// Redis holds the session-to-cart mapping and consumed event IDs.
	RedisHost      string        `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort      int           `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass      string        `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	SessionTTL     time.Duration `env:"CARTENGINE_SESSION_TTL" envDefault:"720h"`
	IdempotencyTTL time.Duration `env:"CARTENGINE_IDEMPOTENCY_TTL" envDefault:"24h"`

	// Kafka
	KafkaBrokers       []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	LoginConsumerGroup string   `env:"CARTENGINE_LOGIN_CONSUMER_GROUP" envDefault:"cartengine-login-merge"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Order links
	OrderTokenSecret string        `env:"ORDER_TOKEN_SECRET" envDefault:"change-this-to-a-secure-secret"`
	OrderURLBase     string        `env:"ORDER_URL_BASE" envDefault:"http://localhost:8003/api/v1"`
	OrderTokenExpiry time.Duration `env:"ORDER_TOKEN_EXPIRY" envDefault:"0s"`
	InvoicePrefix    string        `env:"INVOICE_PREFIX" envDefault:"INV"`

	// Checkout throttling per shopper. A zero rate disables it.
	CheckoutRateLimit float64 `env:"CHECKOUT_RATE_LIMIT_RPS" envDefault:"0.5"`
	CheckoutBurst     int     `env:"CHECKOUT_RATE_LIMIT_BURST" envDefault:"5"`

	// Peers allowed to reach /debug/pprof.
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.1/32,::1/128" envSeparator:","`

	// Downstream services
	InventoryURL   string `env:"INVENTORY_SERVICE_URL" envDefault:"http://localhost:8005"`
	UserServiceURL string `env:"USER_SERVICE_URL" envDefault:"http://localhost:8006"`
	CardGatewayURL string `env:"CARD_GATEWAY_URL" envDefault:""`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load cartengine config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if len(c.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %v", c.OTELSampleRate)
	}
	if c.OrderTokenExpiry < 0 {
		return fmt.Errorf("ORDER_TOKEN_EXPIRY must not be negative, got %s", c.OrderTokenExpiry)
	}
	if c.CheckoutRateLimit < 0 {
		return fmt.Errorf("CHECKOUT_RATE_LIMIT_RPS must not be negative, got %v", c.CheckoutRateLimit)
	}
	if c.CheckoutRateLimit > 0 && c.CheckoutBurst < 1 {
		return fmt.Errorf("CHECKOUT_RATE_LIMIT_BURST must be at least 1, got %d", c.CheckoutBurst)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}

	// Outside development order links must be signed with a real secret.
	if c.Environment != "development" {
		if c.OrderTokenSecret == defaultOrderTokenSecret {
			return fmt.Errorf("ORDER_TOKEN_SECRET must be explicitly set via environment variable in %q mode", c.Environment)
		}
		if len(c.OrderTokenSecret) < 32 {
			return fmt.Errorf("ORDER_TOKEN_SECRET must be at least 32 characters long, got %d", len(c.OrderTokenSecret))
		}
	}
	return nil
}
