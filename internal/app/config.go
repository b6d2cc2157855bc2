package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"golang.org/x/text/currency"
)

const defaultAddr = "0.0.0.0:8080"

// Config holds the complete application configuration, loadable from
// environment variables (ORDERS_ prefix) or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDERS_DATABASE_URL or DATABASE_URL)"`
	Currency    string `default:"CNY" usage:"ISO 4217 currency stamped on new orders"`
	Postgres    PostgresConfig
	Order       OrderConfig
	RateLimit   RateLimitConfig
	Graceful    GracefulConfig
}

// PostgresConfig tunes the connection pool.
type PostgresConfig struct {
	MaxConns int32 `default:"0" usage:"Maximum pool connections, 0 keeps the pgx default"`
}

// OrderConfig controls order placement.
type OrderConfig struct {
	PlaceTimeout time.Duration `default:"10s" usage:"Upper bound for one order placement, including lock waits"`
}

// RateLimitConfig limits state-changing requests per user.
type RateLimitConfig struct {
	Max    int           `default:"60" usage:"Max write requests per user per window, 0 disables"`
	Window time.Duration `default:"1m" usage:"Rate limit window duration"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration"`
}

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform-specific defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERS",
		SkipFlags: true,
		Files:     []string{"config.yaml", "/etc/orders/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that have no usable default.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set ORDERS_DATABASE_URL or DATABASE_URL")
	}
	if _, err := c.CurrencyUnit(); err != nil {
		return err
	}
	if c.Postgres.MaxConns < 0 {
		return errors.Errorf("postgres max conns must not be negative, got %d", c.Postgres.MaxConns)
	}
	if c.Order.PlaceTimeout < 0 {
		return errors.Errorf("order place timeout must not be negative, got %s", c.Order.PlaceTimeout)
	}
	if c.RateLimit.Max < 0 {
		return errors.Errorf("rate limit max must not be negative, got %d", c.RateLimit.Max)
	}
	return nil
}

// CurrencyUnit parses Currency as an ISO 4217 code.
func (c *Config) CurrencyUnit() (currency.Unit, error) {
	u, err := currency.ParseISO(c.Currency)
	if err != nil {
		return currency.Unit{}, errors.Wrapf(err, "invalid currency %q", c.Currency)
	}
	return u, nil
}

// applyPlatformDefaults maps platform-provided DATABASE_URL and PORT
// variables onto the ORDERS_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}
