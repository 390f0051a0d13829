package app

import (
	"os"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"

	EventsDriverNone  = "none"
	EventsDriverKafka = "kafka"
	EventsDriverAMQP  = "amqp"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	ImageBaseURL string `default:"" usage:"Base URL for product images (e.g. https://cdn.example.com/images)" flag:"image-base-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (SHOP_API_KEY_PEPPER)" flag:"api-key-pepper"`
	// BootstrapAdminKey registers a raw admin API key at startup. Useful with
	// the memory driver, which starts without keys.
	BootstrapAdminKey string `usage:"Raw admin API key to register at startup" flag:"bootstrap-admin-key"`
	Storage           StorageConfig
	Redis             RedisConfig
	Events            EventsConfig
	Pricing           PricingConfig
	RateLimit         RateLimitConfig
	CORS              CORSConfig
	Graceful          GracefulConfig
}

// StorageConfig selects the store implementation.
type StorageConfig struct {
	Driver string `default:"postgres" usage:"Storage driver: postgres or memory"`
}

// RedisConfig enables the order cache, idempotency keys and the shared rate
// limiter. An empty URL disables all three.
type RedisConfig struct {
	URL            string        `usage:"Redis URL (SHOP_REDIS_URL or REDIS_URL)"`
	CacheTTL       time.Duration `default:"5m" usage:"Order cache TTL"`
	IdempotencyTTL time.Duration `default:"24h" usage:"Checkout idempotency key TTL"`
}

// EventsConfig selects where order events are published.
type EventsConfig struct {
	Driver   string   `default:"none" usage:"Event driver: none, kafka or amqp"`
	Brokers  []string `usage:"Kafka bootstrap brokers"`
	Topic    string   `default:"storefront.orders" usage:"Kafka topic for order events"`
	Buffer   int      `default:"1024" usage:"Kafka producer buffer size"`
	AMQPURL  string   `usage:"RabbitMQ URL" flag:"events-amqp-url"`
	Exchange string   `default:"storefront.orders" usage:"RabbitMQ exchange for order events"`
}

// PricingConfig holds decimal amounts as strings so they round-trip exactly.
type PricingConfig struct {
	TaxPercent       string `default:"0" usage:"Tax percent charged on the discounted amount"`
	ShippingPrice    string `default:"0" usage:"Flat shipping price"`
	FreeShippingOver string `default:"0" usage:"Discounted amount from which shipping is free (0 disables)"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads .env, then configuration from environment variables and
// YAML config files, and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(err, "load .env")
	}

	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/storefront/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		c.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if c.Redis.URL == "" {
		c.Redis.URL = os.Getenv("REDIS_URL")
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Events.Driver = strings.ToLower(strings.TrimSpace(c.Events.Driver))
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageDriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
		}
	case StorageDriverMemory:
	default:
		return errors.Errorf("unknown storage driver %q", c.Storage.Driver)
	}

	switch c.Events.Driver {
	case EventsDriverNone:
	case EventsDriverKafka:
		if len(c.Events.Brokers) == 0 {
			return errors.New("kafka events need SHOP_EVENTS_BROKERS")
		}
	case EventsDriverAMQP:
		if c.Events.AMQPURL == "" {
			return errors.New("amqp events need SHOP_EVENTS_AMQPURL")
		}
	default:
		return errors.Errorf("unknown events driver %q", c.Events.Driver)
	}

	if c.APIKeyPepper == "" {
		return errors.New("API key pepper is required: set SHOP_API_KEY_PEPPER")
	}
	if c.RateLimit.Max <= 0 || c.RateLimit.Window <= 0 {
		return errors.New("rate limit max and window must be positive")
	}
	if _, err := c.Pricing.Policy(); err != nil {
		return err
	}
	return nil
}

// Policy parses the configured amounts into an order pricing policy.
func (p PricingConfig) Policy() (order.Pricing, error) {
	var (
		out order.Pricing
		err error
	)
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"tax percent", p.TaxPercent, &out.TaxPercent},
		{"shipping price", p.ShippingPrice, &out.ShippingPrice},
		{"free shipping threshold", p.FreeShippingOver, &out.FreeShippingOver},
	} {
		raw := strings.TrimSpace(f.raw)
		if raw == "" {
			raw = "0"
		}
		if *f.dst, err = decimal.NewFromString(raw); err != nil {
			return order.Pricing{}, errors.Wrapf(err, "parse %s", f.name)
		}
		if f.dst.IsNegative() {
			return order.Pricing{}, errors.Errorf("%s must not be negative", f.name)
		}
	}
	return out, nil
}
