package app

import (
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"
)

// Broker kinds.
const (
	BrokerRedis = "redis"
	BrokerAMQP  = "amqp"
)

// Config holds the complete application configuration, loadable from
// environment variables (CAFE_ prefix), flags, or YAML config files.
type Config struct {
	Addr         string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL  string `usage:"PostgreSQL connection URL (CAFE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	APIKeyPepper string `usage:"HMAC pepper for API key hashing (CAFE_API_KEY_PEPPER)" flag:"api-key-pepper"`
	Broker       BrokerConfig
	Notify       NotifyConfig
	Realtime     RealtimeConfig
	RateLimit    RateLimitConfig
	CORS         CORSConfig
	Graceful     GracefulConfig
}

// BrokerConfig selects the pub-sub backend for order events.
type BrokerConfig struct {
	Kind     string `default:"redis" usage:"Pub-sub backend: redis or amqp"`
	RedisURL string `usage:"Redis URL (CAFE_BROKER_REDIS_URL or REDIS_URL)" flag:"redis-url"`
	AMQPURL  string `usage:"AMQP URL (CAFE_BROKER_AMQP_URL or AMQP_URL)" flag:"amqp-url"`
	Exchange string `default:"cafe.orders" usage:"AMQP topic exchange for order events"`
}

// NotifyConfig controls publishing of order events.
type NotifyConfig struct {
	PublishTimeout time.Duration `default:"5s" usage:"Timeout of a single event publish" flag:"publish-timeout"`
}

// RealtimeConfig controls the live event streams.
type RealtimeConfig struct {
	BaseDelay   time.Duration `default:"3s"  usage:"First reconnect delay, doubled per attempt" flag:"reconnect-delay"`
	MaxAttempts int           `default:"5"   usage:"Reconnect attempts before a stream gives up" flag:"reconnect-attempts"`
	Heartbeat   time.Duration `default:"25s" usage:"Interval of SSE heartbeat comments"`
}

// RateLimitConfig controls the per-client sliding window rate limiter.
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

// LoadConfig loads configuration from environment variables and YAML config
// files, then applies platform defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "CAFE",
		Files:     []string{"config.yaml", "/etc/cafe/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports missing or contradictory settings.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set CAFE_DATABASE_URL or DATABASE_URL")
	}
	switch c.Broker.Kind {
	case BrokerRedis:
		if c.Broker.RedisURL == "" {
			return errors.New("redis URL is required: set CAFE_BROKER_REDIS_URL or REDIS_URL")
		}
	case BrokerAMQP:
		if c.Broker.AMQPURL == "" {
			return errors.New("AMQP URL is required: set CAFE_BROKER_AMQP_URL or AMQP_URL")
		}
	default:
		return errors.Errorf("unknown broker kind %q", c.Broker.Kind)
	}
	if c.Realtime.MaxAttempts < 0 {
		return errors.New("realtime max attempts must not be negative")
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables
// (DATABASE_URL, REDIS_URL, AMQP_URL, PORT) onto the CAFE_ configuration.
func (c *Config) applyPlatformDefaults(getenv func(string) string) {
	fill := func(dst *string, key string) {
		if *dst == "" {
			*dst = getenv(key)
		}
	}
	fill(&c.DatabaseURL, "DATABASE_URL")
	fill(&c.Broker.RedisURL, "REDIS_URL")
	fill(&c.Broker.AMQPURL, "AMQP_URL")
	if port := getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
