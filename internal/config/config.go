package config

import (
	"encoding/json"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Security  SecurityConfig  `json:"security"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Spin      SpinConfig      `json:"spin"`
	Cache     CacheConfig     `json:"cache"`
	Events    EventsConfig    `json:"events"`
	Tracing   TracingConfig   `json:"tracing"`
	Log       LogConfig       `json:"log"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port string `json:"port" envconfig:"SERVER_PORT" default:"8080"`
	Host string `json:"host" envconfig:"SERVER_HOST"`
}

// DatabaseConfig holds database-related configuration.
type DatabaseConfig struct {
	Path string `json:"path" envconfig:"DATABASE_PATH" default:"./spin_engine.db"`
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	// Max request body size in bytes
	MaxRequestBodySize int64 `json:"max_request_body_size" envconfig:"MAX_REQUEST_BODY_SIZE" default:"1048576"`
	// Allowed CORS origins (comma-separated)
	AllowedOrigins []string `json:"allowed_origins" envconfig:"ALLOWED_ORIGINS" default:"*"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool `json:"enabled" envconfig:"RATE_LIMIT_ENABLED" default:"true"`
	Rate    int  `json:"rate" envconfig:"RATE_LIMIT_RATE" default:"30"`
	Window  int  `json:"window" envconfig:"RATE_LIMIT_WINDOW" default:"60"` // in seconds
}

// SpinConfig tunes the spin engine.
type SpinConfig struct {
	Cooldown       time.Duration `json:"cooldown" envconfig:"SPIN_COOLDOWN" default:"0s"`
	Timezone       string        `json:"timezone" envconfig:"SPIN_TIMEZONE" default:"UTC"`
	MaxRetries     int           `json:"max_retries" envconfig:"SPIN_MAX_RETRIES" default:"3"`
	Timeout        time.Duration `json:"timeout" envconfig:"SPIN_TIMEOUT" default:"500ms"`
	NoWinPolicy    string        `json:"no_win_policy" envconfig:"SPIN_NO_WIN_POLICY" default:"global"`
	StackingPolicy string        `json:"stacking_policy" envconfig:"SPIN_STACKING_POLICY" default:"max"`
	RecordRejected bool          `json:"record_rejected" envconfig:"SPIN_RECORD_REJECTED" default:"false"`
	// RNGSeed pins the random sequence; 0 seeds from entropy.
	RNGSeed uint64 `json:"rng_seed" envconfig:"SPIN_RNG_SEED" default:"0"`
}

// CacheConfig selects the catalog cache backend. An empty RedisAddr keeps
// the cache in memory.
type CacheConfig struct {
	Enabled       bool          `json:"enabled" envconfig:"CACHE_ENABLED" default:"true"`
	TTL           time.Duration `json:"ttl" envconfig:"CACHE_TTL" default:"30s"`
	RedisAddr     string        `json:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPassword string        `json:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int           `json:"redis_db" envconfig:"REDIS_DB" default:"0"`
}

// EventsConfig controls spin lifecycle events. An empty AMQPURL keeps them in process.
type EventsConfig struct {
	Enabled      bool   `json:"enabled" envconfig:"EVENTS_ENABLED" default:"true"`
	AMQPURL      string `json:"amqp_url" envconfig:"AMQP_URL"`
	AMQPExchange string `json:"amqp_exchange" envconfig:"AMQP_EXCHANGE" default:"spin.events"`
}

// TracingConfig holds tracing configuration.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"TRACING_ENABLED" default:"false"`
	Endpoint    string `json:"endpoint" envconfig:"JAEGER_ENDPOINT" default:"http://localhost:14268/api/traces"`
	Environment string `json:"environment" envconfig:"ENVIRONMENT" default:"development"`
}

// LogConfig holds logger configuration.
type LogConfig struct {
	Level  string `json:"level" envconfig:"LOG_LEVEL" default:"info"`
	Format string `json:"format" envconfig:"LOG_FORMAT" default:"json"`
}

// LoadConfig loads configuration with the precedence defaults, then the
// optional JSON file, then environment variables. A variable only wins when
// it is actually set.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	if configFile == "" {
		return cfg, nil
	}

	if err := loadFromFile(configFile, cfg); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	env := &Config{}
	if err := envconfig.Process("", env); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}
	overlayEnv(reflect.ValueOf(cfg).Elem(), reflect.ValueOf(env).Elem(), "")

	return cfg, nil
}

// loadFromFile loads configuration from a JSON file. Keys missing from the
// file leave the current values untouched.
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return json.Unmarshal(data, cfg)
}

// overlayEnv copies from src every field whose variable is present in the
// environment. envconfig looks nested fields up as PARENT_KEY before KEY, so
// both spellings count.
func overlayEnv(dst, src reflect.Value, prefix string) {
	t := dst.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type.Kind() == reflect.Struct {
			overlayEnv(dst.Field(i), src.Field(i), strings.ToUpper(f.Name))
			continue
		}
		key := f.Tag.Get("envconfig")
		if key == "" {
			continue
		}
		if envSet(key) || (prefix != "" && envSet(prefix+"_"+key)) {
			dst.Field(i).Set(src.Field(i))
		}
	}
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

// Location resolves the configured spin timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Spin.Timezone)
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate limit rate must be positive")
		}
		if c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit window must be positive")
		}
	}
	if c.Spin.Cooldown < 0 {
		return fmt.Errorf("spin cooldown must not be negative")
	}
	if c.Spin.MaxRetries <= 0 {
		return fmt.Errorf("spin max retries must be positive")
	}
	if c.Spin.Timeout <= 0 {
		return fmt.Errorf("spin timeout must be positive")
	}
	switch c.Spin.NoWinPolicy {
	case "global", "normalized":
	default:
		return fmt.Errorf("spin no-win policy must be global or normalized, got %q", c.Spin.NoWinPolicy)
	}
	switch c.Spin.StackingPolicy {
	case "max", "disabled":
	default:
		return fmt.Errorf("spin stacking policy must be max or disabled, got %q", c.Spin.StackingPolicy)
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid spin timezone %q: %w", c.Spin.Timezone, err)
	}
	if c.Cache.Enabled && c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive")
	}
	return nil
}
