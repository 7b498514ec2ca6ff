// Package config loads the process configuration.
//
// Values are resolved once at startup in this order, later wins:
// built-in defaults, YAML file, environment variables, command-line flags
// (applied by the caller). The result is validated before the bit store is
// constructed.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned when configuration is invalid
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all process-wide settings.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

// StoreConfig sizes the bit vector.
type StoreConfig struct {
	// Size is the bit-vector length
	Size uint `yaml:"size" validate:"gt=0"`

	// Parallelism caps goroutines per batch flip; 0 means GOMAXPROCS
	Parallelism int `yaml:"parallelism" validate:"gte=0"`

	// ParallelThreshold is the batch length at which toggles fan out
	ParallelThreshold int `yaml:"parallel_threshold" validate:"gte=0"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required,listen_addr"`

	// Workers bounds concurrently executing handlers; 0 means 2 * NumCPU
	Workers int `yaml:"workers" validate:"gte=0"`

	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" validate:"gt=0"`

	// Compress enables gzip for responses the client accepts it for
	Compress bool `yaml:"compress"`
}

// RateLimitConfig defines the per-client token bucket in front of the API.
type RateLimitConfig struct {
	Enabled      bool        `yaml:"enabled"`
	Capacity     float64     `yaml:"capacity" validate:"required_if=Enabled true,gte=0"`
	RefillPerSec float64     `yaml:"refill_per_sec" validate:"required_if=Enabled true,gte=0"`
	KeyExtractor string      `yaml:"key_extractor" validate:"omitempty,key_extractor"`
	Redis        RedisConfig `yaml:"redis"`

	// In-memory buckets idle longer than MaxIdle are swept every CleanupInterval
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gte=0"`
	MaxIdle         time.Duration `yaml:"max_idle" validate:"gte=0"`
}

// RedisConfig points rate limit state at Redis. An empty Addr keeps it in memory.
type RedisConfig struct {
	Addr     string        `yaml:"addr" validate:"omitempty,hostname_port"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl" validate:"gte=0"`
}

// LogConfig selects slog level and handler.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Store: StoreConfig{
			Size:              1_000_000,
			ParallelThreshold: 4096,
		},
		Server: ServerConfig{
			Addr:            "0.0.0.0:8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    16 << 20,
			Compress:        true,
		},
		RateLimit: RateLimitConfig{
			Capacity:        100,
			RefillPerSec:    50,
			KeyExtractor:    "ip",
			CleanupInterval: 10 * time.Minute,
			MaxIdle:         time.Hour,
			Redis: RedisConfig{
				TTL: 5 * time.Minute,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read config file: %v", ErrInvalidConfig, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidConfig, err)
		}
	}

	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BITFLIP_* and REDIS_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("BITFLIP_SIZE"); v != "" {
		n, err := strconv.ParseUint(v, 10, strconv.IntSize)
		if err != nil {
			return fmt.Errorf("%w: BITFLIP_SIZE: %v", ErrInvalidConfig, err)
		}
		c.Store.Size = uint(n)
	}
	if v := getenv("BITFLIP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := getenv("BITFLIP_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: BITFLIP_WORKERS: %v", ErrInvalidConfig, err)
		}
		c.Server.Workers = n
	}
	if v := getenv("BITFLIP_LOG_LEVEL"); v != "" {
		c.Log.Level = strings.ToLower(v)
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		c.RateLimit.Redis.Addr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		c.RateLimit.Redis.Password = v
	}
	return nil
}

// EffectiveWorkers resolves the zero value to twice the CPU count.
func (s ServerConfig) EffectiveWorkers() int {
	if s.Workers > 0 {
		return s.Workers
	}
	return 2 * runtime.NumCPU()
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Same forms as middleware.ParseKeyFunc
	v.RegisterValidation("key_extractor", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "ip" || s == "ip_proxy" {
			return true
		}
		name, ok := strings.CutPrefix(s, "header:")
		return ok && strings.TrimSpace(name) != ""
	})
	v.RegisterValidation("listen_addr", func(fl validator.FieldLevel) bool {
		_, port, err := net.SplitHostPort(fl.Field().String())
		if err != nil {
			return false
		}
		_, err = strconv.ParseUint(port, 10, 16)
		return err == nil
	})
	return v
}

// Validate checks every field against its constraints.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return c.RateLimit.validateExpiry()
}

// validateExpiry rejects settings that forget a bucket before it has
// refilled, which would hand a drained client a full bucket.
func (r RateLimitConfig) validateExpiry() error {
	if !r.Enabled || r.RefillPerSec <= 0 {
		return nil
	}
	refill := time.Duration(r.Capacity / r.RefillPerSec * float64(time.Second))

	if r.Redis.Addr != "" {
		if r.Redis.TTL > 0 && r.Redis.TTL < refill {
			return fmt.Errorf("%w: rate_limit.redis.ttl %s is shorter than the full refill time %s", ErrInvalidConfig, r.Redis.TTL, refill)
		}
		return nil
	}
	if r.CleanupInterval > 0 && r.MaxIdle > 0 && r.MaxIdle < refill {
		return fmt.Errorf("%w: rate_limit.max_idle %s is shorter than the full refill time %s", ErrInvalidConfig, r.MaxIdle, refill)
	}
	return nil
}
