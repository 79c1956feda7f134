// Package config loads pacer's YAML configuration. Values are layered:
// built-in defaults, then the config file, then PACER_* environment
// variables. CLI flags are applied last by the cli package.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SmitUplenchwar2687/pacer/internal/cache"
	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
)

// Config is the top-level configuration.
type Config struct {
	Limiter LimiterConfig `yaml:"limiter" json:"limiter"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	Log     LogConfig     `yaml:"log" json:"log"`
	HIBP    HIBPConfig    `yaml:"hibp" json:"hibp"`
	Cache   cache.Config  `yaml:"cache" json:"cache"`
}

type LimiterConfig struct {
	Capacity   int                 `yaml:"capacity" json:"capacity"`
	RefillRate float64             `yaml:"refill_rate" json:"refill_rate"`
	HardLimits []limiter.HardLimit `yaml:"hard_limits" json:"hard_limits"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// LogConfig selects the slog handler. Level is debug, info, warn or error;
// Format is text or json; Output is stdout, stderr or file.
type LogConfig struct {
	Level    string `yaml:"level" json:"level"`
	Format   string `yaml:"format" json:"format"`
	Output   string `yaml:"output" json:"output"`
	FilePath string `yaml:"file_path" json:"file_path"`
}

type HIBPConfig struct {
	APIKey       string        `yaml:"api_key" json:"-"`
	UserAgent    string        `yaml:"user_agent" json:"user_agent"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	BaseURL      string        `yaml:"base_url" json:"base_url"`
	PasswordsURL string        `yaml:"passwords_url" json:"passwords_url"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Limiter: LimiterConfig{
			Capacity:   10,
			RefillRate: 1,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		HIBP: HIBPConfig{
			UserAgent:    "pacer",
			Timeout:      10 * time.Second,
			BaseURL:      "https://haveibeenpwned.com/api/v3",
			PasswordsURL: "https://api.pwnedpasswords.com",
		},
		Cache: cache.Config{
			Backend: cache.BackendMemory,
			TTL:     time.Hour,
			Redis: cache.RedisConfig{
				Host: "localhost",
				Port: 6379,
			},
		},
	}
}

// Load builds a Config from defaults, the optional YAML file at path and the
// environment, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromFile(&cfg, path); err != nil {
			return cfg, err
		}
	}
	loadFromEnvironment(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadFromFile merges the file over cfg. Keys absent from the file keep
// their current values; a list such as hard_limits replaces the default.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func loadFromEnvironment(cfg *Config) {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				slog.Warn("ignoring invalid environment value", "key", key, "value", v)
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				slog.Warn("ignoring invalid environment value", "key", key, "value", v)
				return
			}
			*dst = d
		}
	}

	setInt("PACER_CAPACITY", &cfg.Limiter.Capacity)
	if v := os.Getenv("PACER_REFILL_RATE"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Limiter.RefillRate = r
		} else {
			slog.Warn("ignoring invalid environment value", "key", "PACER_REFILL_RATE", "value", v)
		}
	}

	setString("PACER_ADDR", &cfg.Server.Addr)

	setString("PACER_LOG_LEVEL", &cfg.Log.Level)
	setString("PACER_LOG_FORMAT", &cfg.Log.Format)
	setString("PACER_LOG_OUTPUT", &cfg.Log.Output)
	setString("PACER_LOG_FILE_PATH", &cfg.Log.FilePath)

	setString("PACER_HIBP_API_KEY", &cfg.HIBP.APIKey)
	setString("PACER_HIBP_USER_AGENT", &cfg.HIBP.UserAgent)
	setDuration("PACER_HIBP_TIMEOUT", &cfg.HIBP.Timeout)

	setString("PACER_CACHE_BACKEND", &cfg.Cache.Backend)
	setDuration("PACER_CACHE_TTL", &cfg.Cache.TTL)
	setString("PACER_REDIS_HOST", &cfg.Cache.Redis.Host)
	setInt("PACER_REDIS_PORT", &cfg.Cache.Redis.Port)
	setString("PACER_REDIS_PASSWORD", &cfg.Cache.Redis.Password)
}

// Validate checks that the config is usable. All problems are reported
// together.
func (c Config) Validate() error {
	var errs []error

	if c.Limiter.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("limiter.capacity must be positive, got %d", c.Limiter.Capacity))
	}
	if r := c.Limiter.RefillRate; !(r > 0) || math.IsInf(r, 0) {
		errs = append(errs, fmt.Errorf("limiter.refill_rate must be positive and finite, got %v", r))
	}
	seen := make(map[string]bool, len(c.Limiter.HardLimits))
	for i, hl := range c.Limiter.HardLimits {
		switch {
		case hl.Name == "":
			errs = append(errs, fmt.Errorf("limiter.hard_limits[%d]: name is required", i))
		case seen[hl.Name]:
			errs = append(errs, fmt.Errorf("limiter.hard_limits[%d]: duplicate name %q", i, hl.Name))
		}
		seen[hl.Name] = true
		if hl.MaxCalls <= 0 {
			errs = append(errs, fmt.Errorf("limiter.hard_limits[%d]: max_calls must be positive, got %d", i, hl.MaxCalls))
		}
		if !hl.Period.Valid() {
			errs = append(errs, fmt.Errorf("limiter.hard_limits[%d]: period is required", i))
		}
	}

	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q must be one of: debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	switch strings.ToLower(c.Log.Output) {
	case "stdout", "stderr":
	case "file":
		if c.Log.FilePath == "" {
			errs = append(errs, errors.New("log.file_path is required when log.output is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("log.output %q must be one of: stdout, stderr, file", c.Log.Output))
	}

	if strings.TrimSpace(c.HIBP.UserAgent) == "" {
		errs = append(errs, errors.New("hibp.user_agent is required"))
	}
	if c.HIBP.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("hibp.timeout must be positive, got %s", c.HIBP.Timeout))
	}

	switch c.Cache.Backend {
	case cache.BackendNone, cache.BackendMemory:
	case cache.BackendRedis:
		if c.Cache.Redis.Cluster {
			if len(c.Cache.Redis.ClusterNodes) == 0 {
				errs = append(errs, errors.New("cache.redis.cluster_nodes is required when cluster is true"))
			}
		} else {
			if c.Cache.Redis.Host == "" {
				errs = append(errs, errors.New("cache.redis.host is required"))
			}
			if c.Cache.Redis.Port <= 0 {
				errs = append(errs, fmt.Errorf("cache.redis.port must be positive, got %d", c.Cache.Redis.Port))
			}
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q must be one of: none, memory, redis", c.Cache.Backend))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative, got %s", c.Cache.TTL))
	}

	return errors.Join(errs...)
}

const example = `# pacer configuration
limiter:
  capacity: 10
  refill_rate: 0.1666
  hard_limits:
    - name: per-minute
      max_calls: 10
      period: minute
    - name: daily
      max_calls: 5000
      period: day

server:
  addr: ":8080"
  read_timeout: 15s
  write_timeout: 60s
  shutdown_timeout: 10s

log:
  level: info
  format: text
  output: stderr

hibp:
  # api_key: set PACER_HIBP_API_KEY instead of committing a key
  user_agent: pacer
  timeout: 10s

cache:
  backend: memory
  ttl: 1h
  redis:
    host: localhost
    port: 6379
`

// WriteExample writes an example config file to path.
func WriteExample(path string) error {
	return os.WriteFile(path, []byte(example), 0o644)
}
