package cli

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/SmitUplenchwar2687/pacer/internal/cache"
	"github.com/SmitUplenchwar2687/pacer/internal/clock"
	"github.com/SmitUplenchwar2687/pacer/internal/config"
	"github.com/SmitUplenchwar2687/pacer/internal/limiter"
	"github.com/SmitUplenchwar2687/pacer/internal/quota"
)

// limiterOptions holds the limiter flags shared by several commands.
type limiterOptions struct {
	capacity   int
	refillRate float64
	limits     []string // name:max:period
}

func (o *limiterOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&o.capacity, "capacity", 10, "bucket capacity (maximum burst)")
	cmd.Flags().Float64Var(&o.refillRate, "refill-rate", 1, "tokens added per second")
	cmd.Flags().StringArrayVar(&o.limits, "limit", nil, "hard limit as name:max_calls:period (repeatable)")
}

// applyConfigIfUnset copies config values into every option whose flag was
// not set explicitly.
func (o *limiterOptions) applyConfigIfUnset(cmd *cobra.Command, cfg config.LimiterConfig) {
	if !cmd.Flags().Changed("capacity") {
		o.capacity = cfg.Capacity
	}
	if !cmd.Flags().Changed("refill-rate") {
		o.refillRate = cfg.RefillRate
	}
	if !cmd.Flags().Changed("limit") {
		o.limits = o.limits[:0]
		for _, hl := range cfg.HardLimits {
			o.limits = append(o.limits, fmt.Sprintf("%s:%d:%s", hl.Name, hl.MaxCalls, hl.Period))
		}
	}
}

func (o *limiterOptions) hardLimits() ([]limiter.HardLimit, error) {
	out := make([]limiter.HardLimit, 0, len(o.limits))
	for _, s := range o.limits {
		hl, err := parseHardLimit(s)
		if err != nil {
			return nil, err
		}
		out = append(out, hl)
	}
	return out, nil
}

// build creates a limiter on clk with the configured hard limits.
func (o *limiterOptions) build(clk clock.Clock, opts ...limiter.Option) (*limiter.RateLimiter, error) {
	limits, err := o.hardLimits()
	if err != nil {
		return nil, err
	}
	opts = append([]limiter.Option{limiter.WithClock(clk), limiter.WithHardLimits(limits...)}, opts...)
	return limiter.New(o.capacity, o.refillRate, opts...)
}

// parseHardLimit parses "name:max_calls:period", e.g. "daily:5000:day".
func parseHardLimit(s string) (limiter.HardLimit, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return limiter.HardLimit{}, fmt.Errorf("invalid --limit %q, want name:max_calls:period", s)
	}
	name := strings.TrimSpace(parts[0])
	if name == "" {
		return limiter.HardLimit{}, fmt.Errorf("invalid --limit %q: name is empty", s)
	}
	maxCalls, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return limiter.HardLimit{}, fmt.Errorf("invalid --limit %q: %w", s, err)
	}
	period, err := quota.ParsePeriod(parts[2])
	if err != nil {
		return limiter.HardLimit{}, fmt.Errorf("invalid --limit %q: %w", s, err)
	}
	return limiter.HardLimit{Name: name, MaxCalls: maxCalls, Period: period}, nil
}

// cacheOptions holds the response cache flags of the HIBP commands.
type cacheOptions struct {
	backend       string
	ttl           time.Duration
	redisHost     string
	redisPort     int
	redisPassword string
	redisDB       int
}

func (o *cacheOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.backend, "cache", cache.BackendMemory, "response cache backend (none, memory, redis)")
	fs.DurationVar(&o.ttl, "cache-ttl", time.Hour, "how long catalog responses are cached")
	fs.StringVar(&o.redisHost, "redis-host", "localhost", "redis host (or host:port)")
	fs.IntVar(&o.redisPort, "redis-port", 6379, "redis port")
	fs.StringVar(&o.redisPassword, "redis-password", "", "redis password")
	fs.IntVar(&o.redisDB, "redis-db", 0, "redis database index")
}

func (o *cacheOptions) applyConfigIfUnset(cmd *cobra.Command, cfg cache.Config) {
	if !cmd.Flags().Changed("cache") {
		o.backend = cfg.Backend
	}
	if !cmd.Flags().Changed("cache-ttl") {
		o.ttl = cfg.TTL
	}
	if !cmd.Flags().Changed("redis-host") {
		o.redisHost = cfg.Redis.Host
	}
	if !cmd.Flags().Changed("redis-port") {
		o.redisPort = cfg.Redis.Port
	}
	if !cmd.Flags().Changed("redis-password") {
		o.redisPassword = cfg.Redis.Password
	}
	if !cmd.Flags().Changed("redis-db") {
		o.redisDB = cfg.Redis.DB
	}
}

// toConfig merges the options over base, keeping the redis settings that
// have no flag (cluster, pool size, retries).
func (o *cacheOptions) toConfig(base cache.Config) (cache.Config, error) {
	cfg := base
	cfg.Backend = o.backend
	cfg.TTL = o.ttl
	if o.backend == cache.BackendRedis && !cfg.Redis.Cluster {
		host, port, err := normalizeRedisHostPort(o.redisHost, o.redisPort)
		if err != nil {
			return cache.Config{}, err
		}
		cfg.Redis.Host = host
		cfg.Redis.Port = port
	} else {
		cfg.Redis.Host = o.redisHost
		cfg.Redis.Port = o.redisPort
	}
	cfg.Redis.Password = o.redisPassword
	cfg.Redis.DB = o.redisDB
	return cfg, nil
}

func normalizeRedisHostPort(host string, port int) (string, int, error) {
	if strings.Contains(host, ":") {
		h, p, err := net.SplitHostPort(host)
		if err != nil {
			return "", 0, fmt.Errorf("invalid --redis-host value %q: %w", host, err)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return "", 0, fmt.Errorf("invalid redis port in --redis-host %q: %w", host, err)
		}
		host = h
		port = n
	}

	if host == "" {
		return "", 0, fmt.Errorf("redis host cannot be empty")
	}
	if port <= 0 {
		return "", 0, fmt.Errorf("redis port must be positive, got %d", port)
	}

	return host, port, nil
}
