// Package config loads capcached settings from a YAML file with
// CAPCACHE_* environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendMemory    = "memory"
	BackendRistretto = "ristretto"
	BackendBigcache  = "bigcache"
	BackendRedis     = "redis"

	GuardLocal = "local"
	GuardRedis = "redis"

	// bigcacheLifeWindow bounds entry lifetimes on the bigcache backend
	// when maxTtlSeconds is unset.
	bigcacheLifeWindow = 24 * time.Hour
)

type Config struct {
	Listen            string        `yaml:"listen"`
	Backend           string        `yaml:"backend"`
	Guard             string        `yaml:"guard"`
	MaxEntries        int64         `yaml:"maxEntries"`
	Prefix            string        `yaml:"prefix"`
	DefaultTTLSeconds int64         `yaml:"defaultTtlSeconds"`
	MaxTTLSeconds     int64         `yaml:"maxTtlSeconds"`
	ReapInterval      time.Duration `yaml:"reapInterval"`
	ReapBatch         int           `yaml:"reapBatch"`
	Codec             string        `yaml:"codec"`
	Redis             RedisConfig   `yaml:"redis"`
	Breaker           BreakerConfig `yaml:"breaker"`
	Log               LogConfig     `yaml:"log"`

	// CodecMaxDecodeBytes caps stored values read back from redis or
	// bigcache; 0 = no cap.
	CodecMaxDecodeBytes int `yaml:"codecMaxDecodeBytes"`
}

type RedisConfig struct {
	Addr      string `yaml:"addr"`
	DB        int    `yaml:"db"`
	Password  string `yaml:"password"`
	Namespace string `yaml:"namespace"`
}

type BreakerConfig struct {
	Enabled             bool          `yaml:"enabled"`
	ConsecutiveFailures uint32        `yaml:"consecutiveFailures"`
	Timeout             time.Duration `yaml:"timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | console
}

func Default() Config {
	return Config{
		Listen:            ":8080",
		Backend:           BackendMemory,
		Guard:             GuardLocal,
		MaxEntries:        100_000,
		Prefix:            "capcache:",
		DefaultTTLSeconds: 300,
		ReapInterval:      time.Second,
		ReapBatch:         1000,
		Codec:             "wire",
		Redis:             RedisConfig{Addr: "localhost:6379", Namespace: "capcache:"},
		Breaker:           BreakerConfig{Enabled: true, ConsecutiveFailures: 5, Timeout: 30 * time.Second},
		Log:               LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (optional) over Default, then applies env overrides and
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from CAPCACHE_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}
	i64 := func(name string, dst *int64) error {
		v, ok := lookup(name)
		if !ok {
			return nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s: %w", name, err)
		}
		*dst = n
		return nil
	}

	str("CAPCACHE_LISTEN", &c.Listen)
	str("CAPCACHE_BACKEND", &c.Backend)
	str("CAPCACHE_GUARD", &c.Guard)
	str("CAPCACHE_PREFIX", &c.Prefix)
	str("CAPCACHE_CODEC", &c.Codec)
	str("CAPCACHE_REDIS_ADDR", &c.Redis.Addr)
	str("CAPCACHE_REDIS_PASSWORD", &c.Redis.Password)
	str("CAPCACHE_LOG_LEVEL", &c.Log.Level)
	str("CAPCACHE_LOG_FORMAT", &c.Log.Format)
	if v, ok := lookup("CAPCACHE_CODEC_MAX_DECODE_BYTES"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: CAPCACHE_CODEC_MAX_DECODE_BYTES: %w", err)
		}
		c.CodecMaxDecodeBytes = n
	}
	if err := i64("CAPCACHE_MAX_ENTRIES", &c.MaxEntries); err != nil {
		return err
	}
	if err := i64("CAPCACHE_DEFAULT_TTL_SECONDS", &c.DefaultTTLSeconds); err != nil {
		return err
	}
	if err := i64("CAPCACHE_MAX_TTL_SECONDS", &c.MaxTTLSeconds); err != nil {
		return err
	}
	if v, ok := lookup("CAPCACHE_REAP_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: CAPCACHE_REAP_INTERVAL: %w", err)
		}
		c.ReapInterval = d
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.Backend {
	case BackendMemory, BackendRistretto, BackendBigcache, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("config: unknown backend %q", c.Backend))
	}
	switch c.Guard {
	case GuardLocal, GuardRedis:
	default:
		errs = append(errs, fmt.Errorf("config: unknown guard %q", c.Guard))
	}
	if c.MaxEntries <= 0 {
		errs = append(errs, fmt.Errorf("config: maxEntries must be positive, got %d", c.MaxEntries))
	}
	if c.CodecMaxDecodeBytes < 0 {
		errs = append(errs, errors.New("config: codecMaxDecodeBytes must not be negative"))
	}
	if c.DefaultTTLSeconds < 0 || c.MaxTTLSeconds < 0 {
		errs = append(errs, errors.New("config: ttl seconds must not be negative"))
	}
	if c.Backend == BackendRedis && c.Guard == GuardLocal {
		// several daemons on one redis would each enforce their own limit
		errs = append(errs, errors.New("config: redis backend requires the redis guard"))
	}
	if (c.Backend == BackendRedis || c.Guard == GuardRedis) && c.Redis.Addr == "" {
		errs = append(errs, errors.New("config: redis.addr is required"))
	}
	return errors.Join(errs...)
}

func (c Config) DefaultTTL() time.Duration { return time.Duration(c.DefaultTTLSeconds) * time.Second }

// MaxTTL is the engine's TTL ceiling. The bigcache backend evicts anything
// older than its LifeWindow, so there it is never unbounded.
func (c Config) MaxTTL() time.Duration {
	ttl := time.Duration(c.MaxTTLSeconds) * time.Second
	if c.Backend == BackendBigcache && ttl <= 0 {
		return bigcacheLifeWindow
	}
	return ttl
}
