// Package config loads and validates the taskvine configuration from a
// yaml file and TASKVINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "taskvine.yaml"

// StorageConfig selects and tunes the backing store.
type StorageConfig struct {
	// Dialect is "sqlite" or "postgres".
	Dialect string `yaml:"dialect" mapstructure:"dialect"`
	// DSN is a file path for sqlite, a connection string for postgres.
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// PoolConfig bounds the connection pool.
type PoolConfig struct {
	MinSize           int           `yaml:"min_size" mapstructure:"min_size"`
	MaxSize           int           `yaml:"max_size" mapstructure:"max_size"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout" mapstructure:"acquire_timeout"`
	IdlePruneInterval time.Duration `yaml:"idle_prune_interval" mapstructure:"idle_prune_interval"`
	HealthInterval    time.Duration `yaml:"health_interval" mapstructure:"health_interval"`
}

// CacheConfig tunes the read cache.
type CacheConfig struct {
	Capacity int           `yaml:"capacity" mapstructure:"capacity"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// LockConfig tunes the advisory lock manager.
type LockConfig struct {
	Wait time.Duration `yaml:"wait" mapstructure:"wait"`
	TTL  time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

// TxnConfig tunes the transaction coordinator.
type TxnConfig struct {
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// GraphConfig sets the dependency-graph warning thresholds.
type GraphConfig struct {
	DepthWarn   int `yaml:"depth_warn" mapstructure:"depth_warn"`
	BreadthWarn int `yaml:"breadth_warn" mapstructure:"breadth_warn"`
}

// Config is the full taskvine configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Pool    PoolConfig    `yaml:"pool" mapstructure:"pool"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Lock    LockConfig    `yaml:"lock" mapstructure:"lock"`
	Txn     TxnConfig     `yaml:"txn" mapstructure:"txn"`
	Graph   GraphConfig   `yaml:"graph" mapstructure:"graph"`
	// LogLevel is debug, info, warn, or error.
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// Default returns the default configuration: local sqlite, moderate pool
// and cache sizes.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Dialect: "sqlite",
			DSN:     ".taskvine/tasks.db",
		},
		Pool: PoolConfig{
			MinSize:           2,
			MaxSize:           8,
			AcquireTimeout:    5 * time.Second,
			IdlePruneInterval: time.Minute,
			HealthInterval:    30 * time.Second,
		},
		Cache: CacheConfig{
			Capacity: 1024,
			TTL:      30 * time.Second,
		},
		Lock: LockConfig{
			Wait: time.Second,
			TTL:  30 * time.Second,
		},
		Txn: TxnConfig{
			IdleTimeout: 30 * time.Second,
		},
		Graph: GraphConfig{
			DepthWarn:   10,
			BreadthWarn: 50,
		},
		LogLevel: "info",
	}
}

// Load reads the configuration from the given file (or the default search
// path when empty) and TASKVINE_* environment variables, layered over the
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.taskvine")
		v.SetConfigType("yaml")
		v.SetConfigName("taskvine")
	}

	v.SetEnvPrefix("TASKVINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; a malformed one is not.
		var notFound viper.ConfigFileNotFoundError
		if path != "" {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key with viper so environment overrides
// resolve even when the key never appears in a config file.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("storage.dialect", d.Storage.Dialect)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("pool.min_size", d.Pool.MinSize)
	v.SetDefault("pool.max_size", d.Pool.MaxSize)
	v.SetDefault("pool.acquire_timeout", d.Pool.AcquireTimeout)
	v.SetDefault("pool.idle_prune_interval", d.Pool.IdlePruneInterval)
	v.SetDefault("pool.health_interval", d.Pool.HealthInterval)
	v.SetDefault("cache.capacity", d.Cache.Capacity)
	v.SetDefault("cache.ttl", d.Cache.TTL)
	v.SetDefault("lock.wait", d.Lock.Wait)
	v.SetDefault("lock.ttl", d.Lock.TTL)
	v.SetDefault("txn.idle_timeout", d.Txn.IdleTimeout)
	v.SetDefault("graph.depth_warn", d.Graph.DepthWarn)
	v.SetDefault("graph.breadth_warn", d.Graph.BreadthWarn)
	v.SetDefault("log_level", d.LogLevel)
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.Storage.Dialect {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown storage dialect %q", c.Storage.Dialect)
	}
	if c.Storage.DSN == "" {
		return fmt.Errorf("config: storage dsn is required")
	}
	if c.Pool.MaxSize > 0 && c.Pool.MinSize > c.Pool.MaxSize {
		return fmt.Errorf("config: pool min_size %d exceeds max_size %d", c.Pool.MinSize, c.Pool.MaxSize)
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("config: cache capacity must be non-negative")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}
