package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/papapumpkin/pbcbuild/internal/link"
	"github.com/papapumpkin/pbcbuild/internal/toolchain"
	"github.com/papapumpkin/pbcbuild/internal/zkc"
)

// Config holds all runtime configuration for a pbcbuild session.
// Values are populated from .pbcbuild.yaml, PBCBUILD_* env vars, and CLI flags.
type Config struct {
	CargoPath     string        `mapstructure:"cargo_path"`
	JavaPath      string        `mapstructure:"java_path"`
	TargetTriple  string        `mapstructure:"target_triple"`
	CacheDir      string        `mapstructure:"cache_dir"`
	Jobs          int           `mapstructure:"jobs"`
	FetchRetries  int           `mapstructure:"fetch_retries"`
	FetchBackoff  time.Duration `mapstructure:"fetch_backoff"`
	FetchTimeout  time.Duration `mapstructure:"fetch_timeout"`
	Compression   string        `mapstructure:"compression"`
	TelemetryPath string        `mapstructure:"telemetry_path"`
	Verbose       bool          `mapstructure:"verbose"`
}

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() (Config, error) {
	viper.SetDefault("cargo_path", "cargo")
	viper.SetDefault("java_path", "java")
	viper.SetDefault("target_triple", toolchain.DefaultTriple)
	viper.SetDefault("cache_dir", "")
	viper.SetDefault("jobs", 0)
	viper.SetDefault("fetch_retries", zkc.DefaultRetries)
	viper.SetDefault("fetch_backoff", zkc.DefaultBackoff)
	viper.SetDefault("fetch_timeout", zkc.DefaultTimeout)
	viper.SetDefault("compression", string(link.CompressionNone))
	viper.SetDefault("telemetry_path", "")
	viper.SetDefault("verbose", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = zkc.DefaultDir()
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Jobs < 0 {
		return fmt.Errorf("config: jobs must be >= 0, got %d", c.Jobs)
	}
	if c.FetchRetries < 0 {
		return fmt.Errorf("config: fetch_retries must be >= 0, got %d", c.FetchRetries)
	}
	if c.FetchBackoff < 0 || c.FetchTimeout < 0 {
		return fmt.Errorf("config: fetch durations must not be negative")
	}
	if _, err := link.ParseCompression(c.Compression); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Cache returns a compiler cache configured from c.
func (c Config) Cache() *zkc.Cache {
	cache := zkc.NewCache(c.CacheDir)
	cache.Retries = c.FetchRetries
	cache.Backoff = c.FetchBackoff
	cache.Client.Timeout = c.FetchTimeout
	cache.Verbose = c.Verbose
	return cache
}
