package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. METALCRAWL_CRAWLER_MAX_WORKERS.
const EnvPrefix = "METALCRAWL"

// Config holds all application configuration
type Config struct {
	// Crawler configuration
	Crawler CrawlerConfig `mapstructure:"crawler"`

	// Retry delays
	Backoff BackoffConfig `mapstructure:"backoff"`

	// Storage configuration
	Storage StorageConfig `mapstructure:"storage"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging"`
}

// CrawlerConfig holds crawler-specific configuration
type CrawlerConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	FollowRobotsTxt   bool          `mapstructure:"follow_robots_txt"`
	MaxWorkers        int           `mapstructure:"max_workers"`
	ProgressInterval  time.Duration `mapstructure:"progress_interval"`
}

// BackoffConfig holds the retry delays for rate limits and transient failures
type BackoffConfig struct {
	RateLimitBase     time.Duration `mapstructure:"rate_limit_base"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	TransientBase     time.Duration `mapstructure:"transient_base"`
	TransientAttempts int           `mapstructure:"transient_attempts"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	Type          string `mapstructure:"type"` // "csv" or "sqlite"
	Path          string `mapstructure:"path"`
	BatchSize     int    `mapstructure:"batch_size"`
	CheckpointDir string `mapstructure:"checkpoint_dir"` // Defaults to <path>/checkpoints
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "json" or "text"
	OutputPath string `mapstructure:"output_path"`
}

// New returns a viper instance carrying the defaults and environment
// bindings. Callers may bind flags to it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	bindEnvVars(v)
	return v
}

// Load reads configPath (or config.yaml from the usual places) into v and
// decodes the result. A missing config file is not an error.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("$HOME/.metalcrawl")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if config.Storage.CheckpointDir == "" {
		config.Storage.CheckpointDir = filepath.Join(config.Storage.Path, "checkpoints")
	}
	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Crawler defaults
	v.SetDefault("crawler.base_url", "https://www.metal-archives.com")
	v.SetDefault("crawler.user_agent", "")
	v.SetDefault("crawler.requests_per_second", 2.0)
	v.SetDefault("crawler.burst", 2)
	v.SetDefault("crawler.timeout", 15*time.Second)
	v.SetDefault("crawler.run_timeout", time.Duration(0))
	v.SetDefault("crawler.follow_robots_txt", true)
	v.SetDefault("crawler.max_workers", 5)
	v.SetDefault("crawler.progress_interval", 10*time.Second)

	// Backoff defaults
	v.SetDefault("backoff.rate_limit_base", time.Second)
	v.SetDefault("backoff.max_delay", time.Duration(0))
	v.SetDefault("backoff.transient_base", 500*time.Millisecond)
	v.SetDefault("backoff.transient_attempts", 3)

	// Storage defaults
	v.SetDefault("storage.type", "csv")
	v.SetDefault("storage.path", "./data")
	v.SetDefault("storage.batch_size", 500)
	v.SetDefault("storage.checkpoint_dir", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output_path", "stdout")
}

// bindEnvVars binds environment variables
func bindEnvVars(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Crawler.MaxWorkers <= 0 {
		return fmt.Errorf("crawler.max_workers must be positive")
	}
	if c.Crawler.RequestsPerSecond <= 0 {
		return fmt.Errorf("crawler.requests_per_second must be positive")
	}
	if c.Crawler.RunTimeout < 0 {
		return fmt.Errorf("crawler.run_timeout must not be negative")
	}
	if c.Backoff.TransientAttempts <= 0 {
		return fmt.Errorf("backoff.transient_attempts must be positive")
	}
	if c.Backoff.RateLimitBase <= 0 || c.Backoff.TransientBase <= 0 {
		return fmt.Errorf("backoff base delays must be positive")
	}
	if c.Storage.BatchSize <= 0 {
		return fmt.Errorf("storage.batch_size must be positive")
	}
	switch c.Storage.Type {
	case "csv", "sqlite":
	default:
		return fmt.Errorf("storage.type %q is not supported (csv, sqlite)", c.Storage.Type)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("logging.format %q is not supported (json, text)", c.Logging.Format)
	}
	return nil
}
