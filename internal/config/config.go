// Package config loads the application's configuration from config.yaml and
// SHOPHAND_-prefixed environment variables, and the per-shop credential file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/casthq/shophand/internal/logger"
)

// Config holds the application's configuration values.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  logger.Config  `mapstructure:"logging"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Schedule ScheduleConfig `mapstructure:"schedule"`
	Shopify  ShopifyConfig  `mapstructure:"shopify"`
}

// ServerConfig configures the inbound HTTP listener.
type ServerConfig struct {
	Port string `mapstructure:"port"`

	// PublicURL is the origin the platform delivers webhooks to. It is
	// the base of every callback URL the reconciler writes.
	PublicURL string `mapstructure:"public_url"`
}

// DatabaseConfig configures the run journal. An empty DSN disables
// journaling; runs still execute.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig locates the Redis instance backing payload offload, the step
// journal, and the execution engine.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// JobsConfig locates job declarations and shop credentials.
type JobsConfig struct {
	// Dir holds local job and trigger definitions layered over the
	// built-in core set.
	Dir string `mapstructure:"dir"`

	// ShopsFile is the YAML credential file, single-shop or legacy list
	// form.
	ShopsFile string `mapstructure:"shops_file"`

	// DefaultShop names the shop used for deliveries that carry no shop
	// domain. Optional when exactly one shop is configured.
	DefaultShop string `mapstructure:"default_shop"`

	// Env is handed to job handlers as their secret/environment map.
	Env map[string]string `mapstructure:"env"`
}

// DispatchConfig tunes the durable execution host.
type DispatchConfig struct {
	Queue       string        `mapstructure:"queue"`
	Concurrency int           `mapstructure:"concurrency"`
	MaxRetry    int           `mapstructure:"max_retry"`
	Timeout     time.Duration `mapstructure:"timeout"`

	// StepTTL bounds how long memoized step results survive; it must
	// outlive the host's longest retry horizon.
	StepTTL time.Duration `mapstructure:"step_ttl"`
}

// ScheduleConfig is the deployed cron schedule. A schedule-triggered job
// counts as enabled iff its trigger's cron expression appears here.
type ScheduleConfig struct {
	Crons []string `mapstructure:"crons"`
}

// ShopifyConfig carries platform-level settings shared by all shops.
type ShopifyConfig struct {
	// APIVersion is the default admin API version for jobs that do not
	// pin their own.
	APIVersion string `mapstructure:"api_version"`
}

// Load reads configuration from the given file (or config.yaml in the
// working directory when path is empty), applies SHOPHAND_ environment
// overrides, sets defaults, and validates required fields.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SHOPHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Server.PublicURL == "" {
		return nil, fmt.Errorf("server.public_url must be set")
	}
	if cfg.Jobs.ShopsFile == "" {
		return nil, fmt.Errorf("jobs.shops_file must be set")
	}
	if cfg.Dispatch.Concurrency < 1 {
		return nil, fmt.Errorf("dispatch.concurrency must be at least 1, got %d", cfg.Dispatch.Concurrency)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8787")
	v.SetDefault("server.public_url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.file", "")

	v.SetDefault("database.dsn", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("jobs.dir", "jobs")
	v.SetDefault("jobs.shops_file", "shops.yml")
	v.SetDefault("jobs.default_shop", "")

	v.SetDefault("dispatch.queue", "shophand")
	v.SetDefault("dispatch.concurrency", 10)
	v.SetDefault("dispatch.max_retry", 25)
	v.SetDefault("dispatch.timeout", 10*time.Minute)
	v.SetDefault("dispatch.step_ttl", 24*time.Hour)

	v.SetDefault("schedule.crons", []string{})

	v.SetDefault("shopify.api_version", "2025-07")
}
