// Package config loads server configuration from file, environment,
// and defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration for the backtest backend.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Storage  Storage  `mapstructure:"storage"`
	Logging  Logging  `mapstructure:"logging"`
	Backtest Backtest `mapstructure:"backtest"`
}

// Server holds network listener configuration.
type Server struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Storage holds paths for data and result persistence.
type Storage struct {
	DataDir    string `mapstructure:"data_dir"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

// Logging configures the application logger.
type Logging struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Backtest holds engine defaults and worker sizing.
type Backtest struct {
	AllocationFraction float64 `mapstructure:"allocation_fraction"`
	Workers            int     `mapstructure:"workers"`
	QueueSize          int     `mapstructure:"queue_size"`
}

// Load reads configuration from the YAML file at path (optional; pass
// "" to skip), layered under BACKTEST_* environment variables, layered
// under built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("storage.sqlite_path", "./data/results.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("backtest.allocation_fraction", 0.2)
	v.SetDefault("backtest.workers", 4)
	v.SetDefault("backtest.queue_size", 64)

	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Backtest.AllocationFraction <= 0 || c.Backtest.AllocationFraction > 1 {
		return fmt.Errorf("allocation fraction must be in (0, 1], got %f", c.Backtest.AllocationFraction)
	}
	if c.Backtest.Workers <= 0 {
		return fmt.Errorf("worker count must be positive, got %d", c.Backtest.Workers)
	}
	return nil
}

// Addr returns the host:port the server should listen on.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
