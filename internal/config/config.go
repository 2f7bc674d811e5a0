// Package config provides dynamic configuration management for HostPulse.
// It uses Viper to load settings from files, environment variables, and CLI flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for HostPulse.
type Config struct {
	// ── Service identity ─────────────────────────────────────────────────────
	AppName    string `mapstructure:"app_name" yaml:"app_name"`
	AppVersion string `mapstructure:"app_version" yaml:"app_version"`

	// ── Server ───────────────────────────────────────────────────────────────
	ServerHost string `mapstructure:"server_host" yaml:"server_host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	// RequestTimeout bounds sampling + store round trip of a single request.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// ── Database ─────────────────────────────────────────────────────────────
	DBDriver string `mapstructure:"db_driver" yaml:"db_driver"` // only "sqlite"
	DBPath   string `mapstructure:"db_path" yaml:"db_path"`

	// ── Security ──────────────────────────────────────────────────────────────
	// APIKey is the shared secret expected in the X-API-Key header.
	// An empty key (and empty hash) locks the protected routes entirely.
	APIKey string `mapstructure:"api_key" yaml:"api_key"`
	// APIKeyHash is a bcrypt hash of the key; takes precedence over APIKey.
	APIKeyHash string `mapstructure:"api_key_hash" yaml:"api_key_hash"`

	// ── Sampler ──────────────────────────────────────────────────────────────
	// CPUWindow is the blocking averaging window of the CPU percentage read.
	CPUWindow time.Duration `mapstructure:"cpu_window" yaml:"cpu_window"`
	DiskPath  string        `mapstructure:"disk_path" yaml:"disk_path"`

	// ── Latest-sample cache (optional) ───────────────────────────────────────
	RedisAddr     string        `mapstructure:"redis_addr" yaml:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password" yaml:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db" yaml:"redis_db"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`

	// ── Live stream ──────────────────────────────────────────────────────────
	StreamInterval time.Duration `mapstructure:"stream_interval" yaml:"stream_interval"`

	// ── Logging ──────────────────────────────────────────────────────────────
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`
	LogJSON  bool   `mapstructure:"log_json" yaml:"log_json"`

	// ── Agent ────────────────────────────────────────────────────────────────
	AgentServer   string        `mapstructure:"agent_server" yaml:"agent_server"`
	AgentInterval time.Duration `mapstructure:"agent_interval" yaml:"agent_interval"`
}

// Load reads config from file (explicit path, or ./config.yaml, or
// ~/.hostpulse/config.yaml) and falls back to smart defaults. Environment
// variables with prefix HOSTPULSE_ override file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	// --- Smart Defaults ---
	v.SetDefault("app_name", "HostPulse")
	v.SetDefault("app_version", "1.0.0")
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("request_timeout", 10*time.Second)
	v.SetDefault("db_driver", "sqlite")
	v.SetDefault("db_path", "metrics.db")
	v.SetDefault("api_key", "")
	v.SetDefault("api_key_hash", "")
	v.SetDefault("cpu_window", time.Second)
	v.SetDefault("disk_path", "/")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("cache_ttl", time.Hour)
	v.SetDefault("stream_interval", 5*time.Second)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
	v.SetDefault("agent_server", "http://127.0.0.1:8000")
	v.SetDefault("agent_interval", time.Minute)

	// --- Config file ---
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.hostpulse")
	}
	if err := v.ReadInConfig(); err != nil {
		// config file is optional unless given explicitly
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	// --- Environment Variables ---
	v.SetEnvPrefix("HOSTPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return fmt.Errorf("invalid port %d", c.Port)
	case c.DBDriver != "sqlite" && c.DBDriver != "":
		return fmt.Errorf("unsupported db_driver %q (use 'sqlite')", c.DBDriver)
	case c.CPUWindow <= 0:
		return fmt.Errorf("cpu_window must be positive, got %s", c.CPUWindow)
	case c.RequestTimeout <= c.CPUWindow:
		return fmt.Errorf("request_timeout (%s) must exceed cpu_window (%s)", c.RequestTimeout, c.CPUWindow)
	case c.StreamInterval < time.Second:
		return fmt.Errorf("stream_interval must be at least 1s, got %s", c.StreamInterval)
	}
	return nil
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.Port)
}

// Redacted returns a copy with secrets masked, suitable for printing.
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = "********"
	}
	if c.APIKeyHash != "" {
		c.APIKeyHash = "********"
	}
	if c.RedisPassword != "" {
		c.RedisPassword = "********"
	}
	return c
}
