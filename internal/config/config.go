// Package config loads and validates the broker's YAML configuration
// file; CLI flags (wired in cmd/server/main.go) can override the
// server, auth, QoS retry and logging fields they map to after Load.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete server configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Limits  LimitsConfig  `yaml:"limits"`
	QoS     QoSConfig     `yaml:"qos"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig contains server binding and connection lifecycle
// settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`              // Network interface to bind to
	Port            int           `yaml:"port"`              // MQTT port (1883 standard)
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`   // Time allowed to receive CONNECT after accept
	ReadBufferSize  int           `yaml:"read_buffer_size"`  // Per-connection read buffer size
	WriteBufferSize int           `yaml:"write_buffer_size"` // Per-connection write buffer size
}

// AuthConfig selects and configures the authentication backend used
// during CONNECT processing.
type AuthConfig struct {
	ServiceFactory       string `yaml:"service_factory"`        // "allow_all" (default) or "file"
	UsernamePasswordFile string `yaml:"username_password_file"` // path, required when service_factory=file
}

// LimitsConfig contains per-session flow-control limits.
type LimitsConfig struct {
	MaxInflightMessages int `yaml:"max_inflight_messages"` // Maximum QoS 1/2 messages in flight per client
}

// QoSConfig contains QoS 1/2 retransmission tuning.
type QoSConfig struct {
	RetryInterval time.Duration `yaml:"retry_interval"` // Time to wait for an ack before resending
	MaxRetries    int           `yaml:"max_retries"`    // Attempts before abandoning a message
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// MetricsConfig contains Prometheus metrics endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// Load reads and parses the configuration file at path, applying
// defaults and validating the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 1883
	}
	if c.Server.ConnectTimeout == 0 {
		c.Server.ConnectTimeout = 10 * time.Second
	}
	if c.Server.ReadBufferSize == 0 {
		c.Server.ReadBufferSize = 4096
	}
	if c.Server.WriteBufferSize == 0 {
		c.Server.WriteBufferSize = 4096
	}

	if c.Auth.ServiceFactory == "" {
		c.Auth.ServiceFactory = "allow_all"
	}

	if c.Limits.MaxInflightMessages == 0 {
		c.Limits.MaxInflightMessages = 100
	}

	if c.QoS.RetryInterval == 0 {
		c.QoS.RetryInterval = 10 * time.Second
	}
	if c.QoS.MaxRetries == 0 {
		c.QoS.MaxRetries = 5
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Server.Port)
	}

	validFactories := map[string]bool{"allow_all": true, "file": true}
	if !validFactories[c.Auth.ServiceFactory] {
		return fmt.Errorf("invalid auth.service_factory: %s (must be allow_all or file)", c.Auth.ServiceFactory)
	}
	if c.Auth.ServiceFactory == "file" && c.Auth.UsernamePasswordFile == "" {
		return fmt.Errorf("auth.service_factory=file requires auth.username_password_file")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	if c.Metrics.Enabled {
		if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d (must be 1-65535)", c.Metrics.Port)
		}
		if c.Metrics.Port == c.Server.Port {
			return fmt.Errorf("metrics port cannot be the same as server port")
		}
	}

	return nil
}
