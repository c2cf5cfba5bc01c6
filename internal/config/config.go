package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when no --config flag is given
const DefaultPath = "motorlink.yml"

// Config represents the complete broker configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains listener and WebSocket endpoint settings
type ServerConfig struct {
	Address         string `yaml:"address"`
	DevicePath      string `yaml:"device_path"`
	DashboardPath   string `yaml:"dashboard_path"`
	MaxPayloadBytes int64  `yaml:"max_payload_bytes"`
	SendBuffer      int    `yaml:"send_buffer"`
	WriteTimeout    string `yaml:"write_timeout"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// HeartbeatConfig contains liveness probe settings
type HeartbeatConfig struct {
	Interval string `yaml:"interval"`
}

// TelemetryConfig sizes the latest-telemetry buffer
type TelemetryConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// MetricsConfig contains prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load loads configuration from a YAML file
func Load(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// LoadOrDefault loads the file if it exists and falls back to defaults otherwise
func LoadOrDefault(filepath string) (*Config, bool, error) {
	cfg, err := Load(filepath)
	if err == nil {
		return cfg, true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return NewDefault(), false, nil
	}
	return nil, false, err
}

// Parse decodes YAML, fills defaults and validates the result
func Parse(data []byte) (*Config, error) {
	// Fields absent from the document keep these values
	config := Config{Metrics: MetricsConfig{Enabled: true}}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Save saves configuration to a YAML file
func Save(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefault creates a default configuration
func NewDefault() *Config {
	config := &Config{
		Metrics: MetricsConfig{Enabled: true},
	}
	config.setDefaults()
	return config
}

// setDefaults ensures all required fields have default values
func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":3000"
	}
	if c.Server.DevicePath == "" {
		c.Server.DevicePath = "/ws/device"
	}
	if c.Server.DashboardPath == "" {
		c.Server.DashboardPath = "/ws/dashboard"
	}
	if c.Server.MaxPayloadBytes == 0 {
		c.Server.MaxPayloadBytes = 100 * 1024
	}
	if c.Server.SendBuffer == 0 {
		c.Server.SendBuffer = 64
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "10s"
	}
	if c.Server.ShutdownTimeout == "" {
		c.Server.ShutdownTimeout = "5s"
	}

	if c.Heartbeat.Interval == "" {
		c.Heartbeat.Interval = "25s"
	}

	if c.Telemetry.CacheSize == 0 {
		c.Telemetry.CacheSize = 32
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 50
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAgeDays == 0 {
		c.Logging.MaxAgeDays = 14
	}
}

// Validate checks if the configuration values are valid
func (c *Config) Validate() error {
	if _, err := time.ParseDuration(c.Server.WriteTimeout); err != nil {
		return fmt.Errorf("invalid write timeout format: %w", err)
	}
	if _, err := time.ParseDuration(c.Server.ShutdownTimeout); err != nil {
		return fmt.Errorf("invalid shutdown timeout format: %w", err)
	}

	interval, err := time.ParseDuration(c.Heartbeat.Interval)
	if err != nil {
		return fmt.Errorf("invalid heartbeat interval format: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("heartbeat interval must be greater than 0")
	}

	if !strings.HasPrefix(c.Server.DevicePath, "/") || !strings.HasPrefix(c.Server.DashboardPath, "/") {
		return fmt.Errorf("device_path and dashboard_path must start with '/'")
	}
	// Connections are routed by substring, so neither path may contain the other
	if strings.Contains(c.Server.DevicePath, c.Server.DashboardPath) ||
		strings.Contains(c.Server.DashboardPath, c.Server.DevicePath) {
		return fmt.Errorf("device_path and dashboard_path must differ and neither may contain the other")
	}
	if c.Server.MaxPayloadBytes < 0 {
		return fmt.Errorf("max_payload_bytes cannot be negative")
	}
	if c.Server.SendBuffer < 0 {
		return fmt.Errorf("send_buffer cannot be negative")
	}

	if c.Telemetry.CacheSize < 0 {
		return fmt.Errorf("telemetry cache_size cannot be negative")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics path must start with '/'")
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, level := range validLevels {
		if c.Logging.Level == level {
			levelValid = true
			break
		}
	}
	if !levelValid {
		return fmt.Errorf("invalid logging level: %s (must be one of: %v)", c.Logging.Level, validLevels)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging format must be 'json' or 'text'")
	}

	return nil
}

// GetWriteTimeout returns the per-frame write deadline
func (c *Config) GetWriteTimeout() time.Duration {
	duration, _ := time.ParseDuration(c.Server.WriteTimeout)
	return duration
}

// GetShutdownTimeout returns the graceful HTTP shutdown budget
func (c *Config) GetShutdownTimeout() time.Duration {
	duration, _ := time.ParseDuration(c.Server.ShutdownTimeout)
	return duration
}

// GetHeartbeatInterval returns the heartbeat supervisor period
func (c *Config) GetHeartbeatInterval() time.Duration {
	duration, _ := time.ParseDuration(c.Heartbeat.Interval)
	return duration
}
