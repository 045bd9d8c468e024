package config

import (
	"fmt"
	"os"
	"time"

	"chart-gateway/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// applyDefaults fills optional timing values so every timeout has a sane floor.
func (c *Config) applyDefaults() {
	if c.Charting.FetchTimeoutSeconds <= 0 {
		c.Charting.FetchTimeoutSeconds = 15
	}
	if c.Charting.HandshakeTimeoutSeconds <= 0 {
		c.Charting.HandshakeTimeoutSeconds = 10
	}
	if c.Charting.ConfigTimeoutSeconds <= 0 {
		c.Charting.ConfigTimeoutSeconds = 2
	}
	if c.Charting.ConnectRetries <= 0 {
		c.Charting.ConnectRetries = 3
	}
	if c.Charting.ConnectRetryDelayMs <= 0 {
		c.Charting.ConnectRetryDelayMs = 1000
	}
	if c.Charting.IdleEvictionSeconds <= 0 {
		c.Charting.IdleEvictionSeconds = 300
	}
	if c.Charting.Locale == "" {
		c.Charting.Locale = "en"
	}
	if c.Cache.SessionTTLSeconds <= 0 {
		c.Cache.SessionTTLSeconds = 60
	}
	if c.Cache.IndicatorTTLSeconds <= 0 {
		c.Cache.IndicatorTTLSeconds = 600
	}
	if c.Storage.RetentionDays <= 0 {
		c.Storage.RetentionDays = 30
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	// Validate App configuration (Flattened)
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration (Flattened)
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	// Validate Storage configuration
	if c.Storage.DBType == "" {
		return fmt.Errorf("database type cannot be empty")
	}
	if c.Storage.DBType == "sqlite" && c.Storage.DBPath == "" {
		return fmt.Errorf("database path cannot be empty for sqlite")
	}
	if c.Storage.DBType == "postgres" && c.Storage.DBConnectionString == "" {
		return fmt.Errorf("connection string cannot be empty for postgres")
	}

	// Validate Network configuration
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	// Validate Charting configuration
	if c.Charting.StreamURL == "" {
		return fmt.Errorf("charting stream URL cannot be empty")
	}
	if c.Charting.SideChannelURL == "" {
		return fmt.Errorf("charting side-channel URL cannot be empty")
	}
	// The indicator side channel must never be able to stall a fetch.
	if c.Charting.ConfigTimeoutSeconds >= c.Charting.FetchTimeoutSeconds {
		return fmt.Errorf("config timeout (%ds) must be less than fetch timeout (%ds)",
			c.Charting.ConfigTimeoutSeconds, c.Charting.FetchTimeoutSeconds)
	}

	return nil
}

// -----------------------------------------------------------------------------
// Duration accessors
// -----------------------------------------------------------------------------

func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Charting.FetchTimeoutSeconds) * time.Second
}

func (c *Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.Charting.HandshakeTimeoutSeconds) * time.Second
}

func (c *Config) ConfigTimeout() time.Duration {
	return time.Duration(c.Charting.ConfigTimeoutSeconds) * time.Second
}

func (c *Config) ConnectRetryDelay() time.Duration {
	return time.Duration(c.Charting.ConnectRetryDelayMs) * time.Millisecond
}

func (c *Config) IdleEviction() time.Duration {
	return time.Duration(c.Charting.IdleEvictionSeconds) * time.Second
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Cache.SessionTTLSeconds) * time.Second
}

func (c *Config) IndicatorTTL() time.Duration {
	return time.Duration(c.Cache.IndicatorTTLSeconds) * time.Second
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
