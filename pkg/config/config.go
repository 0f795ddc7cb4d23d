// Package config loads server configuration from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	// Listen address for the realtime + REST server
	ListenAddr string `yaml:"listen_addr"`

	// Port for the health/metrics endpoints
	MetricsPort int `yaml:"metrics_port"`

	// Auth configuration
	Auth AuthConfig `yaml:"auth"`

	// Redis configuration; empty Addr selects the in-memory store
	Redis RedisConfig `yaml:"redis"`

	// Assistant configuration
	Assistant AssistantConfig `yaml:"assistant"`

	// Relay configuration
	Relay RelayConfig `yaml:"relay"`
}

// AuthConfig holds token signing configuration
type AuthConfig struct {
	Secret   string        `yaml:"secret"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	PoolSize int    `yaml:"pool_size"`
}

// AssistantConfig holds assistant producer configuration
type AssistantConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// RelayConfig holds message relay tuning
type RelayConfig struct {
	// SendBuffer is the per-session outbound queue depth
	SendBuffer int `yaml:"send_buffer"`

	// MessagesPerSecond limits inbound frames per session
	MessagesPerSecond float64 `yaml:"messages_per_second"`

	// Burst is the inbound rate limiter burst size
	Burst int `yaml:"burst"`
}

// LoadConfig loads configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":3000"
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 9090
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 7 * 24 * time.Hour
	}
	if c.Relay.SendBuffer == 0 {
		c.Relay.SendBuffer = 64
	}
	if c.Relay.MessagesPerSecond == 0 {
		c.Relay.MessagesPerSecond = 20
	}
	if c.Relay.Burst == 0 {
		c.Relay.Burst = 40
	}

	// Load secrets from environment if not in config
	if c.Auth.Secret == "" {
		c.Auth.Secret = os.Getenv("CODEHIVE_AUTH_SECRET")
	}
	if c.Assistant.APIKey == "" {
		c.Assistant.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = os.Getenv("REDIS_ADDR")
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	if c.Assistant.Enabled && c.Assistant.APIKey == "" {
		return fmt.Errorf("assistant.api_key is required when the assistant is enabled")
	}
	return nil
}
