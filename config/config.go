package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type Config struct {
	Provisioning ProvisioningConfig `json:"provisioning" yaml:"provisioning"`
	Store        StoreConfig        `json:"store" yaml:"store"`
	Log          LogConfig          `json:"log" yaml:"log"`
}

// ProvisioningConfig contains the broker provisioning service settings
type ProvisioningConfig struct {
	ProvisioningURL string `json:"provisioning_url" yaml:"provisioning_url"`
	ClientURL       string `json:"client_url,omitempty" yaml:"client_url,omitempty"`
	Token           string `json:"token,omitempty" yaml:"token,omitempty"`
	Region          string `json:"region" yaml:"region"`
	Magic           int64  `json:"magic" yaml:"magic"`
	MaxAttempts     int    `json:"max_attempts" yaml:"max_attempts"`
	DefaultDelay    string `json:"default_delay" yaml:"default_delay"`     // e.g. "3s"
	MaxDelay        string `json:"max_delay" yaml:"max_delay"`             // cap on Retry-After
	Deadline        string `json:"deadline" yaml:"deadline"`               // wall-clock ceiling per sequence
	RequestTimeout  string `json:"request_timeout" yaml:"request_timeout"` // per round trip
}

// StoreConfig selects the broker account store
type StoreConfig struct {
	Type          string `json:"type" yaml:"type"` // "sqlite" or "redis"
	DBPath        string `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
}

// LogConfig contains logging parameters
type LogConfig struct {
	Level       string `json:"level" yaml:"level"` // debug, info, warn, error
	Development bool   `json:"development" yaml:"development"`
}

// Durations holds the parsed provisioning timings.
type Durations struct {
	DefaultDelay   time.Duration
	MaxDelay       time.Duration
	Deadline       time.Duration
	RequestTimeout time.Duration
}

func parseDuration(name, v string) (time.Duration, error) {
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("provisioning.%s: %w", name, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("provisioning.%s must not be negative", name)
	}
	return d, nil
}

// ParseDurations converts the duration strings to time.Duration
func (p ProvisioningConfig) ParseDurations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	if d.DefaultDelay, err = parseDuration("default_delay", p.DefaultDelay); err != nil {
		return d, err
	}
	if d.MaxDelay, err = parseDuration("max_delay", p.MaxDelay); err != nil {
		return d, err
	}
	if d.Deadline, err = parseDuration("deadline", p.Deadline); err != nil {
		return d, err
	}
	if d.RequestTimeout, err = parseDuration("request_timeout", p.RequestTimeout); err != nil {
		return d, err
	}
	return d, nil
}

// LoadFromFile loads configuration from a file (JSON or YAML based on extension)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	err = yaml.Unmarshal(data, cfg)
	if err != nil {
		err = json.Unmarshal(data, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ApplyEnv overrides provider settings from the environment. The token is
// normally only supplied this way.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("META_API_ACCESS_TOKEN"); v != "" {
		c.Provisioning.Token = v
	}
	if v := os.Getenv("META_API_PROVISIONING_URL"); v != "" {
		c.Provisioning.ProvisioningURL = v
	}
	if v := os.Getenv("META_API_URL"); v != "" {
		c.Provisioning.ClientURL = v
	}
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	p := c.Provisioning
	if p.ProvisioningURL == "" {
		return fmt.Errorf("provisioning.provisioning_url is required")
	}
	if p.Region == "" {
		return fmt.Errorf("provisioning.region is required")
	}
	if p.MaxAttempts <= 0 {
		return fmt.Errorf("provisioning.max_attempts must be positive")
	}
	d, err := p.ParseDurations()
	if err != nil {
		return err
	}
	if d.DefaultDelay <= 0 {
		return fmt.Errorf("provisioning.default_delay must be positive")
	}
	if d.MaxDelay <= 0 {
		return fmt.Errorf("provisioning.max_delay must be positive")
	}
	if d.MaxDelay < d.DefaultDelay {
		return fmt.Errorf("provisioning.max_delay must not be less than default_delay")
	}

	switch c.Store.Type {
	case "sqlite":
		if c.Store.DBPath == "" {
			return fmt.Errorf("store db_path required for SQLite type")
		}
	case "redis":
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("store redis_addr required for Redis type")
		}
	default:
		return fmt.Errorf("store.type must be 'sqlite' or 'redis'")
	}

	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Provisioning: ProvisioningConfig{
			ProvisioningURL: "https://mt-provisioning-api-v1.agiliumtrade.agiliumtrade.ai",
			ClientURL:       "https://mt-client-api-v1.agiliumtrade.agiliumtrade.ai",
			Region:          "london",
			Magic:           123456,
			MaxAttempts:     30,
			DefaultDelay:    "3s",
			MaxDelay:        "60s",
			Deadline:        "5m",
			RequestTimeout:  "30s",
		},
		Store: StoreConfig{
			Type:   "sqlite",
			DBPath: "./tradejournal.sqlite",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}
