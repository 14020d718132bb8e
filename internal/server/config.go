// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay service.
package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/Tyrowin/relaychat/internal/auth"
	"github.com/Tyrowin/relaychat/internal/storage"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `yaml:"burst" env:"RATE_LIMIT_BURST"`
	RefillInterval time.Duration `yaml:"refill_interval" env:"RATE_LIMIT_REFILL_INTERVAL"`
}

// AuthConfig holds the identity token verification settings.
type AuthConfig struct {
	Secret string `yaml:"secret" env:"JWT_SECRET"`
	Issuer string `yaml:"issuer" env:"JWT_ISSUER"`
}

// StorageConfig controls message persistence. An empty DatabasePath
// disables persistence.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path" env:"DATABASE_PATH"`
	QueueSize    int    `yaml:"queue_size" env:"PERSIST_QUEUE_SIZE"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string          `yaml:"port" env:"SERVER_PORT"`
	AllowedOrigins  []string        `yaml:"allowed_origins" env:"ALLOWED_ORIGINS" envSeparator:","`
	MaxMessageSize  int64           `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	SendBufferSize  int             `yaml:"send_buffer_size" env:"SEND_BUFFER_SIZE"`
	RateLimit       RateLimitConfig `yaml:"rate_limit"`
	Auth            AuthConfig      `yaml:"auth"`
	Storage         StorageConfig   `yaml:"storage"`
	LogLevel        string          `yaml:"log_level" env:"LOG_LEVEL"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig returns a Config populated with default values for all
// settings except the JWT secret.
func DefaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 4096,
		SendBufferSize: 256,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		Storage: StorageConfig{
			DatabasePath: "relaychat.db",
			QueueSize:    storage.DefaultSinkConfig().QueueSize,
		},
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML file
// at path, and environment variables, in increasing order of precedence.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg = cfg.Sanitize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Sanitize replaces missing or non-positive values with their defaults.
func (c Config) Sanitize() Config {
	def := DefaultConfig()

	if c.Port == "" {
		c.Port = def.Port
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = def.SendBufferSize
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.Storage.QueueSize <= 0 {
		c.Storage.QueueSize = def.Storage.QueueSize
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// Validate reports settings the server cannot start without.
func (c Config) Validate() error {
	if c.Auth.Secret == "" {
		return errors.New("JWT_SECRET is required")
	}
	return nil
}

// AuthSettings converts the auth section for the auth package.
func (c Config) AuthSettings() auth.Config {
	return auth.Config{Secret: c.Auth.Secret, Issuer: c.Auth.Issuer}
}
