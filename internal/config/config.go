package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

const defaultJWTSecret = "your-secret-key-change-in-production"

// Config holds all hub configuration.
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// Server basics
	Addr         string        `env:"HUB_ADDR" envDefault:":8081"`
	ReadTimeout  time.Duration `env:"HUB_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout time.Duration `env:"HUB_WRITE_TIMEOUT" envDefault:"10s"`

	// Message broker (NATS JetStream). The stream plays the role of the
	// topic exchange, the durable consumer that of the durable queue.
	BrokerURL    string        `env:"BROKER_URL" envDefault:"nats://localhost:4222"`
	ExchangeName string        `env:"EXCHANGE_NAME" envDefault:"event_exchange"`
	QueueName    string        `env:"QUEUE_NAME" envDefault:"event_queue"`
	RoutingKey   string        `env:"ROUTING_KEY" envDefault:"event.*"`
	MaxRetries   int           `env:"MAX_RETRIES" envDefault:"5"`
	RetryDelay   time.Duration `env:"RETRY_DELAY" envDefault:"5s"`
	AckWait      time.Duration `env:"ACK_WAIT" envDefault:"30s"`

	// Consumption rate limit, messages/sec. 0 disables the limiter.
	MaxMessagesPerSec int `env:"MAX_MESSAGES_PER_SEC" envDefault:"0"`

	// Auth
	JWTSecret string `env:"JWT_SECRET" envDefault:"your-secret-key-change-in-production"`
	DebugMode bool   `env:"DEBUG_MODE" envDefault:"false"`

	// WebSocket delivery
	PushTimeout time.Duration `env:"PUSH_TIMEOUT" envDefault:"5s"`
	SendBuffer  int           `env:"SEND_BUFFER" envDefault:"256"`

	// Delivery record store
	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`
	StoreDSN    string `env:"STORE_DSN" envDefault:"notifications.db"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from an optional .env file plus environment
// variables. Priority: env vars > .env file > defaults.
func Load() (*Config, error) {
	// .env is a development convenience; in containers plain env vars are used.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("HUB_ADDR is required")
	}
	if c.BrokerURL == "" {
		return fmt.Errorf("BROKER_URL is required")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be >= 1, got %d", c.MaxRetries)
	}
	if c.RetryDelay <= 0 {
		return fmt.Errorf("RETRY_DELAY must be > 0, got %s", c.RetryDelay)
	}
	if c.PushTimeout <= 0 {
		return fmt.Errorf("PUSH_TIMEOUT must be > 0, got %s", c.PushTimeout)
	}
	if c.SendBuffer < 1 {
		return fmt.Errorf("SEND_BUFFER must be > 0, got %d", c.SendBuffer)
	}
	if c.JWTSecret == defaultJWTSecret && !c.DebugMode {
		return fmt.Errorf("default JWT_SECRET not allowed outside debug mode")
	}

	switch c.StoreDriver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be one of: memory, sqlite (got: %s)", c.StoreDriver)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs the effective configuration at startup.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Str("broker_url", c.BrokerURL).
		Str("exchange", c.ExchangeName).
		Str("queue", c.QueueName).
		Str("routing_key", c.RoutingKey).
		Int("max_retries", c.MaxRetries).
		Dur("retry_delay", c.RetryDelay).
		Int("max_messages_per_sec", c.MaxMessagesPerSec).
		Bool("debug_mode", c.DebugMode).
		Dur("push_timeout", c.PushTimeout).
		Str("store_driver", c.StoreDriver).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Configuration loaded")
}
