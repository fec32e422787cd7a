package config

import (
	"errors"
	"fmt"

	"github.com/rickgao/trace-stream/internal/auth"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Client.Endpoint == "" {
		return errors.New("client.endpoint is required")
	}
	if _, err := auth.BuildURL(c.Client.Endpoint, c.Client.Token); err != nil {
		return fmt.Errorf("client.endpoint: %w", err)
	}

	if c.Client.Retry.MaxAttempts != nil && *c.Client.Retry.MaxAttempts < 0 {
		return fmt.Errorf("client.retry.max_attempts must be >= 0, got %d", *c.Client.Retry.MaxAttempts)
	}
	if c.Client.Retry.Interval <= 0 {
		return fmt.Errorf("client.retry.interval must be > 0, got %v", c.Client.Retry.Interval)
	}

	if c.Transport.HandshakeTimeout < 0 {
		return errors.New("transport.handshake_timeout must be >= 0")
	}
	if c.Transport.WriteTimeout < 0 {
		return errors.New("transport.write_timeout must be >= 0")
	}
	if c.Transport.PingInterval < 0 {
		return errors.New("transport.ping_interval must be >= 0")
	}
	if c.Transport.PongTimeout > 0 && c.Transport.PongTimeout < c.Transport.PingInterval {
		return fmt.Errorf("transport.pong_timeout (%v) cannot be shorter than ping_interval (%v)",
			c.Transport.PongTimeout, c.Transport.PingInterval)
	}
	if c.Transport.ReadLimit < 0 {
		return errors.New("transport.read_limit must be >= 0")
	}

	if _, err := parseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}
