package config

import (
	"time"

	"github.com/rickgao/trace-stream/internal/connection"
)

// Config is the top-level configuration for cmd/streamclient.
type Config struct {
	Client    ClientConfig    `yaml:"client"`
	Transport TransportConfig `yaml:"transport"`
	Log       LogConfig       `yaml:"log"`
}

// ClientConfig describes the target and the reconnect policy.
type ClientConfig struct {
	Endpoint string      `yaml:"endpoint"`
	Token    string      `yaml:"token"`
	Retry    RetryConfig `yaml:"retry"`
}

// RetryConfig bounds automatic reconnection. MaxAttempts is a pointer so an
// explicit 0 (never retry) is distinguishable from unset.
type RetryConfig struct {
	MaxAttempts *int          `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

// TransportConfig holds WebSocket settings.
type TransportConfig struct {
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	PongTimeout      time.Duration `yaml:"pong_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Target returns the connection target.
func (c *Config) Target() connection.Target {
	return connection.Target{
		Endpoint: c.Client.Endpoint,
		Token:    c.Client.Token,
	}
}

// RetryPolicy returns the reconnect policy. Call after applyDefaults.
func (c *Config) RetryPolicy() connection.RetryPolicy {
	p := connection.RetryPolicy{Interval: c.Client.Retry.Interval}
	if c.Client.Retry.MaxAttempts != nil {
		p.MaxAttempts = *c.Client.Retry.MaxAttempts
	}
	return p
}

// TransportConfig returns the WebSocket transport settings.
func (c *Config) TransportConfig() connection.TransportConfig {
	return connection.TransportConfig{
		HandshakeTimeout: c.Transport.HandshakeTimeout,
		WriteTimeout:     c.Transport.WriteTimeout,
		PingInterval:     c.Transport.PingInterval,
		PongTimeout:      c.Transport.PongTimeout,
		ReadLimit:        c.Transport.ReadLimit,
	}
}

// ConnectionConfig returns the connection.Config for NewClient.
func (c *Config) ConnectionConfig() connection.Config {
	return connection.Config{
		Retry:     c.RetryPolicy(),
		Transport: c.TransportConfig(),
	}
}
