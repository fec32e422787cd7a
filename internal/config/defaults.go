package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultMaxAttempts      = 5
	DefaultRetryInterval    = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 5 * time.Second
	DefaultPingInterval     = 30 * time.Second
	DefaultPongTimeout      = 60 * time.Second
	DefaultReadLimit        = 1 << 20
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

func (c *Config) applyDefaults() {
	// Retry defaults
	if c.Client.Retry.MaxAttempts == nil {
		n := DefaultMaxAttempts
		c.Client.Retry.MaxAttempts = &n
	}
	if c.Client.Retry.Interval == 0 {
		c.Client.Retry.Interval = DefaultRetryInterval
	}

	// Transport defaults
	if c.Transport.HandshakeTimeout == 0 {
		c.Transport.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.Transport.WriteTimeout == 0 {
		c.Transport.WriteTimeout = DefaultWriteTimeout
	}
	if c.Transport.PingInterval == 0 {
		c.Transport.PingInterval = DefaultPingInterval
	}
	if c.Transport.PongTimeout == 0 {
		c.Transport.PongTimeout = DefaultPongTimeout
	}
	if c.Transport.ReadLimit == 0 {
		c.Transport.ReadLimit = DefaultReadLimit
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = DefaultLogLevel
	}
	if c.Log.Format == "" {
		c.Log.Format = DefaultLogFormat
	}
}
