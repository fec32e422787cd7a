package connection

import (
	"context"
	"time"
)

// Transport opens connections. Dial blocks until the connection is open
// or fails; the Client always calls it from its own goroutine.
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is one open full-duplex connection.
//
// ReadMessage is only called from a single goroutine and returns an error
// once the connection is closed, locally or remotely. WriteMessage must be
// safe to call concurrently with ReadMessage and Close.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// TransportConfig configures the WebSocket transport.
type TransportConfig struct {
	HandshakeTimeout time.Duration // Max time for the opening handshake
	WriteTimeout     time.Duration // Write deadline for sends and control frames
	PingInterval     time.Duration // Keepalive ping period (0 disables heartbeat)
	PongTimeout      time.Duration // Max time without ping/pong/data before the connection is stale
	ReadLimit        int64         // Max inbound frame size in bytes (0 = unlimited)
}

// DefaultTransportConfig returns sensible defaults.
func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		ReadLimit:        1 << 20,
	}
}
