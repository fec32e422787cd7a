package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/trace-stream/internal/clock"
)

// WebSocketTransport dials text-frame WebSocket connections.
type WebSocketTransport struct {
	cfg    TransportConfig
	clock  clock.Clock
	logger *slog.Logger
	dialer websocket.Dialer
}

// NewWebSocketTransport creates a transport. clk drives the heartbeat and
// may be nil.
func NewWebSocketTransport(cfg TransportConfig, clk clock.Clock, logger *slog.Logger) *WebSocketTransport {
	if clk == nil {
		clk = clock.Real()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{
		cfg:    cfg,
		clock:  clk,
		logger: logger,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Dial performs the opening handshake. A handshake the server rejects
// (for example a 401 for a bad token) is returned with the HTTP status.
func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	conn, resp, err := t.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("handshake rejected: %s: %w", resp.Status, err)
		}
		return nil, err
	}

	if t.cfg.ReadLimit > 0 {
		conn.SetReadLimit(t.cfg.ReadLimit)
	}

	c := &wsConn{
		conn:     conn,
		cfg:      t.cfg,
		clock:    t.clock,
		logger:   t.logger,
		done:     make(chan struct{}),
		lastSeen: t.clock.Now(),
	}

	// Server sends ping, we respond with pong
	conn.SetPingHandler(func(data string) error {
		c.touch()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	// Server responds to our ping
	conn.SetPongHandler(func(string) error {
		c.touch()
		return nil
	})

	if t.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	return c, nil
}

// wsConn implements Conn over a gorilla connection.
type wsConn struct {
	conn   *websocket.Conn
	cfg    TransportConfig
	clock  clock.Clock
	logger *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
	stale     atomic.Bool

	// gorilla allows one concurrent writer
	writeMu sync.Mutex

	mu       sync.Mutex
	lastSeen time.Time
}

func (c *wsConn) touch() {
	c.mu.Lock()
	c.lastSeen = c.clock.Now()
	c.mu.Unlock()
}

// ReadMessage returns the next data frame.
func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if c.stale.Load() {
			return nil, fmt.Errorf("%w: %v", ErrStaleConnection, err)
		}
		return nil, err
	}
	c.touch()
	return data, nil
}

// WriteMessage sends one text frame.
func (c *wsConn) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal-closure frame and closes the socket. Safe to call
// more than once.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}

// heartbeatLoop pings the server and closes the socket when nothing has
// been heard for PongTimeout, which unblocks ReadMessage.
func (c *wsConn) heartbeatLoop() {
	ticker := c.clock.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C():
			deadline := time.Now().Add(c.cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), deadline); err != nil {
				c.logger.Debug("failed to send ping", "error", err)
			}

			if c.cfg.PongTimeout <= 0 {
				continue
			}

			c.mu.Lock()
			lastSeen := c.lastSeen
			c.mu.Unlock()

			if c.clock.Now().Sub(lastSeen) > c.cfg.PongTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_seen", lastSeen,
					"timeout", c.cfg.PongTimeout,
				)
				c.stale.Store(true)
				c.conn.Close()
				return
			}
		}
	}
}

// closeCode extracts the WebSocket close code from a read error.
func closeCode(err error) int {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
