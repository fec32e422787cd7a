package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rickgao/trace-stream/internal/auth"
	"github.com/rickgao/trace-stream/internal/clock"
)

// Config configures a Client.
type Config struct {
	Retry     RetryPolicy
	Transport TransportConfig // used only when no Transport option is given
}

// DefaultConfig returns the default retry policy and transport settings.
func DefaultConfig() Config {
	return Config{
		Retry:     DefaultRetryPolicy(),
		Transport: DefaultTransportConfig(),
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithTransport replaces the WebSocket transport.
func WithTransport(t Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithCodec replaces the JSON codec.
func WithCodec(codec Codec) Option {
	return func(c *Client) { c.codec = codec }
}

// WithObserver registers the lifecycle/diagnostic observer.
func WithObserver(o Observer) Option {
	return func(c *Client) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithClock sets the clock used for retry timers and heartbeats.
func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.clock = clk }
}

// notification is a queued Observer call.
type notification struct {
	event *StateEvent
	err   error
}

// Client keeps one connection open to a target, reconnecting on loss, and
// fans inbound messages out to subscribers.
type Client struct {
	policy    RetryPolicy
	transport Transport
	codec     Codec
	observer  Observer
	clock     clock.Clock
	logger    *slog.Logger
	registry  *Registry

	mu         sync.Mutex
	state      State
	url        string
	conn       Conn
	gen        uint64 // bumped by every open and by Disconnect
	attempts   int
	retry      clock.Timer
	cancelDial context.CancelFunc

	// Observer queue, drained outside mu
	pending  []notification
	draining bool

	opens          atomic.Int64
	connects       atomic.Int64
	framesReceived atomic.Int64
	messagesSent   atomic.Int64
}

// NewClient creates an idle client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		policy: cfg.Retry,
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.clock == nil {
		c.clock = clock.Real()
	}
	if c.codec == nil {
		c.codec = JSONCodec{}
	}
	if c.observer == nil {
		c.observer = nopObserver{}
	}
	if c.transport == nil {
		c.transport = NewWebSocketTransport(cfg.Transport, c.clock, c.logger)
	}
	c.registry = NewRegistry(c.codec, c.report, c.logger)

	return c, nil
}

// Connect starts connecting to target. It returns immediately; progress is
// visible through Status and the Observer.
//
// Connect is a no-op while Connecting or Connected. From Reconnecting it
// cancels the pending retry and dials now; from Closed it starts a fresh
// session with a full retry budget. The error is non-nil only for an
// unusable target.
func (c *Client) Connect(target Target) error {
	url, err := target.URL()
	if err != nil {
		return err
	}

	c.mu.Lock()
	switch c.state {
	case StateConnecting, StateConnected, StateClosing:
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("connect ignored", "state", state)
		return nil
	case StateReconnecting:
		c.stopRetryLocked()
	case StateClosed:
		c.attempts = 0
	}

	c.url = url
	c.openLocked()
	c.mu.Unlock()

	c.flush()
	return nil
}

// Disconnect closes the connection for good: the pending retry is
// cancelled, the transport closed and every subscriber removed. No
// automatic reconnection follows. Disconnect on a closed client is a no-op.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.state == StateClosed || c.state == StateClosing {
		c.mu.Unlock()
		return
	}

	c.gen++
	c.stopRetryLocked()
	if c.cancelDial != nil {
		c.cancelDial()
		c.cancelDial = nil
	}
	conn := c.conn
	c.conn = nil
	url := c.url
	c.setStateLocked(StateClosing, nil)
	c.mu.Unlock()

	c.registry.clear()
	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("close transport", "error", err)
		}
	}

	c.mu.Lock()
	c.setStateLocked(StateClosed, nil)
	c.mu.Unlock()

	c.logger.Info("disconnected", "endpoint", auth.Redact(url))
	c.flush()
}

// Send encodes msg and writes it. It fails with ErrNotConnected unless the
// client is Connected; nothing is queued for later delivery.
func (c *Client) Send(msg any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected && conn != nil
	c.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}

	data, err := c.codec.Encode(msg)
	if err != nil {
		return &EncodingError{Err: err}
	}

	if err := conn.WriteMessage(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	c.messagesSent.Add(1)
	return nil
}

// Subscribe registers h for every subsequently decoded inbound message.
func (c *Client) Subscribe(h Handler) Handle {
	return c.registry.Subscribe(h)
}

// Unsubscribe removes a subscription. Removing an unknown or already
// removed handle is a no-op returning false.
func (c *Client) Unsubscribe(h Handle) bool {
	return c.registry.Unsubscribe(h)
}

// Status returns the current state.
func (c *Client) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats returns current statistics.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	state := c.state
	attempts := c.attempts
	c.mu.Unlock()

	return Stats{
		State:             state,
		ReconnectAttempts: attempts,
		Subscribers:       c.registry.Len(),
		Opens:             c.opens.Load(),
		Connects:          c.connects.Load(),
		FramesReceived:    c.framesReceived.Load(),
		FramesDispatched:  c.registry.dispatched.Load(),
		DecodeErrors:      c.registry.decodeErrors.Load(),
		HandlerErrors:     c.registry.handlerErrors.Load(),
		MessagesSent:      c.messagesSent.Load(),
	}
}

// openLocked moves to Connecting and dials in the background.
func (c *Client) openLocked() {
	c.gen++
	gen := c.gen

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelDial = cancel
	c.opens.Add(1)
	c.setStateLocked(StateConnecting, nil)

	c.logger.Info("connecting",
		"endpoint", auth.Redact(c.url),
		"attempt", c.attempts,
	)

	go c.dial(ctx, cancel, gen, c.url)
}

func (c *Client) dial(ctx context.Context, cancel context.CancelFunc, gen uint64, url string) {
	conn, err := c.transport.Dial(ctx, url)
	cancel()

	c.mu.Lock()
	if gen != c.gen || c.state != StateConnecting {
		// Disconnected (or superseded) while dialing.
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	c.cancelDial = nil

	if err != nil {
		connErr := &ConnectError{URL: auth.Redact(url), Attempt: c.attempts, Err: err}
		c.logger.Warn("connect failed", "error", connErr)
		c.notifyLocked(notification{err: connErr})
		c.lostLocked(connErr)
		c.mu.Unlock()
		c.flush()
		return
	}

	c.conn = conn
	c.attempts = 0
	c.connects.Add(1)
	c.setStateLocked(StateConnected, nil)
	c.mu.Unlock()

	c.logger.Info("connected", "endpoint", auth.Redact(url))
	c.flush()

	c.readLoop(gen, conn)
}

// readLoop dispatches frames in receipt order until the connection ends,
// then handles the close on the same goroutine.
func (c *Client) readLoop(gen uint64, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			c.closed(gen, conn, err)
			return
		}
		c.framesReceived.Add(1)

		c.mu.Lock()
		live := gen == c.gen && c.state == StateConnected
		c.mu.Unlock()
		if !live {
			return
		}

		c.registry.dispatch(data)
		c.flush()
	}
}

// closed handles the end of a live connection.
func (c *Client) closed(gen uint64, conn Conn, err error) {
	c.mu.Lock()
	if gen != c.gen || c.conn != conn {
		// Deliberate disconnect; Disconnect already closed the transport.
		c.mu.Unlock()
		return
	}
	c.conn = nil

	closeErr := &CloseError{Code: closeCode(err), Err: err}
	c.logger.Warn("connection lost", "error", closeErr)
	c.notifyLocked(notification{err: closeErr})
	c.lostLocked(closeErr)
	c.mu.Unlock()

	conn.Close()
	c.flush()
}

// lostLocked applies the retry policy after a failed open or a lost
// connection.
func (c *Client) lostLocked(cause error) {
	if c.attempts < c.policy.MaxAttempts {
		c.attempts++
		c.setStateLocked(StateReconnecting, cause)

		gen := c.gen
		c.retry = c.clock.AfterFunc(c.policy.Interval, func() { c.fireRetry(gen) })

		c.logger.Info("reconnect scheduled",
			"attempt", c.attempts,
			"max_attempts", c.policy.MaxAttempts,
			"in", c.policy.Interval,
		)
		return
	}

	c.setStateLocked(StateClosed, cause)
	exhausted := fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, c.attempts)
	c.logger.Error("giving up", "error", exhausted)
	c.notifyLocked(notification{err: exhausted})
}

// fireRetry runs when a scheduled retry comes due. A retry that was
// cancelled or superseded is a no-op.
func (c *Client) fireRetry(gen uint64) {
	c.mu.Lock()
	if gen != c.gen || c.state != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.retry = nil
	c.openLocked()
	c.mu.Unlock()

	c.flush()
}

func (c *Client) stopRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Client) setStateLocked(to State, cause error) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	c.notifyLocked(notification{event: &StateEvent{
		From:    from,
		To:      to,
		Attempt: c.attempts,
		Err:     cause,
	}})
}

func (c *Client) notifyLocked(n notification) {
	c.pending = append(c.pending, n)
}

// report queues a registry diagnostic. The read loop flushes after each
// dispatch.
func (c *Client) report(err error) {
	c.mu.Lock()
	c.notifyLocked(notification{err: err})
	c.mu.Unlock()
}

// flush delivers queued notifications in order. Only one goroutine drains
// at a time; a nested or concurrent call leaves its notifications to the
// active drainer.
func (c *Client) flush() {
	c.mu.Lock()
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true

	for len(c.pending) > 0 {
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()

		for _, n := range batch {
			c.deliver(n)
		}

		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

func (c *Client) deliver(n notification) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("observer panicked", "panic", p)
		}
	}()
	if n.event != nil {
		c.observer.StateChanged(*n.event)
		return
	}
	c.observer.Error(n.err)
}
