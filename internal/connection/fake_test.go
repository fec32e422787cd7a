package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/rickgao/trace-stream/internal/clock"
)

var (
	epoch          = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	errDialRefused = errors.New("dial refused")
	errPeerClosed  = errors.New("peer closed")
)

// fakeTransport records dials and hands out in-memory connections.
type fakeTransport struct {
	mu      sync.Mutex
	urls    []string
	conns   []*fakeConn
	dialErr error
	hold    chan struct{} // when non-nil, Dial blocks until closed

	dialed chan string
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dialed: make(chan string, 64)}
}

func (f *fakeTransport) Dial(ctx context.Context, url string) (Conn, error) {
	f.mu.Lock()
	f.urls = append(f.urls, url)
	hold := f.hold
	f.mu.Unlock()
	f.dialed <- url

	if hold != nil {
		<-hold
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dialErr != nil {
		return nil, f.dialErr
	}
	conn := newFakeConn()
	f.conns = append(f.conns, conn)
	return conn, nil
}

func (f *fakeTransport) setDialErr(err error) {
	f.mu.Lock()
	f.dialErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

func (f *fakeTransport) lastURL() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.urls) == 0 {
		return ""
	}
	return f.urls[len(f.urls)-1]
}

func (f *fakeTransport) conn(i int) *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i >= len(f.conns) {
		return nil
	}
	return f.conns[i]
}

// fakeConn is an in-memory Conn. push feeds inbound frames; closeRemote
// simulates the server going away.
type fakeConn struct {
	in     chan []byte
	closed chan struct{}
	once   sync.Once

	mu       sync.Mutex
	writes   [][]byte
	local    bool // closed by the client
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	select {
	case data := <-c.in:
		return data, nil
	case <-c.closed:
		// Deliver frames that arrived before the close first.
		select {
		case data := <-c.in:
			return data, nil
		default:
		}
		return nil, errPeerClosed
	}
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	select {
	case <-c.closed:
		return errPeerClosed
	default:
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.local = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) push(frame string) {
	c.in <- []byte(frame)
}

func (c *fakeConn) closeRemote() {
	c.once.Do(func() { close(c.closed) })
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) writeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.writes)
}

// recorder is an Observer that keeps everything it is told.
type recorder struct {
	mu     sync.Mutex
	events []StateEvent
	errs   []error
}

func (r *recorder) StateChanged(ev StateEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) Error(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) count(target error) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, err := range r.errs {
		if errors.Is(err, target) {
			n++
		}
	}
	return n
}

func (r *recorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.To)
	}
	return out
}

type harness struct {
	client    *Client
	transport *fakeTransport
	clock     *clock.FakeClock
	observer  *recorder
}

func newHarness(t *testing.T, policy RetryPolicy) *harness {
	t.Helper()

	h := &harness{
		transport: newFakeTransport(),
		clock:     clock.NewFake(epoch),
		observer:  &recorder{},
	}

	c, err := NewClient(Config{Retry: policy},
		WithTransport(h.transport),
		WithClock(h.clock),
		WithObserver(h.observer),
		WithLogger(discardLogger()),
	)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	h.client = c
	t.Cleanup(c.Disconnect)
	return h
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or a deadline passes.
func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", desc)
		}
		time.Sleep(time.Millisecond)
	}
}

func (h *harness) waitState(t *testing.T, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return h.client.Status() == want })
}

func (h *harness) waitReconnecting(t *testing.T, attempt int) {
	t.Helper()
	waitFor(t, "reconnecting", func() bool {
		s := h.client.Stats()
		return s.State == StateReconnecting && s.ReconnectAttempts == attempt
	})
}

// settle gives stray goroutines a chance to run before asserting that
// something did not happen.
func settle() {
	time.Sleep(20 * time.Millisecond)
}
