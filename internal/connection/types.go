package connection

import (
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/trace-stream/internal/auth"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
	ErrConnectFailure     = errors.New("connect failed")
	ErrUnexpectedClose    = errors.New("connection closed unexpectedly")
	ErrDecode             = errors.New("decode frame")
	ErrHandler            = errors.New("handler failed")
	ErrEncoding           = errors.New("encode message")
	ErrStaleConnection    = errors.New("connection stale (no ping)")
	ErrInvalidTarget      = errors.New("invalid connection target")
	ErrInvalidPolicy      = errors.New("invalid retry policy")
)

// State is the connection manager's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateClosed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StateEvent describes one state transition.
type StateEvent struct {
	From    State
	To      State
	Attempt int   // reconnect attempts at the time of the transition
	Err     error // cause, if the transition was forced by a failure
}

// Target is where to connect and how to authenticate.
type Target struct {
	Endpoint string // ws:// or wss:// URL (http/https are mapped)
	Token    string // bearer token, sent as the "token" query parameter
}

// URL returns the dial URL with the token attached.
func (t Target) URL() (string, error) {
	if t.Endpoint == "" {
		return "", fmt.Errorf("%w: endpoint is required", ErrInvalidTarget)
	}
	u, err := auth.BuildURL(t.Endpoint, t.Token)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	return u, nil
}

// RetryPolicy bounds automatic reconnection. It is fixed for the lifetime
// of a Client: every retry waits Interval, and at most MaxAttempts retries
// follow a lost connection before the client gives up.
type RetryPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// DefaultRetryPolicy returns 5 attempts, 3 seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		Interval:    3 * time.Second,
	}
}

// Validate checks MaxAttempts >= 0 and Interval > 0.
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must be >= 0, got %d", ErrInvalidPolicy, p.MaxAttempts)
	}
	if p.Interval <= 0 {
		return fmt.Errorf("%w: interval must be > 0, got %v", ErrInvalidPolicy, p.Interval)
	}
	return nil
}

// Stats is a point-in-time snapshot of client counters.
type Stats struct {
	State             State
	ReconnectAttempts int
	Subscribers       int
	Opens             int64 // transport open attempts
	Connects          int64 // successful opens
	FramesReceived    int64
	FramesDispatched  int64
	DecodeErrors      int64
	HandlerErrors     int64
	MessagesSent      int64
}

// ConnectError reports a transport that could not be opened.
type ConnectError struct {
	URL     string // token redacted
	Attempt int
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s (attempt %d): %v", e.URL, e.Attempt, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Is(target error) bool { return target == ErrConnectFailure }

// CloseError reports a transport that closed while the session was live.
type CloseError struct {
	Code int // websocket close code, 0 when unknown
	Err  error
}

func (e *CloseError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("connection closed (code %d): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("connection closed: %v", e.Err)
}

func (e *CloseError) Unwrap() error { return e.Err }

func (e *CloseError) Is(target error) bool { return target == ErrUnexpectedClose }

// DecodeError reports an inbound frame that could not be decoded.
type DecodeError struct {
	Frame []byte
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode frame (%d bytes): %v", len(e.Frame), e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// HandlerError reports a subscriber that returned an error or panicked.
type HandlerError struct {
	Handle Handle
	Err    error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s: %v", e.Handle, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

func (e *HandlerError) Is(target error) bool { return target == ErrHandler }

// EncodingError reports an outbound message the codec could not encode.
type EncodingError struct {
	Err error
}

func (e *EncodingError) Error() string { return "encode message: " + e.Err.Error() }

func (e *EncodingError) Unwrap() error { return e.Err }

func (e *EncodingError) Is(target error) bool { return target == ErrEncoding }
