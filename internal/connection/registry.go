package connection

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handler receives one decoded inbound message. The value is shared by
// every subscriber of the frame and must be treated as read-only.
// Returning an error (or panicking) is reported as a HandlerError and
// does not affect other subscribers.
type Handler func(msg any) error

// Handle identifies a subscription. The zero Handle is never issued.
type Handle struct {
	id uuid.UUID
}

// String returns the subscription id.
func (h Handle) String() string { return h.id.String() }

// IsZero reports whether h is the zero Handle.
func (h Handle) IsZero() bool { return h.id == uuid.Nil }

// Registry is the set of current subscribers. It decodes each inbound
// frame once and delivers the value to every subscriber. Order between
// subscribers is unspecified.
type Registry struct {
	codec  Codec
	report func(error)
	logger *slog.Logger

	mu       sync.RWMutex
	handlers map[Handle]Handler

	dispatched    atomic.Int64
	decodeErrors  atomic.Int64
	handlerErrors atomic.Int64
}

// NewRegistry creates an empty registry. report receives every DecodeError
// and HandlerError; it may be nil.
func NewRegistry(codec Codec, report func(error), logger *slog.Logger) *Registry {
	if codec == nil {
		codec = JSONCodec{}
	}
	if report == nil {
		report = func(error) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		codec:    codec,
		report:   report,
		logger:   logger,
		handlers: make(map[Handle]Handler),
	}
}

// Subscribe adds h and returns its handle. A nil handler is ignored and
// yields the zero Handle.
func (r *Registry) Subscribe(h Handler) Handle {
	if h == nil {
		return Handle{}
	}
	handle := Handle{id: uuid.New()}

	r.mu.Lock()
	r.handlers[handle] = h
	r.mu.Unlock()

	r.logger.Debug("subscribed", "handle", handle)
	return handle
}

// Unsubscribe removes the handler. It returns false if the handle was not
// subscribed. Once Unsubscribe returns the handler is not invoked again,
// including for a frame whose fan-out is in progress; only a call that had
// already started when Unsubscribe ran may still be running.
func (r *Registry) Unsubscribe(h Handle) bool {
	r.mu.Lock()
	_, ok := r.handlers[h]
	delete(r.handlers, h)
	r.mu.Unlock()

	if ok {
		r.logger.Debug("unsubscribed", "handle", h)
	}
	return ok
}

// Len returns the number of subscribers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// clear removes every subscriber.
func (r *Registry) clear() {
	r.mu.Lock()
	n := len(r.handlers)
	r.handlers = make(map[Handle]Handler)
	r.mu.Unlock()

	if n > 0 {
		r.logger.Debug("subscribers cleared", "count", n)
	}
}

// dispatch decodes frame and fans it out. Returns the number of handlers
// invoked. A frame that fails to decode is dropped.
func (r *Registry) dispatch(frame []byte) int {
	msg, err := r.codec.Decode(frame)
	if err != nil {
		r.decodeErrors.Add(1)
		r.logger.Warn("dropping undecodable frame", "bytes", len(frame), "error", err)
		r.report(&DecodeError{Frame: frame, Err: err})
		return 0
	}
	r.dispatched.Add(1)

	// Iterate a snapshot so handlers can subscribe/unsubscribe freely.
	r.mu.RLock()
	snapshot := make([]Handle, 0, len(r.handlers))
	for h := range r.handlers {
		snapshot = append(snapshot, h)
	}
	r.mu.RUnlock()

	invoked := 0
	for _, h := range snapshot {
		r.mu.RLock()
		fn, ok := r.handlers[h]
		r.mu.RUnlock()
		if !ok {
			continue
		}

		invoked++
		if err := invoke(fn, msg); err != nil {
			r.handlerErrors.Add(1)
			r.logger.Warn("handler failed", "handle", h, "error", err)
			r.report(&HandlerError{Handle: h, Err: err})
		}
	}
	return invoked
}

func invoke(fn Handler, msg any) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return fn(msg)
}
