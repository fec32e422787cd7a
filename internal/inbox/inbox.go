// Package inbox turns the client's push-style subscription into a
// pull-style queue, so a slow consumer never blocks frame dispatch.
package inbox

import (
	"errors"
	"sync"
)

// ErrClosed is returned by the subscription handler once the inbox is
// closed.
var ErrClosed = errors.New("inbox closed")

// Inbox is an unbounded FIFO of decoded messages. Its ring buffer doubles
// when it reaches 70% full, so Put never blocks.
type Inbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []any
	head   int // read position
	tail   int // write position
	count  int
	closed bool

	// Stats
	received int64
	consumed int64
	resizes  int
}

// New creates an inbox with the given initial capacity.
func New(initialCapacity int) *Inbox {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &Inbox{buf: make([]any, initialCapacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Handler returns a subscription handler that enqueues every message.
func (b *Inbox) Handler() func(msg any) error {
	return func(msg any) error {
		if !b.Put(msg) {
			return ErrClosed
		}
		return nil
	}
}

// Put appends msg. It returns false if the inbox is closed.
func (b *Inbox) Put(msg any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (len(b.buf) * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.buf[b.tail] = msg
	b.tail = (b.tail + 1) % len(b.buf)
	b.count++
	b.received++

	b.cond.Signal()
	return true
}

// Receive removes and returns the oldest message, blocking until one is
// available. After Close it keeps returning queued messages and then
// reports false.
func (b *Inbox) Receive() (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		return nil, false
	}
	return b.popLocked(), true
}

// TryReceive is Receive without blocking.
func (b *Inbox) TryReceive() (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil, false
	}
	return b.popLocked(), true
}

func (b *Inbox) popLocked() any {
	msg := b.buf[b.head]
	b.buf[b.head] = nil // for GC
	b.head = (b.head + 1) % len(b.buf)
	b.count--
	b.consumed++
	return msg
}

// Close stops accepting messages and wakes blocked receivers. Safe to call
// more than once.
func (b *Inbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// Len returns the number of queued messages.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Stats contains inbox statistics.
type Stats struct {
	Queued   int
	Capacity int
	Received int64
	Consumed int64
	Resizes  int
}

// Stats returns current statistics.
func (b *Inbox) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Queued:   b.count,
		Capacity: len(b.buf),
		Received: b.received,
		Consumed: b.consumed,
		Resizes:  b.resizes,
	}
}

// grow doubles the capacity. Must be called with lock held.
func (b *Inbox) grow() {
	next := make([]any, len(b.buf)*2)

	if b.count > 0 {
		if b.head < b.tail {
			copy(next, b.buf[b.head:b.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(next, b.buf[b.head:])
			copy(next[n:], b.buf[:b.tail])
		}
	}

	b.buf = next
	b.head = 0
	b.tail = b.count
	b.resizes++
}
