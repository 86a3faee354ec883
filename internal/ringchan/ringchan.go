// Package ringchan provides a bounded channel whose producers never block.
//
// Discovery and session events are delivered to UI code that may stall. When the reader
// falls behind, the oldest event is dropped so that a BLE callback goroutine is never
// held up by a slow consumer.
package ringchan

import (
	"sync"
	"sync/atomic"
)

// Channel is a bounded buffer with drop-oldest semantics.
//
//	rc := ringchan.New[Event](16)
//	rc.Send(ev)           // never blocks
//	for ev := range rc.C() {
//	    ...
//	}
type Channel[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool

	sent    atomic.Int64
	dropped atomic.Int64
}

// New creates a Channel with the given capacity.
func New[T any](capacity int) *Channel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &Channel[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (c *Channel[T]) C() <-chan T {
	return c.ch
}

// Send inserts v, discarding the oldest buffered value when full.
// Returns false if the channel is closed and v was not delivered.
func (c *Channel[T]) Send(v T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	for {
		select {
		case c.ch <- v:
			c.sent.Add(1)
			return true
		default:
		}

		select {
		case <-c.ch:
			c.dropped.Add(1)
		default:
		}
	}
}

// TryReceive returns a buffered value without blocking.
func (c *Channel[T]) TryReceive() (v T, ok bool) {
	select {
	case v, ok = <-c.ch:
		return v, ok
	default:
		var zero T
		return zero, false
	}
}

// Len returns the number of buffered values.
func (c *Channel[T]) Len() int {
	return len(c.ch)
}

// Cap returns the channel capacity.
func (c *Channel[T]) Cap() int {
	return cap(c.ch)
}

// Sent returns how many values were accepted by Send.
func (c *Channel[T]) Sent() int64 {
	return c.sent.Load()
}

// Dropped returns how many values were discarded to make room.
func (c *Channel[T]) Dropped() int64 {
	return c.dropped.Load()
}

// Close closes the receive side. Safe to call more than once.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}
