// Package actor runs closures strictly in order on one named goroutine.
//
// A session posts every platform callback and every public call into its Mailbox, which
// makes the mailbox goroutine the only writer of the session state.
package actor

import (
	"bytes"
	"context"
	"errors"
	"runtime"
	"runtime/pprof"
	"strconv"
	"sync"
	"sync/atomic"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// ErrStopped is returned when posting to a stopped mailbox
var ErrStopped = errors.New("actor: mailbox stopped")

// Go starts a goroutine carrying a pprof "goroutine_name" label.
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(goroutineNameKey).(string); ok {
		return v
	}
	return ""
}

// GetGID returns the numeric goroutine ID (hacky, used only for re-entrancy detection).
func GetGID() uint64 {
	b := make([]byte, 64)
	b = b[:runtime.Stack(b, false)]
	b = bytes.TrimPrefix(b, []byte("goroutine "))
	i := bytes.IndexByte(b, ' ')
	if i < 0 {
		return 0
	}
	gid, _ := strconv.ParseUint(string(b[:i]), 10, 64)
	return gid
}

// Mailbox is an unbounded FIFO of closures executed on a single goroutine.
// Posting never blocks, so platform callbacks fired while the mailbox goroutine is busy
// (including callbacks fired synchronously from inside a running closure) are safe.
type Mailbox struct {
	name string

	mu      sync.Mutex
	queue   []func()
	stopped bool
	wake    chan struct{}
	done    chan struct{}

	gid atomic.Uint64
}

// Start creates a mailbox and starts its goroutine.
func Start(ctx context.Context, name string) *Mailbox {
	m := &Mailbox{
		name: name,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	Go(ctx, name, m.run)
	return m
}

// Name returns the mailbox goroutine name
func (m *Mailbox) Name() string {
	return m.name
}

// Post enqueues fn. Returns ErrStopped once the mailbox has been stopped.
func (m *Mailbox) Post(fn func()) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return ErrStopped
	}
	m.queue = append(m.queue, fn)
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
	return nil
}

// Call runs fn on the mailbox goroutine and waits for it to return.
// When invoked from the mailbox goroutine itself, fn runs inline.
func (m *Mailbox) Call(fn func()) error {
	if m.OnMailbox() {
		fn()
		return nil
	}

	finished := make(chan struct{})
	if err := m.Post(func() {
		defer close(finished)
		fn()
	}); err != nil {
		return err
	}

	select {
	case <-finished:
		return nil
	case <-m.done:
		// The closure may have been the one stopping the mailbox.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}

// OnMailbox reports whether the caller runs on the mailbox goroutine.
func (m *Mailbox) OnMailbox() bool {
	gid := m.gid.Load()
	return gid != 0 && gid == GetGID()
}

// Stop drains nothing further: closures still queued are discarded.
// Safe to call multiple times and from the mailbox goroutine.
func (m *Mailbox) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	m.queue = nil
	m.mu.Unlock()

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Done is closed when the mailbox goroutine has exited.
func (m *Mailbox) Done() <-chan struct{} {
	return m.done
}

func (m *Mailbox) run(ctx context.Context) {
	m.gid.Store(GetGID())
	defer close(m.done)

	for {
		m.mu.Lock()
		if m.stopped {
			m.mu.Unlock()
			return
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-ctx.Done():
				m.Stop()
				return
			}
		}
		fn := m.queue[0]
		m.queue[0] = nil
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
	}
}
