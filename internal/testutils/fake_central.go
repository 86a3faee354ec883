package testutils

import (
	"context"
	"sync"

	"github.com/srg/mdlble/internal/device"
)

// Platform call names recorded by the fakes
const (
	OpConnect             = "connect"
	OpRefreshCache        = "refresh-cache"
	OpHighPriority        = "high-priority"
	OpDiscoverServices    = "discover-services"
	OpRequestMtu          = "request-mtu"
	OpRead                = "read"
	OpEnableNotifications = "enable-notifications"
	OpWrite               = "write"
	OpDisconnect          = "disconnect"
	OpClose               = "close"
	OpOpen                = "open"
	OpAddService          = "add-service"
	OpNotify              = "notify"
	OpCancelConnection    = "cancel-connection"
)

// Call is one platform call recorded by a fake
type Call struct {
	Op           string
	Address      string
	Service      string
	Char         string
	Value        []byte
	WithResponse bool
	MTU          int
	Spec         device.ServiceSpec
}

// recorder keeps the call log and the configured failures shared by the fakes
type recorder struct {
	mu    sync.Mutex
	calls []Call
	fail  map[string]error
	after func(Call) error
}

func (r *recorder) record(c Call) error {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	err := r.fail[c.Op]
	after := r.after
	r.mu.Unlock()

	if err != nil {
		return err
	}
	if after != nil {
		return after(c)
	}
	return nil
}

// FailOn makes every later call of op return err. A nil err clears the failure.
func (r *recorder) FailOn(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail == nil {
		r.fail = make(map[string]error)
	}
	if err == nil {
		delete(r.fail, op)
		return
	}
	r.fail[op] = err
}

// Calls returns a snapshot of all recorded calls
func (r *recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// CallsOf returns the recorded calls of one op
func (r *recorder) CallsOf(op string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Ops returns the op names in call order
func (r *recorder) Ops() []string {
	calls := r.Calls()
	ops := make([]string, len(calls))
	for i, c := range calls {
		ops[i] = c.Op
	}
	return ops
}

// FakeCentral is a scriptable device.GattCentral.
//
// On its own it only records calls; tests drive the session by firing events through
// Events(). When linked by an Air it behaves like a connected remote server.
type FakeCentral struct {
	recorder

	mu     sync.Mutex
	events device.CentralEvents
	closed bool
}

// NewFakeCentral creates an unlinked fake
func NewFakeCentral() *FakeCentral {
	return &FakeCentral{}
}

// Events returns the callbacks registered by Connect
func (f *FakeCentral) Events() device.CentralEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

// Closed reports whether Close was called
func (f *FakeCentral) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeCentral) Connect(_ context.Context, address string, events device.CentralEvents) error {
	f.mu.Lock()
	f.events = events
	f.mu.Unlock()
	return f.record(Call{Op: OpConnect, Address: address})
}

func (f *FakeCentral) RefreshCache() error {
	return f.record(Call{Op: OpRefreshCache})
}

func (f *FakeCentral) RequestHighPriority() error {
	return f.record(Call{Op: OpHighPriority})
}

func (f *FakeCentral) DiscoverServices() error {
	return f.record(Call{Op: OpDiscoverServices})
}

func (f *FakeCentral) RequestMtu(mtu int) error {
	return f.record(Call{Op: OpRequestMtu, MTU: mtu})
}

func (f *FakeCentral) ReadCharacteristic(service, char string) error {
	return f.record(Call{Op: OpRead, Service: service, Char: char})
}

func (f *FakeCentral) EnableNotifications(service, char string) error {
	return f.record(Call{Op: OpEnableNotifications, Service: service, Char: char})
}

func (f *FakeCentral) WriteCharacteristic(service, char string, value []byte, withResponse bool) error {
	return f.record(Call{
		Op:           OpWrite,
		Service:      service,
		Char:         char,
		Value:        append([]byte(nil), value...),
		WithResponse: withResponse,
	})
}

func (f *FakeCentral) Disconnect() error {
	return f.record(Call{Op: OpDisconnect})
}

func (f *FakeCentral) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return f.record(Call{Op: OpClose})
}
