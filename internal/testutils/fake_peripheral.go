package testutils

import (
	"sync"

	"github.com/srg/mdlble/internal/device"
)

// FakePeripheral is a scriptable device.GattPeripheral
type FakePeripheral struct {
	recorder

	mu       sync.Mutex
	events   device.PeripheralEvents
	services []device.ServiceSpec
	open     bool
}

// NewFakePeripheral creates an unlinked fake
func NewFakePeripheral() *FakePeripheral {
	return &FakePeripheral{}
}

// Events returns the callbacks registered by Open
func (f *FakePeripheral) Events() device.PeripheralEvents {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events
}

// Services returns the services currently registered
func (f *FakePeripheral) Services() []device.ServiceSpec {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]device.ServiceSpec(nil), f.services...)
}

// IsOpen reports whether the server is open
func (f *FakePeripheral) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *FakePeripheral) Open(events device.PeripheralEvents) error {
	if err := f.record(Call{Op: OpOpen}); err != nil {
		return err
	}
	f.mu.Lock()
	f.events = events
	f.open = true
	f.mu.Unlock()
	return nil
}

func (f *FakePeripheral) AddService(spec device.ServiceSpec) error {
	if err := f.record(Call{Op: OpAddService, Service: spec.UUID, Spec: spec}); err != nil {
		return err
	}
	f.mu.Lock()
	f.services = append(f.services, spec)
	f.mu.Unlock()
	return nil
}

func (f *FakePeripheral) Notify(address, char string, value []byte) error {
	return f.record(Call{Op: OpNotify, Address: address, Char: char, Value: append([]byte(nil), value...)})
}

func (f *FakePeripheral) CancelConnection(address string) error {
	return f.record(Call{Op: OpCancelConnection, Address: address})
}

func (f *FakePeripheral) Close() error {
	err := f.record(Call{Op: OpClose})
	f.mu.Lock()
	f.open = false
	f.services = nil
	f.mu.Unlock()
	return err
}
