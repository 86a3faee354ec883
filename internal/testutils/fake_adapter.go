package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/srg/mdlble/internal/device"
)

// Ether is a shared in-memory radio. Adapters created from the same Ether see each
// other's advertisements, and their centrals connect to each other's peripherals over
// an Air link.
type Ether struct {
	mu       sync.Mutex
	adapters []*FakeAdapter
}

// NewEther creates an empty radio
func NewEther() *Ether {
	return &Ether{}
}

// Adapter creates an adapter with the given address and name
func (e *Ether) Adapter(address, name string) *FakeAdapter {
	a := &FakeAdapter{ether: e, address: address, name: name}
	e.mu.Lock()
	e.adapters = append(e.adapters, a)
	e.mu.Unlock()
	return a
}

func (e *Ether) others(self *FakeAdapter) []*FakeAdapter {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*FakeAdapter
	for _, a := range e.adapters {
		if a != self {
			out = append(out, a)
		}
	}
	return out
}

func (e *Ether) byAddress(address string) *FakeAdapter {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, a := range e.adapters {
		if a.address == address {
			return a
		}
	}
	return nil
}

// FakeAdapter is a device.Adapter backed by an Ether. Without an Ether it only records.
type FakeAdapter struct {
	ether   *Ether
	address string

	mu          sync.Mutex
	name        string
	names       []string
	advertising bool
	advName     string
	advService  string
	centrals    []*FakeCentral
	peripherals []*FakePeripheral

	// ScanErr, AdvertiseErr and SetNameErr make the matching call fail immediately
	ScanErr      error
	AdvertiseErr error
	SetNameErr   error
	// Extra advertisements reported by every scan in addition to the Ether's
	Extra []device.Advertisement
}

// NewFakeAdapter creates an adapter outside any Ether
func NewFakeAdapter(address, name string) *FakeAdapter {
	return &FakeAdapter{address: address, name: name}
}

// Address returns the adapter's own address
func (a *FakeAdapter) Address() string {
	return a.address
}

func (a *FakeAdapter) Name() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.name
}

func (a *FakeAdapter) SetName(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.SetNameErr != nil {
		return a.SetNameErr
	}
	a.name = name
	a.names = append(a.names, name)
	return nil
}

// NameHistory returns every name set through SetName
func (a *FakeAdapter) NameHistory() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.names...)
}

// Advertising reports whether an Advertise call is active, and what it announces
func (a *FakeAdapter) Advertising() (bool, string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.advertising, a.advName, a.advService
}

// Scan reports the Extra advertisements and the advertisements of every other adapter
// in the Ether, polling until ctx is done.
func (a *FakeAdapter) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	if a.ScanErr != nil {
		return a.ScanErr
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, adv := range a.Extra {
			handler(adv)
		}
		if a.ether != nil {
			for _, other := range a.ether.others(a) {
				if on, name, svc := other.Advertising(); on {
					handler(&FakeAdvertisement{
						Name:          name,
						Address:       other.address,
						Signal:        -40,
						ServiceUUIDs:  []string{svc},
						IsConnectable: true,
					})
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Advertise marks the adapter as advertising until ctx is done
func (a *FakeAdapter) Advertise(ctx context.Context, name string, serviceUUID string) error {
	if a.AdvertiseErr != nil {
		return a.AdvertiseErr
	}

	a.mu.Lock()
	a.advertising, a.advName, a.advService = true, name, serviceUUID
	a.mu.Unlock()

	<-ctx.Done()

	a.mu.Lock()
	a.advertising = false
	a.mu.Unlock()
	return ctx.Err()
}

// NewCentral creates a FakeCentral. Inside an Ether, connecting it links it to the
// latest peripheral of the adapter owning the target address.
func (a *FakeAdapter) NewCentral() (device.GattCentral, error) {
	c := NewFakeCentral()
	if a.ether != nil {
		c.recorder.after = func(call Call) error {
			if call.Op != OpConnect {
				return device.NewNotConnected(call.Op)
			}
			target := a.ether.byAddress(call.Address)
			if target == nil || target.LastPeripheral() == nil {
				c.Events().OnConnectionStateChange(false, device.NewNotConnected("no device at "+call.Address))
				return nil
			}
			return Link(c, target.LastPeripheral(), a.address).onCentral(call)
		}
	}

	a.mu.Lock()
	a.centrals = append(a.centrals, c)
	a.mu.Unlock()
	return c, nil
}

func (a *FakeAdapter) NewPeripheral() (device.GattPeripheral, error) {
	p := NewFakePeripheral()
	a.mu.Lock()
	a.peripherals = append(a.peripherals, p)
	a.mu.Unlock()
	return p, nil
}

// Centrals returns every central created so far
func (a *FakeAdapter) Centrals() []*FakeCentral {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*FakeCentral(nil), a.centrals...)
}

// LastPeripheral returns the most recently created peripheral, or nil
func (a *FakeAdapter) LastPeripheral() *FakePeripheral {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.peripherals) == 0 {
		return nil
	}
	return a.peripherals[len(a.peripherals)-1]
}
