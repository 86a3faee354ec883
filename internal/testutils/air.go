package testutils

import (
	"sync"

	"github.com/srg/mdlble/internal/device"
)

// DefaultAirMTU is the MTU an Air link agrees to unless configured otherwise
const DefaultAirMTU = 185

// Air links a FakeCentral to a FakePeripheral in memory.
//
// Every call of one side is answered with the events a real BLE stack would produce on
// both sides. Events are delivered synchronously from inside the call, which keeps
// per-characteristic ordering exactly as issued.
type Air struct {
	mu sync.Mutex

	central    *FakeCentral
	peripheral *FakePeripheral
	address    string

	// MTU is the largest MTU the link accepts
	MTU int

	connected  bool
	subscribed map[string]bool
}

// Link connects central and peripheral. address is the central's address as seen by
// the peripheral.
func Link(central *FakeCentral, peripheral *FakePeripheral, address string) *Air {
	a := &Air{
		central:    central,
		peripheral: peripheral,
		address:    address,
		MTU:        DefaultAirMTU,
		subscribed: make(map[string]bool),
	}

	central.recorder.mu.Lock()
	central.recorder.after = a.onCentral
	central.recorder.mu.Unlock()

	peripheral.recorder.mu.Lock()
	peripheral.recorder.after = a.onPeripheral
	peripheral.recorder.mu.Unlock()
	return a
}

// Connected reports whether the link is up
func (a *Air) Connected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}

// Drop simulates a link loss seen by both sides
func (a *Air) Drop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.dropLocked()
}

func (a *Air) dropLocked() {
	if !a.connected {
		return
	}
	a.connected = false
	a.subscribed = make(map[string]bool)
	if pev := a.peripheral.Events(); pev != nil {
		pev.OnConnectionStateChange(a.address, false)
	}
	if cev := a.central.Events(); cev != nil {
		cev.OnConnectionStateChange(false, nil)
	}
}

func (a *Air) onCentral(c Call) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cev := a.central.Events()
	pev := a.peripheral.Events()

	if c.Op != OpConnect && c.Op != OpClose && c.Op != OpDisconnect && !a.connected {
		return device.NewNotConnected(c.Op)
	}

	switch c.Op {
	case OpConnect:
		if !a.peripheral.IsOpen() || len(a.peripheral.Services()) == 0 {
			cev.OnConnectionStateChange(false, device.NewNotConnected("peer is not serving"))
			return nil
		}
		a.connected = true
		pev.OnConnectionStateChange(a.address, true)
		cev.OnConnectionStateChange(true, nil)

	case OpDiscoverServices:
		var infos []device.ServiceInfo
		for _, spec := range a.peripheral.Services() {
			info := device.ServiceInfo{UUID: device.NormalizeUUID(spec.UUID)}
			for _, ch := range spec.Characteristics {
				info.Characteristics = append(info.Characteristics, device.NormalizeUUID(ch.UUID))
			}
			infos = append(infos, info)
		}
		cev.OnServicesDiscovered(infos, nil)

	case OpRequestMtu:
		mtu := c.MTU
		if a.MTU < mtu {
			mtu = a.MTU
		}
		pev.OnMtuChanged(a.address, mtu)
		cev.OnMtuChanged(mtu, nil)

	case OpRead:
		value, ok := a.valueOf(c.Char)
		if !ok {
			cev.OnCharacteristicRead(c.Char, nil, device.NewProtocolViolation("characteristic %s is not readable", c.Char))
			return nil
		}
		cev.OnCharacteristicRead(c.Char, value, nil)

	case OpEnableNotifications:
		a.subscribed[device.NormalizeUUID(c.Char)] = true
		cev.OnDescriptorWrite(c.Char, nil)

	case OpWrite:
		pev.OnCharacteristicWrite(a.address, c.Char, c.Value)
		cev.OnCharacteristicWrite(c.Char, nil)

	case OpDisconnect, OpClose:
		a.dropLocked()
	}
	return nil
}

func (a *Air) onPeripheral(c Call) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch c.Op {
	case OpNotify:
		if !a.connected || c.Address != a.address {
			return device.NewNotConnected("notify")
		}
		if !a.subscribed[device.NormalizeUUID(c.Char)] {
			return device.NewProtocolViolation("central is not subscribed to %s", c.Char)
		}
		a.central.Events().OnCharacteristicChanged(c.Char, c.Value)
		a.peripheral.Events().OnNotificationSent(c.Address, c.Char, nil)

	case OpCancelConnection:
		if c.Address == a.address {
			a.dropLocked()
		}

	case OpClose:
		a.dropLocked()
	}
	return nil
}

func (a *Air) valueOf(char string) ([]byte, bool) {
	want := device.NormalizeUUID(char)
	for _, spec := range a.peripheral.Services() {
		for _, ch := range spec.Characteristics {
			if device.NormalizeUUID(ch.UUID) == want && ch.Properties.Has(device.PropRead) {
				return ch.Value, true
			}
		}
	}
	return nil, false
}
