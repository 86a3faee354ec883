package device

import (
	"context"
)

// Property is a bitmask of GATT characteristic properties
type Property uint8

const (
	PropRead Property = 1 << iota
	PropWrite
	PropWriteNoResponse
	PropNotify
)

// Has reports whether all bits of p are set
func (p Property) Has(flag Property) bool {
	return p&flag == flag
}

// ServiceInfo describes a service resolved by remote service discovery.
// All UUIDs are normalized (see NormalizeUUID).
type ServiceInfo struct {
	UUID            string
	Characteristics []string
}

// HasCharacteristic reports whether the service exposes the given characteristic
func (s ServiceInfo) HasCharacteristic(uuid string) bool {
	want := NormalizeUUID(uuid)
	for _, c := range s.Characteristics {
		if c == want {
			return true
		}
	}
	return false
}

// CharacteristicSpec declares one characteristic of a locally hosted service
type CharacteristicSpec struct {
	UUID       string
	Properties Property
	Value      []byte // static value served on read requests
}

// ServiceSpec declares a locally hosted GATT service
type ServiceSpec struct {
	UUID            string
	Characteristics []CharacteristicSpec
}

// CentralEvents receives the asynchronous results of GattCentral operations.
// Implementations are invoked from platform goroutines and must not block.
type CentralEvents interface {
	OnConnectionStateChange(connected bool, err error)
	OnServicesDiscovered(services []ServiceInfo, err error)
	OnMtuChanged(mtu int, err error)
	OnCharacteristicRead(char string, value []byte, err error)
	OnDescriptorWrite(char string, err error)
	OnCharacteristicWrite(char string, err error)
	OnCharacteristicChanged(char string, value []byte)
}

// GattCentral is the platform side of one GATT client connection.
// Every method only starts the operation: a nil return means it was accepted, and its
// outcome is reported later through CentralEvents. A non-nil return means the platform
// refused the call outright (typically PermissionDenied) and no event will follow.
type GattCentral interface {
	Connect(ctx context.Context, address string, events CentralEvents) error
	RefreshCache() error
	RequestHighPriority() error
	DiscoverServices() error
	RequestMtu(mtu int) error
	ReadCharacteristic(service, char string) error
	EnableNotifications(service, char string) error
	WriteCharacteristic(service, char string, value []byte, withResponse bool) error
	Disconnect() error
	Close() error
}

// PeripheralEvents receives the asynchronous events of a GattPeripheral.
// Implementations are invoked from platform goroutines and must not block.
type PeripheralEvents interface {
	OnConnectionStateChange(address string, connected bool)
	OnMtuChanged(address string, mtu int)
	OnCharacteristicWrite(address, char string, value []byte)
	OnNotificationSent(address, char string, err error)
}

// GattPeripheral is the platform side of a GATT server
type GattPeripheral interface {
	Open(events PeripheralEvents) error
	AddService(spec ServiceSpec) error
	Notify(address, char string, value []byte) error
	CancelConnection(address string) error
	Close() error
}

// Advertisement is a received advertising report
type Advertisement interface {
	LocalName() string
	Services() []string
	Connectable() bool
	RSSI() int
	Addr() string
}

// ScanningDevice reports advertisements until ctx is done
type ScanningDevice interface {
	Scan(ctx context.Context, handler func(Advertisement)) error
}

// AdvertisingDevice advertises a name and service until ctx is done
type AdvertisingDevice interface {
	Advertise(ctx context.Context, name string, serviceUUID string) error
}

// AdapterNamer reads and changes the user-visible name of the local adapter
type AdapterNamer interface {
	Name() string
	SetName(name string) error
}

// Adapter bundles everything the presentment layer needs from the local BLE stack
type Adapter interface {
	ScanningDevice
	AdvertisingDevice
	AdapterNamer

	NewCentral() (GattCentral, error)
	NewPeripheral() (GattPeripheral, error)
}
