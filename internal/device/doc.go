// Package device defines the platform seams of the mDL BLE transport.
//
// GattCentral and GattPeripheral are asynchronous: a method only starts an operation
// and its outcome arrives later through CentralEvents or PeripheralEvents. Adapter
// adds scanning, advertising and naming of the local controller.
//
// All characteristic and service UUIDs crossing these interfaces are compared in
// normalized form (see NormalizeUUID). Platform failures are reported as
// TransportError values, see NormalizeError.
//
// The go-ble subpackage implements these interfaces on top of github.com/go-ble/ble.
package device
