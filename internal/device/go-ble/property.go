package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/mdlble/internal/device"
)

// toBLEProperty maps transport characteristic properties onto go-ble property flags
func toBLEProperty(p device.Property) ble.Property {
	var out ble.Property
	if p.Has(device.PropRead) {
		out |= ble.CharRead
	}
	if p.Has(device.PropWrite) {
		out |= ble.CharWrite
	}
	if p.Has(device.PropWriteNoResponse) {
		out |= ble.CharWriteNR
	}
	if p.Has(device.PropNotify) {
		out |= ble.CharNotify
	}
	return out
}
