//go:build !darwin && !linux

package goble

import (
	"runtime"

	"github.com/go-ble/ble"
	"github.com/srg/mdlble/internal/device"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, device.NewUnsupported("BLE on " + runtime.GOOS)
}
