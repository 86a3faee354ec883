package main

import (
	"errors"
	"fmt"

	"github.com/srg/mdlble/internal/device"
)

// Command-level errors
var (
	// ErrSessionFailed reports a session that ended in the Failed state
	ErrSessionFailed = errors.New("session failed")
)

// FormatUserError turns transport errors into a message for the terminal
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var terr *device.TransportError
	if !errors.As(err, &terr) {
		return err.Error()
	}

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off or unavailable; enable it and try again"
	case terr.Kind == device.PermissionDenied:
		return fmt.Sprintf("Bluetooth access was refused, grant this program Bluetooth permission (%v)", err)
	case terr.Kind == device.Unsupported:
		return "not supported: " + terr.Detail
	case terr.Kind == device.NotConnected:
		return fmt.Sprintf("no connection to the peer (%v)", err)
	case terr.Kind == device.PeerMismatch:
		return fmt.Sprintf("peer does not match the device engagement (%v)", err)
	}
	return err.Error()
}
