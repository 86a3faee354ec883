// Package presentment wires the BLE GATT sessions to discovery for the two parties of an
// ISO 18013-5 device retrieval, and republishes their callbacks as one surface.
//
// A Transport picks one of four orchestrators from the session role and the
// device-retrieval option:
//
//	Holder + Central     scan, GATT client, mdoc central client mode
//	Holder + Peripheral  advertise, GATT server with Ident, mdoc peripheral server mode
//	Reader + Peripheral  advertise, GATT server, mdoc central client mode
//	Reader + Central     scan, GATT client verifying Ident, mdoc peripheral server mode
//
// Orchestrators hold no protocol logic. Session state reaches the caller as StateBag
// snapshots through a StateDelegate, and payloads through a MessageCallback.
package presentment

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/srg/mdlble/internal/transport"
)

// Role is the party this device plays in the exchange
type Role int

const (
	Holder Role = iota
	Reader
)

func (r Role) String() string {
	switch r {
	case Holder:
		return "holder"
	case Reader:
		return "reader"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Method is the device-retrieval technology
type Method int

const (
	MethodBLE Method = iota
	MethodNFC
	MethodWiFiAware
)

func (m Method) String() string {
	switch m {
	case MethodBLE:
		return "ble"
	case MethodNFC:
		return "nfc"
	case MethodWiFiAware:
		return "wifi-aware"
	default:
		return fmt.Sprintf("Method(%d)", int(m))
	}
}

// Option is the local BLE role taken for device retrieval
type Option int

const (
	OptionCentral Option = iota
	OptionPeripheral
	// OptionL2CAP is recognized but not implemented
	OptionL2CAP
)

func (o Option) String() string {
	switch o {
	case OptionCentral:
		return "central"
	case OptionPeripheral:
		return "peripheral"
	case OptionL2CAP:
		return "l2cap"
	default:
		return fmt.Sprintf("Option(%d)", int(o))
	}
}

// ParseRole parses "holder" or "reader"
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "holder":
		return Holder, nil
	case "reader":
		return Reader, nil
	}
	return 0, fmt.Errorf("unknown role %q (expected holder or reader)", s)
}

// ParseOption parses "central", "peripheral" or "l2cap"
func ParseOption(s string) (Option, error) {
	switch strings.ToLower(s) {
	case "central":
		return OptionCentral, nil
	case "peripheral":
		return OptionPeripheral, nil
	case "l2cap":
		return OptionL2CAP, nil
	}
	return 0, fmt.Errorf("unknown device retrieval option %q (expected central or peripheral)", s)
}

// ParseMethod parses "ble", "nfc" or "wifi-aware"
func ParseMethod(s string) (Method, error) {
	switch strings.ToLower(s) {
	case "ble":
		return MethodBLE, nil
	case "nfc":
		return MethodNFC, nil
	case "wifi-aware", "wifiaware":
		return MethodWiFiAware, nil
	}
	return 0, fmt.Errorf("unknown device retrieval method %q", s)
}

// Session describes one device-retrieval exchange
type Session struct {
	ID     uuid.UUID
	Role   Role
	Method Method
	Option Option

	// ServiceUUID is the mdoc service from device engagement. The advertising side
	// generates one when empty; the scanning side requires it.
	ServiceUUID string
	// Ident is the Ident characteristic value. The holder serves it in peripheral server
	// mode and a reader in central mode verifies it. Nil disables both.
	Ident []byte
}

// Mode returns the characteristic UUID set of the session's role and option
func (s Session) Mode() transport.Mode {
	holderCentral := s.Role == Holder && s.Option == OptionCentral
	readerPeripheral := s.Role == Reader && s.Option == OptionPeripheral
	if holderCentral || readerPeripheral {
		return transport.CentralClientMode
	}
	return transport.PeripheralServerMode
}

// MessageCallback receives every complete inbound message
type MessageCallback func(message []byte)

// StateDelegate receives a fresh StateBag snapshot after every session state change
type StateDelegate interface {
	Update(bag *StateBag)
}

// StateDelegateFunc adapts a function to StateDelegate
type StateDelegateFunc func(bag *StateBag)

func (f StateDelegateFunc) Update(bag *StateBag) {
	f(bag)
}

// High level connection states published under KeyState
const (
	StateIdle         = "Idle"
	StateScanning     = "Scanning"
	StateAdvertising  = "Advertising"
	StateConnecting   = "Connecting"
	StateConnected    = "Connected"
	StateDisconnected = "Disconnected"
	StateTerminated   = "Terminated"
	StateFailed       = "Failed"
)

// StateBag keys
const (
	KeyState          = "state"
	KeyRole           = "role"
	KeyOption         = "option"
	KeySessionID      = "sessionId"
	KeyServiceUUID    = "engagement.serviceUuid"
	KeyPeer           = "peer"
	KeyTransportState = "transport.state"
	KeyProgressSent   = "progress.sent"
	KeyProgressTotal  = "progress.total"
	KeyError          = "error"
	KeyErrorKind      = "error.kind"
)
