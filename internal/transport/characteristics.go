// Package transport implements the ISO 18013-5 BLE GATT sessions.
//
// ClientSession drives the GATT client side of a device-retrieval link and ServerSession
// hosts the GATT service for the peer. Both are actors: platform callbacks and public
// calls are posted to one mailbox goroutine, where an explicit state machine turns every
// event into a new state plus a list of effects (platform calls and listener callbacks).
package transport

import (
	"github.com/srg/mdlble/internal/device"
)

// Mode selects which of the two disjoint ISO 18013-5 UUID sets a link uses.
type Mode int

const (
	// CentralClientMode is "mdoc central client mode": the holder is the GATT client
	// and the reader hosts the service.
	CentralClientMode Mode = iota
	// PeripheralServerMode is "mdoc peripheral server mode": the holder hosts the service
	// and the reader is the GATT client.
	PeripheralServerMode
)

func (m Mode) String() string {
	switch m {
	case CentralClientMode:
		return "central-client"
	case PeripheralServerMode:
		return "peripheral-server"
	default:
		return "unknown"
	}
}

// State characteristic values
const (
	StateStart       byte = 0x01
	StateTermination byte = 0x02
)

// Characteristic UUIDs, ISO/IEC 18013-5 §8.3.3.1.1
const (
	CentralStateUUID         = "00000001-A123-48CE-896B-4C76973373E6"
	CentralClient2ServerUUID = "00000002-A123-48CE-896B-4C76973373E6"
	CentralServer2ClientUUID = "00000003-A123-48CE-896B-4C76973373E6"
	CentralL2CAPUUID         = "0000000B-A123-48CE-896B-4C76973373E6"

	PeripheralStateUUID         = "00000005-A123-48CE-896B-4C76973373E6"
	PeripheralClient2ServerUUID = "00000006-A123-48CE-896B-4C76973373E6"
	PeripheralServer2ClientUUID = "00000007-A123-48CE-896B-4C76973373E6"
	PeripheralIdentUUID         = "00000008-A123-48CE-896B-4C76973373E6"
	PeripheralL2CAPUUID         = "0000000A-A123-48CE-896B-4C76973373E6"
)

// CharacteristicSet holds the normalized UUIDs of the five logical endpoints of the
// service. Ident is empty in CentralClientMode.
type CharacteristicSet struct {
	Mode          Mode
	State         string
	Client2Server string
	Server2Client string
	Ident         string
	L2CAP         string
}

// CharacteristicsFor returns the UUID set of the given mode.
func CharacteristicsFor(mode Mode) CharacteristicSet {
	if mode == PeripheralServerMode {
		return CharacteristicSet{
			Mode:          mode,
			State:         device.NormalizeUUID(PeripheralStateUUID),
			Client2Server: device.NormalizeUUID(PeripheralClient2ServerUUID),
			Server2Client: device.NormalizeUUID(PeripheralServer2ClientUUID),
			Ident:         device.NormalizeUUID(PeripheralIdentUUID),
			L2CAP:         device.NormalizeUUID(PeripheralL2CAPUUID),
		}
	}
	return CharacteristicSet{
		Mode:          CentralClientMode,
		State:         device.NormalizeUUID(CentralStateUUID),
		Client2Server: device.NormalizeUUID(CentralClient2ServerUUID),
		Server2Client: device.NormalizeUUID(CentralServer2ClientUUID),
		L2CAP:         device.NormalizeUUID(CentralL2CAPUUID),
	}
}

// Required returns the characteristics without which no session can run.
func (c CharacteristicSet) Required() []string {
	return []string{c.State, c.Client2Server, c.Server2Client}
}

// Name returns a human readable name for a characteristic UUID of this set.
func (c CharacteristicSet) Name(uuid string) string {
	uuid = device.NormalizeUUID(uuid)
	switch uuid {
	case c.State:
		return "State"
	case c.Client2Server:
		return "Client2Server"
	case c.Server2Client:
		return "Server2Client"
	case c.Ident:
		if c.Ident != "" {
			return "Ident"
		}
	case c.L2CAP:
		return "L2CAP"
	}
	return device.ShortenUUID(uuid)
}
