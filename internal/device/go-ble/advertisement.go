package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/mdlble/internal/device"
)

// BLEAdvertisement wraps ble.Advertisement to implement device.Advertisement
type BLEAdvertisement struct {
	adv ble.Advertisement
}

// NewBLEAdvertisement creates a new BLEAdvertisement wrapper
func NewBLEAdvertisement(adv ble.Advertisement) device.Advertisement {
	return &BLEAdvertisement{adv: adv}
}

func (a *BLEAdvertisement) LocalName() string { return a.adv.LocalName() }
func (a *BLEAdvertisement) Connectable() bool { return a.adv.Connectable() }
func (a *BLEAdvertisement) RSSI() int         { return a.adv.RSSI() }

func (a *BLEAdvertisement) Addr() string {
	if addr := a.adv.Addr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Services returns the normalized service UUIDs, including the ones CoreBluetooth moves
// into the overflow area when the advertising app is backgrounded.
func (a *BLEAdvertisement) Services() []string {
	uuids := append(append([]ble.UUID(nil), a.adv.Services()...), a.adv.OverflowService()...)
	result := make([]string, 0, len(uuids))
	seen := make(map[string]bool, len(uuids))
	for _, u := range uuids {
		s := device.NormalizeUUID(u.String())
		if seen[s] {
			continue
		}
		seen[s] = true
		result = append(result, s)
	}
	return result
}

// Unwrap returns the underlying ble.Advertisement
func (a *BLEAdvertisement) Unwrap() ble.Advertisement {
	return a.adv
}
