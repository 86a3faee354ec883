package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mdlble/internal/device"
)

// DeviceFactory creates the ble.Device backing an Adapter (can be overridden in tests)
var DeviceFactory = newPlatformDevice

// Adapter implements device.Adapter on top of a go-ble device.
//
// go-ble exposes no way to rename the host controller, so the adapter name is the local
// name put into advertisements. Scanning peers see it as the device name.
type Adapter struct {
	dev    ble.Device
	logger *logrus.Logger

	mu   sync.RWMutex
	name string
}

// NewAdapter opens the platform BLE device
func NewAdapter(name string, logger *logrus.Logger) (*Adapter, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE device: %w", device.NormalizeError(err))
	}
	return NewAdapterWithDevice(dev, name, logger), nil
}

// NewAdapterWithDevice wraps an already opened ble.Device
func NewAdapterWithDevice(dev ble.Device, name string, logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{dev: dev, name: name, logger: logger}
}

func (a *Adapter) Name() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.name
}

// SetName changes the local name used by later Advertise calls
func (a *Adapter) SetName(name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logger.WithFields(logrus.Fields{"from": a.name, "to": name}).Debug("Adapter renamed")
	a.name = name
	return nil
}

// Scan reports every advertisement, duplicates included, until ctx is done.
// Returns nil when ctx ends the scan.
func (a *Adapter) Scan(ctx context.Context, handler func(device.Advertisement)) error {
	err := a.dev.Scan(ctx, true, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return device.NormalizeError(err)
}

// Advertise advertises name and serviceUUID until ctx is done.
// An empty name falls back to the adapter name.
func (a *Adapter) Advertise(ctx context.Context, name string, serviceUUID string) error {
	u, err := ble.Parse(serviceUUID)
	if err != nil {
		return fmt.Errorf("invalid service UUID %q: %w", serviceUUID, err)
	}
	if name == "" {
		name = a.Name()
	}

	a.logger.WithFields(logrus.Fields{"name": name, "service": serviceUUID}).Debug("Advertising")
	err = a.dev.AdvertiseNameAndServices(ctx, name, u)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return device.NormalizeError(err)
}

func (a *Adapter) NewCentral() (device.GattCentral, error) {
	return NewCentral(a.dial, a.logger), nil
}

func (a *Adapter) NewPeripheral() (device.GattPeripheral, error) {
	return NewPeripheral(a.dev, a.logger), nil
}

// Stop releases the platform device
func (a *Adapter) Stop() error {
	return device.NormalizeError(a.dev.Stop())
}

func (a *Adapter) dial(ctx context.Context, address string) (gattClient, error) {
	client, err := a.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, err
	}
	return client, nil
}
