package goble

import (
	"context"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mdlble/internal/actor"
	"github.com/srg/mdlble/internal/device"
)

// gattClient is the part of ble.Client a Central drives
type gattClient interface {
	DiscoverProfile(force bool) (*ble.Profile, error)
	ExchangeMTU(rxMTU int) (txMTU int, err error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	CancelConnection() error
}

// closeFlushTimeout bounds how long Close waits for queued operations
const closeFlushTimeout = 2 * time.Second

type dialFunc func(ctx context.Context, address string) (gattClient, error)

// Central implements device.GattCentral with a go-ble client.
//
// go-ble calls block until the peer answers, so every operation is queued on a worker
// mailbox and its outcome reported through device.CentralEvents. The worker runs one
// operation at a time, which keeps writes to a characteristic in issue order.
type Central struct {
	dial   dialFunc
	logger *logrus.Logger
	worker *actor.Mailbox

	mu      sync.Mutex
	events  device.CentralEvents
	client  gattClient
	profile *ble.Profile
	force   bool
	closed  bool
	done    chan struct{}
}

// NewCentral creates an idle central that dials through dial
func NewCentral(dial dialFunc, logger *logrus.Logger) *Central {
	if logger == nil {
		logger = logrus.New()
	}
	return &Central{
		dial:   dial,
		logger: logger,
		worker: actor.Start(context.Background(), "goble-central"),
		force:  true,
		done:   make(chan struct{}),
	}
}

func (c *Central) Connect(ctx context.Context, address string, events device.CentralEvents) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return device.NewNotConnected("connect on closed central")
	}
	if c.client != nil {
		c.mu.Unlock()
		return device.NewProtocolViolation("already connected")
	}
	c.events = events
	c.mu.Unlock()

	return c.worker.Post(func() {
		logger := c.logger.WithField("address", address)
		logger.Debug("Dialing")

		client, err := c.dial(ctx, address)
		if err != nil {
			logger.WithError(err).Debug("Dial failed")
			events.OnConnectionStateChange(false, device.NormalizeError(err))
			return
		}

		c.mu.Lock()
		c.client = client
		c.mu.Unlock()

		c.watch(client, events)
		logger.Debug("Connected")
		events.OnConnectionStateChange(true, nil)
	})
}

// watch reports a link loss when the client exposes its disconnect channel (Darwin)
func (c *Central) watch(client gattClient, events device.CentralEvents) {
	dc, ok := client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		c.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	actor.Go(context.Background(), "goble-central-monitor", func(context.Context) {
		select {
		case <-dc.Disconnected():
		case <-c.done:
			return
		}

		c.mu.Lock()
		current := c.client == client
		if current {
			c.client = nil
			c.profile = nil
		}
		c.mu.Unlock()

		if current {
			c.logger.Debug("Link lost")
			events.OnConnectionStateChange(false, nil)
		}
	})
}

// RefreshCache makes the next discovery bypass the go-ble profile cache
func (c *Central) RefreshCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.force = true
	return nil
}

// RequestHighPriority is not exposed by go-ble
func (c *Central) RequestHighPriority() error {
	return device.NewUnsupported("connection priority")
}

func (c *Central) DiscoverServices() error {
	client, events, err := c.connected("discover services")
	if err != nil {
		return err
	}
	return c.worker.Post(func() {
		c.mu.Lock()
		force := c.force
		c.mu.Unlock()

		profile, err := client.DiscoverProfile(force)
		if err != nil {
			events.OnServicesDiscovered(nil, device.NormalizeError(err))
			return
		}

		c.mu.Lock()
		c.profile = profile
		c.force = false
		c.mu.Unlock()

		events.OnServicesDiscovered(serviceInfos(profile), nil)
	})
}

func (c *Central) RequestMtu(mtu int) error {
	client, events, err := c.connected("request MTU")
	if err != nil {
		return err
	}
	return c.worker.Post(func() {
		tx, err := client.ExchangeMTU(mtu)
		events.OnMtuChanged(tx, device.NormalizeError(err))
	})
}

func (c *Central) ReadCharacteristic(service, char string) error {
	client, events, err := c.connected("read")
	if err != nil {
		return err
	}
	bc, err := c.lookup(service, char)
	if err != nil {
		return err
	}
	return c.worker.Post(func() {
		value, err := client.ReadCharacteristic(bc)
		events.OnCharacteristicRead(char, value, device.NormalizeError(err))
	})
}

func (c *Central) EnableNotifications(service, char string) error {
	client, events, err := c.connected("enable notifications")
	if err != nil {
		return err
	}
	bc, err := c.lookup(service, char)
	if err != nil {
		return err
	}
	return c.worker.Post(func() {
		err := client.Subscribe(bc, false, func(data []byte) {
			value := make([]byte, len(data))
			copy(value, data)
			events.OnCharacteristicChanged(char, value)
		})
		events.OnDescriptorWrite(char, device.NormalizeError(err))
	})
}

func (c *Central) WriteCharacteristic(service, char string, value []byte, withResponse bool) error {
	client, events, err := c.connected("write")
	if err != nil {
		return err
	}
	bc, err := c.lookup(service, char)
	if err != nil {
		return err
	}
	data := append([]byte(nil), value...)
	return c.worker.Post(func() {
		err := client.WriteCharacteristic(bc, data, !withResponse)
		events.OnCharacteristicWrite(char, device.NormalizeError(err))
	})
}

// Disconnect cancels the connection. Clients without a disconnect channel get the
// state change reported right away.
func (c *Central) Disconnect() error {
	client, events, err := c.connected("disconnect")
	if err != nil {
		return err
	}
	return c.worker.Post(func() {
		if err := client.CancelConnection(); err != nil {
			c.logger.WithError(err).Debug("Cancel connection failed")
		}
		if _, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
			return
		}

		c.mu.Lock()
		current := c.client == client
		if current {
			c.client = nil
			c.profile = nil
		}
		c.mu.Unlock()
		if current {
			events.OnConnectionStateChange(false, nil)
		}
	})
}

// Close lets the operations queued before it run, then drops the connection without
// reporting it and stops the worker
func (c *Central) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.flush()

	c.mu.Lock()
	client := c.client
	c.client = nil
	c.profile = nil
	close(c.done)
	c.mu.Unlock()

	c.worker.Stop()
	if client != nil {
		return device.NormalizeError(client.CancelConnection())
	}
	return nil
}

// flush waits for the worker to finish the operations queued so far, a final
// termination write included. A peer that stops answering is given up on after
// closeFlushTimeout.
func (c *Central) flush() {
	if c.worker.OnMailbox() {
		return
	}
	flushed := make(chan struct{})
	if err := c.worker.Post(func() { close(flushed) }); err != nil {
		return
	}
	select {
	case <-flushed:
	case <-time.After(closeFlushTimeout):
		c.logger.Debug("Pending operations did not finish before close")
	}
}

func (c *Central) connected(op string) (gattClient, device.CentralEvents, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client == nil {
		return nil, nil, device.NewNotConnected(op)
	}
	return c.client, c.events, nil
}

func (c *Central) lookup(service, char string) (*ble.Characteristic, error) {
	c.mu.Lock()
	profile := c.profile
	c.mu.Unlock()
	if profile == nil {
		return nil, device.NewProtocolViolation("services not discovered")
	}

	wantSvc := device.NormalizeUUID(service)
	wantChar := device.NormalizeUUID(char)
	for _, s := range profile.Services {
		if device.NormalizeUUID(s.UUID.String()) != wantSvc {
			continue
		}
		for _, ch := range s.Characteristics {
			if device.NormalizeUUID(ch.UUID.String()) == wantChar {
				return ch, nil
			}
		}
	}
	return nil, device.NewProtocolViolation("characteristic %s not found in service %s",
		device.ShortenUUID(wantChar), device.ShortenUUID(wantSvc))
}

func serviceInfos(profile *ble.Profile) []device.ServiceInfo {
	if profile == nil {
		return nil
	}
	infos := make([]device.ServiceInfo, 0, len(profile.Services))
	for _, s := range profile.Services {
		info := device.ServiceInfo{UUID: device.NormalizeUUID(s.UUID.String())}
		for _, ch := range s.Characteristics {
			info.Characteristics = append(info.Characteristics, device.NormalizeUUID(ch.UUID.String()))
		}
		infos = append(infos, info)
	}
	return infos
}
