package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/mdlble/internal/actor"
	"github.com/srg/mdlble/internal/device"
)

// serviceHost is the part of ble.Device a Peripheral drives
type serviceHost interface {
	AddService(svc *ble.Service) error
	RemoveAllServices() error
}

// peerConn is the part of ble.Conn a Peripheral needs
type peerConn interface {
	RemoteAddr() ble.Addr
	TxMTU() int
	Close() error
}

// notifier is the part of ble.Notifier a Peripheral needs
type notifier interface {
	Context() context.Context
	Write(b []byte) (int, error)
}

type peer struct {
	conn      peerConn
	notifiers map[string]notifier
}

// Peripheral implements device.GattPeripheral on a go-ble device.
//
// go-ble has no connection callbacks on the server side. A central is reported as
// connected on its first request (a write or a subscription), together with the MTU of
// its link, and as disconnected when its connection closes.
//
// Events are delivered in order from a worker mailbox that lives between Open and Close.
type Peripheral struct {
	host   serviceHost
	logger *logrus.Logger

	mu     sync.Mutex
	worker *actor.Mailbox
	events device.PeripheralEvents
	peers  map[string]*peer
	done   chan struct{}
}

// NewPeripheral creates a closed peripheral hosting services on host
func NewPeripheral(host serviceHost, logger *logrus.Logger) *Peripheral {
	if logger == nil {
		logger = logrus.New()
	}
	return &Peripheral{host: host, logger: logger}
}

func (p *Peripheral) Open(events device.PeripheralEvents) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.worker != nil {
		return device.NewProtocolViolation("GATT server already open")
	}
	p.worker = actor.Start(context.Background(), "goble-peripheral")
	p.events = events
	p.peers = make(map[string]*peer)
	p.done = make(chan struct{})
	return nil
}

// AddService registers spec with the platform GATT database
func (p *Peripheral) AddService(spec device.ServiceSpec) error {
	p.mu.Lock()
	open := p.worker != nil
	p.mu.Unlock()
	if !open {
		return device.NewProtocolViolation("GATT server is not open")
	}

	svc, err := p.buildService(spec)
	if err != nil {
		return err
	}
	if err := p.host.AddService(svc); err != nil {
		return fmt.Errorf("failed to add service %s: %w", device.ShortenUUID(spec.UUID), device.NormalizeError(err))
	}
	p.logger.WithField("service", device.ShortenUUID(spec.UUID)).Debug("Service added")
	return nil
}

func (p *Peripheral) buildService(spec device.ServiceSpec) (*ble.Service, error) {
	su, err := ble.Parse(spec.UUID)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", spec.UUID, err)
	}
	svc := ble.NewService(su)

	for _, cs := range spec.Characteristics {
		cu, err := ble.Parse(cs.UUID)
		if err != nil {
			return nil, fmt.Errorf("invalid characteristic UUID %q: %w", cs.UUID, err)
		}
		char := device.NormalizeUUID(cs.UUID)
		ch := svc.NewCharacteristic(cu)

		if cs.Properties.Has(device.PropRead) {
			ch.SetValue(cs.Value)
		}
		if cs.Properties.Has(device.PropWrite) || cs.Properties.Has(device.PropWriteNoResponse) {
			ch.HandleWrite(ble.WriteHandlerFunc(func(req ble.Request, _ ble.ResponseWriter) {
				p.onWrite(req.Conn(), char, req.Data())
			}))
		}
		if cs.Properties.Has(device.PropNotify) {
			ch.HandleNotify(ble.NotifyHandlerFunc(func(req ble.Request, n ble.Notifier) {
				p.onSubscribe(req.Conn(), char, n)
			}))
		}
		ch.Property = toBLEProperty(cs.Properties)
	}
	return svc, nil
}

// contact registers conn on its first request and returns its address.
// Returns false once the server is closed.
func (p *Peripheral) contact(conn peerConn) (string, bool) {
	address := conn.RemoteAddr().String()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.worker == nil {
		return "", false
	}
	if _, known := p.peers[address]; known {
		return address, true
	}

	p.peers[address] = &peer{conn: conn, notifiers: make(map[string]notifier)}
	events, mtu := p.events, conn.TxMTU()
	_ = p.worker.Post(func() {
		events.OnConnectionStateChange(address, true)
		events.OnMtuChanged(address, mtu)
	})
	p.watch(address, conn)

	p.logger.WithFields(logrus.Fields{"address": address, "mtu": mtu}).Debug("Central connected")
	return address, true
}

// watch reports the disconnect of conn when the platform exposes it. Called with p.mu held.
func (p *Peripheral) watch(address string, conn peerConn) {
	dc, ok := conn.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		return
	}
	done := p.done
	actor.Go(context.Background(), "goble-peripheral-monitor", func(context.Context) {
		select {
		case <-dc.Disconnected():
			p.drop(address, conn)
		case <-done:
		}
	})
}

func (p *Peripheral) drop(address string, conn peerConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.peers[address]
	if !ok || pr.conn != conn {
		return
	}
	delete(p.peers, address)

	events := p.events
	_ = p.worker.Post(func() { events.OnConnectionStateChange(address, false) })
	p.logger.WithField("address", address).Debug("Central disconnected")
}

func (p *Peripheral) onWrite(conn peerConn, char string, data []byte) {
	address, ok := p.contact(conn)
	if !ok {
		return
	}
	value := append([]byte(nil), data...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.worker == nil {
		return
	}
	events := p.events
	_ = p.worker.Post(func() { events.OnCharacteristicWrite(address, char, value) })
}

// onSubscribe keeps n as the notification sink of char until the central unsubscribes
func (p *Peripheral) onSubscribe(conn peerConn, char string, n notifier) {
	address, ok := p.contact(conn)
	if !ok {
		return
	}

	p.mu.Lock()
	pr, ok := p.peers[address]
	if ok {
		pr.notifiers[char] = n
	}
	p.mu.Unlock()
	if !ok {
		return
	}
	p.logger.WithFields(logrus.Fields{"address": address, "char": device.ShortenUUID(char)}).Debug("Central subscribed")

	<-n.Context().Done()

	p.mu.Lock()
	if pr.notifiers[char] == n {
		delete(pr.notifiers, char)
	}
	p.mu.Unlock()
}

func (p *Peripheral) Notify(address, char string, value []byte) error {
	char = device.NormalizeUUID(char)

	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.peers[address]
	if !ok || p.worker == nil {
		return device.NewNotConnected("notify " + address)
	}
	n, ok := pr.notifiers[char]
	if !ok {
		return device.NewProtocolViolation("central %s is not subscribed to %s", address, device.ShortenUUID(char))
	}

	events := p.events
	data := append([]byte(nil), value...)
	return p.worker.Post(func() {
		_, err := n.Write(data)
		events.OnNotificationSent(address, char, device.NormalizeError(err))
	})
}

// CancelConnection closes the link to address once queued notifications are out.
// Links without a disconnect channel are reported as disconnected right away.
func (p *Peripheral) CancelConnection(address string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	pr, ok := p.peers[address]
	if !ok || p.worker == nil {
		return device.NewNotConnected("cancel connection " + address)
	}

	conn := pr.conn
	return p.worker.Post(func() {
		if err := conn.Close(); err != nil {
			p.logger.WithError(err).WithField("address", address).Debug("Close connection failed")
		}
		if _, watched := conn.(interface{ Disconnected() <-chan struct{} }); !watched {
			p.drop(address, conn)
		}
	})
}

// Close removes the hosted services and forgets every central without reporting it
func (p *Peripheral) Close() error {
	p.mu.Lock()
	if p.worker == nil {
		p.mu.Unlock()
		return nil
	}
	worker, peers := p.worker, p.peers
	p.worker, p.events, p.peers = nil, nil, nil
	close(p.done)
	p.mu.Unlock()

	// flush notifications queued before Close
	_ = worker.Call(func() {})
	worker.Stop()
	for address, pr := range peers {
		if err := pr.conn.Close(); err != nil {
			p.logger.WithError(err).WithField("address", address).Debug("Close connection failed")
		}
	}
	return device.NormalizeError(p.host.RemoveAllServices())
}
