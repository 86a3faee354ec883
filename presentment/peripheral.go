package presentment

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/srg/mdlble/discovery"
	"github.com/srg/mdlble/internal/device"
	"github.com/srg/mdlble/internal/transport"
)

// PeripheralOrchestrator hosts the mdoc service and advertises it until a central binds
type PeripheralOrchestrator struct {
	*base
	advertiser *discovery.Advertiser
	ident      []byte

	mu     sync.Mutex
	server *transport.ServerSession
	closed bool
}

// NewHolderPeripheral creates the holder side of mdoc peripheral server mode. The
// session Ident, when set, is served on the Ident characteristic.
func NewHolderPeripheral(adapter device.Adapter, session Session, settings Settings,
	onMessage MessageCallback, delegate StateDelegate) (*PeripheralOrchestrator, error) {
	session.Role, session.Option = Holder, OptionPeripheral
	return newPeripheral("holder-peripheral", adapter, session, session.Ident, settings, onMessage, delegate)
}

// NewReaderPeripheral creates the reader side of mdoc central client mode
func NewReaderPeripheral(adapter device.Adapter, session Session, settings Settings,
	onMessage MessageCallback, delegate StateDelegate) (*PeripheralOrchestrator, error) {
	session.Role, session.Option = Reader, OptionPeripheral
	return newPeripheral("reader-peripheral", adapter, session, nil, settings, onMessage, delegate)
}

func newPeripheral(kind string, adapter device.Adapter, session Session, ident []byte, settings Settings,
	onMessage MessageCallback, delegate StateDelegate) (*PeripheralOrchestrator, error) {
	if session.ServiceUUID == "" {
		session.ServiceUUID = uuid.New().String()
	}
	if _, err := device.ValidateUUID(session.ServiceUUID); err != nil {
		return nil, err
	}

	b := newBase(kind, adapter, session, settings, onMessage, delegate)
	return &PeripheralOrchestrator{
		base:       b,
		advertiser: discovery.NewAdvertiser(adapter, b.logger.Logger),
		ident:      ident,
	}, nil
}

// ServiceUUID returns the hosted service, generated when the session had none
func (o *PeripheralOrchestrator) ServiceUUID() string {
	return o.session.ServiceUUID
}

// Start opens the GATT server and advertises the service
func (o *PeripheralOrchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return device.NewNotConnected("start on closed orchestrator")
	}
	if o.server != nil {
		o.mu.Unlock()
		return transport.ErrAlreadyStarted
	}

	peripheral, err := o.adapter.NewPeripheral()
	if err != nil {
		o.mu.Unlock()
		return err
	}
	server := transport.NewServerSession(peripheral, transport.ServerConfig{
		ServiceUUID: o.session.ServiceUUID,
		Mode:        o.session.Mode(),
		Logger:      o.logger.Logger,
	}, o.serverListener())
	o.server = server
	o.mu.Unlock()

	if err := server.Start(o.ident); err != nil {
		o.drop(server)
		return err
	}

	o.rename()
	if err := o.advertiser.Start(ctx, o.adapter.Name(), o.session.ServiceUUID, o.fail); err != nil {
		o.drop(server)
		o.restore()
		return err
	}
	o.update(KeyState, StateAdvertising)
	return nil
}

// drop forgets and closes a server whose start failed
func (o *PeripheralOrchestrator) drop(server *transport.ServerSession) {
	o.mu.Lock()
	if o.server == server {
		o.server = nil
	}
	o.mu.Unlock()
	_ = server.Close()
}

// serverListener stops advertising once a central is bound
func (o *PeripheralOrchestrator) serverListener() transport.Listener {
	inner := o.listener(o.peerAddress)
	connected := inner.PeerConnected
	inner.PeerConnected = func() {
		go o.advertiser.Stop()
		connected()
	}
	return inner
}

func (o *PeripheralOrchestrator) peerAddress() string {
	if server := o.current(); server != nil {
		return server.Peer()
	}
	return ""
}

func (o *PeripheralOrchestrator) current() *transport.ServerSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.server
}

// Server returns the GATT server session, nil when not started
func (o *PeripheralOrchestrator) Server() *transport.ServerSession {
	return o.current()
}

func (o *PeripheralOrchestrator) Send(message []byte) error {
	server := o.current()
	if server == nil {
		return device.NewNotConnected("send before the server started")
	}
	return server.SendMessage(message)
}

// Terminate notifies the termination value on the State characteristic, then tears down
func (o *PeripheralOrchestrator) Terminate() error {
	if server := o.current(); server != nil {
		server.SendTransportSpecificTermination()
	}
	err := o.teardown()
	o.update(KeyState, StateTerminated)
	return err
}

func (o *PeripheralOrchestrator) HardReset() error {
	err := o.teardown()
	o.reset(StateIdle)
	return err
}

func (o *PeripheralOrchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	err := o.teardown()
	o.stop()
	return err
}

// teardown stops advertising, closes the server and restores the adapter name
func (o *PeripheralOrchestrator) teardown() error {
	o.advertiser.Stop()

	o.mu.Lock()
	server := o.server
	o.server = nil
	o.mu.Unlock()

	var err error
	if server != nil {
		err = server.Close()
	}
	o.restore()
	return err
}
