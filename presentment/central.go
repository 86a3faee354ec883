package presentment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/srg/mdlble/discovery"
	"github.com/srg/mdlble/internal/actor"
	"github.com/srg/mdlble/internal/device"
	"github.com/srg/mdlble/internal/transport"
)

// CentralOrchestrator scans for the session service and runs the GATT client against the
// first peer advertising it.
type CentralOrchestrator struct {
	*base
	scanner *discovery.Scanner

	mu     sync.Mutex
	ctx    context.Context
	client *transport.ClientSession
	peer   string
	closed bool
}

// NewHolderCentral creates the holder side of mdoc central client mode
func NewHolderCentral(adapter device.Adapter, session Session, settings Settings,
	onMessage MessageCallback, delegate StateDelegate) (*CentralOrchestrator, error) {
	session.Role, session.Option = Holder, OptionCentral
	return newCentral("holder-central", adapter, session, settings, onMessage, delegate)
}

// NewReaderCentral creates the reader side of mdoc peripheral server mode. A non-nil
// session Ident is compared with the holder's Ident characteristic.
func NewReaderCentral(adapter device.Adapter, session Session, settings Settings,
	onMessage MessageCallback, delegate StateDelegate) (*CentralOrchestrator, error) {
	session.Role, session.Option = Reader, OptionCentral
	return newCentral("reader-central", adapter, session, settings, onMessage, delegate)
}

func newCentral(kind string, adapter device.Adapter, session Session, settings Settings,
	onMessage MessageCallback, delegate StateDelegate) (*CentralOrchestrator, error) {
	if session.ServiceUUID == "" {
		return nil, errors.New("service UUID is required to scan for a peer")
	}
	if _, err := device.ValidateUUID(session.ServiceUUID); err != nil {
		return nil, fmt.Errorf("invalid service UUID: %w", err)
	}

	b := newBase(kind, adapter, session, settings, onMessage, delegate)
	o := &CentralOrchestrator{
		base:    b,
		scanner: discovery.NewScanner(adapter, b.logger.Logger),
		ctx:     context.Background(),
	}
	actor.Go(context.Background(), kind+"-discovery", func(context.Context) {
		o.watch()
	})
	return o, nil
}

// Start scans for the session service
func (o *CentralOrchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return device.NewNotConnected("start on closed orchestrator")
	}
	if o.client != nil {
		o.mu.Unlock()
		return transport.ErrAlreadyStarted
	}
	o.ctx = ctx
	o.mu.Unlock()

	o.rename()
	err := o.scanner.Start(ctx, discovery.ScanOptions{
		ServiceUUID: o.session.ServiceUUID,
		Timeout:     o.settings.ScanTimeout,
	})
	if err != nil {
		o.restore()
		return err
	}
	o.update(KeyState, StateScanning)
	return nil
}

// watch turns scan events into a connection attempt; it runs until the scanner closes
func (o *CentralOrchestrator) watch() {
	for ev := range o.scanner.Events() {
		switch ev.Type {
		case discovery.Discovered:
			o.connect(ev.Peer)
		case discovery.Failed:
			o.fail(ev.Err)
		case discovery.TimedOut:
			o.fail(device.NewNotConnected("no peer found before the scan timed out"))
		}
	}
}

func (o *CentralOrchestrator) connect(peer discovery.Peer) {
	o.mu.Lock()
	if o.closed || o.client != nil {
		o.mu.Unlock()
		return
	}
	central, err := o.adapter.NewCentral()
	if err != nil {
		o.mu.Unlock()
		o.fail(err)
		return
	}
	client := transport.NewClientSession(central, transport.ClientConfig{
		ServiceUUID: o.session.ServiceUUID,
		Mode:        o.session.Mode(),
		Ident:       o.session.Ident,
		Logger:      o.logger.Logger,
	}, o.listener(o.peerAddress))
	o.client, o.peer = client, peer.Address
	ctx := o.ctx
	o.mu.Unlock()

	o.scanner.Stop()

	o.logger.WithField("peer", peer.Address).Info("Connecting to peer")
	o.update(KeyState, StateConnecting, KeyPeer, peer.Address)
	if err := client.Connect(ctx, peer.Address); err != nil {
		o.fail(err)
	}
}

func (o *CentralOrchestrator) peerAddress() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.peer
}

func (o *CentralOrchestrator) current() *transport.ClientSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.client
}

// Client returns the GATT client session, nil before a peer was found
func (o *CentralOrchestrator) Client() *transport.ClientSession {
	return o.current()
}

func (o *CentralOrchestrator) Send(message []byte) error {
	client := o.current()
	if client == nil {
		return device.NewNotConnected("send before a peer connected")
	}
	return client.Send(message)
}

// Terminate writes the termination value to the State characteristic, then disconnects
func (o *CentralOrchestrator) Terminate() error {
	if client := o.current(); client != nil {
		client.SendTransportSpecificTermination()
	}
	err := o.teardown()
	o.update(KeyState, StateTerminated)
	return err
}

func (o *CentralOrchestrator) HardReset() error {
	err := o.teardown()
	o.reset(StateIdle)
	return err
}

func (o *CentralOrchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	err := o.teardown()
	o.scanner.Close()
	o.stop()
	return err
}

// teardown stops scanning, drops the client session and restores the adapter name
func (o *CentralOrchestrator) teardown() error {
	o.scanner.Stop()

	o.mu.Lock()
	client := o.client
	o.client, o.peer = nil, ""
	o.mu.Unlock()

	var err error
	if client != nil {
		err = client.Close()
	}
	o.restore()
	return err
}
