package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/mdlble/internal/actor"
	"github.com/srg/mdlble/internal/device"
)

// ServerConfig configures a ServerSession
type ServerConfig struct {
	// ServiceUUID is the UUID of the hosted mdoc service.
	ServiceUUID string
	// Mode selects the characteristic UUID set.
	Mode Mode
	// Logger defaults to logrus.StandardLogger().
	Logger *logrus.Logger
}

// ServerSession hosts the mdoc GATT service and serves exactly one bound peer.
//
// All public methods are safe for concurrent use. Listener callbacks run on the session
// goroutine.
type ServerSession struct {
	peripheral device.GattPeripheral
	listener   Listener
	logger     *logrus.Entry
	mailbox    *actor.Mailbox

	machine *serverMachine
	state   atomic.Int32
	closed  atomic.Bool
}

// NewServerSession creates an idle server session. Start opens the GATT server.
func NewServerSession(peripheral device.GattPeripheral, cfg ServerConfig, listener Listener) *ServerSession {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if listener == nil {
		listener = ListenerFuncs{}
	}

	chars := CharacteristicsFor(cfg.Mode)
	s := &ServerSession{
		peripheral: peripheral,
		listener:   listener,
		logger: logger.WithFields(logrus.Fields{
			"component": "gatt-server",
			"mode":      chars.Mode.String(),
		}),
		machine: newServerMachine(cfg.ServiceUUID, chars),
	}
	s.mailbox = actor.Start(context.Background(), "gatt-server")
	return s
}

// Start opens the GATT server and registers the service. A non-nil ident adds the Ident
// characteristic serving it verbatim. Failure is fatal: the server is closed again.
func (s *ServerSession) Start(ident []byte) error {
	return s.call(func() error {
		if err := s.dispatch(startRequested{ident: ident}); err != nil {
			_ = s.dispatch(stopRequested{})
			return err
		}
		return nil
	})
}

// SendMessage queues one message for the bound peer
func (s *ServerSession) SendMessage(message []byte) error {
	return s.call(func() error {
		return s.dispatch(sendRequested{message: message})
	})
}

// SendTransportSpecificTermination notifies the termination value on the State
// characteristic. It never fails.
func (s *ServerSession) SendTransportSpecificTermination() {
	err := s.call(func() error {
		return s.dispatch(terminateRequested{})
	})
	if err != nil {
		s.logger.WithError(err).Debug("Termination not sent")
	}
}

// Stop cancels the peer connection, closes the server and clears the outbound queue.
// The session may be started again.
func (s *ServerSession) Stop() error {
	return s.call(func() error {
		return s.dispatch(stopRequested{})
	})
}

// Reset unbinds the peer and zeroes the MTU, the inbound accumulator and the outbound
// queue while keeping the service open.
func (s *ServerSession) Reset() error {
	return s.call(func() error {
		return s.dispatch(resetRequested{})
	})
}

// Close stops the server and the session goroutine
func (s *ServerSession) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.Stop()
	_ = s.mailbox.Call(s.mailbox.Stop)
	return err
}

// State returns the last committed state
func (s *ServerSession) State() ServerState {
	return ServerState(s.state.Load())
}

// Peer returns the address of the bound peer, empty when none
func (s *ServerSession) Peer() string {
	var peer string
	_ = s.mailbox.Call(func() { peer = s.machine.peer })
	return peer
}

func (s *ServerSession) call(fn func() error) error {
	var err error
	if callErr := s.mailbox.Call(func() { err = fn() }); callErr != nil {
		return device.NewNotConnected(fmt.Sprintf("session closed: %v", callErr))
	}
	return err
}

func (s *ServerSession) post(ev serverEvent) {
	if err := s.mailbox.Post(func() { _ = s.dispatch(ev) }); err != nil {
		s.logger.WithField("event", fmt.Sprintf("%T", ev)).Debug("Event after session close dropped")
	}
}

func (s *ServerSession) dispatch(ev serverEvent) error {
	next, effects, err := s.machine.step(ev)
	if err != nil {
		return err
	}

	failed, err := applyEffects(s, s.logger, next, effects)
	if err == nil {
		return nil
	}

	s.logger.WithFields(logrus.Fields{
		"op":    failed.kind.String(),
		"state": s.machine.state.String(),
		"error": err,
	}).Error("Platform call refused")

	if failed.data {
		s.machine.out.clear()
		err = fmt.Errorf("transmission failed: %w", err)
	}
	s.listener.OnError(err)
	return err
}

func (s *ServerSession) exec(e effect) error {
	s.logger.WithFields(logrus.Fields{
		"op":      e.kind.String(),
		"char":    s.machine.chars.Name(e.char),
		"address": e.address,
	}).Debug("Platform call")

	switch e.kind {
	case opOpen:
		return s.peripheral.Open(serverEvents{s})
	case opAddService:
		return s.peripheral.AddService(e.service)
	case opNotify:
		return s.peripheral.Notify(e.address, e.char, e.value)
	case opCancel:
		return s.peripheral.CancelConnection(e.address)
	case opClose:
		return s.peripheral.Close()
	}
	return fmt.Errorf("transport: %s is not a server operation", e.kind)
}

func (s *ServerSession) commit(stage fmt.Stringer) {
	next, ok := stage.(ServerState)
	if !ok || next == s.machine.state {
		return
	}

	s.logger.WithFields(logrus.Fields{
		"from": s.machine.state.String(),
		"to":   next.String(),
	}).Debug("State transition")

	s.machine.state = next
	s.state.Store(int32(next))
	s.listener.OnState(next.String())
}

func (s *ServerSession) emit(e effect) {
	emitTo(s.listener, s.logger, e)
}

// serverEvents forwards GATT server callbacks into the session mailbox
type serverEvents struct {
	s *ServerSession
}

func (e serverEvents) OnConnectionStateChange(address string, connected bool) {
	e.s.post(peerConnection{address: address, connected: connected})
}

func (e serverEvents) OnMtuChanged(address string, mtu int) {
	e.s.post(peerMtu{address: address, mtu: mtu})
}

func (e serverEvents) OnCharacteristicWrite(address, char string, value []byte) {
	e.s.post(peerWrite{address: address, char: device.NormalizeUUID(char), value: append([]byte(nil), value...)})
}

func (e serverEvents) OnNotificationSent(address, char string, err error) {
	e.s.post(notificationSent{address: address, char: device.NormalizeUUID(char), err: err})
}
