package transport

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/mdlble/internal/actor"
	"github.com/srg/mdlble/internal/device"
)

// ClientConfig configures a ClientSession
type ClientConfig struct {
	// ServiceUUID is the mdoc service announced by the peer.
	ServiceUUID string
	// Mode selects the characteristic UUID set.
	Mode Mode
	// Ident is the expected Ident value. Nil skips the comparison.
	Ident []byte
	// Logger defaults to logrus.StandardLogger().
	Logger *logrus.Logger
}

// ClientSession is the GATT client half of an ISO 18013-5 BLE link.
//
// All public methods are safe for concurrent use. Listener callbacks run on the session
// goroutine; calling session methods from inside them is allowed.
type ClientSession struct {
	central  device.GattCentral
	listener Listener
	logger   *logrus.Entry
	mailbox  *actor.Mailbox

	ctx     context.Context
	machine *clientMachine
	state   atomic.Int32
	closed  atomic.Bool
}

// NewClientSession creates an idle session. Connect starts the handshake.
func NewClientSession(central device.GattCentral, cfg ClientConfig, listener Listener) *ClientSession {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if listener == nil {
		listener = ListenerFuncs{}
	}

	chars := CharacteristicsFor(cfg.Mode)
	s := &ClientSession{
		central:  central,
		listener: listener,
		logger: logger.WithFields(logrus.Fields{
			"component": "gatt-client",
			"mode":      chars.Mode.String(),
		}),
		ctx:     context.Background(),
		machine: newClientMachine(cfg.ServiceUUID, chars, cfg.Ident),
	}
	s.mailbox = actor.Start(context.Background(), "gatt-client")
	return s
}

// Connect connects to the peer at address and runs the handshake. The result arrives as
// OnPeerConnected, or OnError followed by termination.
func (s *ClientSession) Connect(ctx context.Context, address string) error {
	return s.call(func() error {
		s.ctx = ctx
		return s.dispatch(connectRequested{address: address})
	})
}

// Send queues one message. It fails with NotConnected unless the handshake completed.
func (s *ClientSession) Send(message []byte) error {
	return s.call(func() error {
		return s.dispatch(sendRequested{message: message})
	})
}

// SendTransportSpecificTermination writes the termination value to the State
// characteristic. It never fails; errors of a dropped link are only logged.
func (s *ClientSession) SendTransportSpecificTermination() {
	err := s.call(func() error {
		return s.dispatch(terminateRequested{})
	})
	if err != nil {
		s.logger.WithError(err).Debug("Termination not sent")
	}
}

// Disconnect drops the link. The session ends in Terminated.
func (s *ClientSession) Disconnect() error {
	return s.call(func() error {
		return s.dispatch(disconnectRequested{})
	})
}

// Reset drops queued messages, partial inbound data and the negotiated MTU without
// touching the link.
func (s *ClientSession) Reset() error {
	return s.call(func() error {
		return s.dispatch(resetRequested{})
	})
}

// Close disconnects, releases the platform connection and stops the session goroutine.
func (s *ClientSession) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = s.Disconnect()

	var err error
	_ = s.mailbox.Call(func() {
		err = s.central.Close()
		s.mailbox.Stop()
	})
	return device.NormalizeError(err)
}

// State returns the last committed state
func (s *ClientSession) State() ClientState {
	return ClientState(s.state.Load())
}

// MaxChunkPayload returns the chunk payload bound currently used for sends
func (s *ClientSession) MaxChunkPayload() int {
	var n int
	if err := s.mailbox.Call(func() { n = s.machine.payload() }); err != nil {
		return 0
	}
	return n
}

func (s *ClientSession) call(fn func() error) error {
	var err error
	if callErr := s.mailbox.Call(func() { err = fn() }); callErr != nil {
		return device.NewNotConnected(fmt.Sprintf("session closed: %v", callErr))
	}
	return err
}

func (s *ClientSession) post(ev clientEvent) {
	if err := s.mailbox.Post(func() { _ = s.dispatch(ev) }); err != nil {
		s.logger.WithField("event", fmt.Sprintf("%T", ev)).Debug("Event after session close dropped")
	}
}

// dispatch runs one event through the machine. Must run on the mailbox goroutine.
func (s *ClientSession) dispatch(ev clientEvent) error {
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

func (s *ClientSession) exec(e effect) error {
	chars := s.machine.chars
	svc := s.machine.service

	s.logger.WithFields(logrus.Fields{
		"op":   e.kind.String(),
		"char": chars.Name(e.char),
	}).Debug("Platform call")

	switch e.kind {
	case opConnect:
		return s.central.Connect(s.ctx, e.address, clientEvents{s})
	case opRefreshCache:
		return s.central.RefreshCache()
	case opHighPriority:
		return s.central.RequestHighPriority()
	case opDiscover:
		return s.central.DiscoverServices()
	case opRequestMtu:
		return s.central.RequestMtu(e.mtu)
	case opRead:
		return s.central.ReadCharacteristic(svc, e.char)
	case opEnableNotify:
		return s.central.EnableNotifications(svc, e.char)
	case opWrite:
		return s.central.WriteCharacteristic(svc, e.char, e.value, e.withResponse)
	case opDisconnect:
		return s.central.Disconnect()
	}
	return fmt.Errorf("transport: %s is not a client operation", e.kind)
}

func (s *ClientSession) commit(stage fmt.Stringer) {
	next, ok := stage.(ClientState)
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

func (s *ClientSession) emit(e effect) {
	emitTo(s.listener, s.logger, e)
}

// clientEvents forwards platform callbacks into the session mailbox
type clientEvents struct {
	s *ClientSession
}

func (e clientEvents) OnConnectionStateChange(connected bool, err error) {
	e.s.post(connectionChanged{connected: connected, err: err})
}

func (e clientEvents) OnServicesDiscovered(services []device.ServiceInfo, err error) {
	e.s.post(servicesDiscovered{services: services, err: err})
}

func (e clientEvents) OnMtuChanged(mtu int, err error) {
	e.s.post(mtuChanged{mtu: mtu, err: err})
}

func (e clientEvents) OnCharacteristicRead(char string, value []byte, err error) {
	e.s.post(characteristicRead{char: device.NormalizeUUID(char), value: value, err: err})
}

func (e clientEvents) OnDescriptorWrite(char string, err error) {
	e.s.post(descriptorWritten{char: device.NormalizeUUID(char), err: err})
}

func (e clientEvents) OnCharacteristicWrite(char string, err error) {
	e.s.post(characteristicWritten{char: device.NormalizeUUID(char), err: err})
}

func (e clientEvents) OnCharacteristicChanged(char string, value []byte) {
	e.s.post(characteristicChanged{char: device.NormalizeUUID(char), value: append([]byte(nil), value...)})
}
