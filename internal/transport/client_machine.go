package transport

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/srg/mdlble/internal/chunk"
	"github.com/srg/mdlble/internal/device"
)

// ClientState is the state of a ClientSession
type ClientState int32

const (
	ClientDisconnected ClientState = iota
	ClientConnecting
	ClientServicesDiscovering
	ClientServicesDiscovered
	ClientNegotiatingMtu
	ClientIdentVerifying
	ClientSubscribingNotifications
	ClientAwaitingStateAck
	ClientPeerConnected
	ClientTerminated
)

var clientStateNames = [...]string{
	"Disconnected",
	"Connecting",
	"ServicesDiscovering",
	"ServicesDiscovered",
	"NegotiatingMtu",
	"IdentVerifying",
	"SubscribingNotifications",
	"AwaitingStateAck",
	"PeerConnected",
	"Terminated",
}

func (s ClientState) String() string {
	if s >= 0 && int(s) < len(clientStateNames) {
		return clientStateNames[s]
	}
	return fmt.Sprintf("ClientState(%d)", int32(s))
}

// ErrAlreadyStarted is returned when Connect or Start is called on a session that is
// not in its initial state
var ErrAlreadyStarted = errors.New("transport: session already started")

type clientEvent interface{ clientEvent() }

type (
	connectionChanged struct {
		connected bool
		err       error
	}
	servicesDiscovered struct {
		services []device.ServiceInfo
		err      error
	}
	mtuChanged struct {
		mtu int
		err error
	}
	characteristicRead struct {
		char  string
		value []byte
		err   error
	}
	descriptorWritten struct {
		char string
		err  error
	}
	characteristicWritten struct {
		char string
		err  error
	}
	characteristicChanged struct {
		char  string
		value []byte
	}
	connectRequested    struct{ address string }
	sendRequested       struct{ message []byte }
	terminateRequested  struct{}
	disconnectRequested struct{}
	resetRequested      struct{}
)

func (connectRequested) clientEvent() {}
func (connectionChanged) clientEvent() {}
func (servicesDiscovered) clientEvent() {}
func (mtuChanged) clientEvent() {}
func (characteristicRead) clientEvent() {}
func (descriptorWritten) clientEvent() {}
func (characteristicWritten) clientEvent() {}
func (characteristicChanged) clientEvent() {}
func (sendRequested) clientEvent() {}
func (terminateRequested) clientEvent() {}
func (disconnectRequested) clientEvent() {}
func (resetRequested) clientEvent() {}

// clientMachine is the GATT client transition function plus the data it owns.
// It performs no I/O: platform calls and callbacks are returned as effects.
type clientMachine struct {
	state   ClientState
	service string
	chars   CharacteristicSet
	ident   []byte

	hasIdent bool
	mtu      int
	out      outbox
	in       *chunk.Decoder
}

func newClientMachine(service string, chars CharacteristicSet, ident []byte) *clientMachine {
	return &clientMachine{
		state:   ClientDisconnected,
		service: device.NormalizeUUID(service),
		chars:   chars,
		ident:   ident,
		in:      chunk.NewDecoder(chunk.PayloadSize(0)),
	}
}

// payload is the chunk payload bound of the link, 19 until an MTU is negotiated
func (m *clientMachine) payload() int {
	return chunk.PayloadSize(m.mtu)
}

// step computes the next state and the effects of ev. The returned error is the
// synchronous result for public operations.
func (m *clientMachine) step(ev clientEvent) (ClientState, []effect, error) {
	switch ev := ev.(type) {
	case connectRequested:
		if m.state != ClientDisconnected {
			return m.state, nil, ErrAlreadyStarted
		}
		return ClientConnecting, []effect{{kind: opConnect, address: ev.address}}, nil

	case connectionChanged:
		return m.onConnectionChanged(ev)

	case servicesDiscovered:
		return m.onServicesDiscovered(ev)

	case mtuChanged:
		return m.onMtuChanged(ev)

	case characteristicRead:
		return m.onCharacteristicRead(ev)

	case descriptorWritten:
		return m.onDescriptorWritten(ev)

	case characteristicWritten:
		return m.onCharacteristicWritten(ev)

	case characteristicChanged:
		return m.onCharacteristicChanged(ev)

	case sendRequested:
		if m.state != ClientPeerConnected {
			return m.state, nil, device.NewNotConnected("send")
		}
		m.out.enqueue(ev.message)
		effects, err := m.pump()
		return m.state, effects, err

	case terminateRequested:
		switch m.state {
		case ClientAwaitingStateAck, ClientPeerConnected:
			return m.state, []effect{{
				kind:       opWrite,
				char:       m.chars.State,
				value:      []byte{StateTermination},
				bestEffort: true,
			}}, nil
		}
		return m.state, []effect{info("termination skipped in state %s", m.state)}, nil

	case disconnectRequested:
		switch m.state {
		case ClientDisconnected, ClientTerminated:
			return m.state, nil, nil
		}
		m.out.clear()
		return ClientTerminated, []effect{{kind: opDisconnect, bestEffort: true}}, nil

	case resetRequested:
		m.out.clear()
		m.in.Reset()
		m.mtu = 0
		m.in.MaxPayload = m.payload()
		return m.state, nil, nil
	}

	return m.state, nil, fmt.Errorf("transport: unhandled client event %T", ev)
}

func (m *clientMachine) onConnectionChanged(ev connectionChanged) (ClientState, []effect, error) {
	if ev.connected && ev.err == nil {
		if m.state != ClientConnecting {
			return m.state, nil, nil
		}
		return ClientServicesDiscovering, []effect{
			{kind: opRefreshCache, bestEffort: true},
			{kind: opHighPriority, bestEffort: true},
			{kind: opDiscover},
		}, nil
	}

	switch m.state {
	case ClientDisconnected, ClientTerminated:
		return m.state, nil, nil
	}

	m.out.clear()
	effects := []effect{}
	if ev.err != nil {
		effects = append(effects, fail(device.NormalizeError(ev.err)))
	}
	effects = append(effects, effect{kind: emitPeerDisconnected})
	return ClientTerminated, effects, nil
}

// abort ends the handshake: the link is dropped and the session terminates
func (m *clientMachine) abort(err error) (ClientState, []effect, error) {
	m.out.clear()
	return ClientTerminated, []effect{
		{kind: opDisconnect, bestEffort: true},
		fail(err),
	}, nil
}

func (m *clientMachine) onServicesDiscovered(ev servicesDiscovered) (ClientState, []effect, error) {
	if m.state != ClientServicesDiscovering {
		return m.state, nil, nil
	}
	if ev.err != nil {
		return m.abort(fmt.Errorf("service discovery failed: %w", device.NormalizeError(ev.err)))
	}

	var svc *device.ServiceInfo
	for i := range ev.services {
		if ev.services[i].UUID == m.service {
			svc = &ev.services[i]
			break
		}
	}
	if svc == nil {
		return m.abort(device.NewProtocolViolation("service %s not found", m.service))
	}

	for _, c := range m.chars.Required() {
		if !svc.HasCharacteristic(c) {
			return m.abort(device.NewProtocolViolation("required characteristic %s not found", m.chars.Name(c)))
		}
	}

	var effects []effect
	m.hasIdent = m.chars.Ident != "" && svc.HasCharacteristic(m.chars.Ident)
	if m.chars.L2CAP != "" && svc.HasCharacteristic(m.chars.L2CAP) {
		effects = append(effects, warn("peer exposes L2CAP characteristic, L2CAP transport is not implemented"))
	}

	effects = append(effects,
		enter(ClientServicesDiscovered),
		effect{kind: opRequestMtu, mtu: chunk.MaxMTU},
	)
	return ClientNegotiatingMtu, effects, nil
}

func (m *clientMachine) onMtuChanged(ev mtuChanged) (ClientState, []effect, error) {
	var effects []effect
	if ev.err != nil {
		effects = append(effects, warn("MTU negotiation failed, using %d: %v", chunk.DefaultMTU, ev.err))
	} else {
		m.mtu = chunk.ClampMTU(ev.mtu)
		m.in.MaxPayload = m.payload()
	}

	if m.state != ClientNegotiatingMtu {
		return m.state, effects, nil
	}

	if m.hasIdent {
		effects = append(effects, effect{kind: opRead, char: m.chars.Ident})
		return ClientIdentVerifying, effects, nil
	}

	effects = append(effects, effect{kind: opEnableNotify, char: m.chars.Server2Client})
	return ClientSubscribingNotifications, effects, nil
}

func (m *clientMachine) onCharacteristicRead(ev characteristicRead) (ClientState, []effect, error) {
	if m.state != ClientIdentVerifying || ev.char != m.chars.Ident {
		return m.state, nil, nil
	}

	var effects []effect
	switch {
	case ev.err != nil:
		effects = append(effects, warn("ident read failed, continuing: %v", ev.err))
	case m.ident != nil && !bytes.Equal(ev.value, m.ident):
		// Mismatch is tolerated: Ident only helps the client spot a wrong peer.
		effects = append(effects, warn("%v: ident %x does not match expected %x, continuing",
			device.ErrPeerMismatch, ev.value, m.ident))
	}

	effects = append(effects, effect{kind: opEnableNotify, char: m.chars.Server2Client})
	return ClientSubscribingNotifications, effects, nil
}

func (m *clientMachine) onDescriptorWritten(ev descriptorWritten) (ClientState, []effect, error) {
	if m.state != ClientSubscribingNotifications {
		return m.state, nil, nil
	}
	if ev.err != nil {
		return m.abort(fmt.Errorf("enabling notifications on %s failed: %w", m.chars.Name(ev.char), device.NormalizeError(ev.err)))
	}

	switch ev.char {
	case m.chars.Server2Client:
		return m.state, []effect{{kind: opEnableNotify, char: m.chars.State}}, nil
	case m.chars.State:
		return ClientAwaitingStateAck, []effect{{
			kind:         opWrite,
			char:         m.chars.State,
			value:        []byte{StateStart},
			withResponse: true,
		}}, nil
	}
	return m.state, []effect{fail(device.NewProtocolViolation("descriptor write on unexpected characteristic %s", m.chars.Name(ev.char)))}, nil
}

func (m *clientMachine) onCharacteristicWritten(ev characteristicWritten) (ClientState, []effect, error) {
	switch ev.char {
	case m.chars.State:
		if m.state != ClientAwaitingStateAck {
			return m.state, nil, nil
		}
		if ev.err != nil {
			return m.abort(fmt.Errorf("state write failed: %w", device.NormalizeError(ev.err)))
		}
		return ClientPeerConnected, []effect{{kind: emitPeerConnected}}, nil

	case m.chars.Client2Server:
		if ev.err != nil {
			m.out.clear()
			return m.state, []effect{fail(fmt.Errorf("transmission failed: %w", device.NormalizeError(ev.err)))}, nil
		}
		sent, total, ok := m.out.complete()
		if !ok {
			return m.state, []effect{warn("unexpected write completion on Client2Server")}, nil
		}
		progress := effect{kind: emitProgress, sent: sent, total: total}
		effects, err := m.pump()
		if err != nil {
			return m.state, []effect{progress, fail(err)}, nil
		}
		return m.state, append([]effect{progress}, effects...), nil
	}

	return m.state, []effect{fail(device.NewProtocolViolation("write completion on unexpected characteristic %s", m.chars.Name(ev.char)))}, nil
}

func (m *clientMachine) onCharacteristicChanged(ev characteristicChanged) (ClientState, []effect, error) {
	switch ev.char {
	case m.chars.Server2Client:
		if m.state != ClientPeerConnected {
			return m.state, []effect{fail(device.NewProtocolViolation("data notification in state %s", m.state))}, nil
		}
		message, done, err := m.in.Feed(ev.value)
		if err != nil {
			return m.state, []effect{fail(err)}, nil
		}
		if done {
			return m.state, []effect{{kind: emitMessage, value: message}}, nil
		}
		return m.state, nil, nil

	case m.chars.State:
		if len(ev.value) != 1 {
			return m.state, []effect{fail(device.NewProtocolViolation("state notification of %d bytes", len(ev.value)))}, nil
		}
		if ev.value[0] != StateTermination {
			return m.state, []effect{fail(device.NewProtocolViolation("unexpected state value 0x%02x", ev.value[0]))}, nil
		}
		m.out.clear()
		return ClientTerminated, []effect{
			{kind: opDisconnect, bestEffort: true},
			{kind: emitTermination},
		}, nil
	}

	return m.state, []effect{fail(device.NewProtocolViolation("notification on unexpected characteristic %s", m.chars.Name(ev.char)))}, nil
}

// pump releases the next outbound chunk when none is in flight
func (m *clientMachine) pump() ([]effect, error) {
	c, err := m.out.take(m.payload())
	if err != nil {
		m.out.clear()
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return []effect{{kind: opWrite, char: m.chars.Client2Server, value: c, data: true}}, nil
}
