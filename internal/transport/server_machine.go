package transport

import (
	"fmt"

	"github.com/srg/mdlble/internal/chunk"
	"github.com/srg/mdlble/internal/device"
)

// ServerState is the state of a ServerSession
type ServerState int32

const (
	ServerIdle ServerState = iota
	ServerServiceStarted
	ServerAwaitingPeer
	ServerHandshakeInProgress
	ServerPeerConnected
	ServerTerminated
)

var serverStateNames = [...]string{
	"Idle",
	"ServiceStarted",
	"AwaitingPeer",
	"HandshakeInProgress",
	"PeerConnected",
	"Terminated",
}

func (s ServerState) String() string {
	if s >= 0 && int(s) < len(serverStateNames) {
		return serverStateNames[s]
	}
	return fmt.Sprintf("ServerState(%d)", int32(s))
}

type serverEvent interface{ serverEvent() }

type (
	startRequested struct{ ident []byte }
	peerConnection struct {
		address   string
		connected bool
	}
	peerMtu struct {
		address string
		mtu     int
	}
	peerWrite struct {
		address string
		char    string
		value   []byte
	}
	notificationSent struct {
		address string
		char    string
		err     error
	}
	stopRequested struct{}
)

func (startRequested) serverEvent() {}
func (peerConnection) serverEvent() {}
func (peerMtu) serverEvent() {}
func (peerWrite) serverEvent() {}
func (notificationSent) serverEvent() {}
func (sendRequested) serverEvent() {}
func (terminateRequested) serverEvent() {}
func (stopRequested) serverEvent() {}
func (resetRequested) serverEvent() {}

// serverMachine is the GATT server transition function plus the data it owns
type serverMachine struct {
	state   ServerState
	service string
	chars   CharacteristicSet

	// peer is the bound PeerConnection; empty until a central writes StateStart
	peer      string
	connected map[string]bool
	mtus      map[string]int
	out       outbox
	in        *chunk.Decoder
}

func newServerMachine(service string, chars CharacteristicSet) *serverMachine {
	return &serverMachine{
		state:     ServerIdle,
		service:   device.NormalizeUUID(service),
		chars:     chars,
		connected: make(map[string]bool),
		mtus:      make(map[string]int),
		in:        chunk.NewDecoder(chunk.PayloadSize(0)),
	}
}

// payload returns the chunk payload bound towards address
func (m *serverMachine) payload(address string) int {
	return chunk.PayloadSize(m.mtus[address])
}

// serviceSpec builds the mdoc GATT service. The Ident characteristic is added only when
// ident is non-nil and the mode defines one.
func (m *serverMachine) serviceSpec(ident []byte) device.ServiceSpec {
	spec := device.ServiceSpec{
		UUID: m.service,
		Characteristics: []device.CharacteristicSpec{
			// Write is kept next to write-without-response: clients send StateStart as a
			// write request and expect a response.
			{UUID: m.chars.State, Properties: device.PropNotify | device.PropWriteNoResponse | device.PropWrite},
			{UUID: m.chars.Client2Server, Properties: device.PropWriteNoResponse},
			{UUID: m.chars.Server2Client, Properties: device.PropNotify},
		},
	}
	if ident != nil && m.chars.Ident != "" {
		spec.Characteristics = append(spec.Characteristics, device.CharacteristicSpec{
			UUID:       m.chars.Ident,
			Properties: device.PropRead,
			Value:      append([]byte(nil), ident...),
		})
	}
	return spec
}

func (m *serverMachine) step(ev serverEvent) (ServerState, []effect, error) {
	switch ev := ev.(type) {
	case startRequested:
		if m.state != ServerIdle {
			return m.state, nil, ErrAlreadyStarted
		}
		return ServerAwaitingPeer, []effect{
			{kind: opOpen},
			enter(ServerServiceStarted),
			{kind: opAddService, service: m.serviceSpec(ev.ident)},
		}, nil

	case peerConnection:
		return m.onPeerConnection(ev)

	case peerMtu:
		m.mtus[ev.address] = chunk.ClampMTU(ev.mtu)
		if ev.address == m.peer {
			m.in.MaxPayload = m.payload(m.peer)
		}
		return m.state, nil, nil

	case peerWrite:
		return m.onPeerWrite(ev)

	case notificationSent:
		return m.onNotificationSent(ev)

	case sendRequested:
		if m.state != ServerPeerConnected {
			return m.state, nil, device.NewNotConnected("send")
		}
		m.out.enqueue(ev.message)
		effects, err := m.pump()
		return m.state, effects, err

	case terminateRequested:
		if m.peer == "" || m.state != ServerPeerConnected {
			return m.state, []effect{info("termination skipped in state %s", m.state)}, nil
		}
		return m.state, []effect{{
			kind:       opNotify,
			address:    m.peer,
			char:       m.chars.State,
			value:      []byte{StateTermination},
			bestEffort: true,
		}}, nil

	case stopRequested:
		var effects []effect
		if m.peer != "" {
			effects = append(effects, effect{kind: opCancel, address: m.peer, bestEffort: true})
		}
		if m.state != ServerIdle {
			effects = append(effects, effect{kind: opClose, bestEffort: true})
		}
		m.clear()
		return ServerIdle, effects, nil

	case resetRequested:
		var effects []effect
		if m.peer != "" {
			effects = append(effects, effect{kind: opCancel, address: m.peer, bestEffort: true})
		}
		m.clear()
		if m.state == ServerIdle {
			return ServerIdle, effects, nil
		}
		return ServerAwaitingPeer, effects, nil
	}

	return m.state, nil, fmt.Errorf("transport: unhandled server event %T", ev)
}

func (m *serverMachine) clear() {
	m.peer = ""
	m.connected = make(map[string]bool)
	m.mtus = make(map[string]int)
	m.out.clear()
	m.in.Reset()
	m.in.MaxPayload = chunk.PayloadSize(0)
}

func (m *serverMachine) onPeerConnection(ev peerConnection) (ServerState, []effect, error) {
	if ev.connected {
		m.connected[ev.address] = true
		if m.state == ServerAwaitingPeer {
			return ServerHandshakeInProgress, []effect{info("central %s connected", ev.address)}, nil
		}
		return m.state, nil, nil
	}

	delete(m.connected, ev.address)
	delete(m.mtus, ev.address)

	if m.peer != "" && ev.address == m.peer {
		m.out.clear()
		m.in.Reset()
		return ServerTerminated, []effect{{kind: emitPeerDisconnected}}, nil
	}
	if m.state == ServerHandshakeInProgress && len(m.connected) == 0 {
		return ServerAwaitingPeer, nil, nil
	}
	return m.state, nil, nil
}

func (m *serverMachine) onPeerWrite(ev peerWrite) (ServerState, []effect, error) {
	switch ev.char {
	case m.chars.State:
		return m.onStateWrite(ev)

	case m.chars.Client2Server:
		if m.peer == "" {
			return m.state, []effect{fail(device.NewProtocolViolation("Client2Server write from %s before a peer is bound", ev.address))}, nil
		}
		if ev.address != m.peer {
			return m.state, []effect{warn("ignoring Client2Server write from %s, bound peer is %s", ev.address, m.peer)}, nil
		}
		if m.state != ServerPeerConnected {
			return m.state, nil, nil
		}
		m.in.MaxPayload = m.payload(m.peer)
		message, done, err := m.in.Feed(ev.value)
		if err != nil {
			return m.state, []effect{fail(err)}, nil
		}
		if done {
			return m.state, []effect{{kind: emitMessage, value: message}}, nil
		}
		return m.state, nil, nil
	}

	return m.state, []effect{fail(device.NewProtocolViolation("write from %s on unexpected characteristic %s", ev.address, m.chars.Name(ev.char)))}, nil
}

func (m *serverMachine) onStateWrite(ev peerWrite) (ServerState, []effect, error) {
	if len(ev.value) != 1 {
		return m.state, []effect{fail(device.NewProtocolViolation("state write of %d bytes from %s", len(ev.value), ev.address))}, nil
	}

	switch ev.value[0] {
	case StateStart:
		switch {
		case m.peer == ev.address:
			return m.state, nil, nil
		case m.peer != "":
			return m.state, []effect{warn("ignoring start from %s, bound peer is %s", ev.address, m.peer)}, nil
		case m.state != ServerAwaitingPeer && m.state != ServerHandshakeInProgress:
			return m.state, []effect{warn("ignoring start from %s in state %s", ev.address, m.state)}, nil
		}
		m.peer = ev.address
		m.connected[ev.address] = true
		m.in.Reset()
		m.in.MaxPayload = m.payload(m.peer)
		return ServerPeerConnected, []effect{{kind: emitPeerConnected}}, nil

	case StateTermination:
		if ev.address != m.peer {
			return m.state, []effect{warn("ignoring termination from unbound %s", ev.address)}, nil
		}
		m.out.clear()
		m.in.Reset()
		return ServerTerminated, []effect{{kind: emitTermination}}, nil
	}

	return m.state, []effect{fail(device.NewProtocolViolation("unexpected state value 0x%02x from %s", ev.value[0], ev.address))}, nil
}

func (m *serverMachine) onNotificationSent(ev notificationSent) (ServerState, []effect, error) {
	if ev.char != m.chars.Server2Client || ev.address != m.peer {
		return m.state, nil, nil
	}
	if ev.err != nil {
		m.out.clear()
		return m.state, []effect{fail(fmt.Errorf("transmission failed: %w", device.NormalizeError(ev.err)))}, nil
	}

	sent, total, ok := m.out.complete()
	if !ok {
		return m.state, []effect{warn("unexpected notification completion on Server2Client")}, nil
	}
	progress := effect{kind: emitProgress, sent: sent, total: total}
	effects, err := m.pump()
	if err != nil {
		return m.state, []effect{progress, fail(err)}, nil
	}
	return m.state, append([]effect{progress}, effects...), nil
}

func (m *serverMachine) pump() ([]effect, error) {
	c, err := m.out.take(m.payload(m.peer))
	if err != nil {
		m.out.clear()
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return []effect{{kind: opNotify, address: m.peer, char: m.chars.Server2Client, value: c, data: true}}, nil
}
