package presentment

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/srg/mdlble/internal/device"
	"github.com/srg/mdlble/internal/testutils"
	"github.com/stretchr/testify/suite"
)

const (
	holderAddress = "AA:BB:CC:DD:EE:01"
	readerAddress = "11:22:33:44:55:01"
	testService   = "4c0a1f6e-8a34-4b70-a7e2-2a5e3f3c9b11"
)

var testIdent = []byte{0x1b, 0x5c, 0x20, 0x7f, 0x33, 0x01, 0x9a, 0xee, 0x42, 0x10, 0x07, 0xd4, 0x8c, 0x21, 0x6e, 0x05}

// party records what one side of an exchange publishes
type party struct {
	mu       sync.Mutex
	states   []string
	last     *StateBag
	messages [][]byte
}

func (p *party) Update(bag *StateBag) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if n := len(p.states); n == 0 || p.states[n-1] != bag.State() {
		p.states = append(p.states, bag.State())
	}
	p.last = bag
}

func (p *party) onMessage(message []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, message)
}

func (p *party) state() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return ""
	}
	return p.last.State()
}

func (p *party) bag() *StateBag {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return NewStateBag()
	}
	return p.last.Clone()
}

func (p *party) seen(state string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.states {
		if s == state {
			return true
		}
	}
	return false
}

// history returns the published states in order, without Idle
func (p *party) history() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, st := range p.states {
		if st != StateIdle {
			out = append(out, st)
		}
	}
	return out
}

func (p *party) received() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.messages...)
}

type TransportSuite struct {
	suite.Suite
	helper *testutils.TestHelper

	ether     *testutils.Ether
	holderDev *testutils.FakeAdapter
	readerDev *testutils.FakeAdapter

	holder, reader           *Transport
	holderParty, readerParty *party
}

func (s *TransportSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.ether = testutils.NewEther()
	s.holderDev = s.ether.Adapter(holderAddress, "Holder Phone")
	s.readerDev = s.ether.Adapter(readerAddress, "Reader Terminal")

	s.holder = NewTransport(s.holderDev, Settings{AppTag: DefaultAppTag, Logger: s.helper.Logger})
	s.reader = NewTransport(s.readerDev, Settings{AppTag: DefaultAppTag, Logger: s.helper.Logger})
	s.holderParty, s.readerParty = &party{}, &party{}
}

func (s *TransportSuite) TearDownTest() {
	s.NoError(s.holder.Close())
	s.NoError(s.reader.Close())
}

func (s *TransportSuite) waitState(p *party, state string) {
	s.T().Helper()
	s.helper.WaitFor(func() bool { return p.state() == state },
		"want %s, have %s", state, p.bag().Format())
}

func (s *TransportSuite) initialize(t *Transport, p *party, session Session) {
	s.T().Helper()
	s.Require().NoError(t.Initialize(context.Background(), session, p.onMessage, p))
}

// connectHolderPeripheral brings up mdoc peripheral server mode: the holder advertises
// and the reader connects.
func (s *TransportSuite) connectHolderPeripheral(readerIdent []byte) {
	s.initialize(s.holder, s.holderParty, Session{
		ID: uuid.New(), Role: Holder, Method: MethodBLE, Option: OptionPeripheral, Ident: testIdent,
	})
	s.waitState(s.holderParty, StateAdvertising)

	svc := s.holder.ServiceUUID()
	s.Require().NotEmpty(svc, "advertising side generates the service UUID")

	s.initialize(s.reader, s.readerParty, Session{
		ID: uuid.New(), Role: Reader, Method: MethodBLE, Option: OptionCentral, ServiceUUID: svc, Ident: readerIdent,
	})
	s.waitState(s.readerParty, StateConnected)
	s.waitState(s.holderParty, StateConnected)
}

// connectReaderPeripheral brings up mdoc central client mode: the reader advertises
// and the holder connects.
func (s *TransportSuite) connectReaderPeripheral() {
	s.initialize(s.reader, s.readerParty, Session{
		ID: uuid.New(), Role: Reader, Method: MethodBLE, Option: OptionPeripheral,
	})
	s.waitState(s.readerParty, StateAdvertising)

	s.initialize(s.holder, s.holderParty, Session{
		ID: uuid.New(), Role: Holder, Method: MethodBLE, Option: OptionCentral, ServiceUUID: s.reader.ServiceUUID(),
	})
	s.waitState(s.holderParty, StateConnected)
	s.waitState(s.readerParty, StateConnected)
}

func (s *TransportSuite) exchange() {
	request := bytes.Repeat([]byte("DeviceRequest;"), 64)
	response := bytes.Repeat([]byte("DeviceResponse;"), 128)

	s.Require().NoError(s.reader.Send(request))
	s.helper.WaitFor(func() bool { return len(s.holderParty.received()) == 1 })
	s.Equal(request, s.holderParty.received()[0])

	s.Require().NoError(s.holder.Send(response))
	s.helper.WaitFor(func() bool { return len(s.readerParty.received()) == 1 })
	s.Equal(response, s.readerParty.received()[0])
}

func (s *TransportSuite) TestHolderPeripheralExchange() {
	s.connectHolderPeripheral(testIdent)
	s.exchange()

	bag := s.holderParty.bag()
	s.Equal(readerAddress, bag.String(KeyPeer))
	s.Equal("holder", bag.String(KeyRole))
	s.Equal("peripheral", bag.String(KeyOption))
	s.Equal(s.holder.ServiceUUID(), bag.String(KeyServiceUUID))

	s.helper.WaitFor(func() bool {
		on, _, _ := s.holderDev.Advertising()
		return !on
	}, "advertising stops once a reader is bound")
}

func (s *TransportSuite) TestReaderPeripheralExchange() {
	s.connectReaderPeripheral()
	s.exchange()

	s.Equal(readerAddress, s.holderParty.bag().String(KeyPeer))
	s.helper.WaitFor(func() bool {
		bag := s.holderParty.bag()
		return bag.Int(KeyProgressTotal) > 0 && bag.Int(KeyProgressSent) == bag.Int(KeyProgressTotal)
	})
}

func (s *TransportSuite) TestHolderStatesInOrder() {
	s.connectHolderPeripheral(testIdent)
	s.Equal([]string{StateAdvertising, StateConnected}, s.holderParty.history())
	s.Equal([]string{StateScanning, StateConnecting, StateConnected}, s.readerParty.history())
}

func (s *TransportSuite) TestTerminateFromReader() {
	s.connectHolderPeripheral(testIdent)

	s.Require().NoError(s.reader.Terminate())
	s.waitState(s.readerParty, StateTerminated)
	s.helper.WaitFor(func() bool { return s.holderParty.seen(StateTerminated) })
}

func (s *TransportSuite) TestTerminateFromHolder() {
	s.connectHolderPeripheral(testIdent)

	s.Require().NoError(s.holder.Terminate())
	s.waitState(s.holderParty, StateTerminated)
	s.helper.WaitFor(func() bool { return s.readerParty.seen(StateTerminated) })
}

func (s *TransportSuite) TestAdapterRenamedWhileActive() {
	s.initialize(s.holder, s.holderParty, Session{
		ID: uuid.MustParse("1a2b3c4d-0000-4000-8000-000000000000"), Role: Holder, Option: OptionPeripheral,
	})
	s.waitState(s.holderParty, StateAdvertising)

	s.Equal("mDL 1a2b3c4d", s.holderDev.Name())
	_, name, svc := s.holderDev.Advertising()
	s.Equal("mDL 1a2b3c4d", name)
	s.Equal(s.holder.ServiceUUID(), svc)

	s.Require().NoError(s.holder.Close())
	s.Equal("Holder Phone", s.holderDev.Name())
	s.Equal([]string{"mDL 1a2b3c4d", "Holder Phone"}, s.holderDev.NameHistory())
}

func (s *TransportSuite) TestRenameFailureOnlyWarns() {
	s.holderDev.SetNameErr = errors.New("adapter is read-only")
	s.initialize(s.holder, s.holderParty, Session{ID: uuid.New(), Role: Holder, Option: OptionPeripheral})
	s.waitState(s.holderParty, StateAdvertising)

	s.Equal("Holder Phone", s.holderDev.Name())
	s.Empty(s.holderDev.NameHistory())
}

func (s *TransportSuite) TestUnsupportedRetrieval() {
	tests := []struct {
		name    string
		session Session
	}{
		{"nfc", Session{Method: MethodNFC, Option: OptionPeripheral}},
		{"wifi-aware", Session{Method: MethodWiFiAware, Option: OptionPeripheral}},
		{"l2cap", Session{Method: MethodBLE, Option: OptionL2CAP, ServiceUUID: testService}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			err := s.holder.Initialize(context.Background(), tt.session, nil, nil)
			s.True(device.IsKind(err, device.Unsupported), "%v", err)
			s.Nil(s.holder.Orchestrator())
		})
	}
}

func (s *TransportSuite) TestScanningRequiresServiceUUID() {
	err := s.holder.Initialize(context.Background(), Session{Role: Holder, Option: OptionCentral}, nil, nil)
	s.Error(err)
	s.Nil(s.holder.Orchestrator())
}

func (s *TransportSuite) TestCallsBeforeInitialize() {
	err := s.holder.Send([]byte{1})
	s.True(device.IsKind(err, device.NotConnected))
	s.NoError(s.holder.Terminate())
	s.NoError(s.holder.HardReset())

	_, err = s.holder.State()
	s.ErrorIs(err, ErrNotInitialized)
}

func (s *TransportSuite) TestScanTimeoutFails() {
	reader := NewTransport(s.readerDev, Settings{ScanTimeout: 50 * time.Millisecond, Logger: s.helper.Logger})
	defer reader.Close()

	s.Require().NoError(reader.Initialize(context.Background(), Session{
		ID: uuid.New(), Role: Reader, Option: OptionCentral, ServiceUUID: testService,
	}, nil, s.readerParty))

	s.waitState(s.readerParty, StateFailed)
	s.Equal(string(device.NotConnected), s.readerParty.bag().String(KeyErrorKind))
	s.Contains(s.readerParty.bag().String(KeyError), "timed out")
}

func (s *TransportSuite) TestScanFailureFails() {
	s.readerDev.ScanErr = errors.New("radio unavailable")
	s.initialize(s.reader, s.readerParty, Session{ID: uuid.New(), Role: Reader, Option: OptionCentral, ServiceUUID: testService})

	s.waitState(s.readerParty, StateFailed)
	s.Contains(s.readerParty.bag().String(KeyError), "radio unavailable")
}

func (s *TransportSuite) TestAdvertiseFailureFails() {
	s.holderDev.AdvertiseErr = errors.New("advertising busy")
	s.initialize(s.holder, s.holderParty, Session{ID: uuid.New(), Role: Holder, Option: OptionPeripheral})

	s.waitState(s.holderParty, StateFailed)
	s.Contains(s.holderParty.bag().String(KeyError), "advertising busy")
}

func (s *TransportSuite) TestHardResetAllowsRestart() {
	s.connectReaderPeripheral()

	s.Require().NoError(s.holder.HardReset())
	s.waitState(s.holderParty, StateIdle)
	bag := s.holderParty.bag()
	_, hasPeer := bag.Get(KeyPeer)
	s.False(hasPeer, "reset drops session attributes")
	s.Equal("Holder Phone", s.holderDev.Name())

	s.Require().NoError(s.holder.Orchestrator().Start(context.Background()))
	s.helper.WaitFor(func() bool {
		st := s.holderParty.state()
		return st == StateScanning || st == StateConnecting || st == StateConnected
	})
}

func (s *TransportSuite) TestInitializeReplacesSession() {
	s.initialize(s.holder, s.holderParty, Session{ID: uuid.New(), Role: Holder, Option: OptionPeripheral})
	s.waitState(s.holderParty, StateAdvertising)
	first := s.holder.Orchestrator()

	next := &party{}
	s.initialize(s.holder, next, Session{ID: uuid.New(), Role: Holder, Option: OptionCentral, ServiceUUID: testService})
	s.waitState(next, StateScanning)

	s.NotSame(first, s.holder.Orchestrator())
	s.helper.WaitFor(func() bool {
		on, _, _ := s.holderDev.Advertising()
		return !on
	}, "previous session stopped advertising")
}

func (s *TransportSuite) TestJournalRecordsSession() {
	s.connectHolderPeripheral(testIdent)

	var lines []string
	for _, e := range s.holder.Journal().Drain() {
		lines = append(lines, e.Text)
	}
	joined := strings.Join(lines, "\n")
	s.Contains(joined, "initialize role=holder option=peripheral")
	s.Contains(joined, "[holder-peripheral] state state=Connected")
}

func (s *TransportSuite) TestStateSnapshot() {
	s.initialize(s.holder, s.holderParty, Session{ID: uuid.New(), Role: Holder, Option: OptionPeripheral})
	s.waitState(s.holderParty, StateAdvertising)

	bag, err := s.holder.State()
	s.Require().NoError(err)
	s.Equal(StateAdvertising, bag.State())
}

func TestTransportSuite(t *testing.T) {
	suite.Run(t, new(TransportSuite))
}
