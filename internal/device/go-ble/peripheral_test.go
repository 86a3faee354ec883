package goble

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/mdlble/internal/device"
	"github.com/srg/mdlble/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type addr string

func (a addr) String() string { return string(a) }

type fakeConn struct {
	address string
	mtu     int

	mu     sync.Mutex
	closed int
}

func (c *fakeConn) RemoteAddr() ble.Addr { return addr(c.address) }
func (c *fakeConn) TxMTU() int           { return c.mtu }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// watchedConn exposes a disconnect channel like a real ble.Conn
type watchedConn struct {
	*fakeConn
	disconnected chan struct{}
}

func (c *watchedConn) Disconnected() <-chan struct{} { return c.disconnected }

type fakeNotifier struct {
	ctx    context.Context
	cancel context.CancelFunc
	err    error

	mu     sync.Mutex
	writes [][]byte
}

func newFakeNotifier() *fakeNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeNotifier{ctx: ctx, cancel: cancel}
}

func (n *fakeNotifier) Context() context.Context { return n.ctx }

func (n *fakeNotifier) Write(b []byte) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writes = append(n.writes, b)
	return len(b), n.err
}

func (n *fakeNotifier) Writes() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.writes...)
}

type peripheralRecord struct {
	op        string
	address   string
	char      string
	value     []byte
	connected bool
	mtu       int
	err       error
}

type peripheralRecorder struct {
	ch chan peripheralRecord
}

func newPeripheralRecorder() *peripheralRecorder {
	return &peripheralRecorder{ch: make(chan peripheralRecord, 64)}
}

func (r *peripheralRecorder) OnConnectionStateChange(address string, connected bool) {
	r.ch <- peripheralRecord{op: "connection", address: address, connected: connected}
}

func (r *peripheralRecorder) OnMtuChanged(address string, mtu int) {
	r.ch <- peripheralRecord{op: "mtu", address: address, mtu: mtu}
}

func (r *peripheralRecorder) OnCharacteristicWrite(address, char string, value []byte) {
	r.ch <- peripheralRecord{op: "write", address: address, char: char, value: value}
}

func (r *peripheralRecorder) OnNotificationSent(address, char string, err error) {
	r.ch <- peripheralRecord{op: "notified", address: address, char: char, err: err}
}

func (r *peripheralRecorder) next(t *testing.T) peripheralRecord {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(testutils.WaitTimeout):
		t.Fatal("timed out waiting for peripheral event")
		return peripheralRecord{}
	}
}

func (r *peripheralRecorder) ops(t *testing.T, n int) []string {
	t.Helper()
	out := make([]string, n)
	for i := range out {
		out[i] = r.next(t).op
	}
	return out
}

var testSpec = device.ServiceSpec{
	UUID: testServiceUUID,
	Characteristics: []device.CharacteristicSpec{
		{UUID: "00000005-a123-48ce-896b-4c76973373e6", Properties: device.PropNotify | device.PropWriteNoResponse},
		{UUID: "00000006-a123-48ce-896b-4c76973373e6", Properties: device.PropWriteNoResponse},
		{UUID: "00000007-a123-48ce-896b-4c76973373e6", Properties: device.PropNotify},
		{UUID: "00000008-a123-48ce-896b-4c76973373e6", Properties: device.PropRead, Value: []byte{0xde, 0xad}},
	},
}

const (
	stateChar  = "00000005a12348ce896b4c76973373e6"
	c2sChar    = "00000006a12348ce896b4c76973373e6"
	s2cChar    = "00000007a12348ce896b4c76973373e6"
	centralMAC = "11:22:33:44:55:66"
)

func openPeripheral(t *testing.T) (*Peripheral, *testutils.MockDevice, *peripheralRecorder) {
	t.Helper()
	host := &testutils.MockDevice{}
	host.On("RemoveAllServices").Return(nil).Maybe()

	p := NewPeripheral(host, testutils.NewTestHelper(t).Logger)
	events := newPeripheralRecorder()
	require.NoError(t, p.Open(events))
	t.Cleanup(func() { _ = p.Close() })
	return p, host, events
}

// subscribe parks a subscription handler and waits until Notify accepts it
func subscribe(t *testing.T, p *Peripheral, conn peerConn, char string, n *fakeNotifier) {
	t.Helper()
	go p.onSubscribe(conn, char, n)
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		pr, ok := p.peers[conn.RemoteAddr().String()]
		return ok && pr.notifiers[char] != nil
	}, testutils.WaitTimeout, 5*time.Millisecond)
}

func TestPeripheral_OpenAndAddServiceOrder(t *testing.T) {
	host := &testutils.MockDevice{}
	p := NewPeripheral(host, nil)

	err := p.AddService(testSpec)
	assert.True(t, device.IsKind(err, device.ProtocolViolation), "AddService before Open")

	require.NoError(t, p.Open(newPeripheralRecorder()))
	assert.True(t, device.IsKind(p.Open(newPeripheralRecorder()), device.ProtocolViolation), "second Open")

	host.On("RemoveAllServices").Return(nil)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	host.AssertNumberOfCalls(t, "RemoveAllServices", 1)

	require.NoError(t, p.Open(newPeripheralRecorder()), "a closed server can be reopened")
	require.NoError(t, p.Close())
}

func TestPeripheral_AddServiceBuildsGattService(t *testing.T) {
	p, host, _ := openPeripheral(t)

	var svc *ble.Service
	host.On("AddService", mock.Anything).
		Run(func(args mock.Arguments) { svc = args.Get(0).(*ble.Service) }).
		Return(nil)

	require.NoError(t, p.AddService(testSpec))
	require.NotNil(t, svc)

	assert.Equal(t, device.NormalizeUUID(testServiceUUID), device.NormalizeUUID(svc.UUID.String()))
	require.Len(t, svc.Characteristics, 4)

	state, c2s, s2c, ident := svc.Characteristics[0], svc.Characteristics[1], svc.Characteristics[2], svc.Characteristics[3]
	assert.Equal(t, stateChar, device.NormalizeUUID(state.UUID.String()))
	assert.Equal(t, ble.CharNotify|ble.CharWriteNR, state.Property)
	assert.NotNil(t, state.WriteHandler)
	assert.NotNil(t, state.NotifyHandler)

	assert.Equal(t, ble.CharWriteNR, c2s.Property)
	assert.NotNil(t, c2s.WriteHandler)
	assert.Nil(t, c2s.NotifyHandler)

	assert.Equal(t, ble.CharNotify, s2c.Property)
	assert.Nil(t, s2c.WriteHandler)

	assert.Equal(t, ble.CharRead, ident.Property)
	assert.Equal(t, []byte{0xde, 0xad}, ident.Value)
}

func TestPeripheral_AddServiceErrors(t *testing.T) {
	t.Run("platform refusal", func(t *testing.T) {
		p, host, _ := openPeripheral(t)
		host.On("AddService", mock.Anything).Return(errors.New("operation not permitted"))

		err := p.AddService(testSpec)
		assert.True(t, device.IsKind(err, device.PermissionDenied))
	})

	t.Run("invalid characteristic UUID", func(t *testing.T) {
		p, host, _ := openPeripheral(t)
		spec := device.ServiceSpec{UUID: testServiceUUID, Characteristics: []device.CharacteristicSpec{{UUID: "xyz"}}}

		err := p.AddService(spec)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid characteristic UUID")
		host.AssertNotCalled(t, "AddService", mock.Anything)
	})
}

func TestPeripheral_FirstWriteReportsConnection(t *testing.T) {
	p, _, events := openPeripheral(t)
	conn := &fakeConn{address: centralMAC, mtu: 247}

	p.onWrite(conn, stateChar, []byte{0x01})
	p.onWrite(conn, c2sChar, []byte{0x00, 0xaa})

	ev := events.next(t)
	assert.Equal(t, peripheralRecord{op: "connection", address: centralMAC, connected: true}, ev)
	ev = events.next(t)
	assert.Equal(t, peripheralRecord{op: "mtu", address: centralMAC, mtu: 247}, ev)
	ev = events.next(t)
	assert.Equal(t, peripheralRecord{op: "write", address: centralMAC, char: stateChar, value: []byte{0x01}}, ev)
	ev = events.next(t)
	assert.Equal(t, peripheralRecord{op: "write", address: centralMAC, char: c2sChar, value: []byte{0x00, 0xaa}}, ev)
}

func TestPeripheral_Notify(t *testing.T) {
	p, _, events := openPeripheral(t)
	conn := &fakeConn{address: centralMAC, mtu: 100}
	n := newFakeNotifier()
	defer n.cancel()

	assert.True(t, device.IsKind(p.Notify(centralMAC, s2cChar, []byte{1}), device.NotConnected), "unknown central")

	subscribe(t, p, conn, s2cChar, n)
	assert.Equal(t, []string{"connection", "mtu"}, events.ops(t, 2))

	assert.True(t, device.IsKind(p.Notify(centralMAC, stateChar, []byte{1}), device.ProtocolViolation), "not subscribed")

	require.NoError(t, p.Notify(centralMAC, "00000007-A123-48CE-896B-4C76973373E6", []byte{0x01, 0xaa}))
	ev := events.next(t)
	assert.Equal(t, peripheralRecord{op: "notified", address: centralMAC, char: s2cChar}, ev)
	assert.Equal(t, [][]byte{{0x01, 0xaa}}, n.Writes())

	n.err = errors.New("device not connected")
	require.NoError(t, p.Notify(centralMAC, s2cChar, []byte{0x00}))
	ev = events.next(t)
	assert.True(t, device.IsKind(ev.err, device.NotConnected))
}

func TestPeripheral_UnsubscribeDropsNotifier(t *testing.T) {
	p, _, events := openPeripheral(t)
	conn := &fakeConn{address: centralMAC, mtu: 100}
	n := newFakeNotifier()

	subscribe(t, p, conn, s2cChar, n)
	events.ops(t, 2)

	n.cancel()
	require.Eventually(t, func() bool {
		return device.IsKind(p.Notify(centralMAC, s2cChar, []byte{1}), device.ProtocolViolation)
	}, testutils.WaitTimeout, 5*time.Millisecond)
}

func TestPeripheral_Disconnect(t *testing.T) {
	t.Run("link loss", func(t *testing.T) {
		p, _, events := openPeripheral(t)
		conn := &watchedConn{fakeConn: &fakeConn{address: centralMAC, mtu: 23}, disconnected: make(chan struct{})}

		p.onWrite(conn, stateChar, []byte{0x01})
		events.ops(t, 3)

		close(conn.disconnected)
		assert.Equal(t, peripheralRecord{op: "connection", address: centralMAC}, events.next(t))
		assert.True(t, device.IsKind(p.CancelConnection(centralMAC), device.NotConnected))
	})

	t.Run("cancel connection", func(t *testing.T) {
		p, _, events := openPeripheral(t)
		conn := &fakeConn{address: centralMAC, mtu: 23}

		p.onWrite(conn, stateChar, []byte{0x01})
		events.ops(t, 3)

		require.NoError(t, p.CancelConnection(centralMAC))
		assert.Equal(t, peripheralRecord{op: "connection", address: centralMAC}, events.next(t))
		assert.Equal(t, 1, conn.closeCount())
	})

	t.Run("unknown central", func(t *testing.T) {
		p, _, _ := openPeripheral(t)
		assert.True(t, device.IsKind(p.CancelConnection(centralMAC), device.NotConnected))
	})
}

func TestPeripheral_CloseForgetsCentrals(t *testing.T) {
	p, host, events := openPeripheral(t)
	conn := &fakeConn{address: centralMAC, mtu: 23}

	p.onWrite(conn, stateChar, []byte{0x01})
	events.ops(t, 3)

	require.NoError(t, p.Close())
	assert.Equal(t, 1, conn.closeCount())
	host.AssertCalled(t, "RemoveAllServices")

	p.onWrite(conn, stateChar, []byte{0x02})
	select {
	case ev := <-events.ch:
		t.Fatalf("unexpected event after close: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
	assert.True(t, device.IsKind(p.Notify(centralMAC, s2cChar, nil), device.NotConnected))
}
