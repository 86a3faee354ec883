package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/srg/mdlble/internal/device"
	"github.com/srg/mdlble/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stage string

func (s stage) String() string { return string(s) }

// scriptRunner records what applyEffects does and fails the configured ops
type scriptRunner struct {
	fail    map[effectKind]error
	log     []string
	emitted []effectKind
}

func (r *scriptRunner) exec(e effect) error {
	r.log = append(r.log, "exec "+e.kind.String())
	return r.fail[e.kind]
}

func (r *scriptRunner) commit(s fmt.Stringer) {
	r.log = append(r.log, "commit "+s.String())
}

func (r *scriptRunner) emit(e effect) {
	r.log = append(r.log, "emit "+e.kind.String())
	r.emitted = append(r.emitted, e.kind)
}

func TestApplyEffects(t *testing.T) {
	logger := logrus.NewEntry(testutils.NewTestHelper(t).Logger)
	effects := []effect{
		{kind: opRefreshCache, bestEffort: true},
		enter(stage("Middle")),
		{kind: opDiscover},
		{kind: emitPeerConnected},
		info("done"),
	}

	tests := []struct {
		name     string
		fail     map[effectKind]error
		expected []string
		aborts   bool
	}{
		{
			name: "all succeed",
			expected: []string{
				"exec refresh-cache", "commit Middle", "exec discover-services", "commit Last",
				"emit peer-connected", "emit log",
			},
		},
		{
			name: "best effort failure is skipped",
			fail: map[effectKind]error{opRefreshCache: errors.New("nope")},
			expected: []string{
				"exec refresh-cache", "commit Middle", "exec discover-services", "commit Last",
				"emit peer-connected", "emit log",
			},
		},
		{
			name:     "required failure aborts after the reached stage",
			fail:     map[effectKind]error{opDiscover: errors.New("permission denied")},
			expected: []string{"exec refresh-cache", "commit Middle", "exec discover-services"},
			aborts:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &scriptRunner{fail: tt.fail}
			failed, err := applyEffects(r, logger, stage("Last"), effects)
			assert.Equal(t, tt.expected, r.log)
			if !tt.aborts {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, opDiscover, failed.kind)
			assert.True(t, device.IsKind(err, device.PermissionDenied), "platform errors are normalized: %v", err)
			assert.Empty(t, r.emitted)
		})
	}
}

func TestApplyEffects_ListenerBeforeRefusedCall(t *testing.T) {
	logger := logrus.NewEntry(testutils.NewTestHelper(t).Logger)
	effects := []effect{
		{kind: emitProgress, sent: 1, total: 2},
		{kind: opWrite, data: true},
		info("after"),
	}

	r := &scriptRunner{fail: map[effectKind]error{opWrite: errors.New("device not connected")}}
	failed, err := applyEffects(r, logger, stage("Last"), effects)
	require.Error(t, err)
	assert.Equal(t, opWrite, failed.kind)
	assert.Equal(t, []effectKind{emitProgress}, r.emitted)
	assert.NotContains(t, r.log, "commit Last")
}

func TestListenerFuncs_NilFieldsAreSkipped(t *testing.T) {
	var l Listener = ListenerFuncs{}
	assert.NotPanics(t, func() {
		l.OnPeerConnected()
		l.OnPeerDisconnected()
		l.OnMessageReceived([]byte{1})
		l.OnMessageSendProgress(1, 1)
		l.OnTransportSpecificSessionTermination()
		l.OnError(assert.AnError)
		l.OnLog("x")
		l.OnState("y")
	})

	var got []string
	l = ListenerFuncs{
		PeerConnected:     func() { got = append(got, "connected") },
		SessionTerminated: func() { got = append(got, "terminated") },
		Error:             func(err error) { got = append(got, err.Error()) },
	}
	l.OnPeerConnected()
	l.OnTransportSpecificSessionTermination()
	l.OnError(errors.New("boom"))
	l.OnPeerDisconnected()
	assert.Equal(t, []string{"connected", "terminated", "boom"}, got)
}

func TestOutbox(t *testing.T) {
	var o outbox
	c, err := o.take(19)
	require.NoError(t, err)
	assert.Nil(t, c)
	assert.False(t, o.busy())

	o.enqueue(make([]byte, 30))
	c, err = o.take(19)
	require.NoError(t, err)
	assert.Len(t, c, 20)
	assert.True(t, o.busy())

	c, err = o.take(19)
	require.NoError(t, err)
	assert.Nil(t, c, "one chunk in flight at a time")

	sent, total, ok := o.complete()
	assert.True(t, ok)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 2, total)

	_, _, ok = o.complete()
	assert.False(t, ok, "nothing in flight")

	// the in-progress message keeps its framing even if the payload bound changes
	c, err = o.take(100)
	require.NoError(t, err)
	assert.Len(t, c, 12)
	o.complete()
	assert.False(t, o.busy())

	o.enqueue([]byte{1})
	_, err = o.take(0)
	assert.True(t, device.IsKind(err, device.ProtocolViolation))
}
