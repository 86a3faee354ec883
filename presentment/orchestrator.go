package presentment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/mdlble/internal/actor"
	"github.com/srg/mdlble/internal/device"
	"github.com/srg/mdlble/internal/transport"
)

// DefaultAppTag prefixes the adapter name while a session is active
const DefaultAppTag = "mDL"

// Orchestrator runs one (role, option) combination
type Orchestrator interface {
	// Start begins discovery and brings up the GATT session once a peer shows up
	Start(ctx context.Context) error
	// Send queues one message for the peer
	Send(message []byte) error
	// Terminate sends the transport specific session termination and tears down
	Terminate() error
	// HardReset tears down connections and discovery and zeroes all buffers. The
	// orchestrator can be started again.
	HardReset() error
	// Close tears down and releases the sessions
	Close() error
}

// Settings configures orchestrators
type Settings struct {
	// AppTag is the adapter name prefix; the adapter is named "<AppTag> <short id>".
	// Empty leaves the adapter name alone.
	AppTag string
	// ScanTimeout bounds scanning; zero means discovery.DefaultScanTimeout
	ScanTimeout time.Duration
	// Logger defaults to logrus.StandardLogger()
	Logger *logrus.Logger
	// Journal receives diagnostic lines; nil disables it
	Journal *Journal
}

// base holds what every orchestrator shares: the adapter naming, the published StateBag
// and the translation of session callbacks.
type base struct {
	kind     string
	adapter  device.Adapter
	session  Session
	settings Settings
	logger   *logrus.Entry

	onMessage MessageCallback
	delegate  StateDelegate
	// outbox delivers delegate updates and messages in order, off the session goroutines
	outbox *actor.Mailbox

	mu       sync.Mutex
	bag      *StateBag
	origName string
	renamed  bool
}

func newBase(kind string, adapter device.Adapter, session Session, settings Settings,
	onMessage MessageCallback, delegate StateDelegate) *base {
	logger := settings.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	b := &base{
		kind:      kind,
		adapter:   adapter,
		session:   session,
		settings:  settings,
		onMessage: onMessage,
		delegate:  delegate,
		logger: logger.WithFields(logrus.Fields{
			"orchestrator": kind,
			"session":      device.ShortenUUID(session.ID.String()),
		}),
	}
	b.bag = b.baseline()
	b.outbox = actor.Start(context.Background(), "presentment-"+kind)
	return b
}

// deliver runs fn on the outbox goroutine
func (b *base) deliver(fn func()) {
	if err := b.outbox.Post(fn); err != nil {
		b.logger.WithError(err).Debug("Callback dropped")
	}
}

// flush waits until every callback queued so far has run
func (b *base) flush() {
	_ = b.outbox.Call(func() {})
}

// stop flushes and stops callback delivery
func (b *base) stop() {
	b.flush()
	b.outbox.Stop()
}

func (b *base) baseline() *StateBag {
	return NewStateBag().
		Set(KeyState, StateIdle).
		Set(KeyRole, b.session.Role.String()).
		Set(KeyOption, b.session.Option.String()).
		Set(KeySessionID, b.session.ID.String()).
		Set(KeyServiceUUID, b.session.ServiceUUID)
}

// update applies kv pairs (key, value, key, value...) and publishes a snapshot.
// A nil value deletes the key.
func (b *base) update(kv ...any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i := 0; i+1 < len(kv); i += 2 {
		key := kv[i].(string)
		if kv[i+1] == nil {
			b.bag.Delete(key)
			continue
		}
		b.bag.Set(key, kv[i+1])
	}
	snapshot := b.bag.Clone()
	b.journalf("state %s", snapshot.Format())

	if b.delegate != nil {
		b.deliver(func() { b.delegate.Update(snapshot) })
	}
}

// reset returns the bag to its baseline and publishes it
func (b *base) reset(state string) {
	b.mu.Lock()
	b.bag = b.baseline()
	b.mu.Unlock()
	b.update(KeyState, state)
}

func (b *base) snapshot() *StateBag {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bag.Clone()
}

func (b *base) fail(err error) {
	b.logger.WithError(err).Error("Session failed")
	b.update(KeyState, StateFailed, KeyError, err.Error(), KeyErrorKind, errorKind(err))
}

func (b *base) journalf(format string, args ...interface{}) {
	if b.settings.Journal != nil {
		b.settings.Journal.Addf("[%s] "+format, append([]interface{}{b.kind}, args...)...)
	}
}

// rename sets the adapter name to "<AppTag> <short session id>". Failure only warns.
func (b *base) rename() {
	if b.settings.AppTag == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.renamed {
		return
	}

	name := fmt.Sprintf("%s %s", b.settings.AppTag, shortID(b.session))
	orig := b.adapter.Name()
	if err := b.adapter.SetName(name); err != nil {
		b.logger.WithError(err).Warn("Failed to rename adapter")
		return
	}
	b.origName, b.renamed = orig, true
	b.logger.WithFields(logrus.Fields{"from": orig, "to": name}).Debug("Adapter renamed")
}

// restore puts back the adapter name replaced by rename
func (b *base) restore() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.renamed {
		return
	}
	if err := b.adapter.SetName(b.origName); err != nil {
		b.logger.WithError(err).Warn("Failed to restore adapter name")
	}
	b.renamed = false
}

// listener translates session callbacks into StateBag updates
func (b *base) listener(peer func() string) transport.ListenerFuncs {
	return transport.ListenerFuncs{
		PeerConnected: func() {
			b.logger.WithField("peer", peer()).Info("Peer connected")
			b.update(KeyState, StateConnected, KeyPeer, peer())
		},
		PeerDisconnected: func() {
			b.logger.Info("Peer disconnected")
			b.update(KeyState, StateDisconnected)
		},
		MessageReceived: func(message []byte) {
			b.journalf("message received (%d bytes)", len(message))
			if b.onMessage != nil {
				b.deliver(func() { b.onMessage(message) })
			}
		},
		MessageSendProgress: func(sent, total int) {
			b.update(KeyProgressSent, sent, KeyProgressTotal, total)
		},
		SessionTerminated: func() {
			b.logger.Info("Peer terminated the session")
			b.update(KeyState, StateTerminated)
		},
		Error: func(err error) {
			b.logger.WithError(err).Warn("Session error")
			b.update(KeyError, err.Error(), KeyErrorKind, errorKind(err))
		},
		Log: func(text string) {
			b.logger.Debug(text)
			b.journalf("%s", text)
		},
		State: func(name string) {
			b.update(KeyTransportState, name)
		},
	}
}

func shortID(s Session) string {
	return strings.ReplaceAll(s.ID.String(), "-", "")[:8]
}

func errorKind(err error) string {
	for _, kind := range []device.ErrorKind{
		device.PermissionDenied,
		device.ProtocolViolation,
		device.NotConnected,
		device.PeerMismatch,
		device.Unsupported,
	} {
		if device.IsKind(err, kind) {
			return string(kind)
		}
	}
	return "internal"
}
