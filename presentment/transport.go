package presentment

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/srg/mdlble/internal/device"
)

// Transport is the entry point of the credential-exchange layer: it selects the
// orchestrator for a session and forwards Send, Terminate and HardReset to it.
type Transport struct {
	adapter  device.Adapter
	settings Settings
	logger   *logrus.Logger

	mu     sync.Mutex
	active Orchestrator
	sess   Session
}

// NewTransport creates a Transport on adapter. A nil settings.Journal gets a default one.
func NewTransport(adapter device.Adapter, settings Settings) *Transport {
	if settings.Logger == nil {
		settings.Logger = logrus.StandardLogger()
	}
	if settings.Journal == nil {
		settings.Journal = NewJournal(DefaultJournalSize)
	}
	return &Transport{adapter: adapter, settings: settings, logger: settings.Logger}
}

// Initialize starts discovery for session. A previous session is closed first.
// Non-BLE methods and the L2CAP option fail with Unsupported.
func (t *Transport) Initialize(ctx context.Context, session Session, onMessage MessageCallback, delegate StateDelegate) error {
	switch session.Method {
	case MethodBLE:
	case MethodNFC, MethodWiFiAware:
		return device.NewUnsupported(session.Method.String() + " device retrieval")
	default:
		return fmt.Errorf("unknown device retrieval method %s", session.Method)
	}
	if session.Option == OptionL2CAP {
		return device.NewUnsupported("L2CAP device retrieval")
	}
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}

	o, err := t.orchestratorFor(session, onMessage, delegate)
	if err != nil {
		return err
	}

	t.mu.Lock()
	prev := t.active
	t.active, t.sess = o, session
	t.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			t.logger.WithError(err).Debug("Closing previous session failed")
		}
	}

	t.logger.WithFields(logrus.Fields{
		"role":    session.Role,
		"option":  session.Option,
		"session": session.ID,
	}).Info("Initializing device retrieval")
	t.settings.Journal.Addf("initialize role=%s option=%s session=%s", session.Role, session.Option, session.ID)

	if err := o.Start(ctx); err != nil {
		t.mu.Lock()
		if t.active == o {
			t.active = nil
		}
		t.mu.Unlock()
		_ = o.Close()
		return err
	}
	return nil
}

func (t *Transport) orchestratorFor(session Session, onMessage MessageCallback, delegate StateDelegate) (Orchestrator, error) {
	switch {
	case session.Role == Holder && session.Option == OptionCentral:
		return NewHolderCentral(t.adapter, session, t.settings, onMessage, delegate)
	case session.Role == Holder && session.Option == OptionPeripheral:
		return NewHolderPeripheral(t.adapter, session, t.settings, onMessage, delegate)
	case session.Role == Reader && session.Option == OptionPeripheral:
		return NewReaderPeripheral(t.adapter, session, t.settings, onMessage, delegate)
	case session.Role == Reader && session.Option == OptionCentral:
		return NewReaderCentral(t.adapter, session, t.settings, onMessage, delegate)
	}
	return nil, fmt.Errorf("no orchestrator for role %s with option %s", session.Role, session.Option)
}

func (t *Transport) current() Orchestrator {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Orchestrator returns the active orchestrator, nil before Initialize
func (t *Transport) Orchestrator() Orchestrator {
	return t.current()
}

// ServiceUUID returns the service of the active session. For the advertising side this
// is the generated UUID to put into device engagement.
func (t *Transport) ServiceUUID() string {
	switch o := t.current().(type) {
	case *PeripheralOrchestrator:
		return o.ServiceUUID()
	case *CentralOrchestrator:
		return o.session.ServiceUUID
	}
	return ""
}

// Send queues message for the peer
func (t *Transport) Send(message []byte) error {
	o := t.current()
	if o == nil {
		return device.NewNotConnected("send before initialize")
	}
	return o.Send(message)
}

// Terminate ends the session with the transport specific termination
func (t *Transport) Terminate() error {
	o := t.current()
	if o == nil {
		return nil
	}
	t.settings.Journal.Addf("terminate")
	return o.Terminate()
}

// HardReset tears down connections and discovery and zeroes all buffers. Initialize
// can be called again afterwards.
func (t *Transport) HardReset() error {
	o := t.current()
	if o == nil {
		return nil
	}
	t.settings.Journal.Addf("hard reset")
	return o.HardReset()
}

// Close releases the active session
func (t *Transport) Close() error {
	t.mu.Lock()
	o := t.active
	t.active = nil
	t.mu.Unlock()
	if o == nil {
		return nil
	}
	return o.Close()
}

// Journal returns the diagnostic journal
func (t *Transport) Journal() *Journal {
	return t.settings.Journal
}

// ErrNotInitialized is returned by helpers that need an active session
var ErrNotInitialized = errors.New("presentment: transport not initialized")

// State returns the last published StateBag of the active session
func (t *Transport) State() (*StateBag, error) {
	switch o := t.current().(type) {
	case *PeripheralOrchestrator:
		return o.snapshot(), nil
	case *CentralOrchestrator:
		return o.snapshot(), nil
	}
	return nil, ErrNotInitialized
}
