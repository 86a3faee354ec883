package transport

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/mdlble/internal/device"
)

type effectKind int

const (
	// platform calls
	opConnect effectKind = iota
	opRefreshCache
	opHighPriority
	opDiscover
	opRequestMtu
	opRead
	opEnableNotify
	opWrite
	opDisconnect
	opOpen
	opAddService
	opNotify
	opCancel
	opClose

	// commits an intermediate state once the preceding platform calls succeeded
	opEnter

	// listener callbacks
	emitPeerConnected
	emitPeerDisconnected
	emitMessage
	emitProgress
	emitTermination
	emitError
	emitLog
)

var effectNames = map[effectKind]string{
	opConnect:            "connect",
	opRefreshCache:       "refresh-cache",
	opHighPriority:       "high-priority",
	opDiscover:           "discover-services",
	opRequestMtu:         "request-mtu",
	opRead:               "read",
	opEnableNotify:       "enable-notifications",
	opWrite:              "write",
	opDisconnect:         "disconnect",
	opOpen:               "open-server",
	opAddService:         "add-service",
	opNotify:             "notify",
	opCancel:             "cancel-connection",
	opClose:              "close",
	opEnter:              "enter",
	emitPeerConnected:    "peer-connected",
	emitPeerDisconnected: "peer-disconnected",
	emitMessage:          "message",
	emitProgress:         "progress",
	emitTermination:      "termination",
	emitError:            "error",
	emitLog:              "log",
}

func (k effectKind) String() string {
	if name, ok := effectNames[k]; ok {
		return name
	}
	return fmt.Sprintf("effect(%d)", int(k))
}

func (k effectKind) platform() bool {
	return k < opEnter
}

func (k effectKind) listener() bool {
	return k > opEnter
}

// effect is one consequence of a state machine step
type effect struct {
	kind effectKind

	address      string
	char         string
	value        []byte
	mtu          int
	withResponse bool
	service      device.ServiceSpec

	// bestEffort platform calls only log their failure
	bestEffort bool
	// data marks a chunk of the outbound message
	data bool

	stage fmt.Stringer

	sent, total int
	err         error
	text        string
	level       logrus.Level
}

func warn(format string, args ...interface{}) effect {
	return effect{kind: emitLog, level: logrus.WarnLevel, text: fmt.Sprintf(format, args...)}
}

func info(format string, args ...interface{}) effect {
	return effect{kind: emitLog, level: logrus.InfoLevel, text: fmt.Sprintf(format, args...)}
}

func fail(err error) effect {
	return effect{kind: emitError, err: err}
}

func enter(stage fmt.Stringer) effect {
	return effect{kind: opEnter, stage: stage}
}

// effectRunner executes the effects of one step on behalf of a session runtime
type effectRunner interface {
	exec(e effect) error
	commit(stage fmt.Stringer)
	emit(e effect)
}

// applyEffects runs the platform calls of a step in order, committing intermediate
// stages as they are reached. The first failing platform call that is not best-effort
// aborts the step: the final state is not committed, listener callbacks listed before the
// failing call still run and the later ones are dropped.
// Otherwise next is committed and the listener callbacks run in order.
func applyEffects(r effectRunner, logger *logrus.Entry, next fmt.Stringer, effects []effect) (effect, error) {
	for i, e := range effects {
		switch {
		case e.kind == opEnter:
			r.commit(e.stage)
		case e.kind.platform():
			err := r.exec(e)
			if err == nil {
				continue
			}
			err = device.NormalizeError(err)
			if e.bestEffort {
				logger.WithFields(logrus.Fields{
					"op":    e.kind.String(),
					"error": err,
				}).Debug("Best-effort platform call failed")
				continue
			}
			for _, done := range effects[:i] {
				if done.kind.listener() {
					r.emit(done)
				}
			}
			return e, err
		}
	}

	r.commit(next)
	for _, e := range effects {
		if e.kind.listener() {
			r.emit(e)
		}
	}
	return effect{}, nil
}

// emitTo delivers one listener effect. Log effects also go to logrus.
func emitTo(l Listener, logger *logrus.Entry, e effect) {
	switch e.kind {
	case emitPeerConnected:
		l.OnPeerConnected()
	case emitPeerDisconnected:
		l.OnPeerDisconnected()
	case emitMessage:
		l.OnMessageReceived(e.value)
	case emitProgress:
		l.OnMessageSendProgress(e.sent, e.total)
	case emitTermination:
		l.OnTransportSpecificSessionTermination()
	case emitError:
		logger.WithError(e.err).Warn("Transport error")
		l.OnError(e.err)
	case emitLog:
		logger.Log(e.level, e.text)
		l.OnLog(e.text)
	}
}
