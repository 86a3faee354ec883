package testutils

import (
	"fmt"
	"sync"
)

// Recorder event names
const (
	EvPeerConnected    = "peer-connected"
	EvPeerDisconnected = "peer-disconnected"
	EvMessage          = "message"
	EvProgress         = "progress"
	EvTermination      = "termination"
	EvError            = "error"
	EvLog              = "log"
	EvState            = "state"
)

// Recorder is a thread-safe session listener that keeps every callback it receives.
// The optional hooks run after recording, on the calling goroutine.
type Recorder struct {
	mu       sync.Mutex
	events   []string
	messages [][]byte
	progress [][2]int
	errs     []error
	logs     []string
	states   []string

	OnConnected func()
	OnMessage   func(message []byte)
}

// NewRecorder creates an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) add(event string, fn func()) {
	r.mu.Lock()
	r.events = append(r.events, event)
	if fn != nil {
		fn()
	}
	r.mu.Unlock()
}

func (r *Recorder) OnPeerConnected() {
	r.add(EvPeerConnected, nil)
	if r.OnConnected != nil {
		r.OnConnected()
	}
}

func (r *Recorder) OnPeerDisconnected() {
	r.add(EvPeerDisconnected, nil)
}

func (r *Recorder) OnMessageReceived(message []byte) {
	r.add(EvMessage, func() {
		cp := make([]byte, len(message))
		copy(cp, message)
		r.messages = append(r.messages, cp)
	})
	if r.OnMessage != nil {
		r.OnMessage(message)
	}
}

func (r *Recorder) OnMessageSendProgress(sent, total int) {
	r.add(EvProgress, func() { r.progress = append(r.progress, [2]int{sent, total}) })
}

func (r *Recorder) OnTransportSpecificSessionTermination() {
	r.add(EvTermination, nil)
}

func (r *Recorder) OnError(err error) {
	r.add(EvError, func() { r.errs = append(r.errs, err) })
}

func (r *Recorder) OnLog(text string) {
	r.add(EvLog, func() { r.logs = append(r.logs, text) })
}

func (r *Recorder) OnState(name string) {
	r.add(EvState, func() { r.states = append(r.states, name) })
}

// Events returns the callback names in order, without state and log entries
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.events {
		if e != EvState && e != EvLog {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many times event was received
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

// Has reports whether event was received at least once
func (r *Recorder) Has(event string) bool {
	return r.Count(event) > 0
}

func (r *Recorder) Messages() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.messages...)
}

func (r *Recorder) Progress() [][2]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]int(nil), r.progress...)
}

func (r *Recorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *Recorder) Logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.logs...)
}

func (r *Recorder) States() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.states...)
}

// String renders the recorded events for assertion messages
func (r *Recorder) String() string {
	return fmt.Sprintf("events=%v states=%v errors=%v logs=%v", r.Events(), r.States(), r.Errors(), r.Logs())
}
