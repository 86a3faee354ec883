package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/srg/mdlble/presentment"
)

// sessionPrinter writes session progress to the terminal: one line per state change in
// text format, or one JSON object per published StateBag.
type sessionPrinter struct {
	out    io.Writer
	format string

	mu        sync.Mutex
	lastState string
	reported  bool
}

func newSessionPrinter(out io.Writer, format string) *sessionPrinter {
	return &sessionPrinter{out: out, format: format}
}

func stateColor(state string) *color.Color {
	switch state {
	case presentment.StateConnected, presentment.StateTerminated:
		return color.New(color.FgGreen, color.Bold)
	case presentment.StateFailed, presentment.StateDisconnected:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.FgYellow)
	}
}

// State prints bag
func (p *sessionPrinter) State(bag *presentment.StateBag) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == "json" {
		data, err := json.Marshal(bag)
		if err != nil {
			return
		}
		fmt.Fprintln(p.out, string(data))
		return
	}

	state := bag.State()
	if state != p.lastState {
		p.lastState = state
		line := stateColor(state).Sprint(state)
		switch state {
		case presentment.StateConnecting, presentment.StateConnected:
			line += " " + bag.String(presentment.KeyPeer)
		case presentment.StateFailed:
			line += ": " + bag.String(presentment.KeyError)
		}
		fmt.Fprintln(p.out, line)
	}

	total := bag.Int(presentment.KeyProgressTotal)
	sent := bag.Int(presentment.KeyProgressSent)
	switch {
	case total == 0:
	case sent < total:
		p.reported = false
	case !p.reported:
		p.reported = true
		fmt.Fprintf(p.out, "message sent in %d chunks\n", total)
	}
}

// Service prints the service UUID the peer has to look for
func (p *sessionPrinter) Service(uuid string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == "json" {
		fmt.Fprintf(p.out, "{\"service\":%q}\n", uuid)
		return
	}
	fmt.Fprintf(p.out, "service %s\n", color.New(color.FgCyan).Sprint(uuid))
}

// Message prints an inbound message
func (p *sessionPrinter) Message(message []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.format == "json" {
		data, _ := json.Marshal(struct {
			Length  int    `json:"length"`
			Message string `json:"message"`
		}{len(message), hex.EncodeToString(message)})
		fmt.Fprintln(p.out, string(data))
		return
	}
	fmt.Fprintf(p.out, "received %d bytes\n%s\n", len(message), hex.EncodeToString(message))
}
