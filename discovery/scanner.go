// Package discovery finds and announces mDL peers over BLE advertising.
//
// A Scanner looks for a device-retrieval service UUID for a bounded time and reports each
// new peer once. An Advertiser announces the service until stopped.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/mdlble/internal/actor"
	"github.com/srg/mdlble/internal/device"
	"github.com/srg/mdlble/internal/ringchan"
)

// DefaultScanTimeout bounds a scan when ScanOptions.Timeout is zero
const DefaultScanTimeout = 180 * time.Second

const eventBuffer = 64

// EventType tells what a scan Event reports
type EventType int

const (
	// Discovered is sent the first time a matching peer is seen
	Discovered EventType = iota
	// Failed is sent when the platform scan stops with an error
	Failed
	// TimedOut is sent when the scan ran for its whole duration
	TimedOut
)

func (t EventType) String() string {
	switch t {
	case Discovered:
		return "discovered"
	case Failed:
		return "failed"
	case TimedOut:
		return "timed-out"
	default:
		return fmt.Sprintf("EventType(%d)", int(t))
	}
}

// Peer is a device seen while scanning
type Peer struct {
	Address     string   `json:"address"`
	Name        string   `json:"name,omitempty"`
	RSSI        int      `json:"rssi"`
	Connectable bool     `json:"connectable"`
	Services    []string `json:"services,omitempty"`
}

// Event is one scan outcome
type Event struct {
	Type EventType
	Peer Peer
	Err  error
}

// ScanOptions configures a scan
type ScanOptions struct {
	// ServiceUUID limits results to peers advertising it. Empty reports every peer.
	ServiceUUID string
	// Timeout bounds the scan; zero means DefaultScanTimeout
	Timeout time.Duration
}

// Scanner runs time-boxed scans on a device.ScanningDevice
type Scanner struct {
	dev    device.ScanningDevice
	logger *logrus.Logger

	seen   *hashmap.Map[string, Peer]
	events *ringchan.Channel[Event]

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewScanner creates a Scanner
func NewScanner(dev device.ScanningDevice, logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{
		dev:    dev,
		logger: logger,
		seen:   hashmap.New[string, Peer](),
		events: ringchan.New[Event](eventBuffer),
	}
}

// Events delivers scan outcomes. Slow readers lose the oldest events.
func (s *Scanner) Events() <-chan Event {
	return s.events.C()
}

// Start begins a scan in the background and returns immediately
func (s *Scanner) Start(ctx context.Context, opts ScanOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil && !closed(s.done) {
		return errors.New("scan already running")
	}

	want := ""
	if opts.ServiceUUID != "" {
		valid, err := device.ValidateUUID(opts.ServiceUUID)
		if err != nil {
			return err
		}
		want = valid[0]
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	s.seen.Range(func(k string, _ Peer) bool {
		s.seen.Del(k)
		return true
	})

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	done := make(chan struct{})
	s.cancel, s.done, s.stopped = cancel, done, false

	s.logger.WithFields(logrus.Fields{
		"service": device.ShortenUUID(want),
		"timeout": timeout,
	}).Info("Starting BLE scan...")

	actor.Go(scanCtx, "discovery-scan", func(ctx context.Context) {
		defer close(done)
		defer cancel()
		s.run(ctx, want)
	})
	return nil
}

func (s *Scanner) run(ctx context.Context, want string) {
	err := s.dev.Scan(ctx, func(adv device.Advertisement) {
		s.handleAdvertisement(adv, want)
	})

	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()

	switch {
	case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		s.logger.WithError(err).Error("BLE scan failed")
		s.events.Send(Event{Type: Failed, Err: device.NormalizeError(err)})
	case !stopped && errors.Is(ctx.Err(), context.DeadlineExceeded):
		s.logger.WithField("device_count", s.seen.Len()).Info("BLE scan timed out")
		s.events.Send(Event{Type: TimedOut})
	default:
		s.logger.WithField("device_count", s.seen.Len()).Info("BLE scan completed")
	}
}

// handleAdvertisement reports a matching peer the first time it is seen and keeps its
// RSSI current afterwards
func (s *Scanner) handleAdvertisement(adv device.Advertisement, want string) {
	address := adv.Addr()
	if address == "" {
		return
	}
	services := device.NormalizeUUIDs(adv.Services())
	if want != "" && !contains(services, want) {
		return
	}

	peer := Peer{
		Address:     address,
		Name:        adv.LocalName(),
		RSSI:        adv.RSSI(),
		Connectable: adv.Connectable(),
		Services:    services,
	}

	if _, existing := s.seen.GetOrInsert(address, peer); existing {
		s.seen.Set(address, peer)
		return
	}

	s.logger.WithFields(logrus.Fields{
		"device":  peer.Name,
		"address": peer.Address,
		"rssi":    peer.RSSI,
	}).Info("Discovered new device")
	s.events.Send(Event{Type: Discovered, Peer: peer})
}

// Stop ends the running scan and waits for it. No TimedOut event follows a Stop.
func (s *Scanner) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.stopped = true
	s.mu.Unlock()
	if cancel == nil {
		return
	}

	cancel()
	<-done

	s.mu.Lock()
	if s.done == done {
		s.cancel, s.done = nil, nil
	}
	s.mu.Unlock()
}

// Wait blocks until the running scan ends on its own or through Stop
func (s *Scanner) Wait() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Scanning reports whether a scan is running
func (s *Scanner) Scanning() bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	return done != nil && !closed(done)
}

// Peers returns a snapshot of the peers seen by the last scan
func (s *Scanner) Peers() []Peer {
	peers := make([]Peer, 0, s.seen.Len())
	s.seen.Range(func(_ string, p Peer) bool {
		peers = append(peers, p)
		return true
	})
	return peers
}

// Close stops the scan and closes the Events channel. The scanner cannot be reused.
func (s *Scanner) Close() {
	s.Stop()
	s.events.Close()
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
