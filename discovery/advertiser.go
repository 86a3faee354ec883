package discovery

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/mdlble/internal/actor"
	"github.com/srg/mdlble/internal/device"
)

// Advertiser announces a device-retrieval service until stopped
type Advertiser struct {
	dev    device.AdvertisingDevice
	logger *logrus.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	name    string
	service string
}

// NewAdvertiser creates an idle Advertiser
func NewAdvertiser(dev device.AdvertisingDevice, logger *logrus.Logger) *Advertiser {
	if logger == nil {
		logger = logrus.New()
	}
	return &Advertiser{dev: dev, logger: logger}
}

// Start advertises name and serviceUUID in the background. onFailed, when set, receives
// the error of an advertisement the platform stops on its own.
func (a *Advertiser) Start(ctx context.Context, name, serviceUUID string, onFailed func(error)) error {
	valid, err := device.ValidateUUID(serviceUUID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done != nil && !closed(a.done) {
		return errors.New("already advertising")
	}

	advCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	a.cancel, a.done, a.name, a.service = cancel, done, name, valid[0]

	logger := a.logger.WithFields(logrus.Fields{"name": name, "service": device.ShortenUUID(valid[0])})
	logger.Info("Advertising started")

	actor.Go(advCtx, "discovery-advertise", func(ctx context.Context) {
		defer close(done)
		err := a.dev.Advertise(ctx, name, serviceUUID)
		if err == nil || ctx.Err() != nil {
			logger.Debug("Advertising stopped")
			return
		}

		logger.WithError(err).Error("Advertising failed")
		if onFailed != nil {
			onFailed(device.NormalizeError(err))
		}
	})
	return nil
}

// Stop ends advertising and waits for the platform call to return
func (a *Advertiser) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Active reports whether advertising is running, and what it announces
func (a *Advertiser) Active() (bool, string, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.done == nil || closed(a.done) {
		return false, "", ""
	}
	return true, a.name, a.service
}
