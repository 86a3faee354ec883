package main

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/mdlble/internal/device"
	goble "github.com/srg/mdlble/internal/device/go-ble"
)

// adapterName is the advertised local name when no session renames the adapter
const adapterName = "mdlble"

// newAdapter opens the local BLE adapter. Tests replace it.
var newAdapter = func(logger *logrus.Logger) (device.Adapter, error) {
	adapter, err := goble.NewAdapter(adapterName, logger)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

// releaseAdapter stops adapters that hold platform resources
func releaseAdapter(adapter device.Adapter, logger *logrus.Logger) {
	if s, ok := adapter.(interface{ Stop() error }); ok {
		if err := s.Stop(); err != nil {
			logger.WithError(err).Debug("Failed to stop BLE adapter")
		}
	}
}
