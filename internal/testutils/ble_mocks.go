package testutils

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockDevice is a testify mock of ble.Device
type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) AddService(svc *ble.Service) error {
	return m.Called(svc).Error(0)
}

func (m *MockDevice) RemoveAllServices() error {
	return m.Called().Error(0)
}

func (m *MockDevice) SetServices(svcs []*ble.Service) error {
	return m.Called(svcs).Error(0)
}

func (m *MockDevice) Stop() error {
	return m.Called().Error(0)
}

func (m *MockDevice) Advertise(ctx context.Context, adv ble.Advertisement) error {
	return m.Called(ctx, adv).Error(0)
}

func (m *MockDevice) AdvertiseNameAndServices(ctx context.Context, name string, ss ...ble.UUID) error {
	return m.Called(ctx, name, ss).Error(0)
}

func (m *MockDevice) AdvertiseIBeacon(ctx context.Context, u ble.UUID, major, minor uint16, pwr int8) error {
	return m.Called(ctx, u, major, minor, pwr).Error(0)
}

func (m *MockDevice) AdvertiseIBeaconData(ctx context.Context, b []byte) error {
	return m.Called(ctx, b).Error(0)
}

func (m *MockDevice) AdvertiseMfgData(ctx context.Context, id uint16, b []byte) error {
	return m.Called(ctx, id, b).Error(0)
}

func (m *MockDevice) AdvertiseServiceData16(ctx context.Context, id uint16, b []byte) error {
	return m.Called(ctx, id, b).Error(0)
}

func (m *MockDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	return m.Called(ctx, allowDup, h).Error(0)
}

func (m *MockDevice) Dial(ctx context.Context, a ble.Addr) (ble.Client, error) {
	args := m.Called(ctx, a)
	client, _ := args.Get(0).(ble.Client)
	return client, args.Error(1)
}

// MockAdvertisement is a testify mock of ble.Advertisement
type MockAdvertisement struct {
	mock.Mock
}

func (m *MockAdvertisement) LocalName() string {
	return m.Called().String(0)
}

func (m *MockAdvertisement) ManufacturerData() []byte {
	data, _ := m.Called().Get(0).([]byte)
	return data
}

func (m *MockAdvertisement) ServiceData() []ble.ServiceData {
	data, _ := m.Called().Get(0).([]ble.ServiceData)
	return data
}

func (m *MockAdvertisement) Services() []ble.UUID {
	uuids, _ := m.Called().Get(0).([]ble.UUID)
	return uuids
}

func (m *MockAdvertisement) OverflowService() []ble.UUID {
	uuids, _ := m.Called().Get(0).([]ble.UUID)
	return uuids
}

func (m *MockAdvertisement) TxPowerLevel() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Connectable() bool {
	return m.Called().Bool(0)
}

func (m *MockAdvertisement) SolicitedService() []ble.UUID {
	uuids, _ := m.Called().Get(0).([]ble.UUID)
	return uuids
}

func (m *MockAdvertisement) RSSI() int {
	return m.Called().Int(0)
}

func (m *MockAdvertisement) Addr() ble.Addr {
	addr, _ := m.Called().Get(0).(ble.Addr)
	return addr
}
