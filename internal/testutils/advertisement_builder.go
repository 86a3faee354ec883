package testutils

import (
	"encoding/json"
	"fmt"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockAddr is a testify mock of ble.Addr
type MockAddr struct {
	mock.Mock
}

func (m *MockAddr) String() string {
	return m.Called().String(0)
}

// AdvertisementBuilder builds mocked ble.Advertisement instances.
// Only explicitly configured fields get mock expectations, so reading an unset field
// fails the test.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	overflow    []string
	manufData   []byte
	connectable bool

	nameSet        bool
	addressSet     bool
	rssiSet        bool
	servicesSet    bool
	manufDataSet   bool
	connectableSet bool
}

// NewAdvertisementBuilder creates a builder for a connectable advertisement
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{connectable: true}
}

func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	b.nameSet = true
	return b
}

func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	b.addressSet = true
	return b
}

func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	b.rssiSet = true
	return b
}

// WithOverflowServices adds service UUIDs reported in the overflow area
func (b *AdvertisementBuilder) WithOverflowServices(uuids ...string) *AdvertisementBuilder {
	b.overflow = append(b.overflow, uuids...)
	b.servicesSet = true
	return b
}

// WithServices adds advertised service UUIDs, short or full form
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = append(b.services, uuids...)
	b.servicesSet = true
	return b
}

func (b *AdvertisementBuilder) WithManufacturerData(data []byte) *AdvertisementBuilder {
	b.manufData = data
	b.manufDataSet = true
	return b
}

func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	b.connectableSet = true
	return b
}

// FromJSON fills builder fields from a JSON object with format support.
// Panics on invalid JSON as this is intended for test data setup.
func (b *AdvertisementBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *AdvertisementBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var data struct {
		Name             *string  `json:"name"`
		Address          *string  `json:"address"`
		RSSI             *int     `json:"rssi"`
		Services         []string `json:"services"`
		ManufacturerData []byte   `json:"manufacturerData"`
		Connectable      *bool    `json:"connectable"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &data); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}

	if data.Name != nil {
		b.WithName(*data.Name)
	}
	if data.Address != nil {
		b.WithAddress(*data.Address)
	}
	if data.RSSI != nil {
		b.WithRSSI(*data.RSSI)
	}
	if data.Services != nil {
		b.WithServices(data.Services...)
	}
	if data.ManufacturerData != nil {
		b.WithManufacturerData(data.ManufacturerData)
	}
	if data.Connectable != nil {
		b.WithConnectable(*data.Connectable)
	}
	return b
}

// Build creates a MockAdvertisement with expectations for the configured fields
func (b *AdvertisementBuilder) Build() *MockAdvertisement {
	adv := &MockAdvertisement{}

	if b.addressSet {
		addr := &MockAddr{}
		addr.On("String").Return(b.address)
		adv.On("Addr").Return(addr)
	}
	if b.nameSet {
		adv.On("LocalName").Return(b.name)
	}
	if b.rssiSet {
		adv.On("RSSI").Return(b.rssi)
	}
	if b.servicesSet {
		adv.On("Services").Return(parseUUIDs(b.services))
		adv.On("OverflowService").Return(parseUUIDs(b.overflow))
	}
	if b.manufDataSet {
		adv.On("ManufacturerData").Return(b.manufData)
	}
	if b.connectableSet {
		adv.On("Connectable").Return(b.connectable)
	}
	return adv
}

// BuildFake creates a plain device.Advertisement with the configured fields
func (b *AdvertisementBuilder) BuildFake() *FakeAdvertisement {
	return &FakeAdvertisement{
		Name:          b.name,
		Address:       b.address,
		Signal:        b.rssi,
		ServiceUUIDs:  append(append([]string(nil), b.services...), b.overflow...),
		IsConnectable: b.connectable,
	}
}

// FakeAdvertisement is a static device.Advertisement
type FakeAdvertisement struct {
	Name          string
	Address       string
	Signal        int
	ServiceUUIDs  []string
	IsConnectable bool
}

func (a *FakeAdvertisement) LocalName() string  { return a.Name }
func (a *FakeAdvertisement) Services() []string { return a.ServiceUUIDs }
func (a *FakeAdvertisement) Connectable() bool  { return a.IsConnectable }
func (a *FakeAdvertisement) RSSI() int          { return a.Signal }
func (a *FakeAdvertisement) Addr() string       { return a.Address }

func parseUUIDs(in []string) []ble.UUID {
	var uuids []ble.UUID
	for _, s := range in {
		uuids = append(uuids, ble.MustParse(s))
	}
	return uuids
}
