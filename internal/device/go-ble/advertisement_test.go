package goble

import (
	"testing"

	"github.com/srg/mdlble/internal/testutils"
	"github.com/stretchr/testify/assert"
)

func TestBLEAdvertisement(t *testing.T) {
	mockAdv := testutils.NewAdvertisementBuilder().
		WithName("mDL Reader").
		WithAddress("aa:bb:cc:dd:ee:ff").
		WithRSSI(-61).
		WithConnectable(true).
		WithServices("0000fff0-0000-1000-8000-00805f9b34fb", "4C0A1F6E-8A34-4B70-A7E2-2A5E3F3C9B11").
		WithOverflowServices("4c0a1f6e8a344b70a7e22a5e3f3c9b11", "180f").
		Build()

	adv := NewBLEAdvertisement(mockAdv)

	assert.Equal(t, "mDL Reader", adv.LocalName())
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", adv.Addr())
	assert.Equal(t, -61, adv.RSSI())
	assert.True(t, adv.Connectable())
	assert.Equal(t, []string{"fff0", "4c0a1f6e8a344b70a7e22a5e3f3c9b11", "180f"}, adv.Services(),
		"services are normalized, overflow services appended and duplicates dropped")
	mockAdv.AssertExpectations(t)
}

func TestBLEAdvertisement_NoAddress(t *testing.T) {
	mockAdv := &testutils.MockAdvertisement{}
	mockAdv.On("Addr").Return(nil)

	assert.Empty(t, NewBLEAdvertisement(mockAdv).Addr())
}

func TestBLEAdvertisement_Unwrap(t *testing.T) {
	mockAdv := &testutils.MockAdvertisement{}
	adv := NewBLEAdvertisement(mockAdv).(*BLEAdvertisement)

	assert.Same(t, mockAdv, adv.Unwrap())
}
