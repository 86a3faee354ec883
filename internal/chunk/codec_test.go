package chunk

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/srg/mdlble/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_Scenario(t *testing.T) {
	chunks, err := Encode([]byte{0x01, 0x02, 0x03, 0x04, 0x05}, 2)
	require.NoError(t, err)

	assert.Equal(t, [][]byte{
		{0x01, 0x01, 0x02},
		{0x01, 0x03, 0x04},
		{0x00, 0x05},
	}, chunks)

	messages, err := DecodeAll(chunks, 2)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04, 0x05}, messages[0])
}

func TestEncode_EmptyMessage(t *testing.T) {
	for _, size := range []int{1, 2, 19, 511} {
		chunks, err := Encode(nil, size)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{{MarkerLast}}, chunks, "payload size %d", size)

		messages, err := DecodeAll(chunks, size)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.NotNil(t, messages[0])
		assert.Empty(t, messages[0])
	}
}

func TestEncode_RejectsZeroPayload(t *testing.T) {
	_, err := Encode([]byte{1}, 0)
	assert.ErrorIs(t, err, device.ErrProtocolViolation)
}

func TestEncode_ExactMultiple(t *testing.T) {
	chunks, err := Encode(bytes.Repeat([]byte{0xAA}, 6), 3)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, MarkerMore, chunks[0][0])
	assert.Equal(t, MarkerLast, chunks[1][0])
	assert.Len(t, chunks[1], 4)
}

func TestRoundTripAndChunkBound(t *testing.T) {
	rng := rand.New(rand.NewSource(18013))

	for i := 0; i < 200; i++ {
		size := rng.Intn(600)
		payload := 1 + rng.Intn(40)
		message := make([]byte, size)
		rng.Read(message)

		chunks, err := Encode(message, payload)
		require.NoError(t, err)

		last := 0
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c)-1, payload)
			if c[0] == MarkerLast {
				last++
			}
		}
		assert.Equal(t, 1, last, "exactly one terminal chunk")
		assert.Equal(t, MarkerLast, chunks[len(chunks)-1][0])

		messages, err := DecodeAll(chunks, payload)
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.True(t, bytes.Equal(message, messages[0]), "size=%d payload=%d", size, payload)
	}
}

func TestDecoder_InvalidChunksDoNotCorruptAccumulator(t *testing.T) {
	tests := []struct {
		name  string
		chunk []byte
	}{
		{name: "empty chunk", chunk: []byte{}},
		{name: "unknown marker", chunk: []byte{0x02, 0xFF}},
		{name: "oversized payload", chunk: []byte{0x01, 1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder(3)

			_, done, err := d.Feed([]byte{MarkerMore, 'a', 'b'})
			require.NoError(t, err)
			require.False(t, done)

			_, done, err = d.Feed(tt.chunk)
			assert.ErrorIs(t, err, device.ErrProtocolViolation)
			assert.False(t, done)
			assert.Equal(t, 2, d.Pending())

			msg, done, err := d.Feed([]byte{MarkerLast, 'c'})
			require.NoError(t, err)
			assert.True(t, done)
			assert.Equal(t, []byte("abc"), msg)
			assert.Zero(t, d.Pending())
		})
	}
}

func TestDecoder_TerminalChunkFlushes(t *testing.T) {
	d := NewDecoder(0)

	first, done, err := d.Feed([]byte{MarkerLast, 'x'})
	require.NoError(t, err)
	require.True(t, done)

	second, done, err := d.Feed([]byte{MarkerLast, 'y'})
	require.NoError(t, err)
	require.True(t, done)

	assert.Equal(t, []byte("x"), first)
	assert.Equal(t, []byte("y"), second)
}

func TestDecoder_Reset(t *testing.T) {
	d := NewDecoder(0)
	_, _, err := d.Feed([]byte{MarkerMore, 1, 2, 3})
	require.NoError(t, err)

	d.Reset()
	assert.Zero(t, d.Pending())

	msg, done, err := d.Feed([]byte{MarkerLast, 9})
	require.NoError(t, err)
	assert.True(t, done)
	assert.Equal(t, []byte{9}, msg)
}

func TestPayloadSize(t *testing.T) {
	tests := []struct {
		name     string
		mtu      int
		expected int
	}{
		{name: "never negotiated", mtu: 0, expected: 19},
		{name: "default", mtu: 23, expected: 19},
		{name: "below minimum", mtu: 10, expected: 19},
		{name: "typical android", mtu: 247, expected: 243},
		{name: "maximum", mtu: 515, expected: 511},
		{name: "above maximum", mtu: 517, expected: 511},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PayloadSize(tt.mtu))
		})
	}
}
