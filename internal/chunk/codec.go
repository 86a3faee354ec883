// Package chunk implements the ISO 18013-5 GATT message framing.
//
// Every GATT write or notification on the Client2Server and Server2Client
// characteristics carries exactly one chunk: a marker byte followed by a slice of the
// message. The marker is MarkerMore on every chunk except the last, which carries
// MarkerLast. There is no length prefix and no sequence number; ordering is provided by
// the per-characteristic ordering of the BLE stack.
package chunk

import (
	"github.com/srg/mdlble/internal/device"
)

const (
	// MarkerLast terminates a message.
	MarkerLast byte = 0x00
	// MarkerMore announces that more chunks of the same message follow.
	MarkerMore byte = 0x01
)

const (
	// DefaultMTU is the ATT MTU every BLE link starts with.
	DefaultMTU = 23
	// MaxMTU is the largest MTU requested and accepted by the transport.
	MaxMTU = 515
	// Overhead is the ATT header (3 bytes) plus the marker byte.
	Overhead = 4
)

// ClampMTU bounds a reported MTU to [DefaultMTU, MaxMTU]. Zero means "never negotiated"
// and yields DefaultMTU.
func ClampMTU(mtu int) int {
	switch {
	case mtu <= DefaultMTU:
		return DefaultMTU
	case mtu > MaxMTU:
		return MaxMTU
	default:
		return mtu
	}
}

// PayloadSize returns the number of message bytes a single chunk may carry on a link
// with the given MTU.
func PayloadSize(mtu int) int {
	return ClampMTU(mtu) - Overhead
}

// Encode splits message into chunks carrying at most maxChunkPayload message bytes each.
// An empty message still produces one chunk holding only MarkerLast.
func Encode(message []byte, maxChunkPayload int) ([][]byte, error) {
	if maxChunkPayload < 1 {
		return nil, device.NewProtocolViolation("chunk payload size %d is below 1", maxChunkPayload)
	}

	count := (len(message) + maxChunkPayload - 1) / maxChunkPayload
	if count == 0 {
		count = 1
	}

	chunks := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * maxChunkPayload
		end := start + maxChunkPayload
		if end > len(message) {
			end = len(message)
		}

		c := make([]byte, 1+end-start)
		c[0] = MarkerMore
		if i == count-1 {
			c[0] = MarkerLast
		}
		copy(c[1:], message[start:end])
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// Decoder reassembles chunks of one direction of a link into messages.
// It is not safe for concurrent use; a session owns exactly one Decoder per direction.
type Decoder struct {
	// MaxPayload bounds the payload of accepted chunks. Zero disables the check.
	MaxPayload int

	buf []byte
}

// NewDecoder creates a Decoder accepting chunks of at most maxPayload message bytes.
func NewDecoder(maxPayload int) *Decoder {
	return &Decoder{MaxPayload: maxPayload}
}

// Feed consumes one chunk. When the chunk completes a message, the assembled message is
// returned with done set and the accumulator is cleared. An invalid chunk is reported as
// a ProtocolViolation and dropped without touching the bytes accumulated so far.
func (d *Decoder) Feed(c []byte) (message []byte, done bool, err error) {
	if len(c) == 0 {
		return nil, false, device.NewProtocolViolation("empty chunk")
	}

	marker := c[0]
	if marker != MarkerLast && marker != MarkerMore {
		return nil, false, device.NewProtocolViolation("unknown chunk marker 0x%02x", marker)
	}

	payload := c[1:]
	if d.MaxPayload > 0 && len(payload) > d.MaxPayload {
		return nil, false, device.NewProtocolViolation("chunk payload of %d bytes exceeds %d", len(payload), d.MaxPayload)
	}

	d.buf = append(d.buf, payload...)
	if marker == MarkerMore {
		return nil, false, nil
	}

	message = d.buf
	if message == nil {
		message = []byte{}
	}
	d.buf = nil
	return message, true, nil
}

// Pending returns the number of bytes accumulated for the message in progress.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Reset drops any partially received message.
func (d *Decoder) Reset() {
	d.buf = nil
}

// DecodeAll folds a Decoder over chunks and returns every completed message.
func DecodeAll(chunks [][]byte, maxPayload int) ([][]byte, error) {
	d := NewDecoder(maxPayload)
	var messages [][]byte
	for _, c := range chunks {
		msg, done, err := d.Feed(c)
		if err != nil {
			return messages, err
		}
		if done {
			messages = append(messages, msg)
		}
	}
	return messages, nil
}
