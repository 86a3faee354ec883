package transport

import (
	"github.com/srg/mdlble/internal/chunk"
)

// outbox streams queued messages one chunk at a time.
// At most one chunk is in flight; the next is released only by complete.
// Messages are framed when they start, so an MTU change applies to the next message.
type outbox struct {
	pending  [][]byte
	chunks   [][]byte
	next     int
	inFlight bool
}

func (o *outbox) enqueue(message []byte) {
	o.pending = append(o.pending, append([]byte(nil), message...))
}

// take returns the next chunk and marks it in flight. It returns nil when a chunk is
// already in flight or nothing is queued.
func (o *outbox) take(payload int) ([]byte, error) {
	if o.inFlight {
		return nil, nil
	}
	if o.next >= len(o.chunks) {
		if len(o.pending) == 0 {
			return nil, nil
		}
		message := o.pending[0]
		o.pending = o.pending[1:]

		chunks, err := chunk.Encode(message, payload)
		if err != nil {
			return nil, err
		}
		o.chunks, o.next = chunks, 0
	}

	o.inFlight = true
	return o.chunks[o.next], nil
}

// complete acknowledges the chunk in flight and returns the progress of its message.
func (o *outbox) complete() (sent, total int, ok bool) {
	if !o.inFlight {
		return 0, 0, false
	}
	o.inFlight = false
	o.next++
	return o.next, len(o.chunks), true
}

func (o *outbox) busy() bool {
	return o.inFlight || o.next < len(o.chunks) || len(o.pending) > 0
}

func (o *outbox) clear() {
	*o = outbox{}
}
