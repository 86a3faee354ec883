package presentment

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// StateBag is an insertion-ordered set of session attributes.
// Snapshots handed to a StateDelegate are copies and safe to keep.
type StateBag struct {
	m *orderedmap.OrderedMap[string, any]
}

// NewStateBag creates an empty bag
func NewStateBag() *StateBag {
	return &StateBag{m: orderedmap.New[string, any]()}
}

// Set stores value under key, keeping the position of an existing key
func (b *StateBag) Set(key string, value any) *StateBag {
	b.m.Set(key, value)
	return b
}

// Delete removes key
func (b *StateBag) Delete(key string) {
	b.m.Delete(key)
}

func (b *StateBag) Get(key string) (any, bool) {
	return b.m.Get(key)
}

// String returns the value under key formatted with %v, empty when missing
func (b *StateBag) String(key string) string {
	v, ok := b.m.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Int returns the integer under key, 0 when missing or not an int
func (b *StateBag) Int(key string) int {
	v, _ := b.m.Get(key)
	n, _ := v.(int)
	return n
}

// State returns the high level connection state
func (b *StateBag) State() string {
	return b.String(KeyState)
}

// Keys returns the keys in insertion order
func (b *StateBag) Keys() []string {
	keys := make([]string, 0, b.m.Len())
	for pair := b.m.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

func (b *StateBag) Len() int {
	return b.m.Len()
}

// Clone returns an independent copy
func (b *StateBag) Clone() *StateBag {
	c := NewStateBag()
	for pair := b.m.Oldest(); pair != nil; pair = pair.Next() {
		c.m.Set(pair.Key, pair.Value)
	}
	return c
}

// MarshalJSON encodes the bag as a JSON object in insertion order
func (b *StateBag) MarshalJSON() ([]byte, error) {
	return b.m.MarshalJSON()
}

// Format renders the bag as "k=v" pairs in insertion order
func (b *StateBag) Format() string {
	var sb strings.Builder
	for pair := b.m.Oldest(); pair != nil; pair = pair.Next() {
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%s=%v", pair.Key, pair.Value)
	}
	return sb.String()
}
