package presentment

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// DefaultJournalSize is the number of entries a Journal keeps
const DefaultJournalSize = 256

// Entry is one diagnostic journal line
type Entry struct {
	Time time.Time
	Text string
}

func (e Entry) String() string {
	return e.Time.Format("15:04:05.000") + " " + e.Text
}

// Journal keeps the most recent diagnostic lines of a Transport. Once full, new entries
// overwrite the oldest ones.
type Journal struct {
	buffer      mpmc.RichOverlappedRingBuffer[Entry]
	overwritten atomic.Int64
}

// NewJournal creates a journal holding about size entries
func NewJournal(size uint32) *Journal {
	if size == 0 {
		size = DefaultJournalSize
	}
	return &Journal{buffer: mpmc.NewOverlappedRingBuffer[Entry](size)}
}

// Addf appends a formatted entry
func (j *Journal) Addf(format string, args ...interface{}) {
	overwrites, err := j.buffer.EnqueueM(Entry{Time: time.Now(), Text: fmt.Sprintf(format, args...)})
	if err == nil && overwrites > 0 {
		j.overwritten.Add(int64(overwrites))
	}
}

// Drain returns the buffered entries, oldest first, and empties the journal
func (j *Journal) Drain() []Entry {
	var entries []Entry
	for !j.buffer.IsEmpty() {
		e, err := j.buffer.Dequeue()
		if err != nil {
			break
		}
		entries = append(entries, e)
	}
	return entries
}

// Overwritten returns how many entries were lost to overflow
func (j *Journal) Overwritten() int64 {
	return j.overwritten.Load()
}
