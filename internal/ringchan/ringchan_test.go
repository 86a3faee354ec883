package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannel_DropsOldest(t *testing.T) {
	rc := New[int](3)

	for i := 0; i < 10; i++ {
		require.True(t, rc.Send(i))
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}

	assert.Equal(t, []int{7, 8, 9}, got)
	assert.EqualValues(t, 10, rc.Sent())
	assert.EqualValues(t, 7, rc.Dropped())
}

func TestChannel_SendAfterClose(t *testing.T) {
	rc := New[string](1)
	rc.Close()
	rc.Close()

	assert.False(t, rc.Send("late"))
	_, ok := rc.TryReceive()
	assert.False(t, ok)
}

func TestChannel_TryReceive(t *testing.T) {
	rc := New[string](2)

	_, ok := rc.TryReceive()
	assert.False(t, ok)

	rc.Send("a")
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, 2, rc.Cap())

	v, ok := rc.TryReceive()
	assert.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestChannel_ConcurrentProducersNeverBlock(t *testing.T) {
	rc := New[int](4)

	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 8000, rc.Sent())
	assert.Equal(t, 4, rc.Len())
	assert.EqualValues(t, 8000-4, rc.Dropped())
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
