package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicClock_NextAndReset(t *testing.T) {
	clock := NewDeterministicClock()
	assert.Equal(t, int64(0), clock.Current())

	assert.Equal(t, int64(1), clock.Next())
	assert.Equal(t, int64(2), clock.Next())
	assert.Equal(t, int64(2), clock.Current())

	clock.Reset()
	assert.Equal(t, int64(0), clock.Current())
	assert.Equal(t, int64(1), clock.Next())
}

func TestDeterministicClock_ConcurrentCallsAreUnique(t *testing.T) {
	clock := NewDeterministicClock()
	const workers, calls = 50, 100

	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range calls {
				v := clock.Next()
				mu.Lock()
				assert.False(t, seen[v], "duplicate value %d", v)
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*calls)
	assert.Equal(t, int64(workers*calls), clock.Current())
}

func TestSteppedTime(t *testing.T) {
	st := NewSteppedTime(time.Time{}, time.Second)
	assert.Equal(t, Epoch, st.Now())
	assert.Equal(t, Epoch.Add(time.Second), st.Now())

	start := time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)
	st = NewSteppedTime(start, 0)
	assert.Equal(t, start, st.Now())
	assert.Equal(t, start, st.Now())
}

func TestListIDs(t *testing.T) {
	g := NewListIDs("", "C1", "C2")
	assert.Equal(t, "C1", g.Generate())
	assert.Equal(t, "C2", g.Generate())
	assert.Equal(t, "blk_3", g.Generate())

	g = NewListIDs("node-")
	assert.Equal(t, "node-1", g.Generate())
}
