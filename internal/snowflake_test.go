package internal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIDGenerator_RejectsOutOfRangeNode(t *testing.T) {
	_, err := NewIDGenerator(-1)
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	_, err = NewIDGenerator(maxNodeID + 1)
	assert.ErrorIs(t, err, ErrInvalidNodeID)

	_, err = NewIDGenerator(maxNodeID)
	assert.NoError(t, err)
}

func TestNextID_UniqueAndIncreasing(t *testing.T) {
	gen, err := NewIDGenerator(1)
	require.NoError(t, err)

	prev := int64(0)
	for i := 0; i < 10000; i++ {
		id := gen.NextID()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestNextID_ConcurrentCallersNeverCollide(t *testing.T) {
	gen, err := NewIDGenerator(7)
	require.NoError(t, err)

	const workers, perWorker = 8, 500
	ids := make(chan int64, workers*perWorker)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				ids <- gen.NextID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[int64]struct{}, workers*perWorker)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
	assert.Len(t, seen, workers*perWorker)
}

func TestNextID_EncodesNodeID(t *testing.T) {
	gen, err := NewIDGenerator(5)
	require.NoError(t, err)

	id := gen.NextID()
	assert.Equal(t, int64(5), (id>>seqBits)&maxNodeID)
}

func TestNextID_WaitsOutBackwardsClock(t *testing.T) {
	gen, err := NewIDGenerator(1)
	require.NoError(t, err)

	base := time.UnixMilli(customEpoch + 10_000)
	readings := []time.Time{
		base,
		base.Add(-5 * time.Millisecond),
		base.Add(-2 * time.Millisecond),
		base,
		base.Add(time.Millisecond),
	}
	calls := 0
	gen.now = func() time.Time {
		r := readings[min(calls, len(readings)-1)]
		calls++
		return r
	}

	first := gen.NextID()
	second := gen.NextID()
	assert.Greater(t, second, first)
	assert.Equal(t, len(readings), calls)
	assert.Equal(t, base.Add(time.Millisecond).UnixMilli()-customEpoch, second>>(nodeIDBits+seqBits))
}
