package ring

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireProduceConsume_SingleProducer(t *testing.T) {
	r, err := New(1, 4)
	require.NoError(t, err)

	offset := r.Acquire(0, 1)
	assert.Equal(t, uint64(0), offset)

	r.Produce(0)
	ready, count := r.Consume(0)
	assert.Equal(t, uint64(0), ready)
	assert.Equal(t, uint64(1), count)
	assert.Equal(t, uint64(1), r.GetConsumedOffset())
}

// Consume on a ring where every producer slot is idle must advance
// consumed only up to granted, never to infinity: an idle slot means "no
// reservation outstanding here", not "nothing will ever be ready".
func TestConsume_AllIdleBoundsToGranted(t *testing.T) {
	r, err := New(2, 8)
	require.NoError(t, err)

	for i := uint64(0); i < 3; i++ {
		off := r.Acquire(0, 1)
		require.NotEqual(t, OffsetMax, off)
		r.Produce(0)
	}

	ready, count := r.Consume(1)
	assert.Equal(t, uint64(0), ready)
	assert.Equal(t, uint64(3), count)
	assert.Equal(t, uint64(3), r.GetConsumedOffset(), "consumed must stop at granted, not OffsetMax")

	// A second Consume on the still-all-idle ring must be a no-op, not
	// advance consumed past granted again.
	ready, count = r.Consume(1)
	assert.Equal(t, uint64(3), ready)
	assert.Equal(t, uint64(0), count)
	assert.Equal(t, uint64(3), r.GetConsumedOffset())
}

func TestConsume_StallsOnUnpublishedSlot(t *testing.T) {
	r, err := New(2, 8)
	require.NoError(t, err)

	_ = r.Acquire(0, 1) // never produced: slot 0 stays reserved
	off1 := r.Acquire(1, 1)
	r.Produce(1)

	ready, count := r.Consume(1)
	assert.Equal(t, uint64(0), ready)
	assert.Equal(t, uint64(0), count, "the unpublished slot 0 must block the prefix even though slot 1 is ready")

	r.Produce(0)
	ready, count = r.Consume(1)
	assert.Equal(t, uint64(0), ready)
	assert.Equal(t, uint64(off1+1), count)
}

func TestAcquire_OverflowReturnsMaxAndRollsBack(t *testing.T) {
	r, err := New(1, 2)
	require.NoError(t, err)

	r.Acquire(0, 1)
	r.Produce(0)
	r.Acquire(0, 1)
	r.Produce(0)

	// capacity is 2 and nothing has been consumed, so the third
	// reservation must overflow.
	assert.Equal(t, OffsetMax, r.Acquire(0, 1))

	r.Consume(0)
	// rollback left granted where a caller can still make forward
	// progress once capacity frees up.
	assert.NotEqual(t, OffsetMax, r.Acquire(0, 1))
}

func TestRing_ConcurrentProducersReachFullCapacity(t *testing.T) {
	const producers = 4
	const perProducer = 500

	r, err := New(producers, 16)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := uint64(0); p < producers; p++ {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				var off uint64
				for {
					off = r.Acquire(p, 1)
					if off != OffsetMax {
						break
					}
					r.Consume(producers - 1)
				}
				r.Produce(p)
				r.Consume(producers - 1)
			}
		}()
	}
	wg.Wait()

	r.Consume(producers - 1)
	assert.Equal(t, uint64(producers*perProducer), r.GetConsumedOffset())
}
