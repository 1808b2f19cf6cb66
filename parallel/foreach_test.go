package parallel

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestForEachVisitsEveryIndex(t *testing.T) {
	var seen [100]atomic.Int32
	err := ForEach(context.Background(), len(seen), 7, func(i int) error {
		seen[i].Add(1)
		return nil
	})
	require.NoError(t, err)
	for i := range seen {
		assert.Equal(t, int32(1), seen[i].Load(), "index %d", i)
	}
}

func TestForEachBoundsConcurrency(t *testing.T) {
	var running, peak atomic.Int32
	err := ForEach(context.Background(), 64, 3, func(i int) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		running.Add(-1)
		return nil
	})
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestForEachReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	err := ForEach(context.Background(), 50, 4, func(i int) error {
		if i == 10 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestForEachCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls atomic.Int32
	err := ForEach(ctx, 10, 2, func(i int) error {
		calls.Add(1)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestForEachEmpty(t *testing.T) {
	require.NoError(t, ForEach(context.Background(), 0, 0, func(i int) error {
		t.Fatal("body must not run")
		return nil
	}))
}

func TestForEachLeavesContextUsable(t *testing.T) {
	ctx := context.Background()
	for round := 0; round < 3; round++ {
		calls := 0
		require.NoError(t, ForEach(ctx, 1, 1, func(i int) error {
			calls++
			return nil
		}))
		assert.Equal(t, 1, calls)
	}
	assert.NoError(t, ctx.Err())
}
