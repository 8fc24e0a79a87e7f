package pool

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMixedOutcomes(t *testing.T) {
	items := make([]int, 100)
	for i := range items {
		items[i] = i
	}
	failing := map[int]bool{3: true, 17: true, 42: true, 64: true, 99: true}

	var inflight, peak atomic.Int32
	fn := func(_ context.Context, n int) (string, error) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
		if failing[n] {
			return "", errors.New("retries exhausted")
		}
		return fmt.Sprintf("record-%d", n), nil
	}

	results := Collect(context.Background(), 10, items, fn)
	require.Len(t, results, 100)

	seen := make(map[int]bool)
	var ok, failed int
	for _, r := range results {
		require.False(t, seen[r.Index], "duplicate outcome for %d", r.Index)
		seen[r.Index] = true
		assert.Equal(t, items[r.Index], r.Item)
		if r.Err != nil {
			failed++
			assert.True(t, failing[r.Item])
			continue
		}
		ok++
		assert.Equal(t, fmt.Sprintf("record-%d", r.Item), r.Value)
	}
	assert.Equal(t, 95, ok)
	assert.Equal(t, 5, failed)
	assert.LessOrEqual(t, peak.Load(), int32(10))
	assert.Positive(t, peak.Load())
}

func TestRunCompletionOrder(t *testing.T) {
	// The first item is the slowest, so it must not come out first.
	items := []time.Duration{50 * time.Millisecond, 0, 0, 0}
	fn := func(_ context.Context, d time.Duration) (time.Duration, error) {
		time.Sleep(d)
		return d, nil
	}

	var order []int
	for r := range Run(context.Background(), 4, items, fn) {
		order = append(order, r.Index)
	}
	require.Len(t, order, 4)
	assert.Equal(t, 0, order[3])
}

func TestRunEmpty(t *testing.T) {
	results := Collect(context.Background(), 3, []int(nil), func(context.Context, int) (int, error) {
		t.Fatal("fn must not be called")
		return 0, nil
	})
	assert.Empty(t, results)
}

func TestRunWidthFloor(t *testing.T) {
	var inflight, peak atomic.Int32
	fn := func(_ context.Context, n int) (int, error) {
		cur := inflight.Add(1)
		if cur > peak.Load() {
			peak.Store(cur)
		}
		time.Sleep(time.Millisecond)
		inflight.Add(-1)
		return n, nil
	}
	results := Collect(context.Background(), 0, []int{1, 2, 3, 4}, fn)
	assert.Len(t, results, 4)
	assert.Equal(t, int32(1), peak.Load())
}
