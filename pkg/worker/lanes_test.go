package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/paramstream/metric"
)

type recorder struct {
	mu   sync.Mutex
	seen map[string][]int
}

func newRecorder() *recorder {
	return &recorder{seen: make(map[string][]int)}
}

func (r *recorder) process(_ context.Context, key string, n int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen[key] = append(r.seen[key], n)
	return nil
}

func (r *recorder) get(key string) []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.seen[key]...)
}

func startLanes(t *testing.T, size int, fn func(context.Context, string, int) error) *Lanes[int] {
	t.Helper()
	lanes := NewLanes(size, fn, WithLaneMetrics[int](metric.NewMetricsRegistry(), "test_lanes"))
	require.NoError(t, lanes.Start(context.Background()))
	t.Cleanup(func() { _ = lanes.Stop(time.Second) })
	return lanes
}

func TestLanes_NotStarted(t *testing.T) {
	lanes := NewLanes(4, newRecorder().process)
	assert.ErrorIs(t, lanes.Submit(context.Background(), "a", 1), ErrPoolNotStarted)
	assert.NoError(t, lanes.Flush(context.Background()))
	assert.NoError(t, lanes.Stop(time.Second))
	assert.Panics(t, func() { NewLanes[int](1, nil) })
}

func TestLanes_PerKeyOrder(t *testing.T) {
	rec := newRecorder()
	lanes := startLanes(t, 8, rec.process)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		require.NoError(t, lanes.Submit(ctx, "a", i))
		require.NoError(t, lanes.Submit(ctx, "b", -i))
	}
	require.NoError(t, lanes.Flush(ctx))

	a := rec.get("a")
	b := rec.get("b")
	require.Len(t, a, 100)
	require.Len(t, b, 100)
	for i := 0; i < 100; i++ {
		assert.Equal(t, i, a[i])
		assert.Equal(t, -i, b[i])
	}
	assert.Equal(t, 2, lanes.Len())
	assert.Equal(t, int64(200), lanes.Stats().Processed)
}

func TestLanes_KeysRunConcurrently(t *testing.T) {
	block := make(chan struct{})
	var fastDone atomic.Bool

	lanes := startLanes(t, 4, func(_ context.Context, key string, _ int) error {
		if key == "slow" {
			<-block
			return nil
		}
		fastDone.Store(true)
		return nil
	})
	ctx := context.Background()

	require.NoError(t, lanes.Submit(ctx, "slow", 1))
	require.NoError(t, lanes.Submit(ctx, "fast", 1))

	assert.Eventually(t, fastDone.Load, time.Second, time.Millisecond)
	close(block)
}

func TestLanes_SerialWithinKey(t *testing.T) {
	var running, maxRunning int32
	lanes := startLanes(t, 16, func(context.Context, string, int) error {
		n := atomic.AddInt32(&running, 1)
		for {
			m := atomic.LoadInt32(&maxRunning)
			if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, lanes.Submit(ctx, "only", i))
	}
	require.NoError(t, lanes.Flush(ctx))
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestLanes_SubmitBlocksWhenFull(t *testing.T) {
	release := make(chan struct{})
	lanes := startLanes(t, 1, func(context.Context, string, int) error {
		<-release
		return nil
	})

	ctx := context.Background()
	require.NoError(t, lanes.Submit(ctx, "k", 1))
	// wait for the worker to pick up the first item so the queue slot is free
	require.Eventually(t, func() bool {
		lanes.mu.Lock()
		defer lanes.mu.Unlock()
		return len(lanes.lanes["k"].items) == 0
	}, time.Second, time.Millisecond)
	require.NoError(t, lanes.Submit(ctx, "k", 2))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, lanes.Submit(short, "k", 3), context.DeadlineExceeded)

	close(release)
	require.NoError(t, lanes.Flush(ctx))
}

func TestLanes_CloseDropsQueued(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	rec := newRecorder()

	lanes := startLanes(t, 8, func(ctx context.Context, key string, n int) error {
		if n == 0 {
			close(started)
			<-release
		}
		return rec.process(ctx, key, n)
	})
	ctx := context.Background()

	require.NoError(t, lanes.Submit(ctx, "k", 0))
	<-started
	for i := 1; i <= 3; i++ {
		require.NoError(t, lanes.Submit(ctx, "k", i))
	}

	lanes.Close("k")
	close(release)
	assert.Equal(t, 0, lanes.Len())

	require.Eventually(t, func() bool {
		return lanes.Stats().Dropped == 3
	}, time.Second, time.Millisecond)
	assert.Equal(t, []int{0}, rec.get("k"))

	// A fresh lane is created for the same key
	require.NoError(t, lanes.Submit(ctx, "k", 9))
	require.NoError(t, lanes.Flush(ctx))
	assert.Equal(t, []int{0, 9}, rec.get("k"))
}

func TestLanes_CloseUnknownKey(t *testing.T) {
	lanes := startLanes(t, 2, newRecorder().process)
	assert.NotPanics(t, func() { lanes.Close("missing") })
}

func TestLanes_PanicCounted(t *testing.T) {
	lanes := startLanes(t, 2, func(_ context.Context, _ string, n int) error {
		if n == 1 {
			panic("boom")
		}
		return nil
	})
	ctx := context.Background()

	require.NoError(t, lanes.Submit(ctx, "k", 1))
	require.NoError(t, lanes.Submit(ctx, "k", 2))
	require.NoError(t, lanes.Flush(ctx))

	stats := lanes.Stats()
	assert.Equal(t, int64(2), stats.Processed)
	assert.Equal(t, int64(1), stats.Failed)
}

func TestLanes_Stop(t *testing.T) {
	lanes := NewLanes(4, newRecorder().process)
	require.NoError(t, lanes.Start(context.Background()))
	assert.ErrorIs(t, lanes.Start(context.Background()), ErrPoolAlreadyStarted)

	require.NoError(t, lanes.Submit(context.Background(), "a", 1))
	require.NoError(t, lanes.Stop(time.Second))

	assert.ErrorIs(t, lanes.Submit(context.Background(), "a", 2), ErrPoolStopped)
	assert.NoError(t, lanes.Stop(time.Second))
}
