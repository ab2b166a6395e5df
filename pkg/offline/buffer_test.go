package offline_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hson89/the-overwatch/internal/observability"
	"github.com/hson89/the-overwatch/internal/waiting"
	"github.com/hson89/the-overwatch/pkg/offline"
)

// replayRecorder is a ReplayFunc that records calls and fails on demand.
type replayRecorder struct {
	mu      sync.Mutex
	calls   []string
	fail    bool
	blockCh chan struct{}
}

func (r *replayRecorder) replay(kind string, payload []byte) error {
	r.mu.Lock()
	r.calls = append(r.calls, string(payload))
	fail := r.fail
	block := r.blockCh
	r.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return errors.New("backend down")
	}
	return nil
}

func (r *replayRecorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func (r *replayRecorder) setFail(fail bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail = fail
}

func newTestBuffer(
	t *testing.T,
	capacity int,
	replay *replayRecorder,
) *offline.Buffer {
	t.Helper()

	b, err := offline.NewBuffer(offline.Params{
		Storage:    offline.NewMemoryStorage(),
		Replay:     replay.replay,
		Logger:     observability.NewNoOpLogger(),
		Capacity:   capacity,
		FlushDelay: waiting.NewDelay(time.Hour),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Dispose() })
	return b
}

// slowStorage adds latency to storage operations, like any disk-backed
// implementation has.
type slowStorage struct {
	offline.Storage
	delay time.Duration
}

func (s *slowStorage) Count() (int, error) {
	time.Sleep(s.delay)
	return s.Storage.Count()
}

func (s *slowStorage) Store(item offline.Item) error {
	time.Sleep(s.delay)
	return s.Storage.Store(item)
}

func TestEnqueueUpdatesSize(t *testing.T) {
	b := newTestBuffer(t, 10, &replayRecorder{})

	require.NoError(t, b.Enqueue("event", []byte("a")))
	require.NoError(t, b.Enqueue("log", []byte("b")))

	size, err := b.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestEnqueueBeyondCapacityEvictsOldest(t *testing.T) {
	storage := offline.NewMemoryStorage()
	b, err := offline.NewBuffer(offline.Params{
		Storage:    storage,
		Replay:     (&replayRecorder{}).replay,
		Logger:     observability.NewNoOpLogger(),
		Capacity:   2,
		FlushDelay: waiting.NewDelay(time.Hour),
	})
	require.NoError(t, err)
	defer b.Dispose()

	require.NoError(t, b.Enqueue("event", []byte("A")))
	require.NoError(t, b.Enqueue("event", []byte("B")))
	require.NoError(t, b.Enqueue("event", []byte("C")))

	size, err := b.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, size)

	items, err := storage.Retrieve(0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "B", string(items[0].Payload))
	assert.Equal(t, "C", string(items[1].Payload))
}

func TestConcurrentEnqueueKeepsCapacityBound(t *testing.T) {
	storage := &slowStorage{
		Storage: offline.NewMemoryStorage(),
		delay:   time.Millisecond,
	}
	b, err := offline.NewBuffer(offline.Params{
		Storage:    storage,
		Replay:     (&replayRecorder{}).replay,
		Logger:     observability.NewNoOpLogger(),
		Capacity:   2,
		FlushDelay: waiting.NewDelay(time.Hour),
	})
	require.NoError(t, err)
	defer b.Dispose()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Enqueue("event", []byte("x")))
		}()
	}
	wg.Wait()

	size, err := b.Size()
	require.NoError(t, err)
	assert.Equal(t, 2, size)
}

func TestEvictionDuringReplayIsHonored(t *testing.T) {
	storage := offline.NewMemoryStorage()
	replay := &replayRecorder{fail: true, blockCh: make(chan struct{})}
	b, err := offline.NewBuffer(offline.Params{
		Storage:    storage,
		Replay:     replay.replay,
		Logger:     observability.NewNoOpLogger(),
		Capacity:   2,
		FlushDelay: waiting.NewDelay(time.Hour),
	})
	require.NoError(t, err)
	defer b.Dispose()

	require.NoError(t, b.Enqueue("event", []byte("A")))
	require.NoError(t, b.Enqueue("event", []byte("B")))

	flushDone := make(chan bool)
	go func() { flushDone <- b.Flush() }()
	require.Eventually(t, func() bool {
		return replay.callCount() == 1
	}, time.Second, time.Millisecond)

	// Both in-flight items are evicted by new arrivals mid-replay.
	require.NoError(t, b.Enqueue("event", []byte("C")))
	require.NoError(t, b.Enqueue("event", []byte("D")))

	close(replay.blockCh)
	assert.True(t, <-flushDone)

	// The failed items stay evicted; retrying must not push the buffer
	// past capacity.
	items, err := storage.Retrieve(0)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "C", string(items[0].Payload))
	assert.Equal(t, "D", string(items[1].Payload))
}

func TestFlushRemovesDeliveredItems(t *testing.T) {
	replay := &replayRecorder{}
	b := newTestBuffer(t, 10, replay)

	require.NoError(t, b.Enqueue("event", []byte("a")))
	require.NoError(t, b.Enqueue("metric", []byte("b")))

	assert.True(t, b.Flush())

	assert.Equal(t, 2, replay.callCount())
	size, err := b.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestFlushRetriesThenDropsPermanently(t *testing.T) {
	storage := offline.NewMemoryStorage()
	replay := &replayRecorder{fail: true}
	b, err := offline.NewBuffer(offline.Params{
		Storage:    storage,
		Replay:     replay.replay,
		Logger:     observability.NewNoOpLogger(),
		Capacity:   10,
		MaxRetries: 3,
		FlushDelay: waiting.NewDelay(time.Hour),
	})
	require.NoError(t, err)
	defer b.Dispose()

	require.NoError(t, b.Enqueue("event", []byte("a")))

	// Three failed flushes leave the item present with an incremented
	// retry count.
	for i := 1; i <= 3; i++ {
		assert.True(t, b.Flush())

		items, err := storage.Retrieve(0)
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, i, items[0].RetryCount)
	}

	// The fourth failure exhausts the budget and the item is gone.
	assert.True(t, b.Flush())

	size, err := b.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestConcurrentFlushIsSingleFlight(t *testing.T) {
	replay := &replayRecorder{blockCh: make(chan struct{})}
	b := newTestBuffer(t, 10, replay)

	require.NoError(t, b.Enqueue("event", []byte("a")))

	firstDone := make(chan bool)
	go func() { firstDone <- b.Flush() }()

	// Wait for the first flush to be inside the replay callback.
	require.Eventually(t, func() bool {
		return replay.callCount() == 1
	}, time.Second, time.Millisecond)

	// The overlapping flush is a no-op, not queued.
	assert.False(t, b.Flush())

	close(replay.blockCh)
	assert.True(t, <-firstDone)
	assert.Equal(t, 1, replay.callCount())
}

func TestDisposeWaitsForManualFlush(t *testing.T) {
	replay := &replayRecorder{blockCh: make(chan struct{})}
	b := newTestBuffer(t, 10, replay)

	require.NoError(t, b.Enqueue("event", []byte("a")))

	go b.Flush()
	require.Eventually(t, func() bool {
		return replay.callCount() == 1
	}, time.Second, time.Millisecond)

	disposed := make(chan struct{})
	go func() {
		_ = b.Dispose()
		close(disposed)
	}()

	select {
	case <-disposed:
		t.Fatal("Dispose returned while a flush pass was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(replay.blockCh)
	select {
	case <-disposed:
	case <-time.After(time.Second):
		t.Fatal("Dispose did not return after the flush pass finished")
	}
}

func TestFlushBatchLimit(t *testing.T) {
	replay := &replayRecorder{}
	b, err := offline.NewBuffer(offline.Params{
		Storage:    offline.NewMemoryStorage(),
		Replay:     replay.replay,
		Logger:     observability.NewNoOpLogger(),
		Capacity:   10,
		BatchLimit: 2,
		FlushDelay: waiting.NewDelay(time.Hour),
	})
	require.NoError(t, err)
	defer b.Dispose()

	for _, payload := range []string{"a", "b", "c"} {
		require.NoError(t, b.Enqueue("event", []byte(payload)))
	}

	assert.True(t, b.Flush())
	assert.Equal(t, 2, replay.callCount())

	size, err := b.Size()
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestPeriodicFlushRuns(t *testing.T) {
	replay := &replayRecorder{}
	b, err := offline.NewBuffer(offline.Params{
		Storage:    offline.NewMemoryStorage(),
		Replay:     replay.replay,
		Logger:     observability.NewNoOpLogger(),
		Capacity:   10,
		FlushDelay: waiting.NewDelay(5 * time.Millisecond),
	})
	require.NoError(t, err)
	defer b.Dispose()

	require.NoError(t, b.Enqueue("event", []byte("a")))

	require.Eventually(t, func() bool {
		return replay.callCount() >= 1
	}, time.Second, time.Millisecond)
}

func TestClear(t *testing.T) {
	b := newTestBuffer(t, 10, &replayRecorder{})

	require.NoError(t, b.Enqueue("event", []byte("a")))
	require.NoError(t, b.Clear())

	size, err := b.Size()
	require.NoError(t, err)
	assert.Equal(t, 0, size)
}

func TestPerItemFailureIsIsolated(t *testing.T) {
	storage := offline.NewMemoryStorage()
	var calls []string
	var mu sync.Mutex
	replay := func(kind string, payload []byte) error {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, string(payload))
		if string(payload) == "bad" {
			return errors.New("poison record")
		}
		return nil
	}

	b, err := offline.NewBuffer(offline.Params{
		Storage:    storage,
		Replay:     replay,
		Logger:     observability.NewNoOpLogger(),
		Capacity:   10,
		FlushDelay: waiting.NewDelay(time.Hour),
	})
	require.NoError(t, err)
	defer b.Dispose()

	require.NoError(t, b.Enqueue("event", []byte("bad")))
	require.NoError(t, b.Enqueue("event", []byte("good")))

	assert.True(t, b.Flush())

	// The failing item did not abort the batch: the good one delivered
	// and only the bad one remains.
	mu.Lock()
	assert.Equal(t, []string{"bad", "good"}, calls)
	mu.Unlock()

	items, err := storage.Retrieve(0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bad", string(items[0].Payload))
}
