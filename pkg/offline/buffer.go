// Package offline implements the durable buffer that absorbs delivery
// failures.
//
// Records that could not be delivered live are enqueued here and replayed
// by a periodic flush until they deliver or exhaust their retry budget.
// The buffer is bounded: admitting a record beyond capacity evicts the
// oldest items, never the new one.
package offline

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hson89/the-overwatch/internal/observability"
	"github.com/hson89/the-overwatch/internal/pipestats"
	"github.com/hson89/the-overwatch/internal/waiting"
)

const (
	// DefaultMaxRetries is the replay budget per item. An item failing
	// more than this many times is removed permanently; that data loss is
	// the bounded-retry contract, not an error.
	DefaultMaxRetries = 3

	DefaultBatchLimit    = 50
	DefaultFlushInterval = 30 * time.Second
)

// ReplayFunc attempts to redeliver one buffered record. It receives the
// record-kind tag and the serialized payload exactly as they were enqueued.
// A nil return removes the item; an error counts against its retry budget.
type ReplayFunc func(kind string, payload []byte) error

type Params struct {
	Storage Storage
	Replay  ReplayFunc
	Logger  *observability.CoreLogger
	Stats   *pipestats.Stats

	// Capacity is the maximum number of items kept. Required, > 0.
	Capacity int

	// MaxRetries overrides DefaultMaxRetries when > 0.
	MaxRetries int

	// BatchLimit caps how many items one flush pass replays. Defaults to
	// DefaultBatchLimit.
	BatchLimit int

	// FlushDelay is the wait between periodic flush passes. Defaults to
	// waiting on DefaultFlushInterval. Tests inject short delays here.
	FlushDelay waiting.Delay
}

// Buffer is a bounded, persistent, retrying queue of telemetry records.
type Buffer struct {
	storage    Storage
	replay     ReplayFunc
	logger     *observability.CoreLogger
	stats      *pipestats.Stats
	capacity   int
	maxRetries int
	batchLimit int
	flushDelay waiting.Delay

	// mu serializes the check-then-act storage sequences: the capacity
	// check in Enqueue and the retry re-store after a failed replay.
	// Without it concurrent enqueues each observe a below-capacity count
	// and all insert.
	mu sync.Mutex

	// flushing is the single-flight gate: an overlapping flush trigger
	// returns immediately instead of queueing up.
	flushing atomic.Bool

	// passMu lets Dispose wait out an in-flight flush pass before
	// disposing the storage.
	passMu sync.RWMutex

	seq      atomic.Uint64
	done     chan struct{}
	doneOnce sync.Once
	loopWG   sync.WaitGroup
}

// NewBuffer initializes the storage and starts the periodic flush loop.
func NewBuffer(params Params) (*Buffer, error) {
	switch {
	case params.Storage == nil:
		panic("offline: nil storage")
	case params.Replay == nil:
		panic("offline: nil replay")
	case params.Logger == nil:
		panic("offline: nil logger")
	case params.Capacity <= 0:
		panic("offline: capacity must be positive")
	}

	if params.MaxRetries <= 0 {
		params.MaxRetries = DefaultMaxRetries
	}
	if params.BatchLimit <= 0 {
		params.BatchLimit = DefaultBatchLimit
	}
	if params.FlushDelay == nil {
		params.FlushDelay = waiting.NewDelay(DefaultFlushInterval)
	}

	if err := params.Storage.Initialize(); err != nil {
		return nil, err
	}

	b := &Buffer{
		storage:    params.Storage,
		replay:     params.Replay,
		logger:     params.Logger,
		stats:      params.Stats,
		capacity:   params.Capacity,
		maxRetries: params.MaxRetries,
		batchLimit: params.BatchLimit,
		flushDelay: params.FlushDelay,
		done:       make(chan struct{}),
	}

	b.loopWG.Add(1)
	go b.flushLoop()

	return b, nil
}

// Enqueue stores one serialized record. When the buffer is at capacity the
// oldest items are evicted to make room; the new item is never rejected.
func (b *Buffer) Enqueue(kind string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	count, err := b.storage.Count()
	if err != nil {
		return err
	}

	if count >= b.capacity {
		if err := b.evictOldest(count - b.capacity + 1); err != nil {
			return err
		}
	}

	item := Item{
		ID:         b.nextID(),
		Kind:       kind,
		Payload:    payload,
		EnqueuedAt: time.Now(),
	}
	if err := b.storage.Store(item); err != nil {
		return err
	}

	b.stats.Buffered()
	b.logger.Debug("offline: enqueued record", "id", item.ID, "kind", kind)
	return nil
}

// Flush runs one replay pass over up to the batch limit of oldest items.
// If a flush is already in progress the call is a no-op and returns false.
func (b *Buffer) Flush() bool {
	if !b.flushing.CompareAndSwap(false, true) {
		return false
	}
	defer b.flushing.Store(false)

	b.passMu.RLock()
	defer b.passMu.RUnlock()

	select {
	case <-b.done:
		return false
	default:
	}

	b.flushPass()
	return true
}

// Size returns the number of buffered items.
func (b *Buffer) Size() (int, error) {
	return b.storage.Count()
}

// Clear removes all buffered items.
func (b *Buffer) Clear() error {
	return b.storage.Clear()
}

// Dispose stops the periodic flush loop and disposes the storage. It does
// not force a final flush.
func (b *Buffer) Dispose() error {
	b.doneOnce.Do(func() { close(b.done) })
	b.loopWG.Wait()

	// A manual flush that started before done closed may still be
	// mid-pass; it must finish before the storage goes away.
	b.passMu.Lock()
	defer b.passMu.Unlock()
	return b.storage.Dispose()
}

func (b *Buffer) flushLoop() {
	defer b.loopWG.Done()

	for {
		wait, cancel := b.flushDelay.Wait()
		select {
		case <-wait:
			b.Flush()
		case <-b.done:
			cancel()
			return
		}
	}
}

// flushPass replays up to batchLimit oldest items. Failures are isolated
// per item so one bad record cannot wedge the batch.
func (b *Buffer) flushPass() {
	items, err := b.storage.Retrieve(b.batchLimit)
	if err != nil {
		b.logger.CaptureError(
			fmt.Errorf("offline: flush retrieve failed: %w", err))
		return
	}
	if len(items) == 0 {
		return
	}

	b.stats.FlushPass()
	b.logger.Debug("offline: flushing", "count", len(items))

	for _, item := range items {
		select {
		case <-b.done:
			return
		default:
		}

		if err := b.replay(item.Kind, item.Payload); err != nil {
			b.handleReplayFailure(item, err)
			continue
		}

		b.mu.Lock()
		err := b.storage.Remove(item.ID)
		b.mu.Unlock()
		if err != nil {
			b.logger.CaptureError(
				fmt.Errorf("offline: remove after replay failed: %w", err),
				"id", item.ID)
			continue
		}
		b.stats.Replayed()
	}
}

func (b *Buffer) handleReplayFailure(item Item, cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if item.RetryCount < b.maxRetries {
		item.RetryCount++
		if err := b.storage.Store(item); err != nil {
			b.logger.CaptureError(
				fmt.Errorf("offline: retry update failed: %w", err),
				"id", item.ID)
			return
		}

		// If the item was evicted while its replay was in flight, the
		// Store above re-inserted it past capacity. The eviction wins.
		if count, err := b.storage.Count(); err == nil && count > b.capacity {
			if err := b.storage.Remove(item.ID); err != nil {
				b.logger.CaptureError(
					fmt.Errorf("offline: evict after replay failed: %w", err),
					"id", item.ID)
				return
			}
			b.stats.Evicted(1)
			b.logger.Debug("offline: dropped evicted item after replay",
				"id", item.ID)
			return
		}

		b.logger.Debug("offline: replay failed, will retry",
			"id", item.ID,
			"retryCount", item.RetryCount,
			"error", cause)
		return
	}

	// Out of retries. The item is removed permanently; this silent loss
	// is the documented bounded-retry behavior.
	if err := b.storage.Remove(item.ID); err != nil {
		b.logger.CaptureError(
			fmt.Errorf("offline: remove after max retries failed: %w", err),
			"id", item.ID)
		return
	}
	b.stats.Dropped()
	b.logger.Debug("offline: dropped record after max retries",
		"id", item.ID, "kind", item.Kind)
}

func (b *Buffer) evictOldest(n int) error {
	victims, err := b.storage.Retrieve(n)
	if err != nil {
		return err
	}
	for _, item := range victims {
		if err := b.storage.Remove(item.ID); err != nil {
			return err
		}
	}

	b.stats.Evicted(len(victims))
	b.logger.Debug("offline: evicted oldest items", "count", len(victims))
	return nil
}

// nextID returns an ID that is unique within the process and sorts in
// insertion order.
func (b *Buffer) nextID() string {
	return fmt.Sprintf("%016x-%08x", time.Now().UnixNano(), b.seq.Add(1))
}
