package telemetry

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hson89/the-overwatch/internal/observability"
	"github.com/hson89/the-overwatch/internal/pipestats"
	"github.com/hson89/the-overwatch/internal/sentryext"
	"github.com/hson89/the-overwatch/internal/usercontext"
	"github.com/hson89/the-overwatch/internal/waiting"
	"github.com/hson89/the-overwatch/pkg/offline"
)

type dispatcherState int8

const (
	stateUninitialized dispatcherState = iota
	stateInitialized
	stateDisposed
)

// Params configures a Dispatcher. Only Config is required.
type Params struct {
	Config Config

	// Logger overrides the default stderr logger. Tests pass a no-op
	// logger here.
	Logger *observability.CoreLogger

	// OpsSentryDSN enables reporting of the pipeline's own operational
	// errors to Sentry. Empty disables it. This is unrelated to any
	// error-reporting backend the application registers as an adapter.
	OpsSentryDSN string

	// Storage backs the offline buffer. Defaults to in-memory storage
	// when the buffer is enabled.
	Storage offline.Storage

	// Registerer receives the pipeline's Prometheus counters. Nil leaves
	// them unregistered.
	Registerer prometheus.Registerer

	// DeviceInfo is merged into every record during enrichment.
	// Record-level keys win on conflict. Collecting device metadata is
	// the host application's concern.
	DeviceInfo map[string]string

	// FlushDelay overrides the buffer's periodic flush wait. Tests
	// inject short or canceled delays here.
	FlushDelay waiting.Delay
}

// Dispatcher is the delivery pipeline: it enriches, scrubs and fans
// records out to every registered backend adapter, falling back to the
// offline buffer when delivery fails.
//
// Lifecycle: Uninitialized -> Initialized -> Disposed, with Disposed
// terminal. Every operation except Initialize returns ErrNotInitialized
// before Initialize and ErrDisposed after Dispose.
type Dispatcher struct {
	params Params

	mu       sync.RWMutex
	state    dispatcherState
	adapters []BackendAdapter

	cfg        Config
	logger     *observability.CoreLogger
	scrubber   *Scrubber
	userCtx    *usercontext.State
	buffer     *offline.Buffer
	stats      *pipestats.Stats
	deviceInfo map[string]string
}

// NewDispatcher creates an uninitialized dispatcher. Call Initialize
// before submitting records.
func NewDispatcher(params Params) *Dispatcher {
	return &Dispatcher{params: params}
}

// Initialize transitions the dispatcher to the Initialized state. It is
// single-use: a second call fails with ErrAlreadyInitialized.
func (d *Dispatcher) Initialize() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch d.state {
	case stateInitialized:
		return ErrAlreadyInitialized
	case stateDisposed:
		return ErrDisposed
	}

	cfg := d.params.Config
	cfg.ApplyDefaults()
	d.cfg = cfg

	d.logger = d.params.Logger
	if d.logger == nil {
		var sentry *sentryext.Client
		if d.params.OpsSentryDSN != "" {
			sentry = sentryext.New(sentryext.Params{DSN: d.params.OpsSentryDSN})
		}
		d.logger = observability.NewPipelineLogger(cfg.EnableDebugLogging, sentry)
	}

	scrubber, err := NewScrubber(cfg.Privacy.ScrubPII, cfg.Privacy.PIIPatterns)
	if err != nil {
		return err
	}
	d.scrubber = scrubber

	d.userCtx = usercontext.New(
		cfg.GlobalUserID,
		cfg.GlobalSessionID,
		cfg.cloneGlobalContext(),
	)
	d.stats = pipestats.New(d.params.Registerer)
	d.deviceInfo = d.params.DeviceInfo

	if cfg.EnableOfflineBuffer {
		storage := d.params.Storage
		if storage == nil {
			storage = offline.NewMemoryStorage()
		}
		flushDelay := d.params.FlushDelay
		if flushDelay == nil {
			flushDelay = waiting.NewDelay(cfg.FlushInterval)
		}
		buffer, err := offline.NewBuffer(offline.Params{
			Storage:    storage,
			Replay:     d.replayItem,
			Logger:     d.logger,
			Stats:      d.stats,
			Capacity:   cfg.MaxBufferSize,
			FlushDelay: flushDelay,
		})
		if err != nil {
			return fmt.Errorf("telemetry: offline buffer init: %w", err)
		}
		d.buffer = buffer
	}

	d.state = stateInitialized
	d.logger.Debug("telemetry: dispatcher initialized",
		"offlineBuffer", cfg.EnableOfflineBuffer,
		"scrubPII", cfg.Privacy.ScrubPII)
	return nil
}

// checkReady returns the precondition error for the current state, if any.
// Callers must hold at least a read lock.
func (d *Dispatcher) checkReady() error {
	switch d.state {
	case stateUninitialized:
		return ErrNotInitialized
	case stateDisposed:
		return ErrDisposed
	default:
		return nil
	}
}

// snapshotAdapters returns a consistent copy of the active adapter set.
func (d *Dispatcher) snapshotAdapters() ([]BackendAdapter, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.checkReady(); err != nil {
		return nil, err
	}
	out := make([]BackendAdapter, len(d.adapters))
	copy(out, d.adapters)
	return out, nil
}

// RegisterAdapter initializes the adapter with its config and, on success,
// adds it to the active set. An initialization failure propagates to the
// caller and the adapter is not registered.
func (d *Dispatcher) RegisterAdapter(adapter BackendAdapter, config any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkReady(); err != nil {
		return err
	}

	if err := adapter.Initialize(config); err != nil {
		return fmt.Errorf("telemetry: adapter %q: %w", adapter.Name(), err)
	}
	d.adapters = append(d.adapters, adapter)

	// A user identified before this adapter existed should still be
	// attributed on it.
	if userID := d.userCtx.UserID(); userID != "" {
		adapter.SetUserID(userID)
	}
	if props := d.userCtx.UserProperties(); len(props) > 0 {
		adapter.SetUserProperties(props)
	}

	d.logger.Debug("telemetry: adapter registered", "adapter", adapter.Name())
	return nil
}

// UnregisterAdapter removes the adapter from the active set. The adapter
// is not disposed; that happens on dispatcher Dispose, or earlier if the
// host application disposes it itself.
func (d *Dispatcher) UnregisterAdapter(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.checkReady(); err != nil {
		return err
	}

	for i, ad := range d.adapters {
		if ad.Name() == name {
			d.adapters = append(d.adapters[:i:i], d.adapters[i+1:]...)
			d.logger.Debug("telemetry: adapter unregistered", "adapter", name)
			return nil
		}
	}
	return nil
}

// Submit runs one record through the pipeline: feature gate, enrichment,
// scrubbing, concurrent delivery to every enabled capability-matching
// adapter, and buffer fallback for failures.
//
// Submit never fails the caller for a downstream delivery failure; only
// precondition violations and buffer storage failures surface.
func (d *Dispatcher) Submit(ctx context.Context, rec Record) error {
	adapters, err := d.snapshotAdapters()
	if err != nil {
		return err
	}

	kind := rec.RecordKind()
	if kind == KindUnknown {
		return errUnknownRecordKind
	}
	if !d.cfg.kindEnabled(kind) {
		d.logger.Debug("telemetry: record dropped by feature gate",
			"kind", kind.String())
		return nil
	}

	enriched := enrich(rec, d.userCtx.Get(), d.deviceInfo)
	scrubbed := d.scrubber.ScrubRecord(enriched)

	// One goroutine per adapter, all joined before returning, so the
	// buffering decision is made deterministically.
	var anyFailed atomic.Bool
	g := &errgroup.Group{}
	for _, ad := range adapters {
		if !ad.IsEnabled() || !ad.Supports(kind) {
			continue
		}
		g.Go(func() error {
			if err := deliver(ctx, ad, scrubbed); err != nil {
				anyFailed.Store(true)
				d.stats.DeliveryFailure(kind.String(), ad.Name())
				d.logger.Debug("telemetry: delivery failed",
					"adapter", ad.Name(),
					"kind", kind.String(),
					"error", err)
			} else {
				d.stats.Delivered(kind.String(), ad.Name())
			}
			return nil
		})
	}
	_ = g.Wait()

	// The scrubbed record is buffered once, regardless of how many
	// adapters failed: replay fans out again. A buffer storage failure is
	// the one downstream error callers see.
	if anyFailed.Load() && d.buffer != nil {
		return d.bufferRecord(scrubbed)
	}
	return nil
}

func (d *Dispatcher) bufferRecord(rec Record) error {
	kind, payload, err := marshalRecord(rec)
	if err != nil {
		d.logger.CaptureError(
			fmt.Errorf("telemetry: marshal for buffering failed: %w", err))
		return nil
	}
	if err := d.buffer.Enqueue(kind, payload); err != nil {
		d.logger.CaptureError(
			fmt.Errorf("telemetry: buffer enqueue failed: %w", err),
			"kind", kind)
		return fmt.Errorf("telemetry: buffer enqueue: %w", err)
	}
	return nil
}

// replayItem is the offline buffer's replay callback. The stored payload
// is already enriched and scrubbed, so it goes straight to delivery.
//
// Replay fans out to every currently-registered adapter that supports the
// kind, including adapters that succeeded on the live attempt. Avoiding
// that duplicate delivery would require per-(item, adapter)
// acknowledgments, which this pipeline does not track.
func (d *Dispatcher) replayItem(kindTag string, payload []byte) error {
	adapters, err := d.snapshotAdapters()
	if err != nil {
		return err
	}

	rec, err := unmarshalRecord(kindTag, payload)
	if err != nil {
		return err
	}
	kind := rec.RecordKind()

	var failures atomic.Int64
	g := &errgroup.Group{}
	for _, ad := range adapters {
		if !ad.IsEnabled() || !ad.Supports(kind) {
			continue
		}
		g.Go(func() error {
			if err := deliver(context.Background(), ad, rec); err != nil {
				failures.Add(1)
				d.logger.Debug("telemetry: replay delivery failed",
					"adapter", ad.Name(),
					"kind", kindTag,
					"error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if n := failures.Load(); n > 0 {
		return fmt.Errorf("telemetry: replay failed on %d adapter(s)", n)
	}
	return nil
}

// SetUserID updates the process context and propagates the id to every
// active adapter.
func (d *Dispatcher) SetUserID(id string) error {
	adapters, err := d.snapshotAdapters()
	if err != nil {
		return err
	}

	d.userCtx.SetUserID(id)
	for _, ad := range adapters {
		ad.SetUserID(id)
	}
	return nil
}

// SetUserProperties merges properties into the process context and
// propagates them to every active adapter.
func (d *Dispatcher) SetUserProperties(props map[string]any) error {
	adapters, err := d.snapshotAdapters()
	if err != nil {
		return err
	}

	d.userCtx.SetUserProperties(props)
	for _, ad := range adapters {
		ad.SetUserProperties(props)
	}
	return nil
}

// AddGlobalContext adds a key to the global context merged into every
// subsequent record.
func (d *Dispatcher) AddGlobalContext(key string, value any) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.checkReady(); err != nil {
		return err
	}
	d.userCtx.AddGlobalContext(key, value)
	return nil
}

// RemoveGlobalContext removes a key from the global context.
func (d *Dispatcher) RemoveGlobalContext(key string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.checkReady(); err != nil {
		return err
	}
	d.userCtx.RemoveGlobalContext(key)
	return nil
}

// StartNewSession regenerates the session id and returns it. The previous
// id persists on records already in flight.
func (d *Dispatcher) StartNewSession() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if err := d.checkReady(); err != nil {
		return "", err
	}
	return d.userCtx.StartNewSession(), nil
}

// Flush triggers a manual buffer flush. It shares the single-flight gate
// with the periodic timer: if a flush is already running this is a no-op.
func (d *Dispatcher) Flush() error {
	d.mu.RLock()
	buffer := d.buffer
	err := d.checkReady()
	d.mu.RUnlock()

	if err != nil {
		return err
	}
	if buffer != nil {
		buffer.Flush()
	}
	return nil
}

// BufferSize returns the number of records waiting in the offline buffer.
func (d *Dispatcher) BufferSize() (int, error) {
	d.mu.RLock()
	buffer := d.buffer
	err := d.checkReady()
	d.mu.RUnlock()

	if err != nil {
		return 0, err
	}
	if buffer == nil {
		return 0, nil
	}
	return buffer.Size()
}

// Dispose tears the pipeline down: the buffer first, then every adapter.
// Adapter disposal is best-effort and isolated; one adapter's failure does
// not block disposing the rest. Disposed is terminal.
func (d *Dispatcher) Dispose() error {
	d.mu.Lock()
	if err := d.checkReady(); err != nil {
		d.mu.Unlock()
		return err
	}
	d.state = stateDisposed
	buffer := d.buffer
	adapters := d.adapters
	d.adapters = nil
	// The lock is released before teardown: an in-flight flush replay
	// needs a read lock to observe the Disposed state and bail out.
	d.mu.Unlock()

	if buffer != nil {
		if err := buffer.Dispose(); err != nil {
			d.logger.CaptureError(
				fmt.Errorf("telemetry: buffer dispose failed: %w", err))
		}
	}

	for _, ad := range adapters {
		if err := ad.Dispose(); err != nil {
			d.logger.CaptureError(
				fmt.Errorf("telemetry: adapter dispose failed: %w", err),
				"adapter", ad.Name())
		}
	}

	d.logger.Debug("telemetry: dispatcher disposed")
	return nil
}
