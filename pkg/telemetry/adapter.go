package telemetry

import "context"

// BackendAdapter is the contract for one observability backend.
//
// Adapters are independently fallible and independently slow. The
// dispatcher isolates them from each other: one adapter's latency or
// failure never affects another's outcome for the same record.
type BackendAdapter interface {
	// Name identifies the adapter in logs, metrics and the registry.
	Name() string

	// Initialize prepares the adapter with its backend-specific config.
	// It must return an error wrapping ErrConfigMismatch when the config
	// value is not the type it expects.
	Initialize(config any) error

	// Deliver* send one record to the backend. The dispatcher only calls
	// the method matching a kind the adapter Supports.
	DeliverEvent(ctx context.Context, e *Event) error
	DeliverError(ctx context.Context, e *ErrorReport) error
	DeliverLog(ctx context.Context, l *LogEntry) error
	DeliverMetric(ctx context.Context, m *Metric) error

	// Supports is the capability predicate, queried before every delivery
	// attempt. There is no implicit default: an adapter must answer for
	// every kind.
	Supports(kind Kind) bool

	// IsEnabled reports whether the adapter currently accepts records.
	IsEnabled() bool

	SetUserID(id string)
	SetUserProperties(props map[string]any)

	Dispose() error
}

// deliver routes one record to the adapter method for its kind. The switch
// is exhaustive over the closed record union.
func deliver(ctx context.Context, ad BackendAdapter, rec Record) error {
	switch t := rec.(type) {
	case *Event:
		return ad.DeliverEvent(ctx, t)
	case *ErrorReport:
		return ad.DeliverError(ctx, t)
	case *LogEntry:
		return ad.DeliverLog(ctx, t)
	case *Metric:
		return ad.DeliverMetric(ctx, t)
	default:
		return &DeliveryError{
			Adapter: ad.Name(),
			Err:     errUnknownRecordKind,
		}
	}
}
