package telemetry

import (
	"maps"
	"slices"
	"time"
)

// Kind identifies a record variant. The set is closed: the dispatcher and
// the buffer replay path switch exhaustively over it.
type Kind int8

const (
	KindUnknown Kind = iota
	KindEvent
	KindError
	KindLog
	KindMetric
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindError:
		return "error"
	case KindLog:
		return "log"
	case KindMetric:
		return "metric"
	default:
		return "unknown"
	}
}

// KindFromString is the inverse of Kind.String. Unrecognized tags map to
// KindUnknown.
func KindFromString(s string) Kind {
	switch s {
	case "event":
		return KindEvent
	case "error":
		return KindError
	case "log":
		return KindLog
	case "metric":
		return KindMetric
	default:
		return KindUnknown
	}
}

// Record is the closed sum of telemetry record variants: *Event,
// *ErrorReport, *LogEntry and *Metric.
//
// Records are immutable by convention: enrichment and scrubbing operate on
// clones and the original value is never modified.
type Record interface {
	RecordKind() Kind
}

// Severity levels for error reports.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Breadcrumb is a step on the trail leading up to an error. Breadcrumbs
// keep their insertion order; the pipeline never re-sorts them.
type Breadcrumb struct {
	Message   string
	Timestamp time.Time
	Category  string
	Level     string
	Data      map[string]any
}

// Event is a user or application event.
type Event struct {
	Name       string
	Timestamp  time.Time
	UserID     string
	SessionID  string
	DeviceInfo map[string]string
	Properties map[string]any
}

func (e *Event) RecordKind() Kind { return KindEvent }

func (e *Event) clone() *Event {
	out := *e
	out.DeviceInfo = maps.Clone(e.DeviceInfo)
	out.Properties = maps.Clone(e.Properties)
	return &out
}

// ErrorReport describes a caught exception or error condition.
type ErrorReport struct {
	Description string
	Severity    string
	Timestamp   time.Time
	UserID      string
	SessionID   string
	DeviceInfo  map[string]string
	Context     map[string]any
	Breadcrumbs []Breadcrumb
	StackTrace  string
}

func (e *ErrorReport) RecordKind() Kind { return KindError }

func (e *ErrorReport) clone() *ErrorReport {
	out := *e
	out.DeviceInfo = maps.Clone(e.DeviceInfo)
	out.Context = maps.Clone(e.Context)
	out.Breadcrumbs = slices.Clone(e.Breadcrumbs)
	for i := range out.Breadcrumbs {
		out.Breadcrumbs[i].Data = maps.Clone(out.Breadcrumbs[i].Data)
	}
	return &out
}

// LogEntry is one application log line.
type LogEntry struct {
	Level      string
	Message    string
	Timestamp  time.Time
	UserID     string
	SessionID  string
	DeviceInfo map[string]string
	Labels     map[string]any
}

func (l *LogEntry) RecordKind() Kind { return KindLog }

func (l *LogEntry) clone() *LogEntry {
	out := *l
	out.DeviceInfo = maps.Clone(l.DeviceInfo)
	out.Labels = maps.Clone(l.Labels)
	return &out
}

// Metric is a single performance measurement. Value may be NaN or ±Inf.
type Metric struct {
	Name       string
	Value      float64
	Unit       string
	Timestamp  time.Time
	UserID     string
	SessionID  string
	DeviceInfo map[string]string
	Tags       map[string]any
	TraceID    string
	SpanID     string
}

func (m *Metric) RecordKind() Kind { return KindMetric }

func (m *Metric) clone() *Metric {
	out := *m
	out.DeviceInfo = maps.Clone(m.DeviceInfo)
	out.Tags = maps.Clone(m.Tags)
	return &out
}
