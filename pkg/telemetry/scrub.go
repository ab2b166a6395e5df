package telemetry

import (
	"fmt"
	"regexp"
)

// Scrubber redacts PII from telemetry payloads before they leave the
// process.
//
// Scrubbing is a pure function: it never mutates its input and is safe to
// call from concurrent fan-out goroutines. Patterns are applied in a fixed
// order (built-in set first, then custom patterns in declaration order),
// one pass per pattern.
type Scrubber struct {
	enabled  bool
	patterns []*regexp.Regexp
}

// NewScrubber compiles the built-in pattern set plus the caller-supplied
// patterns. A disabled scrubber is the identity function.
func NewScrubber(enabled bool, customPatterns []string) (*Scrubber, error) {
	s := &Scrubber{enabled: enabled}

	for _, expr := range defaultPIIPatterns {
		// Built-in patterns are compile-tested; a failure here is a
		// programming error.
		s.patterns = append(s.patterns, regexp.MustCompile(expr))
	}
	for _, expr := range customPatterns {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("telemetry: invalid PII pattern %q: %w", expr, err)
		}
		s.patterns = append(s.patterns, re)
	}
	return s, nil
}

// ScrubString applies every pattern to the string once, in order.
func (s *Scrubber) ScrubString(in string) string {
	if !s.enabled {
		return in
	}
	out := in
	for _, re := range s.patterns {
		out = re.ReplaceAllString(out, RedactionToken)
	}
	return out
}

// Scrub redacts a structured payload: strings are scrubbed, maps and lists
// are recursed, and other leaf values pass through unchanged. The input is
// never mutated.
func (s *Scrubber) Scrub(v any) any {
	if !s.enabled {
		return v
	}

	switch t := v.(type) {
	case string:
		return s.ScrubString(t)
	case map[string]any:
		if t == nil {
			return t
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = s.Scrub(val)
		}
		return out
	case map[string]string:
		if t == nil {
			return t
		}
		out := make(map[string]string, len(t))
		for k, val := range t {
			out[k] = s.ScrubString(val)
		}
		return out
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = s.Scrub(val)
		}
		return out
	case []string:
		if t == nil {
			return t
		}
		out := make([]string, len(t))
		for i, val := range t {
			out[i] = s.ScrubString(val)
		}
		return out
	default:
		return v
	}
}

func (s *Scrubber) scrubStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	return s.Scrub(m).(map[string]string)
}

func (s *Scrubber) scrubAnyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return s.Scrub(m).(map[string]any)
}

// ScrubRecord returns a scrubbed copy of the record. The switch is
// exhaustive over the record kinds.
func (s *Scrubber) ScrubRecord(rec Record) Record {
	if !s.enabled {
		return rec
	}

	switch t := rec.(type) {
	case *Event:
		out := t.clone()
		out.Name = s.ScrubString(out.Name)
		out.DeviceInfo = s.scrubStringMap(out.DeviceInfo)
		out.Properties = s.scrubAnyMap(out.Properties)
		return out
	case *ErrorReport:
		out := t.clone()
		out.Description = s.ScrubString(out.Description)
		out.StackTrace = s.ScrubString(out.StackTrace)
		out.DeviceInfo = s.scrubStringMap(out.DeviceInfo)
		out.Context = s.scrubAnyMap(out.Context)
		for i := range out.Breadcrumbs {
			out.Breadcrumbs[i].Message = s.ScrubString(out.Breadcrumbs[i].Message)
			out.Breadcrumbs[i].Data = s.scrubAnyMap(out.Breadcrumbs[i].Data)
		}
		return out
	case *LogEntry:
		out := t.clone()
		out.Message = s.ScrubString(out.Message)
		out.DeviceInfo = s.scrubStringMap(out.DeviceInfo)
		out.Labels = s.scrubAnyMap(out.Labels)
		return out
	case *Metric:
		out := t.clone()
		out.DeviceInfo = s.scrubStringMap(out.DeviceInfo)
		out.Tags = s.scrubAnyMap(out.Tags)
		return out
	default:
		return rec
	}
}
