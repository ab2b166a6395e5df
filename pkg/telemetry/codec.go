package telemetry

import (
	"fmt"
	"time"

	"github.com/wandb/simplejsonext"
)

// The codec serializes records into the opaque payloads the offline buffer
// stores, and decodes them again at the single replay point.
//
// simplejsonext handles NaN and ±Inf metric values that encoding/json
// rejects.

// marshalRecord returns the record's kind tag and serialized payload.
func marshalRecord(rec Record) (string, []byte, error) {
	var fields map[string]any

	switch t := rec.(type) {
	case *Event:
		fields = map[string]any{
			"name":        t.Name,
			"timestamp":   t.Timestamp.UnixMicro(),
			"user_id":     t.UserID,
			"session_id":  t.SessionID,
			"device_info": stringMapToAny(t.DeviceInfo),
			"properties":  t.Properties,
		}
	case *ErrorReport:
		crumbs := make([]any, 0, len(t.Breadcrumbs))
		for _, bc := range t.Breadcrumbs {
			crumbs = append(crumbs, map[string]any{
				"message":   bc.Message,
				"timestamp": bc.Timestamp.UnixMicro(),
				"category":  bc.Category,
				"level":     bc.Level,
				"data":      bc.Data,
			})
		}
		fields = map[string]any{
			"description": t.Description,
			"severity":    t.Severity,
			"timestamp":   t.Timestamp.UnixMicro(),
			"user_id":     t.UserID,
			"session_id":  t.SessionID,
			"device_info": stringMapToAny(t.DeviceInfo),
			"context":     t.Context,
			"breadcrumbs": crumbs,
			"stack_trace": t.StackTrace,
		}
	case *LogEntry:
		fields = map[string]any{
			"level":       t.Level,
			"message":     t.Message,
			"timestamp":   t.Timestamp.UnixMicro(),
			"user_id":     t.UserID,
			"session_id":  t.SessionID,
			"device_info": stringMapToAny(t.DeviceInfo),
			"labels":      t.Labels,
		}
	case *Metric:
		fields = map[string]any{
			"name":        t.Name,
			"value":       t.Value,
			"unit":        t.Unit,
			"timestamp":   t.Timestamp.UnixMicro(),
			"user_id":     t.UserID,
			"session_id":  t.SessionID,
			"device_info": stringMapToAny(t.DeviceInfo),
			"tags":        t.Tags,
			"trace_id":    t.TraceID,
			"span_id":     t.SpanID,
		}
	default:
		return "", nil, fmt.Errorf("telemetry: cannot marshal record kind %v",
			rec.RecordKind())
	}

	payload, err := simplejsonext.Marshal(fields)
	if err != nil {
		return "", nil, err
	}
	return rec.RecordKind().String(), payload, nil
}

// unmarshalRecord decodes a buffered payload back into a typed record.
// This is the single point where stored payloads become records again; the
// kind switch is exhaustive.
func unmarshalRecord(kind string, payload []byte) (Record, error) {
	fields, err := simplejsonext.UnmarshalObject(payload)
	if err != nil {
		return nil, fmt.Errorf("telemetry: corrupt %s payload: %w", kind, err)
	}

	switch KindFromString(kind) {
	case KindEvent:
		return &Event{
			Name:       fieldString(fields, "name"),
			Timestamp:  fieldTime(fields, "timestamp"),
			UserID:     fieldString(fields, "user_id"),
			SessionID:  fieldString(fields, "session_id"),
			DeviceInfo: fieldStringMap(fields, "device_info"),
			Properties: fieldAnyMap(fields, "properties"),
		}, nil
	case KindError:
		var crumbs []Breadcrumb
		if raw, ok := fields["breadcrumbs"].([]any); ok {
			for _, entry := range raw {
				bc, ok := entry.(map[string]any)
				if !ok {
					continue
				}
				crumbs = append(crumbs, Breadcrumb{
					Message:   fieldString(bc, "message"),
					Timestamp: fieldTime(bc, "timestamp"),
					Category:  fieldString(bc, "category"),
					Level:     fieldString(bc, "level"),
					Data:      fieldAnyMap(bc, "data"),
				})
			}
		}
		return &ErrorReport{
			Description: fieldString(fields, "description"),
			Severity:    fieldString(fields, "severity"),
			Timestamp:   fieldTime(fields, "timestamp"),
			UserID:      fieldString(fields, "user_id"),
			SessionID:   fieldString(fields, "session_id"),
			DeviceInfo:  fieldStringMap(fields, "device_info"),
			Context:     fieldAnyMap(fields, "context"),
			Breadcrumbs: crumbs,
			StackTrace:  fieldString(fields, "stack_trace"),
		}, nil
	case KindLog:
		return &LogEntry{
			Level:      fieldString(fields, "level"),
			Message:    fieldString(fields, "message"),
			Timestamp:  fieldTime(fields, "timestamp"),
			UserID:     fieldString(fields, "user_id"),
			SessionID:  fieldString(fields, "session_id"),
			DeviceInfo: fieldStringMap(fields, "device_info"),
			Labels:     fieldAnyMap(fields, "labels"),
		}, nil
	case KindMetric:
		return &Metric{
			Name:       fieldString(fields, "name"),
			Value:      fieldFloat(fields, "value"),
			Unit:       fieldString(fields, "unit"),
			Timestamp:  fieldTime(fields, "timestamp"),
			UserID:     fieldString(fields, "user_id"),
			SessionID:  fieldString(fields, "session_id"),
			DeviceInfo: fieldStringMap(fields, "device_info"),
			Tags:       fieldAnyMap(fields, "tags"),
			TraceID:    fieldString(fields, "trace_id"),
			SpanID:     fieldString(fields, "span_id"),
		}, nil
	default:
		return nil, fmt.Errorf("telemetry: unknown record kind tag %q", kind)
	}
}

func stringMapToAny(m map[string]string) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func fieldString(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func fieldFloat(fields map[string]any, key string) float64 {
	switch n := fields[key].(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func fieldTime(fields map[string]any, key string) time.Time {
	switch n := fields[key].(type) {
	case int64:
		return time.UnixMicro(n)
	case float64:
		return time.UnixMicro(int64(n))
	default:
		return time.Time{}
	}
}

func fieldStringMap(fields map[string]any, key string) map[string]string {
	raw, ok := fields[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func fieldAnyMap(fields map[string]any, key string) map[string]any {
	raw, ok := fields[key].(map[string]any)
	if !ok {
		return nil
	}
	return raw
}
