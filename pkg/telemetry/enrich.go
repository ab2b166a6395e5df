package telemetry

import (
	"time"

	"github.com/hson89/the-overwatch/internal/usercontext"
)

// enrich fills a record's identity and context fields from the process
// context and the dispatcher's device info. Record-level values always win:
// the context only fills what is absent.
//
// The input record is not mutated; enrichment returns a clone.
func enrich(
	rec Record,
	snap usercontext.Snapshot,
	deviceInfo map[string]string,
) Record {
	switch t := rec.(type) {
	case *Event:
		out := t.clone()
		out.UserID, out.SessionID = fillIdentity(out.UserID, out.SessionID, snap)
		out.Timestamp = fillTimestamp(out.Timestamp)
		out.DeviceInfo = mergeStringMaps(deviceInfo, out.DeviceInfo)
		out.Properties = mergeAnyMaps(snap.GlobalContext, out.Properties)
		return out
	case *ErrorReport:
		out := t.clone()
		out.UserID, out.SessionID = fillIdentity(out.UserID, out.SessionID, snap)
		out.Timestamp = fillTimestamp(out.Timestamp)
		out.DeviceInfo = mergeStringMaps(deviceInfo, out.DeviceInfo)
		out.Context = mergeAnyMaps(snap.GlobalContext, out.Context)
		return out
	case *LogEntry:
		out := t.clone()
		out.UserID, out.SessionID = fillIdentity(out.UserID, out.SessionID, snap)
		out.Timestamp = fillTimestamp(out.Timestamp)
		out.DeviceInfo = mergeStringMaps(deviceInfo, out.DeviceInfo)
		out.Labels = mergeAnyMaps(snap.GlobalContext, out.Labels)
		return out
	case *Metric:
		out := t.clone()
		out.UserID, out.SessionID = fillIdentity(out.UserID, out.SessionID, snap)
		out.Timestamp = fillTimestamp(out.Timestamp)
		out.DeviceInfo = mergeStringMaps(deviceInfo, out.DeviceInfo)
		out.Tags = mergeAnyMaps(snap.GlobalContext, out.Tags)
		return out
	default:
		return rec
	}
}

func fillIdentity(
	userID, sessionID string,
	snap usercontext.Snapshot,
) (string, string) {
	if userID == "" {
		userID = snap.UserID
	}
	if sessionID == "" {
		sessionID = snap.SessionID
	}
	return userID, sessionID
}

func fillTimestamp(ts time.Time) time.Time {
	if ts.IsZero() {
		return time.Now()
	}
	return ts
}

// mergeStringMaps merges base under overlay. Overlay (record-level) keys
// win on conflict.
func mergeStringMaps(base, overlay map[string]string) map[string]string {
	if len(base) == 0 {
		return overlay
	}
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

// mergeAnyMaps merges base under overlay. Overlay (record-level) keys win
// on conflict.
func mergeAnyMaps(base, overlay map[string]any) map[string]any {
	if len(base) == 0 {
		return overlay
	}
	out := make(map[string]any, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
