// Package webhook is a generic BackendAdapter that POSTs records as JSON
// to a configurable endpoint.
//
// It is the reference implementation of the adapter contract. Vendor
// protocols (RUM collectors, log-streaming push APIs) are external
// collaborators and not implemented here.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/wandb/simplejsonext"
	"golang.org/x/time/rate"

	"github.com/hson89/the-overwatch/pkg/telemetry"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultRetryMax  = 2
	retryWaitMin     = 1 * time.Second
	retryWaitMax     = 10 * time.Second
	contentTypeJSON  = "application/json"
	userAgentHeader  = "overwatch-webhook"
)

// Config is the adapter's backend configuration. Passing any other type to
// Initialize fails with telemetry.ErrConfigMismatch.
type Config struct {
	// URL receives every record as a JSON POST body.
	URL string

	// Headers are added to every request.
	Headers map[string]string

	// Timeout bounds one delivery attempt including transport retries.
	// Defaults to 30s.
	Timeout time.Duration

	// Kinds is the capability set. Empty means all kinds.
	Kinds []telemetry.Kind

	// RetryMax is the number of transport-level retries per attempt.
	// These are short in-call retries; the offline buffer owns the
	// long-haul retry budget.
	RetryMax int

	// MaxRequestsPerSecond rate-limits outgoing requests. Zero means
	// unlimited.
	MaxRequestsPerSecond float64
}

type Adapter struct {
	name string

	mu        sync.Mutex
	cfg       Config
	client    *retryablehttp.Client
	limiter   *rate.Limiter
	userID    string
	userProps map[string]any
	enabled   bool
}

var _ telemetry.BackendAdapter = &Adapter{}

func New(name string) *Adapter {
	return &Adapter{name: name}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) Initialize(config any) error {
	cfg, ok := config.(Config)
	if !ok {
		return fmt.Errorf("webhook: got %T: %w", config, telemetry.ErrConfigMismatch)
	}
	if cfg.URL == "" {
		return fmt.Errorf("webhook: empty URL: %w", telemetry.ErrConfigMismatch)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = defaultRetryMax
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = retryWaitMin
	client.RetryWaitMax = retryWaitMax
	client.CheckRetry = retryPolicy
	client.Backoff = backoffWithJitter
	client.HTTPClient.Timeout = cfg.Timeout

	var limiter *rate.Limiter
	if cfg.MaxRequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.MaxRequestsPerSecond), 1)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
	a.client = client
	a.limiter = limiter
	a.enabled = true
	return nil
}

func (a *Adapter) DeliverEvent(ctx context.Context, e *telemetry.Event) error {
	return a.post(ctx, map[string]any{
		"type":        "event",
		"name":        e.Name,
		"timestamp":   e.Timestamp.UnixMicro(),
		"user_id":     e.UserID,
		"session_id":  e.SessionID,
		"device_info": e.DeviceInfo,
		"properties":  e.Properties,
	})
}

func (a *Adapter) DeliverError(ctx context.Context, e *telemetry.ErrorReport) error {
	crumbs := make([]any, 0, len(e.Breadcrumbs))
	for _, bc := range e.Breadcrumbs {
		crumbs = append(crumbs, map[string]any{
			"message":   bc.Message,
			"timestamp": bc.Timestamp.UnixMicro(),
			"category":  bc.Category,
			"level":     bc.Level,
			"data":      bc.Data,
		})
	}
	return a.post(ctx, map[string]any{
		"type":        "error",
		"description": e.Description,
		"severity":    e.Severity,
		"timestamp":   e.Timestamp.UnixMicro(),
		"user_id":     e.UserID,
		"session_id":  e.SessionID,
		"device_info": e.DeviceInfo,
		"context":     e.Context,
		"breadcrumbs": crumbs,
		"stack_trace": e.StackTrace,
	})
}

func (a *Adapter) DeliverLog(ctx context.Context, l *telemetry.LogEntry) error {
	return a.post(ctx, map[string]any{
		"type":        "log",
		"level":       l.Level,
		"message":     l.Message,
		"timestamp":   l.Timestamp.UnixMicro(),
		"user_id":     l.UserID,
		"session_id":  l.SessionID,
		"device_info": l.DeviceInfo,
		"labels":      l.Labels,
	})
}

func (a *Adapter) DeliverMetric(ctx context.Context, m *telemetry.Metric) error {
	return a.post(ctx, map[string]any{
		"type":        "metric",
		"name":        m.Name,
		"value":       m.Value,
		"unit":        m.Unit,
		"timestamp":   m.Timestamp.UnixMicro(),
		"user_id":     m.UserID,
		"session_id":  m.SessionID,
		"device_info": m.DeviceInfo,
		"tags":        m.Tags,
		"trace_id":    m.TraceID,
		"span_id":     m.SpanID,
	})
}

func (a *Adapter) Supports(kind telemetry.Kind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.cfg.Kinds) == 0 {
		return kind != telemetry.KindUnknown
	}
	return slices.Contains(a.cfg.Kinds, kind)
}

func (a *Adapter) IsEnabled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

func (a *Adapter) SetUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.userID = id
}

func (a *Adapter) SetUserProperties(props map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.userProps == nil {
		a.userProps = map[string]any{}
	}
	for k, v := range props {
		a.userProps[k] = v
	}
}

func (a *Adapter) Dispose() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = false
	if a.client != nil {
		a.client.HTTPClient.CloseIdleConnections()
	}
	return nil
}

func (a *Adapter) post(ctx context.Context, body map[string]any) error {
	a.mu.Lock()
	client := a.client
	limiter := a.limiter
	cfg := a.cfg
	userID := a.userID
	var userProps map[string]any
	if len(a.userProps) > 0 {
		userProps = maps.Clone(a.userProps)
	}
	a.mu.Unlock()

	// The adapter-level identity fills in for records that carry none;
	// record-level identity wins.
	if id, _ := body["user_id"].(string); id == "" && userID != "" {
		body["user_id"] = userID
	}
	if userProps != nil {
		body["user_properties"] = userProps
	}

	if client == nil {
		return &telemetry.DeliveryError{
			Adapter: a.name,
			Err:     fmt.Errorf("webhook: not initialized"),
		}
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return &telemetry.DeliveryError{Adapter: a.name, Err: err}
		}
	}

	data, err := simplejsonext.Marshal(body)
	if err != nil {
		return &telemetry.DeliveryError{Adapter: a.name, Err: err}
	}

	req, err := retryablehttp.NewRequestWithContext(
		ctx, http.MethodPost, cfg.URL, bytes.NewReader(data))
	if err != nil {
		return &telemetry.DeliveryError{Adapter: a.name, Err: err}
	}
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("User-Agent", userAgentHeader)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return &telemetry.DeliveryError{Adapter: a.name, Err: err}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &telemetry.DeliveryError{
			Adapter:    a.name,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("webhook: unexpected status %s", resp.Status),
		}
	}
	return nil
}
