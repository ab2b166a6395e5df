// Package sentryext reports internal pipeline errors to Sentry.
//
// It is for the module's own operational errors, not for the application
// telemetry flowing through the pipeline. With an empty DSN the client is
// disabled and every capture is a no-op.
package sentryext

import (
	"crypto/md5"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	lru "github.com/hashicorp/golang-lru"
)

// recentErrorWindow suppresses re-capturing an identical error message.
var recentErrorWindow = 5 * time.Minute

type Params struct {
	DSN     string
	Release string

	// LRUSize bounds the recent-error cache. Defaults to 100.
	LRUSize int
}

type Client struct {
	dsn string

	mu     sync.Mutex
	recent *lru.Cache
}

// New initializes the Sentry client. A nil return means Sentry could not be
// set up; callers treat a nil *Client as disabled.
func New(params Params) *Client {
	if params.LRUSize == 0 {
		params.LRUSize = 100
	}
	cache, err := lru.New(params.LRUSize)
	if err != nil {
		slog.Error("sentryext: failed to create LRU cache", "err", err)
		return nil
	}

	c := &Client{dsn: params.DSN, recent: cache}

	err = sentry.Init(sentry.ClientOptions{
		Dsn:              params.DSN,
		AttachStacktrace: true,
		Release:          params.Release,
	})
	if err != nil {
		slog.Error("sentryext: sentry.Init failed", "err", err)
	}

	return c
}

// shouldCapture rate-limits identical error messages to once per
// recentErrorWindow.
func (c *Client) shouldCapture(msg string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	h := md5.New()
	h.Write([]byte(msg))
	hash := hex.EncodeToString(h.Sum(nil))

	now := time.Now()
	if lastSent, exists := c.recent.Get(hash); exists {
		if now.Sub(lastSent.(time.Time)) < recentErrorWindow {
			return false
		}
	}

	c.recent.Add(hash, now)
	return true
}

// CaptureException sends an error to Sentry with the given tags.
func (c *Client) CaptureException(err error, tags map[string]string) {
	if c == nil || c.dsn == "" || err == nil {
		return
	}
	if !c.shouldCapture(err.Error()) {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

// CaptureMessage sends a message to Sentry with the given tags.
func (c *Client) CaptureMessage(msg string, tags map[string]string) {
	if c == nil || c.dsn == "" || msg == "" {
		return
	}
	if !c.shouldCapture(msg) {
		return
	}

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureMessage(msg)
	})
}

// Flush waits for buffered events to be sent, up to the timeout.
func (c *Client) Flush(timeout time.Duration) {
	if c == nil || c.dsn == "" {
		return
	}
	sentry.Flush(timeout)
}
