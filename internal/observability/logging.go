// Package observability provides the pipeline's structured logger.
package observability

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/hson89/the-overwatch/internal/sentryext"
)

type Tags map[string]string

// NewTags creates Tags from alternating key/value arguments, the way slog
// treats its trailing args. Incomplete pairs and non-string keys are
// ignored.
func NewTags(args ...any) Tags {
	tags := Tags{}
	for len(args) >= 2 {
		key, ok := args[0].(string)
		if !ok {
			args = args[1:]
			continue
		}
		tags[key] = slog.AnyValue(args[1]).String()
		args = args[2:]
	}
	return tags
}

type CoreLoggerParams struct {
	Sentry *sentryext.Client
	Tags   Tags

	// CaptureRateLimit throttles identical Sentry captures. Nil lets all
	// captures through.
	CaptureRateLimit *CaptureRateLimiter
}

// CoreLogger is a slog.Logger that can additionally report errors to
// Sentry.
type CoreLogger struct {
	*slog.Logger
	baseTags Tags
	sentry   *sentryext.Client
	limiter  *CaptureRateLimiter
}

func NewCoreLogger(logger *slog.Logger, params *CoreLoggerParams) *CoreLogger {
	if params == nil {
		params = &CoreLoggerParams{}
	}

	tags := Tags{}
	var args []any
	for key, value := range params.Tags {
		args = append(args, slog.String(key, value))
		tags[key] = value
	}

	return &CoreLogger{
		Logger:   logger.With(args...),
		baseTags: tags,
		sentry:   params.Sentry,
		limiter:  params.CaptureRateLimit,
	}
}

// withArgs merges the given args with the logger's base tags. Base tags take
// precedence.
func (cl *CoreLogger) withArgs(args ...any) Tags {
	tags := NewTags(args...)
	for key, value := range cl.baseTags {
		tags[key] = value
	}
	return tags
}

// With returns a derived logger that includes the given attrs in each
// message.
func (cl *CoreLogger) With(args ...any) *CoreLogger {
	return &CoreLogger{
		Logger:   cl.Logger.With(args...),
		baseTags: cl.baseTags,
		sentry:   cl.sentry,
		limiter:  cl.limiter,
	}
}

// CaptureError logs an error and sends it to Sentry.
func (cl *CoreLogger) CaptureError(err error, args ...any) {
	cl.Error(err.Error(), args...)

	if cl.sentry != nil && cl.limiter.AllowCapture(err.Error()) {
		cl.sentry.CaptureException(err, cl.withArgs(args...))
	}
}

// CaptureWarn logs a warning and sends it to Sentry.
func (cl *CoreLogger) CaptureWarn(msg string, args ...any) {
	cl.Warn(msg, args...)

	if cl.sentry != nil && cl.limiter.AllowCapture(msg) {
		cl.sentry.CaptureMessage(msg, cl.withArgs(args...))
	}
}

// NewPipelineLogger returns the production logger: text on stderr, debug
// level when debug logging is enabled, Sentry capture when a client is
// provided.
func NewPipelineLogger(debug bool, sentry *sentryext.Client) *CoreLogger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return NewCoreLogger(
		slog.New(slog.NewTextHandler(
			os.Stderr,
			&slog.HandlerOptions{Level: level},
		)),
		&CoreLoggerParams{
			Sentry:           sentry,
			CaptureRateLimit: DefaultCaptureRateLimit(),
		},
	)
}

// NewNoOpLogger returns a logger that discards all messages.
//
// Used for testing.
func NewNoOpLogger() *CoreLogger {
	return NewCoreLogger(
		slog.New(slog.NewJSONHandler(io.Discard, nil)),
		nil,
	)
}

// DefaultCaptureRateLimit returns the capture rate limiter used in
// production: each distinct message at most once per minute, tracking up to
// 128 recent messages.
func DefaultCaptureRateLimit() *CaptureRateLimiter {
	rl, err := NewCaptureRateLimiter(128, time.Minute)
	if err != nil {
		return nil
	}
	return rl
}
