package observability

import (
	"hash/fnv"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// CaptureRateLimiter throttles repeated Sentry captures of the same
// message.
//
// Each message hashes to a key whose last capture time is kept in an LRU
// cache, and a message seen within minDuration of its last capture is
// suppressed. The cache bounds memory; if many distinct messages churn
// through a too-small cache, a repeated message can slip through again.
//
// A nil limiter allows everything.
type CaptureRateLimiter struct {
	lastCapture *lru.Cache
	minDuration time.Duration
}

// NewCaptureRateLimiter returns a limiter tracking up to size distinct
// messages, each captured at most once per minDuration.
func NewCaptureRateLimiter(
	size int,
	minDuration time.Duration,
) (*CaptureRateLimiter, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CaptureRateLimiter{
		lastCapture: cache,
		minDuration: minDuration,
	}, nil
}

// AllowCapture reports whether the message should be captured, recording
// now as its last capture time when it is.
func (rl *CaptureRateLimiter) AllowCapture(msg string) bool {
	if rl == nil || rl.minDuration <= 0 {
		return true
	}

	h := fnv.New64a()
	_, _ = h.Write([]byte(msg))
	key := h.Sum64()

	now := time.Now()
	if prev, ok := rl.lastCapture.Get(key); ok {
		if now.Sub(prev.(time.Time)) < rl.minDuration {
			return false
		}
	}

	rl.lastCapture.Add(key, now)
	return true
}
