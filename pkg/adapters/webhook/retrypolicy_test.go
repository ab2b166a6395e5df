package webhook

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyStatusCodes(t *testing.T) {
	tests := []struct {
		status string
		code   int
		retry  bool
	}{
		{"bad request", http.StatusBadRequest, false},
		{"unauthorized", http.StatusUnauthorized, false},
		{"forbidden", http.StatusForbidden, false},
		{"not found", http.StatusNotFound, false},
		{"conflict", http.StatusConflict, false},
		{"payload too large", http.StatusRequestEntityTooLarge, false},
		{"unprocessable", http.StatusUnprocessableEntity, false},
		{"not implemented", http.StatusNotImplemented, false},
		{"too many requests", http.StatusTooManyRequests, true},
		{"internal error", http.StatusInternalServerError, true},
		{"bad gateway", http.StatusBadGateway, true},
		{"service unavailable", http.StatusServiceUnavailable, true},
		{"ok", http.StatusOK, false},
		{"accepted", http.StatusAccepted, false},
	}

	for _, tc := range tests {
		t.Run(tc.status, func(t *testing.T) {
			retry, err := retryPolicy(
				context.Background(),
				&http.Response{StatusCode: tc.code},
				nil,
			)
			require.NoError(t, err)
			assert.Equal(t, tc.retry, retry)
		})
	}
}

func TestRetryPolicyInvalidStatusCode(t *testing.T) {
	retry, err := retryPolicy(
		context.Background(), &http.Response{StatusCode: 604}, nil)
	require.NoError(t, err)
	assert.True(t, retry)
}

func TestRetryPolicyCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	retry, err := retryPolicy(ctx, nil, nil)
	assert.False(t, retry)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	min := 1 * time.Second
	max := 10 * time.Second

	first := backoffWithJitter(min, max, 0, nil)
	assert.GreaterOrEqual(t, first, 1*time.Second)
	assert.LessOrEqual(t, first, 1250*time.Millisecond)

	capped := backoffWithJitter(min, max, 10, nil)
	assert.Equal(t, max, capped)
}

func TestBackoffHonorsRetryAfter(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{"3"}},
	}

	sleep := backoffWithJitter(time.Second, time.Minute, 0, resp)
	assert.GreaterOrEqual(t, sleep, 3*time.Second)
	assert.LessOrEqual(t, sleep, 3750*time.Millisecond)
}
