package webhook

import (
	"context"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// retryPolicy retries by default unless the error is known not to be
// retryable.
func retryPolicy(
	ctx context.Context,
	resp *http.Response,
	err error,
) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	// retryablehttp's default policy already distinguishes retryable
	// transport errors from permanent ones (bad scheme, too many
	// redirects, invalid certificates).
	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest,
		http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusNotFound,
		http.StatusConflict,
		http.StatusGone,
		http.StatusRequestEntityTooLarge,
		http.StatusUnprocessableEntity,
		http.StatusNotImplemented:
		// A malformed or rejected record will not improve on retry.
		return false, nil
	}

	// Retry invalid HTTP codes.
	if resp.StatusCode == 0 || resp.StatusCode >= 600 {
		return true, nil
	}

	// Retry any other client or server errors.
	return resp.StatusCode >= 400 && resp.StatusCode <= 599, nil
}

// backoffWithJitter sleeps min * 2^attempt capped at max, with up to 25%
// jitter added. A 429 with a Retry-After header is honored instead.
func backoffWithJitter(
	min, max time.Duration,
	attemptNum int,
	resp *http.Response,
) time.Duration {
	addJitter := func(d time.Duration) time.Duration {
		return d + time.Duration(rand.Float64()*0.25*float64(d))
	}

	if resp != nil && resp.StatusCode == http.StatusTooManyRequests {
		if s := resp.Header.Get("Retry-After"); s != "" {
			if seconds, err := strconv.ParseFloat(s, 64); err == nil {
				return addJitter(
					time.Duration(seconds * float64(time.Second)))
			}
		}
	}

	sleep := addJitter(
		time.Duration(math.Pow(2, float64(attemptNum)) * float64(min)))
	if sleep > max {
		sleep = max
	}
	return sleep
}
