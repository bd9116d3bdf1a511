package k8s

import (
	"context"
	"errors"
	"strings"
	"time"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

const (
	DefaultRetryAttempts = 3
	initialBackoff       = 100 * time.Millisecond
	maxBackoff           = 2 * time.Second
)

// IsRetryable returns true for 5xx and 429 (too many requests).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if apierrors.IsTooManyRequests(err) {
		return true
	}
	if apierrors.IsInternalError(err) || apierrors.IsServerTimeout(err) {
		return true
	}
	var se *apierrors.StatusError
	if errors.As(err, &se) && se.ErrStatus.Code >= 500 {
		return true
	}
	return false
}

// IsQuotaExceeded classifies the 403 the API server returns when a
// ResourceQuota blocks a create. Not retryable: the controller tears
// down the partial set instead.
func IsQuotaExceeded(err error) bool {
	if err == nil {
		return false
	}
	return apierrors.IsForbidden(err) && strings.Contains(strings.ToLower(err.Error()), "exceeded quota")
}

// backoff returns delay for attempt (0-based); exponential with cap.
func backoff(attempt int) time.Duration {
	d := initialBackoff
	for i := 0; i < attempt && d < maxBackoff; i++ {
		d = d * 3
		if d > maxBackoff {
			d = maxBackoff
		}
	}
	return d
}

// DoWithRetry runs fn up to maxAttempts times; retries on 5xx/429 with
// backoff. Non-retryable errors return immediately.
func DoWithRetry(ctx context.Context, maxAttempts int, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts-1 || !IsRetryable(lastErr) {
			return lastErr
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff(attempt)):
			// continue
		}
	}
	return lastErr
}
