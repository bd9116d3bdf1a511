package k8s

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestIsRetryable(t *testing.T) {
	podsGR := schema.GroupResource{Resource: "pods"}

	assert.False(t, IsRetryable(nil))
	assert.False(t, IsRetryable(apierrors.NewNotFound(podsGR, "x")))
	assert.False(t, IsRetryable(apierrors.NewForbidden(podsGR, "x", errors.New("denied"))))
	assert.True(t, IsRetryable(apierrors.NewTooManyRequests("slow down", 1)))
	assert.True(t, IsRetryable(apierrors.NewInternalError(errors.New("boom"))))
	assert.True(t, IsRetryable(apierrors.NewServerTimeout(podsGR, "get", 1)))
}

func TestIsQuotaExceeded(t *testing.T) {
	podsGR := schema.GroupResource{Resource: "pods"}

	quotaErr := apierrors.NewForbidden(podsGR, "decoy-frontend-abc",
		errors.New(`exceeded quota: decoy-pool-quota, requested: pods=1, used: pods=15, limited: pods=15`))
	assert.True(t, IsQuotaExceeded(quotaErr))

	assert.False(t, IsQuotaExceeded(nil))
	assert.False(t, IsQuotaExceeded(apierrors.NewForbidden(podsGR, "x", errors.New("RBAC denied"))))
	assert.False(t, IsQuotaExceeded(errors.New("exceeded quota"))) // not a 403
}

func TestDoWithRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := DoWithRetry(context.Background(), 3, func() error {
		calls++
		return apierrors.NewNotFound(schema.GroupResource{Resource: "pods"}, "x")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoWithRetryRetriesTransient(t *testing.T) {
	calls := 0
	err := DoWithRetry(context.Background(), 3, func() error {
		calls++
		if calls < 3 {
			return apierrors.NewInternalError(errors.New("transient"))
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoWithRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := DoWithRetry(context.Background(), 2, func() error {
		calls++
		return apierrors.NewInternalError(errors.New("always down"))
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}
