package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		msg    string
		want   Kind
	}{
		{http.StatusTooManyRequests, "slow down", KindRateLimit},
		{http.StatusTooManyRequests, "Quota exceeded for metric", KindQuotaExceeded},
		{http.StatusBadRequest, "You exceeded your current quota", KindQuotaExceeded},
		{http.StatusForbidden, "API key not valid", KindAccessDenied},
		{http.StatusInternalServerError, "internal", KindUpstream},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Classify(tc.status, tc.msg), "status %d msg %q", tc.status, tc.msg)
	}
}

func TestIsRetryable(t *testing.T) {
	require.True(t, IsRetryable(RateLimited("analysis", time.Second)))
	require.True(t, IsRetryable(fmt.Errorf("call: %w", FromStatus("analysis", 429, "busy", nil))))
	require.True(t, IsRetryable(errors.New("upstream says: quota exhausted")))
	require.False(t, IsRetryable(FromStatus("analysis", 403, "denied", nil)))
	require.False(t, IsRetryable(New(KindNetwork, "analysis", "connection reset")))
	require.False(t, IsRetryable(errors.New("boom")))
	require.False(t, IsRetryable(nil))
}

func TestErrorsIsByKind(t *testing.T) {
	err := fmt.Errorf("run: %w", New(KindConfiguration, "preflight", "missing API key"))
	require.ErrorIs(t, err, ErrConfiguration)
	require.NotErrorIs(t, err, ErrValidation)
	require.Equal(t, KindConfiguration, KindOf(err))
}

func TestRetryAfter(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", RateLimited("analysis", 12*time.Second))
	require.Equal(t, 12*time.Second, RetryAfter(err))
	require.Zero(t, RetryAfter(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	require.Equal(t, http.StatusConflict, HTTPStatus(ErrBusy))
	require.Equal(t, http.StatusTooManyRequests, HTTPStatus(RateLimited("x", 0)))
	require.Equal(t, http.StatusBadGateway, HTTPStatus(errors.New("x")))
}
