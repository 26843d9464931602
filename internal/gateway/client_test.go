package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckRetryRetriesOnNetworkError(t *testing.T) {
	retry, err := checkRetry(context.Background(), nil, errors.New("dial tcp: connection refused"))
	require.NoError(t, err)
	assert.True(t, retry)
}

func TestCheckRetryRetriesOn5xx(t *testing.T) {
	resp := &http.Response{StatusCode: http.StatusServiceUnavailable}
	retry, err := checkRetry(context.Background(), resp, nil)
	require.NoError(t, err)
	assert.True(t, retry)
}

func TestCheckRetryRetriesOn408And429(t *testing.T) {
	for _, status := range []int{http.StatusRequestTimeout, http.StatusTooManyRequests} {
		resp := &http.Response{StatusCode: status}
		retry, err := checkRetry(context.Background(), resp, nil)
		require.NoError(t, err)
		assert.True(t, retry, "status %d must be retried", status)
	}
}

func TestCheckRetryTerminalOnOther4xx(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusUnprocessableEntity} {
		resp := &http.Response{StatusCode: status}
		retry, err := checkRetry(context.Background(), resp, nil)
		require.NoError(t, err)
		assert.False(t, retry, "status %d must be terminal, not retried", status)
	}
}

func TestCheckRetryStopsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	retry, err := checkRetry(ctx, nil, nil)
	assert.False(t, retry)
	assert.Error(t, err)
}

func TestJitteredBackoffStaysWithinCapAndJitterBounds(t *testing.T) {
	backoff := jitteredBackoff(0.20)
	min := 250 * time.Millisecond
	max := 30 * time.Second

	for attempt := 0; attempt < 10; attempt++ {
		d := backoff(min, max, attempt, nil)
		assert.GreaterOrEqual(t, d, min)
		assert.LessOrEqual(t, d, time.Duration(float64(max)*1.20))
	}
}
