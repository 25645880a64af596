package embedder

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryWithBackoff(t *testing.T) {
	t.Run("succeeds after transient error", func(t *testing.T) {
		ctx := context.Background()
		config := DefaultRetryConfig()

		callCount := 0
		successFn := func() (string, error) {
			callCount++
			if callCount < 2 {
				return "", fmt.Errorf("transient error")
			}
			return "success", nil
		}

		result, err := retryWithBackoff(ctx, config, successFn)
		assert.NoError(t, err)
		assert.Equal(t, "success", result)
		assert.Equal(t, 2, callCount, "Should retry once and succeed on second attempt")
	})

	t.Run("exponential backoff timing", func(t *testing.T) {
		ctx := context.Background()
		config := RetryConfig{
			MaxRetries: 3,
			BaseDelay:  10 * time.Millisecond,
			MaxDelay:   100 * time.Millisecond,
			Multiplier: 2.0,
		}

		callCount := 0
		startTime := time.Now()
		failFn := func() (int, error) {
			callCount++
			return 0, fmt.Errorf("always fails")
		}

		_, err := retryWithBackoff(ctx, config, failFn)
		elapsed := time.Since(startTime)

		assert.Error(t, err)
		assert.Equal(t, 3, callCount, "Should retry MaxRetries times")
		// Should wait: 10ms + 20ms = 30ms minimum (exponential backoff)
		assert.GreaterOrEqual(t, elapsed.Milliseconds(), int64(30))
	})

	t.Run("max retries limit", func(t *testing.T) {
		ctx := context.Background()
		config := RetryConfig{
			MaxRetries: 5,
			BaseDelay:  1 * time.Millisecond,
			MaxDelay:   10 * time.Millisecond,
			Multiplier: 2.0,
		}

		callCount := 0
		alwaysFailFn := func() (bool, error) {
			callCount++
			return false, fmt.Errorf("error %d", callCount)
		}

		_, err := retryWithBackoff(ctx, config, alwaysFailFn)
		assert.Error(t, err)
		assert.Equal(t, 5, callCount, "Should stop after MaxRetries attempts")
		assert.Contains(t, err.Error(), "error 5", "Should return last error")
	})

	t.Run("context cancellation during retry", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		config := RetryConfig{
			MaxRetries: 10,
			BaseDelay:  50 * time.Millisecond,
			MaxDelay:   100 * time.Millisecond,
			Multiplier: 2.0,
		}

		callCount := 0
		fnWithCancel := func() (string, error) {
			callCount++
			if callCount == 2 {
				cancel() // Cancel after first retry
			}
			return "", fmt.Errorf("error")
		}

		_, err := retryWithBackoff(ctx, config, fnWithCancel)
		assert.Error(t, err)
		assert.Equal(t, context.Canceled, err, "Should return context.Canceled")
		assert.LessOrEqual(t, callCount, 3, "Should stop retrying after context cancellation")
	})

	t.Run("immediate success no retry", func(t *testing.T) {
		ctx := context.Background()
		config := DefaultRetryConfig()

		callCount := 0
		immediateFn := func() (int, error) {
			callCount++
			return 42, nil
		}

		result, err := retryWithBackoff(ctx, config, immediateFn)
		assert.NoError(t, err)
		assert.Equal(t, 42, result)
		assert.Equal(t, 1, callCount, "Should succeed on first try without retries")
	})

	t.Run("max delay cap is enforced", func(t *testing.T) {
		ctx := context.Background()
		config := RetryConfig{
			MaxRetries: 5,
			BaseDelay:  10 * time.Millisecond,
			MaxDelay:   20 * time.Millisecond, // Cap at 20ms
			Multiplier: 4.0,                   // Would grow: 10, 40, 160, 640...
		}

		delays := []time.Duration{}
		callCount := 0
		lastTime := time.Now()

		failFn := func() (int, error) {
			callCount++
			if callCount > 1 {
				elapsed := time.Since(lastTime)
				delays = append(delays, elapsed)
			}
			lastTime = time.Now()
			return 0, fmt.Errorf("error")
		}

		_, err := retryWithBackoff(ctx, config, failFn)
		assert.Error(t, err)

		// All delays after first should be capped at MaxDelay
		for i, delay := range delays {
			// Allow some tolerance for timing
			assert.LessOrEqual(t, delay.Milliseconds(), int64(30), "Delay %d should be capped at MaxDelay", i)
		}
	})
}

func TestRetryWithBackoff_PermanentError(t *testing.T) {
	cause := errors.New("invalid api key")
	calls := 0
	_, err := retryWithBackoff(context.Background(), DefaultRetryConfig(), func() (int, error) {
		calls++
		return 0, permanent(cause)
	})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 1, calls)
}

func TestRetryableStatus(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{http.StatusTooManyRequests, true},
		{http.StatusRequestTimeout, true},
		{http.StatusInternalServerError, true},
		{http.StatusBadGateway, true},
		{http.StatusBadRequest, false},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, retryableStatus(tt.code), "status %d", tt.code)
	}
}
