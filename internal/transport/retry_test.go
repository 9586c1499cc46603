package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/obseal/internal/events"
)

func TestRetryWithBackoff(t *testing.T) {
	attempts := 0
	start := time.Now()

	client := &APIClient{
		maxRetries: 3,
		retryDelay: 50 * time.Millisecond,
		logger:     events.NewNopLogger(),
	}

	err := client.retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
	// 50ms then 100ms
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	attempts := 0
	client := &APIClient{
		maxRetries: 5,
		retryDelay: time.Millisecond,
		logger:     events.NewNopLogger(),
	}

	cause := &APIError{StatusCode: 400, Message: "bad"}
	err := client.retry(context.Background(), func() error {
		attempts++
		return &permanentError{cause}
	})

	assert.Equal(t, 1, attempts)
	assert.Same(t, cause, err)
}

func TestRetryExhausted(t *testing.T) {
	attempts := 0
	client := &APIClient{
		maxRetries: 2,
		retryDelay: time.Millisecond,
		logger:     events.NewNopLogger(),
	}

	err := client.retry(context.Background(), func() error {
		attempts++
		return errors.New("unavailable")
	})

	assert.Equal(t, 3, attempts)
	assert.ErrorContains(t, err, "max retries exceeded")
}

func TestRetryContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	attempts := 0
	client := &APIClient{
		maxRetries: 5,
		retryDelay: 50 * time.Millisecond,
		logger:     events.NewNopLogger(),
	}

	err := client.retry(ctx, func() error {
		attempts++
		return errors.New("error")
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, attempts, 5)
}

func TestIsRetryable(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		assert.True(t, isRetryable(code), code)
	}
	for _, code := range []int{200, 202, 400, 404, 413} {
		assert.False(t, isRetryable(code), code)
	}
}
