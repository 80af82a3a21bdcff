package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestTransientStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []int{408, 425, 429, 500, 502, 503, 504} {
		assert.True(t, transientStatus(status), "status %d", status)
	}
	for _, status := range []int{200, 301, 400, 401, 403, 404, 410} {
		assert.False(t, transientStatus(status), "status %d", status)
	}
}

func TestTransientError(t *testing.T) {
	t.Parallel()

	assert.True(t, transientError(timeoutErr{}))
	assert.True(t, transientError(context.DeadlineExceeded))
	assert.False(t, transientError(context.Canceled))
	assert.False(t, transientError(errors.New("no such host")))
	assert.False(t, transientError(nil))
}

func TestBackoffStaysWithinBounds(t *testing.T) {
	t.Parallel()

	p := retryPolicy{maxAttempts: 5, baseDelay: 100 * time.Millisecond, maxDelay: time.Second}
	for attempt := 1; attempt <= 6; attempt++ {
		d := p.Backoff(attempt)
		assert.LessOrEqual(t, d, time.Second)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d, ok := retryAfter(http.Header{"Retry-After": {"3"}}, now)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	d, ok = retryAfter(http.Header{"Retry-After": {now.Add(5 * time.Second).Format(http.TimeFormat)}}, now)
	assert.True(t, ok)
	assert.Equal(t, 5*time.Second, d)

	_, ok = retryAfter(http.Header{"Retry-After": {"soon"}}, now)
	assert.False(t, ok)
	_, ok = retryAfter(nil, now)
	assert.False(t, ok)
}

func TestWaitForCapsRetryAfter(t *testing.T) {
	t.Parallel()

	p := retryPolicy{maxAttempts: 3, baseDelay: time.Millisecond, maxDelay: 10 * time.Millisecond}
	h := http.Header{"Retry-After": {"120"}}
	assert.Equal(t, 10*time.Millisecond, p.waitFor(1, http.StatusServiceUnavailable, h, time.Now()))
	assert.LessOrEqual(t, p.waitFor(1, http.StatusBadGateway, h, time.Now()), time.Millisecond)
}
