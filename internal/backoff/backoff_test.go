package backoff_test

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/marksync/internal/backoff"
	"github.com/TheMichaelB/marksync/internal/models"
)

func TestNextDelayFormula(t *testing.T) {
	base := time.Second
	max := time.Minute
	p := backoff.New(base, max, false)

	prev := time.Duration(0)
	for attempt := 0; attempt <= 10; attempt++ {
		want := base * time.Duration(1<<attempt)
		if want > max {
			want = max
		}

		got := p.NextDelay(attempt)
		assert.Equal(t, want, got, "attempt %d", attempt)
		assert.GreaterOrEqual(t, got, prev, "monotonic at attempt %d", attempt)
		prev = got
	}
}

func TestNextDelayLargeAttempt(t *testing.T) {
	p := backoff.New(time.Millisecond, time.Hour, false)
	assert.Equal(t, time.Hour, p.NextDelay(200))
	assert.Equal(t, time.Millisecond, p.NextDelay(-3))

	uncapped := backoff.New(time.Millisecond, 0, false)
	assert.Positive(t, uncapped.NextDelay(200), "no overflow without a cap")
}

func TestDelayJitter(t *testing.T) {
	p := backoff.New(time.Second, time.Minute, true)

	low := p.WithRand(func() float64 { return 0 })
	assert.Equal(t, 4*time.Second, low.Delay(2))

	high := p.WithRand(func() float64 { return 0.999999 })
	d := high.Delay(2)
	assert.GreaterOrEqual(t, d, 4*time.Second)
	assert.LessOrEqual(t, d, 5*time.Second)

	for i := 0; i < 50; i++ {
		d := p.Delay(3)
		assert.GreaterOrEqual(t, d, 8*time.Second)
		assert.LessOrEqual(t, d, 10*time.Second)
	}
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestCategorize(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want backoff.Category
	}{
		{"network error", timeoutErr{}, backoff.Retryable},
		{"deadline", context.DeadlineExceeded, backoff.Retryable},
		{"fetch timeout", &models.FetchError{Kind: models.FetchTimeout, Err: errors.New("x")}, backoff.Retryable},
		{"rate limited", &models.FetchError{Kind: models.FetchRateLimit, StatusCode: 429, Err: errors.New("x")}, backoff.Retryable},
		{"server error", &models.FetchError{Kind: models.FetchUnknown, StatusCode: 503, Err: errors.New("x")}, backoff.Retryable},
		{"bad request", &models.FetchError{Kind: models.FetchUnknown, StatusCode: 400, Err: errors.New("x")}, backoff.Fatal},
		{"forbidden", &models.FetchError{Kind: models.FetchForbidden, StatusCode: 403, Err: errors.New("x")}, backoff.Fatal},
		{"not found", &models.FetchError{Kind: models.FetchNotFound, StatusCode: 404, Err: errors.New("x")}, backoff.Fatal},
		{"invalid url", fmt.Errorf("fetch: %w", models.ErrInvalidURL), backoff.Fatal},
		{"validation", models.ErrValidation, backoff.Fatal},
		{"parse stage", &models.ProcessingError{Stage: models.StageParse, Err: errors.New("x")}, backoff.Fatal},
		{"embed stage", &models.ProcessingError{Stage: models.StageEmbed, Err: errors.New("quota exceeded")}, backoff.Retryable},
		{"webdav auth", &models.WebDAVError{Kind: models.WebDAVAuth, StatusCode: 401, Err: errors.New("x")}, backoff.Fatal},
		{"webdav 502", &models.WebDAVError{Kind: models.WebDAVNetwork, StatusCode: 502, Err: errors.New("x")}, backoff.Retryable},
		{"connection message", errors.New("connection refused"), backoff.Retryable},
		{"malformed message", errors.New("malformed document"), backoff.Fatal},
		{"unknown", errors.New("something odd"), backoff.Retryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, backoff.Categorize(tt.err))
		})
	}
}

func TestShouldRetry(t *testing.T) {
	retryable := errors.New("connection reset")
	fatal := &models.FetchError{Kind: models.FetchNotFound, StatusCode: 404, Err: errors.New("gone")}
	max := 3

	for attempt := 0; attempt <= 5; attempt++ {
		if attempt >= max {
			assert.False(t, backoff.ShouldRetry(attempt, max, retryable), "attempt %d", attempt)
		} else {
			assert.True(t, backoff.ShouldRetry(attempt, max, retryable), "attempt %d", attempt)
		}
		assert.False(t, backoff.ShouldRetry(attempt, max, fatal), "fatal at attempt %d", attempt)
	}

	p := backoff.New(time.Second, time.Minute, false)
	assert.True(t, p.ShouldRetry(0, 1, retryable))
	assert.False(t, p.ShouldRetry(1, 1, retryable))
}

func TestCategoryString(t *testing.T) {
	assert.Equal(t, "fatal", backoff.Fatal.String())
	assert.Equal(t, "retryable", backoff.Retryable.String())
}
