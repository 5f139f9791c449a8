package events_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/TheMichaelB/marksync/internal/events"
)

func TestFromContext(t *testing.T) {
	ctx := context.Background()

	// Default logger when none in context
	logger := events.FromContext(ctx)
	assert.NotNil(t, logger)
}

func TestWithLogger(t *testing.T) {
	ctx := context.Background()
	logger := events.NewNopLogger()

	ctx = events.WithLogger(ctx, logger)
	retrieved := events.FromContext(ctx)

	assert.Same(t, logger, retrieved)
}

func TestFromContextOr(t *testing.T) {
	fallback := events.NewNopLogger()
	assert.Same(t, fallback, events.FromContextOr(context.Background(), fallback))

	attached := events.NewNopLogger()
	ctx := events.WithLogger(context.Background(), attached)
	assert.Same(t, attached, events.FromContextOr(ctx, fallback))
}

func TestWithRequestID(t *testing.T) {
	ctx := events.WithRequestID(context.Background(), "req-123")

	assert.Equal(t, "req-123", events.GetRequestID(ctx))
	assert.Equal(t, "req-123", events.FromContext(ctx).Fields()["request_id"])
}

func TestWithJobID(t *testing.T) {
	ctx := events.WithJobID(context.Background(), "job-456")

	assert.Equal(t, "job-456", events.GetJobID(ctx))
	assert.Equal(t, "job-456", events.FromContext(ctx).Fields()["job_id"])
}

func TestGetIDsEmpty(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, events.GetRequestID(ctx))
	assert.Empty(t, events.GetJobID(ctx))
}

func TestSetDefault(t *testing.T) {
	customLogger := events.NewNopLogger()
	events.SetDefault(customLogger)

	retrieved := events.FromContext(context.Background())

	assert.Same(t, customLogger, retrieved)
}
