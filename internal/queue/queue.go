// Package queue drives bookmarks through fetch and content processing.
package queue

import (
	"context"
	"time"

	"github.com/TheMichaelB/marksync/internal/config"
	"github.com/TheMichaelB/marksync/internal/models"
)

// Fetcher retrieves the page HTML for a bookmark.
type Fetcher interface {
	FetchHTML(ctx context.Context, bookmark *models.Bookmark) (*models.Bookmark, error)
}

// ContentProcessor turns stored HTML into readable content and persists it.
type ContentProcessor interface {
	ProcessContent(ctx context.Context, bookmark *models.Bookmark) error
}

// Repository is the bookmark store as seen by the queue.
type Repository interface {
	// GetByStatus returns bookmarks in creation order, skipping any whose
	// NextRetryAt lies in the future. limit <= 0 means no limit.
	GetByStatus(ctx context.Context, status models.BookmarkStatus, limit int) ([]*models.Bookmark, error)
	Update(ctx context.Context, id string, update models.BookmarkUpdate) error
	BulkUpdate(ctx context.Context, ids []string, update models.BookmarkUpdate) error
}

// RetryScheduler is implemented by repositories that can report deferred work.
type RetryScheduler interface {
	EarliestRetryAt(ctx context.Context) (*time.Time, error)
}

// JobTracker keeps job items in step with their bookmarks.
type JobTracker interface {
	UpdateJobItemByBookmark(ctx context.Context, bookmarkID string, update models.JobItemUpdate) error
	GetJobItemByBookmark(ctx context.Context, bookmarkID string) (*models.JobItem, error)
	UpdateJobStatus(ctx context.Context, jobID string) error
}

// SyncTrigger runs a sync when one is configured.
type SyncTrigger interface {
	TriggerIfEnabled(ctx context.Context) error
}

// Config holds queue tunables.
type Config struct {
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	Jitter            bool
	FetchConcurrency  int
	BatchPause        time.Duration
	LockTimeout       time.Duration
	ProcessingTimeout time.Duration
}

// ConfigFrom builds a queue config from application config.
func ConfigFrom(c config.QueueConfig) Config {
	return Config{
		MaxRetries:        c.MaxRetries,
		BaseDelay:         c.BaseDelay,
		MaxDelay:          c.MaxDelay,
		Jitter:            c.Jitter,
		FetchConcurrency:  c.FetchConcurrency,
		BatchPause:        c.BatchPause,
		LockTimeout:       c.LockTimeout,
		ProcessingTimeout: c.ProcessingTimeout,
	}
}

// RunReport summarizes one pass.
type RunReport struct {
	Skipped       bool          `json:"skipped"`
	Recovered     int           `json:"recovered"`
	Fetched       int           `json:"fetched"`
	Processed     int           `json:"processed"`
	Retried       int           `json:"retried"`
	Failed        int           `json:"failed"`
	SyncTriggered bool          `json:"syncTriggered"`
	NextRetryAt   *time.Time    `json:"nextRetryAt,omitempty"`
	StartedAt     time.Time     `json:"startedAt"`
	Duration      time.Duration `json:"duration"`
}

func (r *RunReport) noteRetryAt(t time.Time) {
	if r.NextRetryAt == nil || t.Before(*r.NextRetryAt) {
		at := t
		r.NextRetryAt = &at
	}
}
