package state

import (
	"context"
	"errors"
	"time"

	"github.com/TheMichaelB/marksync/internal/models"
)

// BookmarkStore persists bookmarks.
type BookmarkStore interface {
	// CreateBookmark inserts b. Returns models.ErrDuplicateURL if the URL exists.
	CreateBookmark(ctx context.Context, b *models.Bookmark) error
	GetBookmark(ctx context.Context, id string) (*models.Bookmark, error)
	FindByURL(ctx context.Context, url string) (*models.Bookmark, error)
	ListBookmarks(ctx context.Context, opts ListOptions) ([]*models.Bookmark, error)

	// GetByStatus returns ready bookmarks in creation order. Bookmarks whose
	// NextRetryAt lies in the future are skipped. limit <= 0 means no limit.
	GetByStatus(ctx context.Context, status models.BookmarkStatus, limit int) ([]*models.Bookmark, error)

	Update(ctx context.Context, id string, update models.BookmarkUpdate) error
	BulkUpdate(ctx context.Context, ids []string, update models.BookmarkUpdate) error
	DeleteBookmark(ctx context.Context, id string) error

	CountByStatus(ctx context.Context) (models.StatusCounts, error)
	// NewestUpdate returns the latest UpdatedAt, or the zero time when empty.
	NewestUpdate(ctx context.Context) (time.Time, error)
	// EarliestRetryAt returns the earliest future NextRetryAt, if any.
	EarliestRetryAt(ctx context.Context) (*time.Time, error)
}

// JobStore persists jobs and their items.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job, items []models.JobItem) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, limit int) ([]*models.Job, error)
	ListJobItems(ctx context.Context, jobID string) ([]models.JobItem, error)

	// UpdateJobItemByBookmark updates the most recent item for the bookmark.
	UpdateJobItemByBookmark(ctx context.Context, bookmarkID string, update models.JobItemUpdate) error
	GetJobItemByBookmark(ctx context.Context, bookmarkID string) (*models.JobItem, error)
	// UpdateJobStatus recomputes the job aggregate from its items.
	UpdateJobStatus(ctx context.Context, jobID string) error
}

// SettingsStore persists key/value settings.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	SaveSetting(ctx context.Context, key string, value interface{}) error
}

// Store is the complete persistence layer.
type Store interface {
	BookmarkStore
	JobStore
	SettingsStore

	// Close releases resources.
	Close() error
}

// ListOptions filters ListBookmarks.
type ListOptions struct {
	Status models.BookmarkStatus // empty = all
	Limit  int                   // <= 0 = all
}

// Errors
var (
	ErrStateCorrupt = errors.New("state file is corrupt")
)

// CurrentSchemaVersion for migrations.
const CurrentSchemaVersion = 1

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for timestamps and retry filtering.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSettingsStore returns base with settings served by settings.
func WithSettingsStore(base Store, settings SettingsStore) Store {
	return &splitStore{Store: base, settings: settings}
}

type splitStore struct {
	Store
	settings SettingsStore
}

func (s *splitStore) GetSettings(ctx context.Context) (*models.Settings, error) {
	return s.settings.GetSettings(ctx)
}

func (s *splitStore) SaveSetting(ctx context.Context, key string, value interface{}) error {
	return s.settings.SaveSetting(ctx, key, value)
}

func (s *splitStore) Close() error {
	err := s.Store.Close()
	if c, ok := s.settings.(interface{ Close() error }); ok {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
