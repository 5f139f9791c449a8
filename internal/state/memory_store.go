package state

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/TheMichaelB/marksync/internal/models"
)

// MemoryStore keeps everything in process memory. Used by tests and dry runs.
type MemoryStore struct {
	mu        sync.RWMutex
	bookmarks map[string]*models.Bookmark
	order     map[string]int64
	seq       int64
	jobs      map[string]*models.Job
	items     []*models.JobItem
	settings  map[string][]byte
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := buildOptions(opts)
	return &MemoryStore{
		bookmarks: make(map[string]*models.Bookmark),
		order:     make(map[string]int64),
		jobs:      make(map[string]*models.Job),
		settings:  make(map[string][]byte),
		now:       o.now,
	}
}

// CreateBookmark inserts a bookmark.
func (m *MemoryStore) CreateBookmark(ctx context.Context, b *models.Bookmark) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bookmarks[b.ID]; ok {
		return fmt.Errorf("bookmark %s: %w", b.ID, models.ErrAlreadyExists)
	}
	for _, existing := range m.bookmarks {
		if existing.URL == b.URL {
			return fmt.Errorf("%w: %s", models.ErrDuplicateURL, b.URL)
		}
	}

	if b.CreatedAt.IsZero() {
		b.CreatedAt = m.now()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}

	m.seq++
	m.order[b.ID] = m.seq
	m.bookmarks[b.ID] = b.Clone()
	return nil
}

// GetBookmark returns a copy of a bookmark.
func (m *MemoryStore) GetBookmark(ctx context.Context, id string) (*models.Bookmark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, ok := m.bookmarks[id]
	if !ok {
		return nil, fmt.Errorf("bookmark %s: %w", id, models.ErrNotFound)
	}
	return b.Clone(), nil
}

// FindByURL returns a copy of the bookmark with url.
func (m *MemoryStore) FindByURL(ctx context.Context, url string) (*models.Bookmark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.bookmarks {
		if b.URL == url {
			return b.Clone(), nil
		}
	}
	return nil, fmt.Errorf("bookmark %s: %w", url, models.ErrNotFound)
}

// sortedLocked returns bookmarks in creation order.
func (m *MemoryStore) sortedLocked() []*models.Bookmark {
	out := make([]*models.Bookmark, 0, len(m.bookmarks))
	for _, b := range m.bookmarks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return m.order[out[i].ID] < m.order[out[j].ID]
	})
	return out
}

// ListBookmarks returns bookmarks in creation order.
func (m *MemoryStore) ListBookmarks(ctx context.Context, opts ListOptions) ([]*models.Bookmark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.Bookmark
	for _, b := range m.sortedLocked() {
		if opts.Status != "" && b.Status != opts.Status {
			continue
		}
		out = append(out, b.Clone())
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// GetByStatus returns ready bookmarks with the given status.
func (m *MemoryStore) GetByStatus(ctx context.Context, status models.BookmarkStatus, limit int) ([]*models.Bookmark, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var out []*models.Bookmark
	for _, b := range m.sortedLocked() {
		if b.Status != status || !b.Ready(now) {
			continue
		}
		out = append(out, b.Clone())
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Update applies a partial update.
func (m *MemoryStore) Update(ctx context.Context, id string, update models.BookmarkUpdate) error {
	return m.BulkUpdate(ctx, []string{id}, update)
}

// BulkUpdate applies one update to many bookmarks atomically.
func (m *MemoryStore) BulkUpdate(ctx context.Context, ids []string, update models.BookmarkUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		b, ok := m.bookmarks[id]
		if !ok {
			return fmt.Errorf("bookmark %s: %w", id, models.ErrNotFound)
		}
		if err := update.Validate(b); err != nil {
			return fmt.Errorf("bookmark %s: %w", id, err)
		}
	}

	now := m.now()
	for _, id := range ids {
		update.Apply(m.bookmarks[id], now)
	}
	return nil
}

// DeleteBookmark removes a bookmark and its job items.
func (m *MemoryStore) DeleteBookmark(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bookmarks[id]; !ok {
		return fmt.Errorf("bookmark %s: %w", id, models.ErrNotFound)
	}
	delete(m.bookmarks, id)
	delete(m.order, id)

	kept := m.items[:0]
	for _, it := range m.items {
		if it.BookmarkID != id {
			kept = append(kept, it)
		}
	}
	m.items = kept
	return nil
}

// CountByStatus counts bookmarks per status.
func (m *MemoryStore) CountByStatus(ctx context.Context) (models.StatusCounts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := models.StatusCounts{}
	for _, b := range m.bookmarks {
		counts[b.Status]++
	}
	return counts, nil
}

// NewestUpdate returns the latest bookmark modification time.
func (m *MemoryStore) NewestUpdate(ctx context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var newest time.Time
	for _, b := range m.bookmarks {
		if b.UpdatedAt.After(newest) {
			newest = b.UpdatedAt
		}
	}
	return newest, nil
}

// EarliestRetryAt returns the earliest deferred retry.
func (m *MemoryStore) EarliestRetryAt(ctx context.Context) (*time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := m.now()
	var earliest *time.Time
	for _, b := range m.bookmarks {
		if !b.Status.IsProcessable() || b.NextRetryAt == nil || !b.NextRetryAt.After(now) {
			continue
		}
		if earliest == nil || b.NextRetryAt.Before(*earliest) {
			t := *b.NextRetryAt
			earliest = &t
		}
	}
	return earliest, nil
}

// CreateJob inserts a job and its items.
func (m *MemoryStore) CreateJob(ctx context.Context, job *models.Job, items []models.JobItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("job %s: %w", job.ID, models.ErrAlreadyExists)
	}

	j := *job
	m.jobs[job.ID] = &j
	for i := range items {
		it := items[i]
		it.JobID = job.ID
		m.items = append(m.items, &it)
	}
	return nil
}

// GetJob returns a copy of a job.
func (m *MemoryStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, models.ErrNotFound)
	}
	c := *j
	return &c, nil
}

// ListJobs returns the most recent jobs first.
func (m *MemoryStore) ListJobs(ctx context.Context, limit int) ([]*models.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*models.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		c := *j
		out = append(out, &c)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].CreatedAt.After(out[k].CreatedAt) })

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListJobItems returns the items of a job.
func (m *MemoryStore) ListJobItems(ctx context.Context, jobID string) ([]models.JobItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobItemsLocked(jobID), nil
}

func (m *MemoryStore) jobItemsLocked(jobID string) []models.JobItem {
	var out []models.JobItem
	for _, it := range m.items {
		if it.JobID == jobID {
			out = append(out, *it)
		}
	}
	return out
}

// latestItemLocked returns the newest item for a bookmark; items are append-only.
func (m *MemoryStore) latestItemLocked(bookmarkID string) *models.JobItem {
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].BookmarkID == bookmarkID {
			return m.items[i]
		}
	}
	return nil
}

// GetJobItemByBookmark returns the most recent job item for a bookmark.
func (m *MemoryStore) GetJobItemByBookmark(ctx context.Context, bookmarkID string) (*models.JobItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	it := m.latestItemLocked(bookmarkID)
	if it == nil {
		return nil, fmt.Errorf("job item for %s: %w", bookmarkID, models.ErrNotFound)
	}
	c := *it
	return &c, nil
}

// UpdateJobItemByBookmark updates the most recent job item for a bookmark.
func (m *MemoryStore) UpdateJobItemByBookmark(ctx context.Context, bookmarkID string, update models.JobItemUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	it := m.latestItemLocked(bookmarkID)
	if it == nil {
		return fmt.Errorf("job item for %s: %w", bookmarkID, models.ErrNotFound)
	}
	update.Apply(it, m.now())
	return nil
}

// UpdateJobStatus recomputes the job aggregate from its items.
func (m *MemoryStore) UpdateJobStatus(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, models.ErrNotFound)
	}
	j.Aggregate(m.jobItemsLocked(jobID), m.now())
	return nil
}

// GetSettings loads settings.
func (m *MemoryStore) GetSettings(ctx context.Context) (*models.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	values := make(map[string][]byte, len(m.settings))
	for k, v := range m.settings {
		values[k] = v
	}
	return decodeSettings(toRaw(values))
}

// SaveSetting persists one setting.
func (m *MemoryStore) SaveSetting(ctx context.Context, key string, value interface{}) error {
	raw, err := encodeSetting(key, value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = append([]byte(nil), raw...)
	return nil
}

// Close releases resources.
func (m *MemoryStore) Close() error {
	return nil
}
