// Package bookmarks manages the bookmark library: capture, import, export and retries.
package bookmarks

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/models"
	"github.com/TheMichaelB/marksync/internal/state"
)

// Service manages bookmark operations.
type Service struct {
	store  state.Store
	logger *events.Logger
	now    func() time.Time

	// Called after new work is enqueued
	onEnqueue func()
}

// NewService creates a bookmark service.
func NewService(store state.Store, logger *events.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger.WithField("service", "bookmarks"),
		now:    time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// OnEnqueue registers a hook run whenever bookmarks become processable.
func (s *Service) OnEnqueue(fn func()) {
	s.onEnqueue = fn
}

// AddRequest describes a captured page.
type AddRequest struct {
	URL   string
	Title string
	HTML  string // optional; when set the fetch phase is skipped
}

// Add stores a new bookmark and enqueues it.
func (s *Service) Add(ctx context.Context, req AddRequest) (*models.Bookmark, error) {
	pageURL, err := NormalizeURL(req.URL)
	if err != nil {
		return nil, err
	}

	now := s.now()
	b := &models.Bookmark{
		ID:        uuid.NewString(),
		URL:       pageURL,
		Title:     strings.TrimSpace(req.Title),
		HTML:      req.HTML,
		Status:    initialStatus(req.HTML),
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.store.CreateBookmark(ctx, b); err != nil {
		return nil, fmt.Errorf("add bookmark: %w", err)
	}

	if _, err := s.enqueue(ctx, models.JobTypeSingle, []*models.Bookmark{b}); err != nil {
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"bookmark_id": b.ID,
		"url":         b.URL,
		"status":      string(b.Status),
	}).Info("Added bookmark")

	s.notify()
	return b, nil
}

// ImportBookmarks adds bookmarks from an export, skipping URLs already present.
func (s *Service) ImportBookmarks(ctx context.Context, exp *models.BookmarkExport, source string) (*models.ImportResult, error) {
	if exp == nil {
		return nil, fmt.Errorf("%w: nil export", models.ErrValidation)
	}

	logger := s.logger.WithFields(map[string]interface{}{
		"source": source,
		"count":  len(exp.Bookmarks),
	})
	logger.Info("Importing bookmarks")

	result := &models.ImportResult{}
	var queued []*models.Bookmark
	now := s.now()

	for _, remote := range exp.Bookmarks {
		if remote == nil {
			result.Skipped++
			continue
		}

		pageURL, err := NormalizeURL(remote.URL)
		if err != nil {
			logger.WithError(err).Warn("Skipping bookmark with invalid URL")
			result.Skipped++
			continue
		}

		if _, err := s.store.FindByURL(ctx, pageURL); err == nil {
			result.Skipped++
			continue
		} else if !errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("import bookmarks: %w", err)
		}

		b := s.fromRemote(ctx, remote, pageURL, now)
		if err := s.store.CreateBookmark(ctx, b); err != nil {
			if errors.Is(err, models.ErrDuplicateURL) {
				result.Skipped++
				continue
			}
			return nil, fmt.Errorf("import bookmarks: %w", err)
		}

		result.Imported++
		if b.Status != models.StatusComplete {
			queued = append(queued, b)
		}
	}

	jobID, err := s.enqueue(ctx, models.JobTypeImport, queued)
	if err != nil {
		return nil, err
	}
	result.JobID = jobID

	logger.WithFields(map[string]interface{}{
		"imported": result.Imported,
		"skipped":  result.Skipped,
	}).Info("Import finished")

	if len(queued) > 0 {
		s.notify()
	}
	return result, nil
}

// fromRemote builds a local bookmark from an imported one.
func (s *Service) fromRemote(ctx context.Context, remote *models.Bookmark, pageURL string, now time.Time) *models.Bookmark {
	id := remote.ID
	if id == "" {
		id = uuid.NewString()
	} else if _, err := s.store.GetBookmark(ctx, id); err == nil {
		id = uuid.NewString()
	}

	b := &models.Bookmark{
		ID:        id,
		URL:       pageURL,
		Title:     remote.Title,
		HTML:      remote.HTML,
		Content:   remote.Content,
		CreatedAt: remote.CreatedAt,
		UpdatedAt: remote.UpdatedAt,
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = now
	}

	switch {
	case remote.Status == models.StatusComplete && remote.Content != "":
		b.Status = models.StatusComplete
	default:
		b.Status = initialStatus(b.HTML)
	}
	return b
}

// ExportAllBookmarks exports every bookmark. Raw HTML is not exported.
func (s *Service) ExportAllBookmarks(ctx context.Context) (*models.BookmarkExport, error) {
	list, err := s.store.ListBookmarks(ctx, state.ListOptions{})
	if err != nil {
		return nil, fmt.Errorf("export bookmarks: %w", err)
	}

	for _, b := range list {
		b.HTML = ""
	}

	return models.NewBookmarkExport(list, s.now()), nil
}

// NewestUpdate returns the latest local modification time.
func (s *Service) NewestUpdate(ctx context.Context) (time.Time, error) {
	return s.store.NewestUpdate(ctx)
}

// RetryFailed resets every errored bookmark and enqueues it again.
func (s *Service) RetryFailed(ctx context.Context) (int, error) {
	failed, err := s.store.ListBookmarks(ctx, state.ListOptions{Status: models.StatusError})
	if err != nil {
		return 0, fmt.Errorf("list failed bookmarks: %w", err)
	}
	if len(failed) == 0 {
		return 0, nil
	}

	groups := map[models.BookmarkStatus][]string{}
	for _, b := range failed {
		target := models.StatusFetching
		if b.HTML != "" {
			target = models.StatusDownloaded
		}
		groups[target] = append(groups[target], b.ID)
		b.Status = target
	}

	for target, ids := range groups {
		if err := s.store.BulkUpdate(ctx, ids, models.BookmarkUpdate{
			Status:         models.Ptr(target),
			RetryCount:     models.Ptr(0),
			ErrorMessage:   models.Ptr(""),
			ClearNextRetry: true,
		}); err != nil {
			return 0, fmt.Errorf("reset failed bookmarks: %w", err)
		}
	}

	if _, err := s.enqueue(ctx, models.JobTypeRetry, failed); err != nil {
		return 0, err
	}

	s.logger.WithField("count", len(failed)).Info("Requeued failed bookmarks")
	s.notify()
	return len(failed), nil
}

// Get returns one bookmark.
func (s *Service) Get(ctx context.Context, id string) (*models.Bookmark, error) {
	return s.store.GetBookmark(ctx, id)
}

// List returns bookmarks, optionally filtered by status.
func (s *Service) List(ctx context.Context, status models.BookmarkStatus, limit int) ([]*models.Bookmark, error) {
	return s.store.ListBookmarks(ctx, state.ListOptions{Status: status, Limit: limit})
}

// Delete removes a bookmark.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteBookmark(ctx, id)
}

// Counts returns bookmark counts per status.
func (s *Service) Counts(ctx context.Context) (models.StatusCounts, error) {
	return s.store.CountByStatus(ctx)
}

// Jobs returns the most recent jobs.
func (s *Service) Jobs(ctx context.Context, limit int) ([]*models.Job, error) {
	return s.store.ListJobs(ctx, limit)
}

// enqueue creates a job with one item per bookmark. Returns "" when bookmarks is empty.
func (s *Service) enqueue(ctx context.Context, jobType models.JobType, bookmarks []*models.Bookmark) (string, error) {
	if len(bookmarks) == 0 {
		return "", nil
	}

	now := s.now()
	job := &models.Job{
		ID:         uuid.NewString(),
		Type:       jobType,
		Status:     models.JobPending,
		TotalItems: len(bookmarks),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	items := make([]models.JobItem, 0, len(bookmarks))
	for _, b := range bookmarks {
		items = append(items, models.JobItem{
			ID:         uuid.NewString(),
			JobID:      job.ID,
			BookmarkID: b.ID,
			Status:     models.JobItemPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}

	if err := s.store.CreateJob(ctx, job, items); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	return job.ID, nil
}

func (s *Service) notify() {
	if s.onEnqueue != nil {
		s.onEnqueue()
	}
}

// NormalizeURL validates a page URL and returns its canonical form.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty url", models.ErrInvalidURL)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", models.ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("%w: missing host", models.ErrInvalidURL)
	}

	u.Fragment = ""
	u.Host = strings.ToLower(u.Host)
	return u.String(), nil
}

func initialStatus(html string) models.BookmarkStatus {
	if strings.TrimSpace(html) != "" {
		return models.StatusPending
	}
	return models.StatusFetching
}
