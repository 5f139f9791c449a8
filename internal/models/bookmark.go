package models

import (
	"fmt"
	"strings"
	"time"
)

// BookmarkStatus is the lifecycle state of a bookmark.
type BookmarkStatus string

const (
	StatusPending    BookmarkStatus = "pending"    // HTML captured, awaiting content processing
	StatusFetching   BookmarkStatus = "fetching"   // awaiting page fetch
	StatusDownloaded BookmarkStatus = "downloaded" // fetched, awaiting content processing
	StatusProcessing BookmarkStatus = "processing"
	StatusComplete   BookmarkStatus = "complete"
	StatusError      BookmarkStatus = "error"
)

// AllStatuses lists every bookmark status in lifecycle order.
var AllStatuses = []BookmarkStatus{
	StatusPending,
	StatusFetching,
	StatusDownloaded,
	StatusProcessing,
	StatusComplete,
	StatusError,
}

// ParseBookmarkStatus parses a status name.
func ParseBookmarkStatus(s string) (BookmarkStatus, error) {
	st := BookmarkStatus(strings.ToLower(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w: unknown bookmark status %q", ErrValidation, s)
	}
	return st, nil
}

// Valid reports whether s is a known status.
func (s BookmarkStatus) Valid() bool {
	for _, st := range AllStatuses {
		if s == st {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further processing happens in this state.
func (s BookmarkStatus) IsTerminal() bool {
	return s == StatusComplete || s == StatusError
}

// IsProcessable reports whether the queue still has work for this state.
func (s BookmarkStatus) IsProcessable() bool {
	switch s {
	case StatusPending, StatusFetching, StatusDownloaded:
		return true
	default:
		return false
	}
}

// Bookmark is a captured web page and its processing state.
type Bookmark struct {
	ID           string         `json:"id"`
	URL          string         `json:"url"`
	Title        string         `json:"title"`
	HTML         string         `json:"html,omitempty"`
	Content      string         `json:"content,omitempty"`
	Status       BookmarkStatus `json:"status"`
	RetryCount   int            `json:"retryCount"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	NextRetryAt  *time.Time     `json:"nextRetryAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy.
func (b *Bookmark) Clone() *Bookmark {
	if b == nil {
		return nil
	}
	c := *b
	if b.NextRetryAt != nil {
		t := *b.NextRetryAt
		c.NextRetryAt = &t
	}
	return &c
}

// Ready reports whether the bookmark may be picked up at now.
func (b *Bookmark) Ready(now time.Time) bool {
	return b.NextRetryAt == nil || !b.NextRetryAt.After(now)
}

// BookmarkUpdate is a partial bookmark update. Nil fields are left unchanged.
type BookmarkUpdate struct {
	Status         *BookmarkStatus
	Title          *string
	HTML           *string
	Content        *string
	RetryCount     *int
	ErrorMessage   *string
	NextRetryAt    *time.Time
	ClearNextRetry bool
}

// Apply writes the update into b and stamps UpdatedAt.
func (u BookmarkUpdate) Apply(b *Bookmark, now time.Time) {
	if u.Status != nil {
		b.Status = *u.Status
	}
	if u.Title != nil {
		b.Title = *u.Title
	}
	if u.HTML != nil {
		b.HTML = *u.HTML
	}
	if u.Content != nil {
		b.Content = *u.Content
	}
	if u.RetryCount != nil {
		b.RetryCount = *u.RetryCount
	}
	if u.ErrorMessage != nil {
		b.ErrorMessage = *u.ErrorMessage
	}
	if u.ClearNextRetry {
		b.NextRetryAt = nil
	} else if u.NextRetryAt != nil {
		t := *u.NextRetryAt
		b.NextRetryAt = &t
	}
	b.UpdatedAt = now
}

// Validate checks the status/error invariant of the result.
func (u BookmarkUpdate) Validate(current *Bookmark) error {
	next := current.Clone()
	u.Apply(next, next.UpdatedAt)

	if !next.Status.Valid() {
		return fmt.Errorf("%w: unknown bookmark status %q", ErrValidation, next.Status)
	}
	if next.Status == StatusError && next.ErrorMessage == "" {
		return fmt.Errorf("%w: error status requires an error message", ErrValidation)
	}
	if next.RetryCount < 0 {
		return fmt.Errorf("%w: negative retry count", ErrValidation)
	}
	return nil
}

// BulkUpdate applies one partial update to many bookmarks.
type BulkUpdate struct {
	IDs    []string
	Update BookmarkUpdate
}

// StatusCounts maps each status to its bookmark count.
type StatusCounts map[BookmarkStatus]int

// Total returns the number of bookmarks across all statuses.
func (c StatusCounts) Total() int {
	n := 0
	for _, v := range c {
		n += v
	}
	return n
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
