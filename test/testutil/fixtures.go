package testutil

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/models"
)

// NewTestLogger creates a logger for testing.
func NewTestLogger() *events.Logger {
	var buf bytes.Buffer
	return events.NewTestLogger(events.DebugLevel, "json", &buf)
}

// Epoch is the default start time of test clocks.
var Epoch = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock creates a clock starting at Epoch.
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// SamplePage is a small article used by fetch and content tests.
const SamplePage = `<!DOCTYPE html>
<html>
<head>
  <title>Sample Article</title>
  <style>body { color: red; }</style>
  <script>console.log("tracking")</script>
</head>
<body>
  <nav><a href="/">Home</a> | <a href="/about">About</a></nav>
  <article>
    <h1>Sample   Article</h1>
    <p>The first paragraph.</p>
    <p>The second
       paragraph.</p>
  </article>
  <noscript>Enable JavaScript</noscript>
</body>
</html>`

// SampleBookmark returns a bookmark in the given status.
func SampleBookmark(id string, status models.BookmarkStatus) *models.Bookmark {
	b := &models.Bookmark{
		ID:        id,
		URL:       fmt.Sprintf("https://example.com/articles/%s", id),
		Title:     fmt.Sprintf("Article %s", id),
		Status:    status,
		CreatedAt: Epoch,
		UpdatedAt: Epoch,
	}

	switch status {
	case models.StatusPending, models.StatusDownloaded, models.StatusProcessing:
		b.HTML = SamplePage
	case models.StatusComplete:
		b.Content = "Sample Article The first paragraph. The second paragraph."
	case models.StatusError:
		b.ErrorMessage = "Failed after 3 attempts: boom"
		b.RetryCount = 3
	}
	return b
}

// SampleExport builds an export of n complete bookmarks taken at exportedAt.
func SampleExport(n int, exportedAt time.Time) *models.BookmarkExport {
	list := make([]*models.Bookmark, 0, n)
	for i := 0; i < n; i++ {
		b := SampleBookmark(fmt.Sprintf("remote-%d", i+1), models.StatusComplete)
		b.CreatedAt = exportedAt.Add(-time.Hour)
		b.UpdatedAt = exportedAt.Add(-time.Minute)
		list = append(list, b)
	}
	return models.NewBookmarkExport(list, exportedAt)
}
