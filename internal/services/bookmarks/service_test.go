package bookmarks_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/marksync/internal/models"
	"github.com/TheMichaelB/marksync/internal/services/bookmarks"
	"github.com/TheMichaelB/marksync/internal/state"
	"github.com/TheMichaelB/marksync/test/testutil"
)

func newService(t *testing.T) (*bookmarks.Service, *state.MemoryStore, *testutil.Clock) {
	t.Helper()

	clock := testutil.NewClock()
	store := state.NewMemoryStore(state.WithClock(clock.Now))
	service := bookmarks.NewService(store, testutil.NewTestLogger())
	service.SetClock(clock.Now)
	return service, store, clock
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "https", input: "https://Example.com/a?b=1", want: "https://example.com/a?b=1"},
		{name: "strips fragment", input: " http://example.com/page#top ", want: "http://example.com/page"},
		{name: "empty", input: "", wantErr: true},
		{name: "ftp scheme", input: "ftp://example.com/file", wantErr: true},
		{name: "no host", input: "https:///path", wantErr: true},
		{name: "relative", input: "/just/a/path", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bookmarks.NormalizeURL(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidURL)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newService(t)

	kicks := 0
	service.OnEnqueue(func() { kicks++ })

	t.Run("without html waits for fetch", func(t *testing.T) {
		b, err := service.Add(ctx, bookmarks.AddRequest{URL: "https://example.com/one", Title: " One "})
		require.NoError(t, err)

		assert.NotEmpty(t, b.ID)
		assert.Equal(t, "One", b.Title)
		assert.Equal(t, models.StatusFetching, b.Status)

		item, err := store.GetJobItemByBookmark(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobItemPending, item.Status)

		job, err := store.GetJob(ctx, item.JobID)
		require.NoError(t, err)
		assert.Equal(t, models.JobTypeSingle, job.Type)
		assert.Equal(t, 1, job.TotalItems)
	})

	t.Run("with html skips fetch", func(t *testing.T) {
		b, err := service.Add(ctx, bookmarks.AddRequest{URL: "https://example.com/two", HTML: testutil.SamplePage})
		require.NoError(t, err)
		assert.Equal(t, models.StatusPending, b.Status)
	})

	t.Run("duplicate url", func(t *testing.T) {
		_, err := service.Add(ctx, bookmarks.AddRequest{URL: "https://example.com/one"})
		assert.ErrorIs(t, err, models.ErrDuplicateURL)
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := service.Add(ctx, bookmarks.AddRequest{URL: "javascript:alert(1)"})
		assert.ErrorIs(t, err, models.ErrInvalidURL)
	})

	assert.Equal(t, 2, kicks)
}

func TestImportBookmarks(t *testing.T) {
	ctx := context.Background()
	service, store, clock := newService(t)

	existing, err := service.Add(ctx, bookmarks.AddRequest{URL: "https://example.com/articles/remote-1"})
	require.NoError(t, err)

	exp := testutil.SampleExport(3, clock.Now().Add(time.Hour))
	exp.Bookmarks[2].Status = models.StatusError
	exp.Bookmarks[2].Content = ""
	exp.Bookmarks = append(exp.Bookmarks, &models.Bookmark{ID: "bad", URL: "not a url"})

	result, err := service.ImportBookmarks(ctx, exp, "webdav")
	require.NoError(t, err)

	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 2, result.Skipped)
	require.NotEmpty(t, result.JobID)

	complete, err := store.GetBookmark(ctx, "remote-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, complete.Status)
	assert.Equal(t, exp.Bookmarks[1].UpdatedAt, complete.UpdatedAt)

	requeued, err := store.GetBookmark(ctx, "remote-3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFetching, requeued.Status)
	assert.Zero(t, requeued.RetryCount)
	assert.Empty(t, requeued.ErrorMessage)

	job, err := store.GetJob(ctx, result.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobTypeImport, job.Type)
	assert.Equal(t, 1, job.TotalItems, "complete bookmarks are not queued")

	kept, err := store.GetBookmark(ctx, existing.ID)
	require.NoError(t, err)
	assert.Equal(t, existing.URL, kept.URL)

	t.Run("id collision gets a new id", func(t *testing.T) {
		exp := models.NewBookmarkExport([]*models.Bookmark{{
			ID:      "remote-2",
			URL:     "https://example.com/other",
			Status:  models.StatusComplete,
			Content: "text",
		}}, clock.Now())

		result, err := service.ImportBookmarks(ctx, exp, "file")
		require.NoError(t, err)
		assert.Equal(t, 1, result.Imported)
		assert.Empty(t, result.JobID)

		b, err := store.FindByURL(ctx, "https://example.com/other")
		require.NoError(t, err)
		assert.NotEqual(t, "remote-2", b.ID)
	})

	t.Run("nil export", func(t *testing.T) {
		_, err := service.ImportBookmarks(ctx, nil, "file")
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestExportAllBookmarks(t *testing.T) {
	ctx := context.Background()
	service, _, clock := newService(t)

	_, err := service.Add(ctx, bookmarks.AddRequest{URL: "https://example.com/a", HTML: "<p>a</p>"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	_, err = service.Add(ctx, bookmarks.AddRequest{URL: "https://example.com/b"})
	require.NoError(t, err)

	exp, err := service.ExportAllBookmarks(ctx)
	require.NoError(t, err)

	assert.Equal(t, models.ExportVersion, exp.Version)
	assert.Equal(t, 2, exp.BookmarkCount)
	require.Len(t, exp.Bookmarks, 2)
	assert.Equal(t, "https://example.com/a", exp.Bookmarks[0].URL)
	assert.Empty(t, exp.Bookmarks[0].HTML)
	assert.True(t, clock.Now().Equal(exp.ExportedAt))

	newest, err := service.NewestUpdate(ctx)
	require.NoError(t, err)
	assert.True(t, clock.Now().Equal(newest))

	t.Run("empty library", func(t *testing.T) {
		empty, _, _ := newService(t)
		exp, err := empty.ExportAllBookmarks(ctx)
		require.NoError(t, err)
		assert.Zero(t, exp.BookmarkCount)
		assert.NotNil(t, exp.Bookmarks)
	})
}

func TestRetryFailed(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newService(t)

	withHTML := testutil.SampleBookmark("with-html", models.StatusError)
	withHTML.HTML = testutil.SamplePage
	withoutHTML := testutil.SampleBookmark("without-html", models.StatusError)
	done := testutil.SampleBookmark("done", models.StatusComplete)

	for _, b := range []*models.Bookmark{withHTML, withoutHTML, done} {
		require.NoError(t, store.CreateBookmark(ctx, b))
	}

	n, err := service.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := store.GetBookmark(ctx, "with-html")
	require.NoError(t, err)
	assert.Equal(t, models.StatusDownloaded, got.Status)
	assert.Zero(t, got.RetryCount)
	assert.Empty(t, got.ErrorMessage)

	got, err = store.GetBookmark(ctx, "without-html")
	require.NoError(t, err)
	assert.Equal(t, models.StatusFetching, got.Status)

	jobs, err := service.Jobs(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.JobTypeRetry, jobs[0].Type)
	assert.Equal(t, 2, jobs[0].TotalItems)

	n, err = service.RetryFailed(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	counts, err := service.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts.Total())
}
