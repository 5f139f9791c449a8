package client_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/marksync/internal/client"
	"github.com/TheMichaelB/marksync/internal/models"
	"github.com/TheMichaelB/marksync/internal/services/bookmarks"
	"github.com/TheMichaelB/marksync/internal/state"
	"github.com/TheMichaelB/marksync/test/testutil"
)

func newClient(t *testing.T) (*client.Client, *testutil.MockFetcher) {
	t.Helper()

	cfg := testutil.TestConfigWithDir(t.TempDir())
	cfg.Queue.WakeSchedule = ""

	fetcher := testutil.NewMockFetcher()
	fetcher.On("FetchHTML", mock.Anything, mock.Anything).Return(&models.Bookmark{HTML: testutil.SamplePage}, nil)

	c, err := client.New(cfg, testutil.NewTestLogger(),
		client.WithStore(state.NewMemoryStore()),
		client.WithFetcher(fetcher),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c, fetcher
}

func TestProcessCompletesBookmark(t *testing.T) {
	ctx := context.Background()
	c, fetcher := newClient(t)

	b, err := c.Bookmarks.Add(ctx, bookmarks.AddRequest{URL: "https://example.com/read-me"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFetching, b.Status)

	report, err := c.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Processed)
	assert.True(t, report.SyncTriggered)

	got, err := c.Bookmarks.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, got.Status)
	assert.Equal(t, "Sample Article", got.Title)
	fetcher.AssertNumberOfCalls(t, "FetchHTML", 1)
}

func TestSchedulerRunsOnAdd(t *testing.T) {
	c, _ := newClient(t)

	runner, err := c.Scheduler()
	require.NoError(t, err)

	again, err := c.Scheduler()
	require.NoError(t, err)
	assert.Same(t, runner, again)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	testutil.WaitForCondition(t, func() bool { return runner.Passes() >= 1 }, 2*time.Second, "initial pass")

	b, err := c.Bookmarks.Add(context.Background(), bookmarks.AddRequest{URL: "https://example.com/kicked"})
	require.NoError(t, err)

	testutil.WaitForCondition(t, func() bool {
		got, err := c.Bookmarks.Get(context.Background(), b.ID)
		return err == nil && got.Status == models.StatusComplete
	}, 2*time.Second, "bookmark processed after add")
}

func TestNewOpensSQLiteStore(t *testing.T) {
	cfg := testutil.TestConfigWithDir(filepath.Join(t.TempDir(), "nested"))
	cfg.Storage.SettingsFile = filepath.Join(cfg.Storage.DataDir, "settings.json")

	c, err := client.New(cfg, testutil.NewTestLogger())
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Sync.Disable(ctx))
	assert.FileExists(t, cfg.Storage.DatabasePath)
	assert.FileExists(t, cfg.Storage.SettingsFile)
	assert.Same(t, cfg, c.Config())
}
