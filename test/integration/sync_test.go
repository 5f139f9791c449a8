//go:build integration
// +build integration

package integration_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/marksync/internal/client"
	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/models"
	"github.com/TheMichaelB/marksync/internal/services/bookmarks"
	"github.com/TheMichaelB/marksync/internal/webdav"
	"github.com/TheMichaelB/marksync/test/testutil"
)

func newPageServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, testutil.SamplePage)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T, dav *testutil.WebDAVServer) *client.Client {
	t.Helper()

	cfg := testutil.TestConfigWithDir(filepath.Join(t.TempDir(), "data"))
	c, err := client.New(cfg, testutil.NewTestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := testutil.TestContext()
	defer cancel()
	require.NoError(t, c.Sync.Configure(ctx, webdav.Credentials{
		URL:      dav.URL,
		Username: "alice",
		Password: "secret",
	}, true))
	return c
}

func TestQueueDrainUploadsAndSecondDeviceImports(t *testing.T) {
	testutil.SkipIfShort(t, "runs the full pipeline against local servers")

	pages := newPageServer(t)
	dav := testutil.NewWebDAVServer()
	dav.SetCredentials("alice", "secret")
	t.Cleanup(dav.Close)

	ctx, cancel := testutil.TestContext()
	defer cancel()

	first := newClient(t, dav)
	sub, unsubscribe := first.Events.Subscribe(64)
	defer unsubscribe()

	for _, p := range []string{"/one", "/two"} {
		_, err := first.Bookmarks.Add(ctx, bookmarks.AddRequest{URL: pages.URL + p})
		require.NoError(t, err)
	}

	report, err := first.Process(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 2, report.Processed)
	assert.True(t, report.SyncTriggered)

	counts, err := first.Bookmarks.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusComplete])

	data, ok := dav.File("/bookmarks/bookmarks.json")
	require.True(t, ok, "export uploaded")
	exp, err := models.ParseBookmarkExport(data)
	require.NoError(t, err)
	require.Equal(t, 2, exp.BookmarkCount)
	for _, b := range exp.Bookmarks {
		assert.Equal(t, models.StatusComplete, b.Status)
		assert.Equal(t, "Sample Article", b.Title)
		assert.Contains(t, b.Content, "The first paragraph.")
		assert.Empty(t, b.HTML)
	}

	var seen []events.EventType
	for len(sub) > 0 {
		seen = append(seen, (<-sub).Type)
	}
	assert.Contains(t, seen, events.BookmarkReady)
	assert.Contains(t, seen, events.SyncCompleted)

	settings, err := first.Sync.Settings(ctx)
	require.NoError(t, err)
	assert.NotNil(t, settings.LastSyncTime)
	assert.Empty(t, settings.LastSyncError)

	second := newClient(t, dav)
	result := second.Sync.Sync(ctx, true)
	require.True(t, result.Success, result.Message)
	assert.Equal(t, models.SyncDownloaded, result.Action)
	assert.Equal(t, 2, result.Imported)

	list, err := second.Bookmarks.List(ctx, models.StatusComplete, 0)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestSyncWithoutConfigurationTouchesNothing(t *testing.T) {
	dav := testutil.NewWebDAVServer()
	t.Cleanup(dav.Close)

	cfg := testutil.TestConfigWithDir(filepath.Join(t.TempDir(), "data"))
	c, err := client.New(cfg, testutil.NewTestLogger())
	require.NoError(t, err)
	defer c.Close()

	result := c.Sync.Sync(context.Background(), true)
	assert.Equal(t, models.SyncSkipped, result.Action)
	assert.Empty(t, dav.Requests())
}
