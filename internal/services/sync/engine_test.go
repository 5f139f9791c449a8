package sync_test

import (
	"context"
	"encoding/json"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/marksync/internal/config"
	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/models"
	"github.com/TheMichaelB/marksync/internal/services/bookmarks"
	"github.com/TheMichaelB/marksync/internal/services/sync"
	"github.com/TheMichaelB/marksync/internal/state"
	"github.com/TheMichaelB/marksync/internal/webdav"
	"github.com/TheMichaelB/marksync/test/testutil"
)

const remotePath = "/bookmarks/bookmarks.json"

type harness struct {
	engine   *sync.Engine
	service  *sync.Service
	store    *state.MemoryStore
	library  *bookmarks.Service
	server   *testutil.WebDAVServer
	recorder *events.Recorder
	clock    *testutil.Clock
}

func newHarness(t *testing.T, debounce time.Duration) *harness {
	t.Helper()

	clock := testutil.NewClock()
	store := state.NewMemoryStore(state.WithClock(clock.Now))
	library := bookmarks.NewService(store, testutil.NewTestLogger())
	library.SetClock(clock.Now)

	server := testutil.NewWebDAVServer()
	server.SetCredentials("alice", "secret")
	t.Cleanup(server.Close)

	cfg := sync.Config{Debounce: debounce, WebDAV: config.DefaultConfig().WebDAV}
	cfg.WebDAV.RetryDelay = time.Millisecond

	recorder := events.NewRecorder()
	engine := sync.NewEngine(cfg, library, store, recorder, testutil.NewTestLogger(), sync.WithClock(clock.Now))

	return &harness{
		engine:   engine,
		service:  sync.NewService(engine, store, testutil.NewTestLogger()),
		store:    store,
		library:  library,
		server:   server,
		recorder: recorder,
		clock:    clock,
	}
}

func (h *harness) enable(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.SaveSetting(ctx, models.SettingWebDAVURL, h.server.URL))
	require.NoError(t, h.store.SaveSetting(ctx, models.SettingWebDAVUsername, "alice"))
	require.NoError(t, h.store.SaveSetting(ctx, models.SettingWebDAVPassword, "secret"))
	require.NoError(t, h.store.SaveSetting(ctx, models.SettingWebDAVEnabled, true))
}

func (h *harness) seed(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, h.store.CreateBookmark(context.Background(), testutil.SampleBookmark(id, models.StatusComplete)))
	}
}

func (h *harness) remoteExport(t *testing.T) *models.BookmarkExport {
	t.Helper()
	data, ok := h.server.File(remotePath)
	require.True(t, ok, "remote export missing")
	exp, err := models.ParseBookmarkExport(data)
	require.NoError(t, err)
	return exp
}

func TestSyncDisabled(t *testing.T) {
	h := newHarness(t, 0)
	h.seed(t, "a")

	result := h.engine.PerformSync(context.Background(), true)

	assert.False(t, result.Success)
	assert.Equal(t, models.SyncSkipped, result.Action)
	assert.Empty(t, h.server.Requests())
	assert.Empty(t, h.recorder.Events())
}

func TestSyncUploadsWhenRemoteMissing(t *testing.T) {
	h := newHarness(t, 0)
	h.enable(t)
	h.seed(t, "a", "b")

	result := h.engine.PerformSync(context.Background(), false)

	require.True(t, result.Success, result.Message)
	assert.Equal(t, models.SyncUploaded, result.Action)
	assert.Equal(t, 2, result.BookmarkCount)
	assert.Equal(t, 1, h.server.CountRequests("PUT"))
	assert.True(t, h.server.HasCollection("/bookmarks"))

	exp := h.remoteExport(t)
	assert.Equal(t, 2, exp.BookmarkCount)
	for _, b := range exp.Bookmarks {
		assert.Empty(t, b.HTML)
	}

	started := h.recorder.OfType(events.SyncStarted)
	require.Len(t, started, 1)
	assert.False(t, started[0].Manual)

	completed := h.recorder.OfType(events.SyncCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, string(models.SyncUploaded), completed[0].Action)
	assert.Equal(t, 2, completed[0].BookmarkCount)

	settings, err := h.store.GetSettings(context.Background())
	require.NoError(t, err)
	require.NotNil(t, settings.LastSyncTime)
	assert.True(t, settings.LastSyncTime.Equal(testutil.Epoch))
	assert.Empty(t, settings.LastSyncError)
}

func TestSyncNothingToSync(t *testing.T) {
	h := newHarness(t, 0)
	h.enable(t)

	result := h.engine.PerformSync(context.Background(), false)

	require.True(t, result.Success)
	assert.Equal(t, models.SyncNoChange, result.Action)
	assert.Zero(t, h.server.CountRequests("PUT"))
}

func TestSyncImportsNewerRemote(t *testing.T) {
	h := newHarness(t, 0)
	h.enable(t)
	h.seed(t, "a")

	remote := testutil.SampleExport(2, testutil.Epoch.Add(time.Hour))
	remote.Bookmarks[1].URL = "https://example.com/articles/a"
	data, err := json.Marshal(remote)
	require.NoError(t, err)
	h.server.PutFile(remotePath, data, testutil.Epoch.Add(time.Hour))
	h.server.ResetRequests()

	result := h.engine.PerformSync(context.Background(), true)

	require.True(t, result.Success, result.Message)
	assert.Equal(t, models.SyncDownloaded, result.Action)
	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, "Imported 1 bookmarks, skipped 1", result.Message)
	assert.Equal(t, 1, h.server.CountRequests("PUT"))

	imported, err := h.store.GetBookmark(context.Background(), "remote-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusComplete, imported.Status)

	exp := h.remoteExport(t)
	assert.Equal(t, 2, exp.BookmarkCount)

	started := h.recorder.OfType(events.SyncStarted)
	require.Len(t, started, 1)
	assert.True(t, started[0].Manual)
}

func TestSyncLocalNewerOverwritesRemote(t *testing.T) {
	h := newHarness(t, 0)
	h.enable(t)
	h.seed(t, "a", "b")

	older := testutil.SampleExport(3, testutil.Epoch.Add(-time.Hour))
	data, err := json.Marshal(older)
	require.NoError(t, err)
	h.server.PutFile(remotePath, data, testutil.Epoch.Add(-time.Hour))

	result := h.engine.PerformSync(context.Background(), false)

	require.True(t, result.Success, result.Message)
	assert.Equal(t, models.SyncUploaded, result.Action)
	assert.Equal(t, 2, h.remoteExport(t).BookmarkCount)

	_, err = h.store.GetBookmark(context.Background(), "remote-1")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSyncReplacesUnreadableRemote(t *testing.T) {
	h := newHarness(t, 0)
	h.enable(t)
	h.seed(t, "a")

	h.server.PutFile(remotePath, []byte("{not json"), testutil.Epoch)

	result := h.engine.PerformSync(context.Background(), false)

	require.True(t, result.Success, result.Message)
	assert.Equal(t, models.SyncUploaded, result.Action)
	assert.Equal(t, 1, h.remoteExport(t).BookmarkCount)
}

func TestSyncDebounce(t *testing.T) {
	h := newHarness(t, 5*time.Second)
	h.enable(t)
	h.seed(t, "a")

	first := h.engine.PerformSync(context.Background(), false)
	require.True(t, first.Success, first.Message)
	h.server.ResetRequests()

	h.clock.Advance(time.Second)
	second := h.engine.PerformSync(context.Background(), false)
	assert.Equal(t, models.SyncSkipped, second.Action)
	assert.Empty(t, h.server.Requests())

	forced := h.engine.PerformSync(context.Background(), true)
	require.True(t, forced.Success, forced.Message)
	assert.NotEmpty(t, h.server.Requests())

	h.server.ResetRequests()
	h.clock.Advance(6 * time.Second)
	later := h.engine.PerformSync(context.Background(), false)
	assert.True(t, later.Success)
	assert.NotEmpty(t, h.server.Requests())
}

func TestSyncInsecureURLFails(t *testing.T) {
	h := newHarness(t, 0)
	h.enable(t)
	require.NoError(t, h.store.SaveSetting(context.Background(), models.SettingWebDAVURL, "http://dav.example.com"))

	result := h.engine.PerformSync(context.Background(), false)

	assert.False(t, result.Success)
	assert.Equal(t, models.SyncError, result.Action)
	assert.Contains(t, result.Message, models.ErrInvalidURL.Error())
	assert.Empty(t, h.server.Requests())

	settings, err := h.store.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, result.Message, settings.LastSyncError)

	failed := h.recorder.OfType(events.SyncFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, result.Message, failed[0].Error)

	assert.Error(t, h.engine.TriggerIfEnabled(context.Background()))
}

func TestSyncAuthFailureRecorded(t *testing.T) {
	h := newHarness(t, 0)
	h.enable(t)
	h.seed(t, "a")
	require.NoError(t, h.store.SaveSetting(context.Background(), models.SettingWebDAVPassword, "wrong"))

	result := h.engine.PerformSync(context.Background(), false)

	assert.Equal(t, models.SyncError, result.Action)
	assert.Zero(t, h.server.CountRequests("PUT"))

	settings, err := h.store.GetSettings(context.Background())
	require.NoError(t, err)
	assert.Contains(t, settings.LastSyncError, "[auth]")
}

// blockingRemote holds Head until released so a second sync can observe the first.
type blockingRemote struct {
	entered chan struct{}
	release chan struct{}
}

func (r *blockingRemote) EnsureFolder(ctx context.Context) error { return nil }

func (r *blockingRemote) Head(ctx context.Context) (*models.RemoteMetadata, error) {
	close(r.entered)
	<-r.release
	return &models.RemoteMetadata{}, nil
}

func (r *blockingRemote) Download(ctx context.Context) ([]byte, error) { return nil, models.ErrNotFound }

func (r *blockingRemote) Upload(ctx context.Context, data []byte) error { return nil }

func TestSyncSingleFlight(t *testing.T) {
	clock := testutil.NewClock()
	store := state.NewMemoryStore(state.WithClock(clock.Now))
	library := bookmarks.NewService(store, testutil.NewTestLogger())

	remote := &blockingRemote{entered: make(chan struct{}), release: make(chan struct{})}
	engine := sync.NewEngine(sync.Config{}, library, store, nil, testutil.NewTestLogger(),
		sync.WithClock(clock.Now),
		sync.WithRemoteFactory(func(webdav.Credentials) (sync.Remote, error) { return remote, nil }),
	)

	ctx := context.Background()
	require.NoError(t, store.SaveSetting(ctx, models.SettingWebDAVURL, "https://dav.example.com"))
	require.NoError(t, store.SaveSetting(ctx, models.SettingWebDAVUsername, "alice"))
	require.NoError(t, store.SaveSetting(ctx, models.SettingWebDAVPassword, "secret"))
	require.NoError(t, store.SaveSetting(ctx, models.SettingWebDAVEnabled, true))

	var wg gosync.WaitGroup
	var first *models.SyncResult
	wg.Add(1)
	go func() {
		defer wg.Done()
		first = engine.PerformSync(ctx, true)
	}()

	<-remote.entered
	second := engine.PerformSync(ctx, true)
	assert.Equal(t, models.SyncSkipped, second.Action)
	assert.Equal(t, models.ErrSyncInProgress.Error(), second.Message)

	close(remote.release)
	wg.Wait()
	require.NotNil(t, first)
	assert.Equal(t, models.SyncNoChange, first.Action)
}

func TestServiceConfigure(t *testing.T) {
	ctx := context.Background()

	t.Run("stores and verifies credentials", func(t *testing.T) {
		h := newHarness(t, 0)

		err := h.service.Configure(ctx, webdav.Credentials{
			URL:      h.server.URL,
			Username: "alice",
			Password: "secret",
		}, true)
		require.NoError(t, err)

		settings, err := h.service.Settings(ctx)
		require.NoError(t, err)
		assert.True(t, settings.Configured())
		assert.Equal(t, models.DefaultWebDAVPath, settings.WebDAVPath)
		assert.Equal(t, "********", settings.WebDAVPassword)
		assert.Equal(t, 1, h.server.CountRequests("PROPFIND"))
	})

	t.Run("rejected credentials are not stored", func(t *testing.T) {
		h := newHarness(t, 0)

		err := h.service.Configure(ctx, webdav.Credentials{
			URL:      h.server.URL,
			Username: "alice",
			Password: "wrong",
		}, true)
		require.Error(t, err)

		settings, err := h.store.GetSettings(ctx)
		require.NoError(t, err)
		assert.False(t, settings.Configured())
	})

	t.Run("insecure url", func(t *testing.T) {
		h := newHarness(t, 0)

		err := h.service.Configure(ctx, webdav.Credentials{
			URL:      "http://dav.example.com",
			Username: "alice",
			Password: "secret",
		}, false)
		assert.ErrorIs(t, err, models.ErrInvalidURL)
	})

	t.Run("missing password", func(t *testing.T) {
		h := newHarness(t, 0)

		err := h.service.Configure(ctx, webdav.Credentials{URL: h.server.URL, Username: "alice"}, false)
		assert.Equal(t, models.ErrCodeWebDAV, models.ErrorCode(err))
	})

	t.Run("disable keeps credentials", func(t *testing.T) {
		h := newHarness(t, 0)
		h.enable(t)

		require.NoError(t, h.service.Disable(ctx))

		settings, err := h.store.GetSettings(ctx)
		require.NoError(t, err)
		assert.False(t, settings.WebDAVEnabled)
		assert.Equal(t, "secret", settings.WebDAVPassword)

		result := h.service.Sync(ctx, true)
		assert.Equal(t, models.SyncSkipped, result.Action)
	})
}
