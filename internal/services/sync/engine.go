// Package sync reconciles the local bookmark library with a WebDAV remote.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheMichaelB/marksync/internal/config"
	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/models"
	"github.com/TheMichaelB/marksync/internal/webdav"
)

// ImportSource tags bookmarks imported from the remote.
const ImportSource = "webdav"

// Library is the local bookmark collection.
type Library interface {
	ExportAllBookmarks(ctx context.Context) (*models.BookmarkExport, error)
	ImportBookmarks(ctx context.Context, exp *models.BookmarkExport, source string) (*models.ImportResult, error)
	NewestUpdate(ctx context.Context) (time.Time, error)
}

// SettingsStore holds credentials and sync bookkeeping.
type SettingsStore interface {
	GetSettings(ctx context.Context) (*models.Settings, error)
	SaveSetting(ctx context.Context, key string, value interface{}) error
}

// Remote is the export file on the WebDAV server.
type Remote interface {
	EnsureFolder(ctx context.Context) error
	Head(ctx context.Context) (*models.RemoteMetadata, error)
	Download(ctx context.Context) ([]byte, error)
	Upload(ctx context.Context, data []byte) error
}

// RemoteFactory builds a Remote from credentials.
type RemoteFactory func(creds webdav.Credentials) (Remote, error)

// Config holds sync tunables.
type Config struct {
	Debounce time.Duration
	WebDAV   config.WebDAVConfig
}

// ConfigFrom builds a sync config from application config.
func ConfigFrom(c *config.Config) Config {
	return Config{
		Debounce: c.Sync.Debounce,
		WebDAV:   c.WebDAV,
	}
}

// Engine implements the sync algorithm.
type Engine struct {
	cfg       Config
	library   Library
	settings  SettingsStore
	sink      events.Sink
	newRemote RemoteFactory
	logger    *events.Logger
	now       func() time.Time

	// Sync state
	mu          sync.Mutex
	syncing     bool
	lastAttempt time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithRemoteFactory overrides how remotes are built.
func WithRemoteFactory(f RemoteFactory) Option {
	return func(e *Engine) { e.newRemote = f }
}

// NewEngine creates a sync engine.
func NewEngine(cfg Config, library Library, settings SettingsStore, sink events.Sink, logger *events.Logger, opts ...Option) *Engine {
	if sink == nil {
		sink = events.Nop{}
	}

	e := &Engine{
		cfg:      cfg,
		library:  library,
		settings: settings,
		sink:     sink,
		logger:   logger.WithField("component", "sync_engine"),
		now:      time.Now,
	}
	e.newRemote = func(creds webdav.Credentials) (Remote, error) {
		return webdav.NewClient(creds, cfg.WebDAV, logger)
	}

	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TriggerIfEnabled runs an unforced sync. Skips are not errors.
func (e *Engine) TriggerIfEnabled(ctx context.Context) error {
	result := e.PerformSync(ctx, false)
	if result.Action == models.SyncError {
		return fmt.Errorf("sync failed: %s", result.Message)
	}
	return nil
}

// PerformSync reconciles local and remote. Failures are reported in the
// result, never returned.
func (e *Engine) PerformSync(ctx context.Context, force bool) *models.SyncResult {
	now := e.now()

	e.mu.Lock()
	debounced := !force && !e.lastAttempt.IsZero() && now.Sub(e.lastAttempt) < e.cfg.Debounce
	e.mu.Unlock()
	if debounced {
		e.logger.Debug("Sync debounced")
		return skipped("Sync debounced")
	}

	settings, err := e.settings.GetSettings(ctx)
	if err != nil {
		e.logger.WithError(err).Error("Failed to load settings")
		return &models.SyncResult{Action: models.SyncError, Message: fmt.Sprintf("load settings: %v", err)}
	}
	if !settings.Configured() {
		return skipped("WebDAV sync is not configured")
	}

	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return skipped(models.ErrSyncInProgress.Error())
	}
	e.syncing = true
	e.lastAttempt = now
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	logger := e.logger.WithField("manual", force)
	logger.Info("Starting sync")

	e.emit(events.Event{Type: events.SyncStarted, Manual: force})

	outcome, err := e.run(ctx, settings, logger)
	if err != nil {
		return e.fail(ctx, logger, err)
	}
	return e.succeed(ctx, logger, outcome)
}

type outcome struct {
	action   models.SyncAction
	count    int
	message  string
	imported *models.ImportResult
}

func (e *Engine) run(ctx context.Context, settings *models.Settings, logger *events.Logger) (*outcome, error) {
	if v := webdav.ValidateURL(settings.WebDAVURL, settings.WebDAVAllowInsecure); !v.Valid {
		return nil, &models.WebDAVError{Kind: models.WebDAVConfig, Op: "validate", Err: fmt.Errorf("%w: %s", models.ErrInvalidURL, v.Error)}
	}

	remote, err := e.newRemote(webdav.CredentialsFromSettings(settings))
	if err != nil {
		return nil, err
	}

	if err := remote.EnsureFolder(ctx); err != nil {
		return nil, err
	}

	meta, err := remote.Head(ctx)
	if err != nil {
		return nil, err
	}

	local, err := e.library.ExportAllBookmarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("export bookmarks: %w", err)
	}

	if !meta.Exists {
		if local.BookmarkCount == 0 {
			return &outcome{action: models.SyncNoChange, message: "Nothing to sync"}, nil
		}
		return e.upload(ctx, remote, local, "Uploaded local bookmarks")
	}

	remoteExp, err := e.download(ctx, remote, logger)
	if err != nil {
		return nil, err
	}
	if remoteExp == nil {
		return e.upload(ctx, remote, local, "Replaced unreadable remote export")
	}

	newest, err := e.library.NewestUpdate(ctx)
	if err != nil {
		return nil, fmt.Errorf("newest update: %w", err)
	}

	logger.WithFields(map[string]interface{}{
		"remote_exported_at": remoteExp.ExportedAt,
		"local_updated_at":   newest,
		"etag":               meta.ETag,
	}).Debug("Comparing exports")

	if !remoteExp.ExportedAt.After(newest) {
		return e.upload(ctx, remote, local, "Uploaded local bookmarks")
	}

	imported, err := e.library.ImportBookmarks(ctx, remoteExp, ImportSource)
	if err != nil {
		return nil, fmt.Errorf("import bookmarks: %w", err)
	}

	merged, err := e.library.ExportAllBookmarks(ctx)
	if err != nil {
		return nil, fmt.Errorf("export bookmarks: %w", err)
	}

	out, err := e.upload(ctx, remote, merged, "")
	if err != nil {
		return nil, err
	}
	out.action = models.SyncDownloaded
	out.imported = imported
	out.message = fmt.Sprintf("Imported %d bookmarks, skipped %d", imported.Imported, imported.Skipped)
	return out, nil
}

// download returns the remote export, or nil when it is missing or unreadable.
func (e *Engine) download(ctx context.Context, remote Remote, logger *events.Logger) (*models.BookmarkExport, error) {
	data, err := remote.Download(ctx)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	exp, err := models.ParseBookmarkExport(data)
	if err != nil {
		logger.WithError(err).Warn("Remote export unreadable, treating as absent")
		return nil, nil
	}
	return exp, nil
}

func (e *Engine) upload(ctx context.Context, remote Remote, exp *models.BookmarkExport, message string) (*outcome, error) {
	data, err := json.MarshalIndent(exp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode export: %w", err)
	}
	if err := remote.Upload(ctx, data); err != nil {
		return nil, err
	}
	return &outcome{action: models.SyncUploaded, count: exp.BookmarkCount, message: message}, nil
}

func (e *Engine) succeed(ctx context.Context, logger *events.Logger, out *outcome) *models.SyncResult {
	now := e.now().UTC()

	if err := e.settings.SaveSetting(ctx, models.SettingLastSyncTime, now); err != nil {
		logger.WithError(err).Warn("Failed to record sync time")
	}
	if err := e.settings.SaveSetting(ctx, models.SettingLastSyncError, ""); err != nil {
		logger.WithError(err).Warn("Failed to clear sync error")
	}

	e.emit(events.Event{
		Type:          events.SyncCompleted,
		Action:        string(out.action),
		BookmarkCount: out.count,
		Message:       out.message,
	})

	logger.WithFields(map[string]interface{}{
		"action":         string(out.action),
		"bookmark_count": out.count,
	}).Info("Sync complete")

	result := &models.SyncResult{
		Success:       true,
		Action:        out.action,
		Message:       out.message,
		Timestamp:     &now,
		BookmarkCount: out.count,
	}
	if out.imported != nil {
		result.Imported = out.imported.Imported
		result.Skipped = out.imported.Skipped
	}
	return result
}

func (e *Engine) fail(ctx context.Context, logger *events.Logger, cause error) *models.SyncResult {
	msg := cause.Error()
	now := e.now().UTC()

	// Saved with a fresh context so cancellation still leaves a record.
	if err := e.settings.SaveSetting(context.WithoutCancel(ctx), models.SettingLastSyncError, msg); err != nil {
		logger.WithError(err).Warn("Failed to record sync error")
	}

	e.emit(events.Event{Type: events.SyncFailed, Error: msg})

	logger.WithError(cause).WithField("code", models.ErrorCode(cause)).Error("Sync failed")

	return &models.SyncResult{
		Action:    models.SyncError,
		Message:   msg,
		Timestamp: &now,
	}
}

func (e *Engine) emit(ev events.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = e.now()
	}
	events.SafeEmit(e.sink, ev)
}

func skipped(msg string) *models.SyncResult {
	return &models.SyncResult{Action: models.SyncSkipped, Message: msg}
}
