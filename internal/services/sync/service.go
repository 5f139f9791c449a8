package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/models"
	"github.com/TheMichaelB/marksync/internal/webdav"
)

// Service provides WebDAV configuration and sync operations.
type Service struct {
	engine   *Engine
	settings SettingsStore
	logger   *events.Logger
}

// NewService creates a sync service.
func NewService(engine *Engine, settings SettingsStore, logger *events.Logger) *Service {
	return &Service{
		engine:   engine,
		settings: settings,
		logger:   logger.WithField("service", "sync"),
	}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *Engine {
	return s.engine
}

// Configure validates and stores WebDAV credentials and enables sync.
// With verify set, the remote must accept the credentials first.
func (s *Service) Configure(ctx context.Context, creds webdav.Credentials, verify bool) error {
	creds.URL = strings.TrimSpace(creds.URL)
	creds.Path = strings.TrimSpace(creds.Path)
	if creds.Path == "" {
		creds.Path = models.DefaultWebDAVPath
	}

	if v := webdav.ValidateURL(creds.URL, creds.AllowInsecure); !v.Valid {
		return &models.WebDAVError{Kind: models.WebDAVConfig, Op: "configure", Err: fmt.Errorf("%w: %s", models.ErrInvalidURL, v.Error)}
	}
	if creds.Username == "" || creds.Password == "" {
		return &models.WebDAVError{Kind: models.WebDAVConfig, Op: "configure", Err: errors.New("username and password are required")}
	}

	if verify {
		if err := s.TestConnection(ctx, creds); err != nil {
			return err
		}
	}

	values := []struct {
		key   string
		value interface{}
	}{
		{models.SettingWebDAVURL, creds.URL},
		{models.SettingWebDAVUsername, creds.Username},
		{models.SettingWebDAVPassword, creds.Password},
		{models.SettingWebDAVPath, creds.Path},
		{models.SettingWebDAVAllowInsecure, creds.AllowInsecure},
		{models.SettingWebDAVEnabled, true},
	}
	for _, v := range values {
		if err := s.settings.SaveSetting(ctx, v.key, v.value); err != nil {
			return fmt.Errorf("save %s: %w", v.key, err)
		}
	}

	s.logger.WithFields(map[string]interface{}{
		"url":  creds.URL,
		"path": creds.Path,
	}).Info("WebDAV sync configured")
	return nil
}

// TestConnection checks credentials against the remote without saving them.
func (s *Service) TestConnection(ctx context.Context, creds webdav.Credentials) error {
	remote, err := s.engine.newRemote(creds)
	if err != nil {
		return err
	}

	tester, ok := remote.(interface {
		TestConnection(ctx context.Context) error
	})
	if !ok {
		return nil
	}
	return tester.TestConnection(ctx)
}

// Disable turns sync off, keeping the stored credentials.
func (s *Service) Disable(ctx context.Context) error {
	if err := s.settings.SaveSetting(ctx, models.SettingWebDAVEnabled, false); err != nil {
		return fmt.Errorf("disable sync: %w", err)
	}
	s.logger.Info("WebDAV sync disabled")
	return nil
}

// Settings returns the current settings with the password masked.
func (s *Service) Settings(ctx context.Context) (models.Settings, error) {
	settings, err := s.settings.GetSettings(ctx)
	if err != nil {
		return models.Settings{}, err
	}
	return settings.Redacted(), nil
}

// Sync runs one sync. force bypasses the debounce window.
func (s *Service) Sync(ctx context.Context, force bool) *models.SyncResult {
	return s.engine.PerformSync(ctx, force)
}
