package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/marksync/internal/models"
)

func TestSettingsApply(t *testing.T) {
	s := models.DefaultSettings()
	assert.Equal(t, models.DefaultWebDAVPath, s.WebDAVPath)
	assert.False(t, s.Configured())

	apply := func(key string, v interface{}) {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		require.NoError(t, s.Apply(key, raw))
	}

	apply(models.SettingWebDAVEnabled, true)
	apply(models.SettingWebDAVURL, "https://dav.example.com")
	apply(models.SettingWebDAVUsername, "alice")
	assert.False(t, s.Configured(), "password still missing")

	apply(models.SettingWebDAVPassword, "secret")
	assert.True(t, s.Configured())

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	apply(models.SettingLastSyncTime, ts)
	require.NotNil(t, s.LastSyncTime)
	assert.True(t, ts.Equal(*s.LastSyncTime))

	require.NoError(t, s.Apply(models.SettingLastSyncTime, json.RawMessage("null")))
	assert.Nil(t, s.LastSyncTime)
}

func TestSettingsApplyErrors(t *testing.T) {
	s := models.DefaultSettings()

	err := s.Apply("theme", json.RawMessage(`"dark"`))
	assert.ErrorIs(t, err, models.ErrValidation)

	err = s.Apply(models.SettingWebDAVEnabled, json.RawMessage(`"yes"`))
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestSettingsRedacted(t *testing.T) {
	s := &models.Settings{WebDAVPassword: "secret"}
	r := s.Redacted()

	assert.Equal(t, "********", r.WebDAVPassword)
	assert.Equal(t, "secret", s.WebDAVPassword)
	assert.True(t, models.IsSettingKey(models.SettingWebDAVPath))
	assert.False(t, models.IsSettingKey("nope"))
}

func TestParseBookmarkExport(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	exp := models.NewBookmarkExport([]*models.Bookmark{{ID: "1", URL: "https://a.example"}}, now)

	data, err := json.Marshal(exp)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"exportedAt":"2024-06-01T00:00:00Z"`)
	assert.Contains(t, string(data), `"bookmarkCount":1`)

	parsed, err := models.ParseBookmarkExport(data)
	require.NoError(t, err)
	assert.Equal(t, models.ExportVersion, parsed.Version)
	assert.Len(t, parsed.Bookmarks, 1)

	for _, bad := range []string{"", "not json", `{"version":1}`} {
		_, err := models.ParseBookmarkExport([]byte(bad))
		assert.ErrorIs(t, err, models.ErrValidation, "input %q", bad)
	}
}

func TestNewBookmarkExportEmpty(t *testing.T) {
	exp := models.NewBookmarkExport(nil, time.Now())
	assert.NotNil(t, exp.Bookmarks)
	assert.Zero(t, exp.BookmarkCount)
}
