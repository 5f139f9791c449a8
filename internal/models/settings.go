package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Setting keys accepted by the settings store.
const (
	SettingWebDAVEnabled       = "webdav_enabled"
	SettingWebDAVURL           = "webdav_url"
	SettingWebDAVUsername      = "webdav_username"
	SettingWebDAVPassword      = "webdav_password"
	SettingWebDAVPath          = "webdav_path"
	SettingWebDAVAllowInsecure = "webdav_allow_insecure"
	SettingLastSyncTime        = "last_sync_time"
	SettingLastSyncError       = "last_sync_error"
)

// DefaultWebDAVPath is the remote folder used when none is configured.
const DefaultWebDAVPath = "/bookmarks"

// SettingKeys lists every known setting key.
var SettingKeys = []string{
	SettingWebDAVEnabled,
	SettingWebDAVURL,
	SettingWebDAVUsername,
	SettingWebDAVPassword,
	SettingWebDAVPath,
	SettingWebDAVAllowInsecure,
	SettingLastSyncTime,
	SettingLastSyncError,
}

// IsSettingKey reports whether key is known.
func IsSettingKey(key string) bool {
	for _, k := range SettingKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Settings holds WebDAV credentials and sync bookkeeping.
type Settings struct {
	WebDAVEnabled       bool       `json:"webdav_enabled"`
	WebDAVURL           string     `json:"webdav_url"`
	WebDAVUsername      string     `json:"webdav_username"`
	WebDAVPassword      string     `json:"webdav_password"`
	WebDAVPath          string     `json:"webdav_path"`
	WebDAVAllowInsecure bool       `json:"webdav_allow_insecure"`
	LastSyncTime        *time.Time `json:"last_sync_time,omitempty"`
	LastSyncError       string     `json:"last_sync_error,omitempty"`
}

// DefaultSettings returns settings with WebDAV disabled.
func DefaultSettings() *Settings {
	return &Settings{WebDAVPath: DefaultWebDAVPath}
}

// Configured reports whether sync is enabled and has credentials.
func (s *Settings) Configured() bool {
	return s.WebDAVEnabled &&
		s.WebDAVURL != "" &&
		s.WebDAVUsername != "" &&
		s.WebDAVPassword != ""
}

// Apply decodes a JSON value into the field named by key.
func (s *Settings) Apply(key string, raw json.RawMessage) error {
	var target interface{}

	switch key {
	case SettingWebDAVEnabled:
		target = &s.WebDAVEnabled
	case SettingWebDAVURL:
		target = &s.WebDAVURL
	case SettingWebDAVUsername:
		target = &s.WebDAVUsername
	case SettingWebDAVPassword:
		target = &s.WebDAVPassword
	case SettingWebDAVPath:
		target = &s.WebDAVPath
	case SettingWebDAVAllowInsecure:
		target = &s.WebDAVAllowInsecure
	case SettingLastSyncTime:
		if string(raw) == "null" {
			s.LastSyncTime = nil
			return nil
		}
		var t time.Time
		if err := json.Unmarshal(raw, &t); err != nil {
			return fmt.Errorf("%w: setting %s: %v", ErrValidation, key, err)
		}
		s.LastSyncTime = &t
		return nil
	case SettingLastSyncError:
		target = &s.LastSyncError
	default:
		return fmt.Errorf("%w: unknown setting %q", ErrValidation, key)
	}

	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("%w: setting %s: %v", ErrValidation, key, err)
	}
	return nil
}

// Redacted returns a copy safe for display.
func (s *Settings) Redacted() Settings {
	c := *s
	if c.WebDAVPassword != "" {
		c.WebDAVPassword = "********"
	}
	return c
}
