package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Storage paths
	Storage StorageConfig `json:"storage" mapstructure:"storage"`

	// Queue processing behavior
	Queue QueueConfig `json:"queue" mapstructure:"queue"`

	// Page fetching
	Fetch FetchConfig `json:"fetch" mapstructure:"fetch"`

	// WebDAV transport defaults
	WebDAV WebDAVConfig `json:"webdav" mapstructure:"webdav"`

	// Sync behavior
	Sync SyncConfig `json:"sync" mapstructure:"sync"`

	// Logging
	Log LogConfig `json:"log" mapstructure:"log"`

	// Event stream server used by `marksync serve`
	Server ServerConfig `json:"server" mapstructure:"server"`
}

// StorageConfig for local persistence.
type StorageConfig struct {
	DataDir      string `json:"data_dir" mapstructure:"data_dir"`           // Base directory for all data
	DatabasePath string `json:"database_path" mapstructure:"database_path"` // SQLite bookmark database
	SettingsFile string `json:"settings_file" mapstructure:"settings_file"` // Optional JSON settings file (empty = settings in database)
}

// QueueConfig for the bookmark processing queue.
type QueueConfig struct {
	MaxRetries        int           `json:"max_retries" mapstructure:"max_retries"`               // Attempts before a bookmark is marked as error
	BaseDelay         time.Duration `json:"base_delay" mapstructure:"base_delay"`                 // Backoff base
	MaxDelay          time.Duration `json:"max_delay" mapstructure:"max_delay"`                   // Backoff cap
	Jitter            bool          `json:"jitter" mapstructure:"jitter"`                         // Add up to 25% jitter to retry delays
	FetchConcurrency  int           `json:"fetch_concurrency" mapstructure:"fetch_concurrency"`   // Concurrent page fetches
	BatchPause        time.Duration `json:"batch_pause" mapstructure:"batch_pause"`               // Pause between full fetch batches
	LockTimeout       time.Duration `json:"lock_timeout" mapstructure:"lock_timeout"`             // Execution guard staleness
	ProcessingTimeout time.Duration `json:"processing_timeout" mapstructure:"processing_timeout"` // Abandoned processing threshold
	WakeSchedule      string        `json:"wake_schedule" mapstructure:"wake_schedule"`           // Cron spec for periodic passes
}

// FetchConfig for the HTTP page fetcher.
type FetchConfig struct {
	Timeout      time.Duration `json:"timeout" mapstructure:"timeout"`
	UserAgent    string        `json:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes int64         `json:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// WebDAVConfig for the WebDAV transport. Credentials live in settings.
type WebDAVConfig struct {
	Timeout    time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries int           `json:"max_retries" mapstructure:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay" mapstructure:"retry_delay"`
	UserAgent  string        `json:"user_agent" mapstructure:"user_agent"`
	FileName   string        `json:"file_name" mapstructure:"file_name"`
}

// SyncConfig for synchronization behavior.
type SyncConfig struct {
	Debounce time.Duration `json:"debounce" mapstructure:"debounce"` // Minimum gap between unforced syncs
	Schedule string        `json:"schedule" mapstructure:"schedule"` // Optional cron spec for forced syncs
}

// LogConfig for logging behavior.
type LogConfig struct {
	Level      string `json:"level" mapstructure:"level"`             // debug, info, warn, error
	Format     string `json:"format" mapstructure:"format"`           // text, json
	File       string `json:"file" mapstructure:"file"`               // Log file path (empty = stdout)
	MaxSize    int    `json:"max_size" mapstructure:"max_size"`       // Max log file size in MB
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"` // Max number of old logs
	MaxAge     int    `json:"max_age" mapstructure:"max_age"`         // Max age in days
	Color      bool   `json:"color" mapstructure:"color"`             // Enable colored output
}

// ServerConfig for the event stream listener.
type ServerConfig struct {
	ListenAddr string `json:"listen_addr" mapstructure:"listen_addr"` // Empty disables the listener
}

// DefaultConfig returns config with sensible defaults.
func DefaultConfig() *Config {
	dataDir := ".marksync"

	return &Config{
		Storage: StorageConfig{
			DataDir:      dataDir,
			DatabasePath: filepath.Join(dataDir, "bookmarks.db"),
		},
		Queue: QueueConfig{
			MaxRetries:        3,
			BaseDelay:         time.Second,
			MaxDelay:          time.Minute,
			Jitter:            true,
			FetchConcurrency:  5,
			BatchPause:        500 * time.Millisecond,
			LockTimeout:       10 * time.Minute,
			ProcessingTimeout: 5 * time.Minute,
			WakeSchedule:      "@every 1m",
		},
		Fetch: FetchConfig{
			Timeout:      30 * time.Second,
			UserAgent:    "Mozilla/5.0 (compatible; marksync/1.0)",
			MaxBodyBytes: 10 * 1024 * 1024, // 10MB
		},
		WebDAV: WebDAVConfig{
			Timeout:    30 * time.Second,
			MaxRetries: 2,
			RetryDelay: time.Second,
			UserAgent:  "marksync/1.0",
			FileName:   "bookmarks.json",
		},
		Sync: SyncConfig{
			Debounce: 5 * time.Second,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
			Color:      true,
		},
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:7787",
		},
	}
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.Storage.DatabasePath == "" {
		return errors.New("storage.database_path is required")
	}

	if c.Queue.MaxRetries <= 0 {
		return errors.New("queue.max_retries must be positive")
	}

	if c.Queue.BaseDelay <= 0 {
		return errors.New("queue.base_delay must be positive")
	}

	if c.Queue.MaxDelay < c.Queue.BaseDelay {
		return errors.New("queue.max_delay must not be smaller than queue.base_delay")
	}

	if c.Queue.FetchConcurrency <= 0 {
		return errors.New("queue.fetch_concurrency must be positive")
	}

	if c.Queue.LockTimeout <= 0 {
		return errors.New("queue.lock_timeout must be positive")
	}

	if c.Queue.ProcessingTimeout <= 0 {
		return errors.New("queue.processing_timeout must be positive")
	}

	if c.Fetch.Timeout <= 0 {
		return errors.New("fetch.timeout must be positive")
	}

	if c.WebDAV.Timeout <= 0 {
		return errors.New("webdav.timeout must be positive")
	}

	if c.WebDAV.FileName == "" {
		return errors.New("webdav.file_name is required")
	}

	if c.Sync.Debounce < 0 {
		return errors.New("sync.debounce must not be negative")
	}

	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}

	return nil
}

// EnsureDirectories creates required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDir,
		filepath.Dir(c.Storage.DatabasePath),
	}

	if c.Storage.SettingsFile != "" {
		dirs = append(dirs, filepath.Dir(c.Storage.SettingsFile))
	}

	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	return nil
}
