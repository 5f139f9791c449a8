package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. MARKSYNC_LOG_LEVEL.
const EnvPrefix = "MARKSYNC"

// Loader handles configuration loading from multiple sources.
type Loader struct {
	configPath string
	v          *viper.Viper
}

// NewLoader creates a config loader.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		v:          viper.New(),
	}
}

// Load reads configuration from file and environment.
func (l *Loader) Load() (*Config, error) {
	setDefaults(l.v, DefaultConfig())

	l.v.SetEnvPrefix(EnvPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if l.configPath == "" {
		for _, path := range l.defaultPaths() {
			if _, err := os.Stat(path); err == nil {
				l.configPath = path
				break
			}
		}
	}

	if l.configPath != "" {
		l.v.SetConfigFile(l.configPath)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", l.configPath, err)
		}
	}

	cfg := &Config{}
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Paths derived from the data dir unless set explicitly
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = filepath.Join(cfg.Storage.DataDir, "bookmarks.db")
	}
	cfg.Log.Level = strings.ToLower(cfg.Log.Level)
	cfg.Log.Format = strings.ToLower(cfg.Log.Format)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ConfigFile returns the file the configuration was read from, if any.
func (l *Loader) ConfigFile() string {
	return l.configPath
}

// defaultPaths returns default config file locations.
func (l *Loader) defaultPaths() []string {
	paths := []string{
		"marksync.json",
		"marksync.yaml",
		".marksync.json",
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(homeDir, ".config", "marksync", "config.json"),
			filepath.Join(homeDir, ".config", "marksync", "config.yaml"),
			filepath.Join(homeDir, ".marksync", "config.json"),
		)
	}

	return paths
}

// setDefaults registers every key so environment overrides apply to all of them.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("storage.data_dir", cfg.Storage.DataDir)
	v.SetDefault("storage.database_path", "")
	v.SetDefault("storage.settings_file", cfg.Storage.SettingsFile)

	v.SetDefault("queue.max_retries", cfg.Queue.MaxRetries)
	v.SetDefault("queue.base_delay", cfg.Queue.BaseDelay)
	v.SetDefault("queue.max_delay", cfg.Queue.MaxDelay)
	v.SetDefault("queue.jitter", cfg.Queue.Jitter)
	v.SetDefault("queue.fetch_concurrency", cfg.Queue.FetchConcurrency)
	v.SetDefault("queue.batch_pause", cfg.Queue.BatchPause)
	v.SetDefault("queue.lock_timeout", cfg.Queue.LockTimeout)
	v.SetDefault("queue.processing_timeout", cfg.Queue.ProcessingTimeout)
	v.SetDefault("queue.wake_schedule", cfg.Queue.WakeSchedule)

	v.SetDefault("fetch.timeout", cfg.Fetch.Timeout)
	v.SetDefault("fetch.user_agent", cfg.Fetch.UserAgent)
	v.SetDefault("fetch.max_body_bytes", cfg.Fetch.MaxBodyBytes)

	v.SetDefault("webdav.timeout", cfg.WebDAV.Timeout)
	v.SetDefault("webdav.max_retries", cfg.WebDAV.MaxRetries)
	v.SetDefault("webdav.retry_delay", cfg.WebDAV.RetryDelay)
	v.SetDefault("webdav.user_agent", cfg.WebDAV.UserAgent)
	v.SetDefault("webdav.file_name", cfg.WebDAV.FileName)

	v.SetDefault("sync.debounce", cfg.Sync.Debounce)
	v.SetDefault("sync.schedule", cfg.Sync.Schedule)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_size", cfg.Log.MaxSize)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age", cfg.Log.MaxAge)
	v.SetDefault("log.color", cfg.Log.Color)

	v.SetDefault("server.listen_addr", cfg.Server.ListenAddr)
}

// SaveExample writes an example config file.
func SaveExample(path string) error {
	cfg := DefaultConfig()
	cfg.Storage.DatabasePath = ""

	data, err := json.MarshalIndent(exampleView(cfg), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	return nil
}

// exampleView renders durations as strings so the file loads back through viper.
func exampleView(cfg *Config) map[string]interface{} {
	return map[string]interface{}{
		"storage": map[string]interface{}{
			"data_dir":      cfg.Storage.DataDir,
			"settings_file": cfg.Storage.SettingsFile,
		},
		"queue": map[string]interface{}{
			"max_retries":        cfg.Queue.MaxRetries,
			"base_delay":         cfg.Queue.BaseDelay.String(),
			"max_delay":          cfg.Queue.MaxDelay.String(),
			"jitter":             cfg.Queue.Jitter,
			"fetch_concurrency":  cfg.Queue.FetchConcurrency,
			"batch_pause":        cfg.Queue.BatchPause.String(),
			"lock_timeout":       cfg.Queue.LockTimeout.String(),
			"processing_timeout": cfg.Queue.ProcessingTimeout.String(),
			"wake_schedule":      cfg.Queue.WakeSchedule,
		},
		"fetch": map[string]interface{}{
			"timeout":        cfg.Fetch.Timeout.String(),
			"user_agent":     cfg.Fetch.UserAgent,
			"max_body_bytes": cfg.Fetch.MaxBodyBytes,
		},
		"webdav": map[string]interface{}{
			"timeout":     cfg.WebDAV.Timeout.String(),
			"max_retries": cfg.WebDAV.MaxRetries,
			"retry_delay": cfg.WebDAV.RetryDelay.String(),
			"user_agent":  cfg.WebDAV.UserAgent,
			"file_name":   cfg.WebDAV.FileName,
		},
		"sync": map[string]interface{}{
			"debounce": cfg.Sync.Debounce.String(),
			"schedule": cfg.Sync.Schedule,
		},
		"log": map[string]interface{}{
			"level":       cfg.Log.Level,
			"format":      cfg.Log.Format,
			"file":        cfg.Log.File,
			"max_size":    cfg.Log.MaxSize,
			"max_backups": cfg.Log.MaxBackups,
			"max_age":     cfg.Log.MaxAge,
			"color":       cfg.Log.Color,
		},
		"server": map[string]interface{}{
			"listen_addr": cfg.Server.ListenAddr,
		},
	}
}
