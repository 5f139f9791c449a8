package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TheMichaelB/marksync/internal/events"
	"github.com/TheMichaelB/marksync/internal/models"
)

// settingsFile is the on-disk layout of JSONSettingsStore.
type settingsFile struct {
	SchemaVersion int                        `json:"schema_version"`
	UpdatedAt     time.Time                  `json:"updated_at"`
	Values        map[string]json.RawMessage `json:"values"`
	Checksum      string                     `json:"checksum,omitempty"`
}

// JSONSettingsStore keeps settings in a checksummed JSON file.
type JSONSettingsStore struct {
	path   string
	logger *events.Logger
	now    func() time.Time

	mu sync.Mutex
}

// NewJSONSettingsStore creates a file-based settings store.
func NewJSONSettingsStore(path string, logger *events.Logger, opts ...Option) (*JSONSettingsStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create settings directory: %w", err)
	}

	o := buildOptions(opts)
	return &JSONSettingsStore{
		path:   path,
		logger: logger.WithField("component", "json_settings_store"),
		now:    o.now,
	}, nil
}

// GetSettings reads settings from the file. A missing file yields defaults.
func (s *JSONSettingsStore) GetSettings(ctx context.Context) (*models.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return nil, err
	}
	return decodeSettings(values)
}

// SaveSetting writes one setting.
func (s *JSONSettingsStore) SaveSetting(ctx context.Context, key string, value interface{}) error {
	raw, err := encodeSetting(key, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, err := s.load()
	if err != nil {
		return err
	}
	values[key] = raw

	return s.save(values)
}

// Close releases resources.
func (s *JSONSettingsStore) Close() error {
	return nil
}

func (s *JSONSettingsStore) load() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]json.RawMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}

	file, err := s.decode(data)
	if err != nil {
		s.logger.WithError(err).Warn("Settings file corrupt, trying backup")

		backup, berr := os.ReadFile(s.backupPath())
		if berr != nil {
			return nil, ErrStateCorrupt
		}
		file, err = s.decode(backup)
		if err != nil {
			return nil, ErrStateCorrupt
		}
		s.logger.Warn("Loaded settings from backup due to corruption")
	}

	if file.SchemaVersion != CurrentSchemaVersion {
		s.logger.WithField("version", file.SchemaVersion).Warn("Settings schema version mismatch")
	}

	if file.Values == nil {
		file.Values = map[string]json.RawMessage{}
	}
	return file.Values, nil
}

func (s *JSONSettingsStore) decode(data []byte) (*settingsFile, error) {
	var file settingsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}

	if file.Checksum != "" {
		expected := file.Checksum
		actual, err := checksum(file)
		if err != nil {
			return nil, err
		}
		if actual != expected {
			s.logger.WithFields(map[string]interface{}{
				"expected": expected,
				"actual":   actual,
			}).Error("Settings checksum mismatch")
			return nil, ErrStateCorrupt
		}
	}

	return &file, nil
}

func (s *JSONSettingsStore) save(values map[string]json.RawMessage) error {
	file := settingsFile{
		SchemaVersion: CurrentSchemaVersion,
		UpdatedAt:     s.now().UTC(),
		Values:        values,
	}

	sum, err := checksum(file)
	if err != nil {
		return err
	}
	file.Checksum = sum

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Keep the previous version around
	if _, err := os.Stat(s.path); err == nil {
		if err := copyFile(s.path, s.backupPath()); err != nil {
			s.logger.WithError(err).Warn("Failed to create backup")
		}
	}

	// Write atomically
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if f, err := os.Open(tmpPath); err == nil {
		_ = f.Sync()
		f.Close()
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename settings file: %w", err)
	}

	return nil
}

func (s *JSONSettingsStore) backupPath() string {
	return s.path + ".backup"
}

// checksum hashes the file contents without the checksum field.
func checksum(file settingsFile) (string, error) {
	file.Checksum = ""
	data, err := json.Marshal(file)
	if err != nil {
		return "", fmt.Errorf("marshal settings for checksum: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
