package state

import (
	"encoding/json"
	"fmt"

	"github.com/TheMichaelB/marksync/internal/models"
)

// encodeSetting marshals value and checks it decodes into the named setting.
func encodeSetting(key string, value interface{}) (json.RawMessage, error) {
	if !models.IsSettingKey(key) {
		return nil, fmt.Errorf("%w: unknown setting %q", models.ErrValidation, key)
	}

	raw, ok := value.(json.RawMessage)
	if !ok {
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("marshal setting %s: %w", key, err)
		}
		raw = data
	}

	if err := models.DefaultSettings().Apply(key, raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// decodeSettings builds settings from stored raw values. Unknown keys are ignored.
func decodeSettings(values map[string]json.RawMessage) (*models.Settings, error) {
	s := models.DefaultSettings()
	for key, raw := range values {
		if !models.IsSettingKey(key) {
			continue
		}
		if err := s.Apply(key, raw); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func toRaw(values map[string][]byte) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(values))
	for k, v := range values {
		out[k] = json.RawMessage(v)
	}
	return out
}
