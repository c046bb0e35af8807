package sidecar

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/openclaw/clawgate/pkg/plugin"
)

// ParseConfigs parses the SIDECAR_PLUGINS_JSON configuration payload, a list
// of {id, base_url, shared_secret?, timeout_seconds?} objects. An empty
// payload means no sidecars.
func ParseConfigs(raw string) ([]Config, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return nil, errors.New("SIDECAR_PLUGINS_JSON must be valid JSON")
	}
	entries, ok := decoded.([]any)
	if !ok {
		return nil, errors.New("SIDECAR_PLUGINS_JSON must be a list")
	}

	configs := make([]Config, 0, len(entries))
	for _, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, errors.New("sidecar plugin entries must be objects")
		}
		cfg := Config{
			ID:           stringField(obj, "id"),
			BaseURL:      stringField(obj, "base_url"),
			SharedSecret: stringField(obj, "shared_secret"),
		}
		switch v := obj["timeout_seconds"].(type) {
		case nil:
		case float64:
			cfg.TimeoutSeconds = v
		default:
			return nil, errors.New("sidecar plugin timeout_seconds must be a number")
		}
		if cfg.ID == "" || cfg.BaseURL == "" {
			return nil, errors.New("sidecar plugin entries require id and base_url")
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return strings.TrimSpace(s)
}

// LoadPlugins connects to every configured sidecar. Any unreachable sidecar
// or invalid manifest fails the whole load; the gateway does not start with a
// partial plugin set.
func LoadPlugins(ctx context.Context, configs []Config) ([]plugin.Plugin, error) {
	plugins := make([]plugin.Plugin, 0, len(configs))
	for _, cfg := range configs {
		p, err := New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}
