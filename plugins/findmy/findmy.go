// Package findmy exposes Find My friend locations. Locations are read from
// snapshot files that a companion exporter refreshes next to the Apple
// account session file; the plugin never talks to Apple itself.
package findmy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/manifest"
	"github.com/openclaw/clawgate/pkg/plugin"
)

// Config locates the account session file and the per-device snapshot files.
type Config struct {
	AccountPath string
	DeviceFiles []string
}

// Plugin implements plugin.Plugin over the snapshot files.
type Plugin struct {
	accountPath string
	deviceFiles []string
	manifest    *manifest.Plugin
}

var _ plugin.Plugin = (*Plugin)(nil)

// New returns the plugin for the given config.
func New(cfg Config) *Plugin {
	path := cfg.AccountPath
	if path == "" {
		path = "findmy_account.json"
	}
	return &Plugin{
		accountPath: path,
		deviceFiles: cfg.DeviceFiles,
		manifest:    newManifest(),
	}
}

// NewFromEnv builds the plugin from FINDMY_ACCOUNT_JSON and the comma
// separated FINDMY_DEVICE_FILES list.
func NewFromEnv() *Plugin {
	cfg := Config{AccountPath: os.Getenv("FINDMY_ACCOUNT_JSON")}
	for _, raw := range strings.Split(os.Getenv("FINDMY_DEVICE_FILES"), ",") {
		if path := strings.TrimSpace(raw); path != "" {
			cfg.DeviceFiles = append(cfg.DeviceFiles, path)
		}
	}
	return New(cfg)
}

func newManifest() *manifest.Plugin {
	return &manifest.Plugin{
		ID:          "find_my",
		Name:        "Find My",
		Version:     "0.1.0",
		RuntimeMode: manifest.RuntimeInProcess,
		Resources: []manifest.Resource{
			{
				Name:         "friends",
				CapabilityID: "find_my.friends.read",
				AllowedViews: []string{manifest.ViewHeaders, manifest.ViewBody},
			},
		},
		RequiredSecrets: []string{"apple_account_session"},
		RequiredScopes:  []string{"findmy.location.read"},
		DefaultPolicy:   map[string]any{"max_limit": 50},
		Actions: []manifest.Action{
			{
				Name:            "refresh",
				CapabilityID:    "find_my.friends.refresh",
				ResourceType:    "friend",
				RiskTier:        manifest.TierReadOnly,
				RoutePattern:    "/:refresh/{phase}",
				SupportsPropose: true,
				EmitsAttributes: []string{"principal", "origin", "resource_type", "time"},
			},
		},
	}
}

// Manifest implements plugin.Plugin.
func (p *Plugin) Manifest() *manifest.Plugin { return p.manifest }

// ListResource implements plugin.Plugin.
func (p *Plugin) ListResource(ctx context.Context, resource string, query plugin.Query) (*plugin.ReadResult, error) {
	if resource != "friends" {
		return nil, apierr.NotFoundf("resource '%s' not found", resource)
	}

	items, err := p.fetchLocations()
	if err != nil {
		return nil, err
	}
	if query.Q != "" {
		needle := strings.ToLower(query.Q)
		filtered := make([]map[string]any, 0, len(items))
		for _, item := range items {
			if strings.Contains(strings.ToLower(fmt.Sprint(item["label"])), needle) {
				filtered = append(filtered, item)
			}
		}
		items = filtered
	}

	offset, err := plugin.ParseOffsetCursor(query.Cursor)
	if err != nil {
		return nil, err
	}
	page := plugin.Page(items, offset, query.Limit)

	policy := make([]plugin.PolicyItem, 0, len(page))
	pageItems := make([]any, 0, len(page))
	for idx, item := range page {
		pageItems = append(pageItems, item)
		policy = append(policy, plugin.PolicyItem{
			DataRef: fmt.Sprintf("items[%d]", idx),
			Attrs: map[string]any{
				"principal":     item["label"],
				"origin":        "find_my",
				"resource_type": "friend",
				"time":          item["timestamp"],
			},
		})
	}
	return &plugin.ReadResult{
		Data: map[string]any{
			"items":       pageItems,
			"next_cursor": plugin.NextOffsetCursor(offset, query.Limit, len(items)),
		},
		PolicyItems: policy,
	}, nil
}

// GetResource implements plugin.Plugin.
func (p *Plugin) GetResource(ctx context.Context, resource, resourceID, view string, query plugin.Query) (*plugin.ReadResult, error) {
	if resource != "friends" {
		return nil, apierr.NotFoundf("resource '%s' not found", resource)
	}

	items, err := p.fetchLocations()
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item["id"] == resourceID {
			return &plugin.ReadResult{
				Data: item,
				PolicyItems: []plugin.PolicyItem{{
					DataRef: "self",
					Attrs: map[string]any{
						"principal":     item["label"],
						"origin":        "find_my",
						"resource_type": "friend",
						"time":          item["timestamp"],
					},
				}},
			}, nil
		}
	}
	return nil, apierr.NotFoundf("friend '%s' not found", resourceID)
}

// RunAction implements plugin.Plugin.
func (p *Plugin) RunAction(ctx context.Context, actx plugin.ActionContext, args map[string]any) (*plugin.ActionResult, error) {
	if actx.Action.Name != "refresh" {
		return nil, apierr.NotFoundf("action '%s' not implemented", actx.Action.Name)
	}

	policy := []plugin.PolicyItem{{
		DataRef: "result",
		Attrs:   map[string]any{"origin": "find_my", "resource_type": "friend"},
	}}
	if actx.Phase == plugin.PhasePropose {
		return &plugin.ActionResult{
			Status:         plugin.StatusSuccess,
			Summary:        "Refresh Find My locations",
			Result:         map[string]any{"count": 0},
			ProposedEffect: map[string]any{"count": 0},
			PolicyItems:    policy,
		}, nil
	}

	locations, err := p.fetchLocations()
	if err != nil {
		return nil, err
	}
	items := make([]any, 0, len(locations))
	for _, location := range locations {
		items = append(items, location)
	}
	return &plugin.ActionResult{
		Status:         plugin.StatusSuccess,
		Summary:        fmt.Sprintf("Refreshed %d Find My locations", len(locations)),
		Result:         map[string]any{"count": len(locations), "items": items},
		ProposedEffect: map[string]any{"count": len(locations)},
		PolicyItems:    policy,
	}, nil
}

// snapshot is the on-disk location format the exporter writes per device.
type snapshot struct {
	Latitude           *float64 `json:"latitude"`
	Longitude          *float64 `json:"longitude"`
	HorizontalAccuracy *float64 `json:"horizontal_accuracy"`
	Timestamp          string   `json:"timestamp"`
}

// fetchLocations reads every configured snapshot. Missing device files are
// skipped so one stale export does not hide the rest.
func (p *Plugin) fetchLocations() ([]map[string]any, error) {
	if _, err := os.Stat(p.accountPath); err != nil {
		return nil, apierr.ValidationCode("FINDMY_SESSION_MISSING",
			fmt.Sprintf("Find My account session file not found: %s", p.accountPath))
	}
	if len(p.deviceFiles) == 0 {
		return nil, apierr.ValidationCode("FINDMY_DEVICES_MISSING", "no FINDMY_DEVICE_FILES configured")
	}

	items := make([]map[string]any, 0, len(p.deviceFiles))
	for _, path := range p.deviceFiles {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, apierr.Validation(fmt.Sprintf("read device snapshot %s: %v", path, err))
		}
		var snap snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, apierr.Validation(fmt.Sprintf("device snapshot %s is not valid JSON", path))
		}
		label := stem(path)
		items = append(items, map[string]any{
			"id":        label,
			"label":     label,
			"latitude":  floatOrNil(snap.Latitude),
			"longitude": floatOrNil(snap.Longitude),
			"accuracy":  floatOrNil(snap.HorizontalAccuracy),
			"timestamp": snap.Timestamp,
		})
	}
	return items, nil
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func floatOrNil(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
