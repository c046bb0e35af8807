package plugin

import (
	"fmt"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/manifest"
)

// Summary is the projection of a manifest returned by the plugin listing.
type Summary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Version     string `json:"version"`
	RuntimeMode string `json:"runtime_mode"`
}

// CapabilityRow is one row of a plugin's capability listing.
type CapabilityRow struct {
	Action       string `json:"action"`
	CapabilityID string `json:"capability_id"`
	ResourceType string `json:"resource_type"`
	RiskTier     string `json:"risk_tier"`
	RoutePattern string `json:"route_pattern"`
}

// Registry maps plugin ids to plugins and resolves URL segments to manifest
// entries. It is immutable after construction and safe for concurrent use.
type Registry struct {
	plugins map[string]Plugin
	order   []string
}

// NewRegistry validates every manifest and indexes the plugins by id.
// Registration order is preserved in listings.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		m := p.Manifest()
		m.ApplyDefaults()
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, ok := r.plugins[m.ID]; ok {
			return nil, fmt.Errorf("duplicate plugin id '%s'", m.ID)
		}
		r.plugins[m.ID] = p
		r.order = append(r.order, m.ID)
	}
	return r, nil
}

// List returns a summary per plugin, in registration order.
func (r *Registry) List() []Summary {
	out := make([]Summary, 0, len(r.order))
	for _, id := range r.order {
		m := r.plugins[id].Manifest()
		out = append(out, Summary{ID: m.ID, Name: m.Name, Version: m.Version, RuntimeMode: m.RuntimeMode})
	}
	return out
}

// Get returns the plugin registered under id.
func (r *Registry) Get(id string) (Plugin, error) {
	p, ok := r.plugins[id]
	if !ok {
		return nil, apierr.NotFoundf("plugin '%s' not found", id)
	}
	return p, nil
}

// Manifest returns the manifest of the plugin registered under id.
func (r *Registry) Manifest(id string) (*manifest.Plugin, error) {
	p, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	return p.Manifest(), nil
}

// Capabilities returns one row per declared action of the plugin.
func (r *Registry) Capabilities(id string) ([]CapabilityRow, error) {
	m, err := r.Manifest(id)
	if err != nil {
		return nil, err
	}
	rows := make([]CapabilityRow, 0, len(m.Actions))
	for _, a := range m.Actions {
		rows = append(rows, CapabilityRow{
			Action:       a.Name,
			CapabilityID: a.CapabilityID,
			ResourceType: a.ResourceType,
			RiskTier:     a.RiskTier,
			RoutePattern: a.RoutePattern,
		})
	}
	return rows, nil
}

// ResolveAction finds the action matching both name and resource binding. An
// empty resource matches only plugin-global actions.
func (r *Registry) ResolveAction(pluginID, actionName, resource string) (*manifest.Action, error) {
	m, err := r.Manifest(pluginID)
	if err != nil {
		return nil, err
	}
	for i := range m.Actions {
		a := &m.Actions[i]
		if a.Name != actionName {
			continue
		}
		if a.Resource != resource {
			continue
		}
		return a, nil
	}
	if resource != "" {
		return nil, apierr.NotFoundf("action '%s' for resource '%s' not found in '%s'", actionName, resource, pluginID)
	}
	return nil, apierr.NotFoundf("action '%s' not found in '%s'", actionName, pluginID)
}

// ResolveResource finds the resource manifest used for authorization and
// allowed-view checks.
func (r *Registry) ResolveResource(pluginID, resource string) (*manifest.Resource, error) {
	m, err := r.Manifest(pluginID)
	if err != nil {
		return nil, err
	}
	for i := range m.Resources {
		if m.Resources[i].Name == resource {
			return &m.Resources[i], nil
		}
	}
	return nil, apierr.NotFoundf("resource '%s' not found in '%s'", resource, pluginID)
}
