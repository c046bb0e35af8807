// Package manifest defines the declarative plugin description shared by
// in-process plugins, sidecar plugins, and the gateway: which resources a
// plugin exposes, which actions it supports, and the capability ids, risk
// tiers, and view allowances the mediation pipeline enforces.
package manifest

import (
	"fmt"
	"regexp"
)

// Runtime modes a plugin can declare.
const (
	RuntimeInProcess = "in_process"
	RuntimeSidecar   = "sidecar"
)

// Risk tiers, in increasing order of the damage a misfired action can do.
const (
	TierReadOnly      = "read_only"
	TierRoutine       = "routine"
	TierTransactional = "transactional"
	TierDangerous     = "dangerous"
)

// Read views a resource can allow.
const (
	ViewHeaders = "headers"
	ViewBody    = "body"
	ViewRaw     = "raw"
)

var snakeCase = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Resource declares a readable collection exposed by a plugin. The empty
// AllowedViews slice means all views are allowed; ApplyDefaults expands it.
type Resource struct {
	Name         string   `json:"name"`
	CapabilityID string   `json:"capability_id"`
	Description  string   `json:"description,omitempty"`
	AllowedViews []string `json:"allowed_views"`
}

// Action declares an invokable operation. Resource is empty for plugin-global
// actions; otherwise it names the resource collection the action is bound to.
type Action struct {
	Name                string   `json:"name"`
	CapabilityID        string   `json:"capability_id"`
	Description         string   `json:"description,omitempty"`
	Resource            string   `json:"resource,omitempty"`
	ResourceType        string   `json:"resource_type,omitempty"`
	RiskTier            string   `json:"risk_tier"`
	RoutePattern        string   `json:"route_pattern"`
	SupportsPropose     bool     `json:"supports_propose"`
	RequiresIdempotency bool     `json:"requires_idempotency"`
	Mutating            bool     `json:"mutating"`
	EmitsAttributes     []string `json:"emits_attributes"`
}

// Plugin is the full manifest a plugin presents at registration time.
type Plugin struct {
	SchemaVersion   string         `json:"schema_version"`
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Version         string         `json:"version"`
	RuntimeMode     string         `json:"runtime_mode"`
	Resources       []Resource     `json:"resources"`
	Actions         []Action       `json:"actions"`
	RequiredSecrets []string       `json:"required_secrets,omitempty"`
	RequiredScopes  []string       `json:"required_scopes,omitempty"`
	DefaultPolicy   map[string]any `json:"default_policy,omitempty"`
}

// ApplyDefaults fills the fields a hand-written or remotely fetched manifest
// may omit: the schema version and per-resource allowed views.
func (m *Plugin) ApplyDefaults() {
	if m.SchemaVersion == "" {
		m.SchemaVersion = "1.0"
	}
	for i := range m.Resources {
		if len(m.Resources[i].AllowedViews) == 0 {
			m.Resources[i].AllowedViews = []string{ViewHeaders, ViewBody, ViewRaw}
		}
	}
}

// Validate checks the structural invariants of the manifest. It is called
// once at plugin registration; a failure here aborts server startup.
func (m *Plugin) Validate() error {
	if !snakeCase.MatchString(m.ID) {
		return fmt.Errorf("plugin id '%s' must be lowercase snake_case", m.ID)
	}
	if m.Name == "" {
		return fmt.Errorf("plugin '%s' must have a name", m.ID)
	}
	if m.Version == "" {
		return fmt.Errorf("plugin '%s' must have a version", m.ID)
	}
	if m.RuntimeMode != RuntimeInProcess && m.RuntimeMode != RuntimeSidecar {
		return fmt.Errorf("plugin '%s' has invalid runtime_mode '%s'", m.ID, m.RuntimeMode)
	}

	resourceNames := make(map[string]bool, len(m.Resources))
	for _, r := range m.Resources {
		if !snakeCase.MatchString(r.Name) {
			return fmt.Errorf("plugin '%s' resource name '%s' must be lowercase snake_case", m.ID, r.Name)
		}
		if resourceNames[r.Name] {
			return fmt.Errorf("plugin '%s' declares duplicate resource '%s'", m.ID, r.Name)
		}
		resourceNames[r.Name] = true
		if r.CapabilityID == "" {
			return fmt.Errorf("plugin '%s' resource '%s' must have a capability_id", m.ID, r.Name)
		}
		for _, view := range r.AllowedViews {
			if view != ViewHeaders && view != ViewBody && view != ViewRaw {
				return fmt.Errorf("plugin '%s' resource '%s' allows unknown view '%s'", m.ID, r.Name, view)
			}
		}
	}

	if len(m.Actions) == 0 {
		return fmt.Errorf("plugin '%s' must declare at least one action", m.ID)
	}
	type actionKey struct{ name, resource string }
	seen := make(map[actionKey]bool, len(m.Actions))
	for _, a := range m.Actions {
		if !snakeCase.MatchString(a.Name) {
			return fmt.Errorf("plugin '%s' action name '%s' must be lowercase snake_case", m.ID, a.Name)
		}
		if a.Resource != "" && !snakeCase.MatchString(a.Resource) {
			return fmt.Errorf("plugin '%s' action '%s' resource '%s' must be lowercase snake_case", m.ID, a.Name, a.Resource)
		}
		key := actionKey{name: a.Name, resource: a.Resource}
		if seen[key] {
			if a.Resource == "" {
				return fmt.Errorf("plugin '%s' declares duplicate action '%s'", m.ID, a.Name)
			}
			return fmt.Errorf("plugin '%s' declares duplicate action '%s' for resource '%s'", m.ID, a.Name, a.Resource)
		}
		seen[key] = true
		if a.CapabilityID == "" {
			return fmt.Errorf("plugin '%s' action '%s' must have a capability_id", m.ID, a.Name)
		}
		switch a.RiskTier {
		case TierReadOnly, TierRoutine, TierTransactional, TierDangerous:
		default:
			return fmt.Errorf("plugin '%s' action '%s' has invalid risk_tier '%s'", m.ID, a.Name, a.RiskTier)
		}
		if len(a.EmitsAttributes) == 0 {
			return fmt.Errorf("plugin '%s' action '%s' must declare emits_attributes", m.ID, a.Name)
		}
	}
	return nil
}

// AllowsView reports whether the resource allows the named read view.
func (r *Resource) AllowsView(view string) bool {
	for _, v := range r.AllowedViews {
		if v == view {
			return true
		}
	}
	return false
}
