// Package plugin defines the uniform contract the gateway speaks to every
// backend integration, plus the registry that resolves URL segments to
// manifests. The mediation pipeline only ever sees this contract; whether a
// plugin runs in-process or behind a sidecar is invisible to it.
package plugin

import (
	"context"

	"github.com/openclaw/clawgate/pkg/manifest"
)

// Action phases.
const (
	PhasePropose = "propose"
	PhaseExecute = "execute"
)

// Action result statuses.
const (
	StatusSuccess = "success"
	StatusBlocked = "blocked"
)

// Query carries the normalized read parameters. Filters holds every query
// parameter that is not one of the reserved keys. Zero-valued optional fields
// mean "not supplied".
type Query struct {
	Limit    int               `json:"limit"`
	Cursor   string            `json:"cursor,omitempty"`
	Sort     string            `json:"sort,omitempty"`
	Q        string            `json:"q,omitempty"`
	Filters  map[string]string `json:"filters,omitempty"`
	MaxChars int               `json:"max_chars,omitempty"`
}

// PolicyItem is a plugin's attestation about one piece of returned data.
// DataRef is "self", "result", or "items[N]" with a zero-based index.
type PolicyItem struct {
	DataRef string         `json:"data_ref"`
	Attrs   map[string]any `json:"attrs"`
}

// ReadResult is what a plugin returns from a list or get call, before the
// policy engine filters it.
type ReadResult struct {
	Data        any          `json:"data"`
	PolicyItems []PolicyItem `json:"policy_items,omitempty"`
}

// ActionResult is what a plugin returns from an action call. Status defaults
// to success; blocked results are translated into policy denials by the
// mediator.
type ActionResult struct {
	Status         string         `json:"status"`
	Result         map[string]any `json:"result"`
	Summary        string         `json:"summary,omitempty"`
	ProposedEffect map[string]any `json:"proposed_effect,omitempty"`
	PolicyItems    []PolicyItem   `json:"policy_items,omitempty"`
}

// ActionContext identifies the resolved action invocation handed to a plugin.
// Resource and ResourceID are empty for plugin-global actions.
type ActionContext struct {
	PluginID   string
	Phase      string
	Action     *manifest.Action
	Resource   string
	ResourceID string
}

// Plugin is the contract every integration implements. Implementations must
// be safe for concurrent use; the gateway holds no lock across these calls.
type Plugin interface {
	// Manifest returns the plugin's static manifest. It must not change
	// after registration.
	Manifest() *manifest.Plugin

	// ListResource reads a page of the named resource collection.
	ListResource(ctx context.Context, resource string, query Query) (*ReadResult, error)

	// GetResource reads a single item. view is empty for the default
	// (headers) projection.
	GetResource(ctx context.Context, resource, resourceID, view string, query Query) (*ReadResult, error)

	// RunAction performs the resolved action for the given phase.
	RunAction(ctx context.Context, actx ActionContext, args map[string]any) (*ActionResult, error)
}
