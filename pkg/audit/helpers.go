package audit

import (
	"strings"
)

// operation holds the fields recoverable from a gateway URL path.
type operation struct {
	Plugin     string
	Resource   string
	ResourceID string
	Action     string
	Phase      string
}

// parseOperation extracts plugin, resource, action, and phase from a gateway
// path. Recognized shapes, after the /v1 (or /api alias) prefix:
//
//	{plugin}:{action}/{phase}
//	{plugin}/{resource}/{resource_id}:{action}/{phase}
//	{plugin}/{resource}[/{resource_id}]
//	approvals/{ticket_id}:approve|deny
//
// Unrecognized paths yield best-effort fields; nothing fails.
func parseOperation(path string) operation {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) > 0 && (parts[0] == "v1" || parts[0] == "api") {
		parts = parts[1:]
	}

	var op operation
	if len(parts) == 0 || parts[0] == "" {
		return op
	}

	if parts[0] == "approvals" {
		op.Resource = "approvals"
		if len(parts) > 1 {
			op.ResourceID = parts[1]
			if colonIdx := strings.Index(parts[1], ":"); colonIdx >= 0 {
				op.ResourceID = parts[1][:colonIdx]
				op.Action = parts[1][colonIdx+1:]
			}
		}
		return op
	}

	// Global action: {plugin}:{action}/{phase}.
	if colonIdx := strings.Index(parts[0], ":"); colonIdx > 0 {
		op.Plugin = parts[0][:colonIdx]
		op.Action = parts[0][colonIdx+1:]
		if len(parts) > 1 {
			op.Phase = parts[1]
		}
		return op
	}

	op.Plugin = parts[0]
	if len(parts) > 1 {
		op.Resource = parts[1]
	}
	if len(parts) > 2 {
		op.ResourceID = parts[2]
		// Resource action: {resource_id}:{action}/{phase}.
		if colonIdx := strings.Index(parts[2], ":"); colonIdx >= 0 {
			op.ResourceID = parts[2][:colonIdx]
			op.Action = parts[2][colonIdx+1:]
			if len(parts) > 3 {
				op.Phase = parts[3]
			}
		}
	}
	return op
}

// shouldAudit returns true if the request should be recorded. Mutating
// methods (action phases, approval decisions) are recorded; browsing (GET)
// and health checks are not.
func shouldAudit(method, path string) bool {
	if isHealthEndpoint(path) {
		return false
	}

	switch method {
	case "POST", "PUT", "PATCH", "DELETE":
		return true
	}

	return false
}

// isHealthEndpoint returns true for health-check paths.
func isHealthEndpoint(path string) bool {
	switch path {
	case "/livez", "/readyz", "/healthz":
		return true
	}
	return false
}
