package governance

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalHash returns the SHA-256 hex digest of the RFC 8785 canonical
// JSON form of v. Key order and whitespace never influence the digest, so
// semantically identical payloads always hash the same.
func CanonicalHash(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical hash: marshal failed: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonical hash: transform failed: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// RequestHash identifies one action request for idempotent replay. Empty
// resource and resource id hash as null, distinguishing plugin-global calls
// from resource-bound ones.
func RequestHash(pluginID, resource, resourceID, actionName, phase string, args map[string]any) (string, error) {
	return CanonicalHash(map[string]any{
		"plugin_id":   pluginID,
		"resource":    nullableString(resource),
		"resource_id": nullableString(resourceID),
		"action":      actionName,
		"phase":       phase,
		"args":        args,
	})
}

// Fingerprint identifies one approval-worthy effect: executions of the same
// capability with identical arguments coalesce onto one pending ticket.
func Fingerprint(capabilityID, resourceID string, args map[string]any) (string, error) {
	return CanonicalHash(map[string]any{
		"capability_id": capabilityID,
		"resource_id":   nullableString(resourceID),
		"args":          args,
	})
}

// IdempotencyScope builds the replay scope; plugin-global actions use "_"
// in the resource slot.
func IdempotencyScope(pluginID, resource, actionName string) string {
	if resource == "" {
		resource = "_"
	}
	return pluginID + ":" + resource + ":" + actionName
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
