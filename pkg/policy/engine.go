// Package policy implements the gateway's policy engine: approval decisions
// layered from risk-tier defaults and allow/require overrides, domain
// blocking against request arguments and plugin attestations, collection and
// single-item filtering, raw-view gating, text sanitization, and numeric
// normalization of read queries.
package policy

import (
	"regexp"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/manifest"
	"github.com/openclaw/clawgate/pkg/plugin"
)

var (
	urlPattern        = regexp.MustCompile(`https?://\S+`)
	htmlTagPattern    = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	emailPattern      = regexp.MustCompile(`^[^@\s]+@([^@\s]+)$`)
)

// Argument keys screened for counterparty domains.
var domainArgKeys = [...]string{"to", "cc", "bcc", "principal", "counterparty"}

func defaultApprovalByRisk() map[string]bool {
	return map[string]bool{
		manifest.TierReadOnly:      false,
		manifest.TierRoutine:       false,
		manifest.TierTransactional: true,
		manifest.TierDangerous:     true,
	}
}

// DefaultBlockedDomains is the blocklist used when no policy file supplies
// one.
func DefaultBlockedDomains() []string {
	return []string{"blocked.example"}
}

// Limits are the numeric bounds applied to read queries.
type Limits struct {
	DefaultLimit        int
	MaxLimit            int
	DefaultBodyMaxChars int
}

// Engine evaluates policy for one immutable configuration snapshot. A
// reload builds a fresh Engine and swaps it into the Store; an Engine is
// never mutated after construction and is safe for concurrent use.
type Engine struct {
	limits           Limits
	rawReadEnabled   bool
	blockedDomains   mapset.Set[string]
	approvalDefaults map[string]bool
	globalAllow      []string
	globalRequire    []string
	pluginAllow      map[string][]string
	pluginRequire    map[string][]string
}

// NormalizeLimit validates a collection limit and caps it at the configured
// maximum.
func (e *Engine) NormalizeLimit(limit int) (int, error) {
	if limit < 1 {
		return 0, apierr.Validation("limit must be >= 1")
	}
	if limit > e.limits.MaxLimit {
		return e.limits.MaxLimit, nil
	}
	return limit, nil
}

// NormalizeMaxChars validates a caller-supplied max_chars and caps it at the
// configured body maximum.
func (e *Engine) NormalizeMaxChars(maxChars int) (int, error) {
	if maxChars < 1 {
		return 0, apierr.Validation("max_chars must be >= 1")
	}
	if maxChars > e.limits.DefaultBodyMaxChars {
		return e.limits.DefaultBodyMaxChars, nil
	}
	return maxChars, nil
}

// ValidateActionRequest runs the pre-dispatch checks: idempotency-key
// presence for execute, and the blocked-domain screen over well-known
// argument keys.
func (e *Engine) ValidateActionRequest(action *manifest.Action, phase, idempotencyKey string, args map[string]any) error {
	if phase == plugin.PhaseExecute && action.RequiresIdempotency && idempotencyKey == "" {
		return apierr.ValidationCode(apierr.CodeIdempotencyKeyRequired, "idempotency_key is required for this action")
	}
	for _, domain := range extractDomainsFromArgs(args) {
		if e.blockedDomains.Contains(domain) {
			return apierr.PolicyBlocked("")
		}
	}
	return nil
}

// RequiresApproval decides whether an execute of the action needs a human
// ticket. Propose never does. Plugin-scoped overrides are consulted before
// global ones; require wins over allow within a layer; risk-tier defaults
// decide when no pattern matches.
func (e *Engine) RequiresApproval(action *manifest.Action, phase string) bool {
	if phase != plugin.PhaseExecute {
		return false
	}
	capabilityID := action.CapabilityID
	pluginID := pluginIDFor(capabilityID)

	if matchesAny(capabilityID, e.pluginRequire[pluginID]) {
		return true
	}
	if matchesAny(capabilityID, e.pluginAllow[pluginID]) {
		return false
	}
	if matchesAny(capabilityID, e.globalRequire) {
		return true
	}
	if matchesAny(capabilityID, e.globalAllow) {
		return false
	}

	if requires, ok := e.approvalDefaults[action.RiskTier]; ok {
		return requires
	}
	return true
}

// EnforceViewPolicy blocks raw reads while they are disabled.
func (e *Engine) EnforceViewPolicy(view string) error {
	if view == manifest.ViewRaw && !e.rawReadEnabled {
		return apierr.PolicyBlocked("blocked by policy: raw content reads are disabled")
	}
	return nil
}

// ApplyCollectionPolicy drops items whose attested counterparty_domain is
// blocked and passes the cursor through unchanged.
func (e *Engine) ApplyCollectionPolicy(result *plugin.ReadResult) map[string]any {
	data, ok := result.Data.(map[string]any)
	if !ok {
		return map[string]any{"items": []any{}, "next_cursor": nil}
	}
	items, ok := data["items"].([]any)
	if !ok {
		return map[string]any{"items": []any{}, "next_cursor": data["next_cursor"]}
	}

	keep := make([]bool, len(items))
	for i := range keep {
		keep[i] = true
	}
	for _, item := range result.PolicyItems {
		idx, ok := parseItemIndex(item.DataRef)
		if !ok || idx >= len(items) {
			continue
		}
		if domain, ok := item.Attrs["counterparty_domain"].(string); ok && e.blockedDomains.Contains(domain) {
			keep[idx] = false
		}
	}

	filtered := make([]any, 0, len(items))
	for i, item := range items {
		if keep[i] {
			filtered = append(filtered, item)
		}
	}
	return map[string]any{"items": filtered, "next_cursor": data["next_cursor"]}
}

// ApplySingleItemPolicy denies the whole read when any attestation carries a
// blocked counterparty_domain, and wraps non-object data as {value: data}.
func (e *Engine) ApplySingleItemPolicy(result *plugin.ReadResult) (map[string]any, error) {
	if err := e.EnforceActionPolicy(result.PolicyItems); err != nil {
		return nil, err
	}
	if data, ok := result.Data.(map[string]any); ok {
		return data, nil
	}
	return map[string]any{"value": result.Data}, nil
}

// EnforceActionPolicy raises POLICY_BLOCKED when any policy item attests a
// blocked counterparty_domain.
func (e *Engine) EnforceActionPolicy(items []plugin.PolicyItem) error {
	for _, item := range items {
		if domain, ok := item.Attrs["counterparty_domain"].(string); ok && e.blockedDomains.Contains(domain) {
			return apierr.PolicyBlocked("")
		}
	}
	return nil
}

// SanitizeBodyPayload sanitizes the body and snippet fields of a view
// payload: URLs removed, markup replaced by spaces, whitespace collapsed,
// text trimmed and truncated to maxChars.
func (e *Engine) SanitizeBodyPayload(payload map[string]any, maxChars int) map[string]any {
	sanitized := make(map[string]any, len(payload))
	for k, v := range payload {
		sanitized[k] = v
	}
	if body, ok := sanitized["body"].(string); ok {
		sanitized["body"] = sanitizeText(body, maxChars)
	}
	if snippet, ok := sanitized["snippet"].(string); ok {
		sanitized["snippet"] = sanitizeText(snippet, maxChars)
	}
	return sanitized
}

func sanitizeText(value string, maxChars int) string {
	noLinks := urlPattern.ReplaceAllString(value, "")
	noMarkup := htmlTagPattern.ReplaceAllString(noLinks, " ")
	compact := strings.TrimSpace(whitespacePattern.ReplaceAllString(noMarkup, " "))
	runes := []rune(compact)
	if len(runes) > maxChars {
		return string(runes[:maxChars])
	}
	return compact
}

func parseItemIndex(dataRef string) (int, bool) {
	if !strings.HasPrefix(dataRef, "items[") || !strings.HasSuffix(dataRef, "]") {
		return 0, false
	}
	inner := dataRef[len("items[") : len(dataRef)-1]
	if inner == "" || len(inner) > 9 {
		return 0, false
	}
	idx := 0
	for _, r := range inner {
		if r < '0' || r > '9' {
			return 0, false
		}
		idx = idx*10 + int(r-'0')
	}
	return idx, true
}

func pluginIDFor(capabilityID string) string {
	if id, _, found := strings.Cut(capabilityID, "."); found {
		return id
	}
	return capabilityID
}

func matchesAny(capabilityID string, patterns []string) bool {
	for _, pattern := range patterns {
		if matchesPattern(capabilityID, pattern) {
			return true
		}
	}
	return false
}

func matchesPattern(capabilityID, pattern string) bool {
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(capabilityID, pattern[:len(pattern)-1])
	}
	return capabilityID == pattern
}

func extractDomainsFromArgs(args map[string]any) []string {
	seen := mapset.NewThreadUnsafeSet[string]()
	var domains []string
	for _, key := range domainArgKeys {
		raw, ok := args[key]
		if !ok || raw == nil {
			continue
		}
		values, ok := raw.([]any)
		if !ok {
			values = []any{raw}
		}
		for _, value := range values {
			s, ok := value.(string)
			if !ok {
				continue
			}
			if domain := domainFor(s); domain != "" && !seen.Contains(domain) {
				seen.Add(domain)
				domains = append(domains, domain)
			}
		}
	}
	return domains
}

func domainFor(value string) string {
	match := emailPattern.FindStringSubmatch(strings.TrimSpace(value))
	if match == nil {
		return ""
	}
	return strings.ToLower(match[1])
}
