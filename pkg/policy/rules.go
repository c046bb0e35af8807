package policy

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Overrides are normalized allow/require pattern sets. Plugin-scoped
// patterns have already been prefixed with their plugin id.
type Overrides struct {
	GlobalAllow   []string
	GlobalRequire []string
	PluginAllow   map[string][]string
	PluginRequire map[string][]string
}

// Inputs carries the raw configuration a policy engine is built from. The
// JSON fields hold raw environment values and win over the optional policy
// file at File.
type Inputs struct {
	Limits         Limits
	RawReadEnabled bool
	DefaultsJSON   string
	OverridesJSON  string
	BlockedJSON    string
	File           string
}

// Build layers the policy configuration (built-in defaults, then the policy
// file, then environment JSON) and returns the resulting engine.
func Build(in Inputs) (*Engine, error) {
	defaults := defaultApprovalByRisk()
	blocked := DefaultBlockedDomains()
	var overrides Overrides

	if in.File != "" {
		spec, err := loadPolicyFile(in.File)
		if err != nil {
			return nil, err
		}
		for tier, requires := range spec.defaults {
			defaults[tier] = requires
		}
		overrides = spec.overrides
		if len(spec.blockedDomains) > 0 {
			blocked = spec.blockedDomains
		}
	}

	if in.DefaultsJSON != "" {
		envDefaults, err := ParseApprovalDefaults(in.DefaultsJSON)
		if err != nil {
			return nil, err
		}
		defaults = envDefaults
	}
	if in.OverridesJSON != "" {
		envOverrides, err := ParseApprovalOverrides(in.OverridesJSON)
		if err != nil {
			return nil, err
		}
		overrides = envOverrides
	}
	if in.BlockedJSON != "" {
		envBlocked, err := ParseBlockedDomains(in.BlockedJSON)
		if err != nil {
			return nil, err
		}
		blocked = envBlocked
	}

	return &Engine{
		limits:           in.Limits,
		rawReadEnabled:   in.RawReadEnabled,
		blockedDomains:   mapset.NewSet(blocked...),
		approvalDefaults: defaults,
		globalAllow:      overrides.GlobalAllow,
		globalRequire:    overrides.GlobalRequire,
		pluginAllow:      overrides.PluginAllow,
		pluginRequire:    overrides.PluginRequire,
	}, nil
}

// ParseApprovalDefaults parses ACTION_APPROVAL_DEFAULTS_JSON. Unnamed tiers
// keep their built-in default.
func ParseApprovalDefaults(raw string) (map[string]bool, error) {
	defaults := defaultApprovalByRisk()
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, errors.New("ACTION_APPROVAL_DEFAULTS_JSON must be valid JSON")
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, errors.New("ACTION_APPROVAL_DEFAULTS_JSON must be a JSON object")
	}
	for tier, value := range obj {
		if _, known := defaults[tier]; !known {
			return nil, fmt.Errorf("ACTION_APPROVAL_DEFAULTS_JSON has unknown risk tier '%s'", tier)
		}
		requires, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("ACTION_APPROVAL_DEFAULTS_JSON value for '%s' must be boolean", tier)
		}
		defaults[tier] = requires
	}
	return defaults, nil
}

// ParseBlockedDomains parses BLOCKED_DOMAINS_JSON, a JSON list of domain
// strings. The result replaces the built-in blocklist.
func ParseBlockedDomains(raw string) ([]string, error) {
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, errors.New("BLOCKED_DOMAINS_JSON must be valid JSON")
	}
	list, ok := payload.([]any)
	if !ok {
		return nil, errors.New("BLOCKED_DOMAINS_JSON must be a JSON list")
	}
	domains := make([]string, 0, len(list))
	for _, entry := range list {
		domain, ok := entry.(string)
		if !ok || strings.TrimSpace(domain) == "" {
			return nil, errors.New("BLOCKED_DOMAINS_JSON entries must be non-empty strings")
		}
		domains = append(domains, strings.TrimSpace(domain))
	}
	return domains, nil
}

// ParseApprovalOverrides parses ACTION_APPROVAL_OVERRIDES_JSON into
// normalized pattern sets.
func ParseApprovalOverrides(raw string) (Overrides, error) {
	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return Overrides{}, errors.New("ACTION_APPROVAL_OVERRIDES_JSON must be valid JSON")
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return Overrides{}, errors.New("ACTION_APPROVAL_OVERRIDES_JSON must be a JSON object")
	}

	out := Overrides{
		PluginAllow:   map[string][]string{},
		PluginRequire: map[string][]string{},
	}
	var err error
	out.GlobalAllow, out.GlobalRequire, err = parseOverrideBlock(obj["global"], "ACTION_APPROVAL_OVERRIDES_JSON.global", "")
	if err != nil {
		return Overrides{}, err
	}

	rawPlugins, present := obj["plugins"]
	if !present || rawPlugins == nil {
		return out, nil
	}
	plugins, ok := rawPlugins.(map[string]any)
	if !ok {
		return Overrides{}, errors.New("ACTION_APPROVAL_OVERRIDES_JSON.plugins must be an object of plugin ids")
	}
	for pluginID, block := range plugins {
		trimmed := strings.TrimSpace(pluginID)
		if trimmed == "" {
			return Overrides{}, errors.New("ACTION_APPROVAL_OVERRIDES_JSON.plugins keys must be non-empty plugin ids")
		}
		source := "ACTION_APPROVAL_OVERRIDES_JSON.plugins." + trimmed
		allow, require, err := parseOverrideBlock(block, source, trimmed)
		if err != nil {
			return Overrides{}, err
		}
		out.PluginAllow[trimmed] = allow
		out.PluginRequire[trimmed] = require
	}
	return out, nil
}

func parseOverrideBlock(block any, source, pluginID string) (allow, require []string, err error) {
	if block == nil {
		return nil, nil, nil
	}
	obj, ok := block.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("%s must be an object", source)
	}
	allow, err = normalizePatterns(obj["allow"], source+".allow", pluginID)
	if err != nil {
		return nil, nil, err
	}
	require, err = normalizePatterns(obj["require"], source+".require", pluginID)
	if err != nil {
		return nil, nil, err
	}
	return allow, require, nil
}

func normalizePatterns(raw any, source, pluginID string) ([]string, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s must be a list", source)
	}
	normalized := make([]string, 0, len(list))
	for _, entry := range list {
		s, ok := entry.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("%s entries must be non-empty strings", source)
		}
		pattern := strings.TrimSpace(s)
		if err := checkPattern(pattern, source); err != nil {
			return nil, err
		}
		if pluginID != "" {
			pattern = normalizePluginPattern(pluginID, pattern)
		}
		normalized = append(normalized, pattern)
	}
	return normalized, nil
}

func checkPattern(pattern, source string) error {
	if strings.Count(pattern, "*") > 1 || (strings.Contains(pattern, "*") && !strings.HasSuffix(pattern, "*")) {
		return fmt.Errorf("%s pattern '%s' only supports trailing *", source, pattern)
	}
	return nil
}

func normalizePluginPattern(pluginID, pattern string) string {
	if pattern == "*" {
		return pluginID + ".*"
	}
	if strings.HasPrefix(pattern, pluginID+".") {
		return pattern
	}
	return pluginID + "." + strings.TrimLeft(pattern, ".")
}
