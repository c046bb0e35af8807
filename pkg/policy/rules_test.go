package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/clawgate/pkg/manifest"
	"github.com/openclaw/clawgate/pkg/plugin"
)

func TestParseApprovalDefaults(t *testing.T) {
	t.Run("partial override keeps other tiers", func(t *testing.T) {
		defaults, err := ParseApprovalDefaults(`{"transactional": false}`)
		require.NoError(t, err)
		assert.False(t, defaults[manifest.TierTransactional])
		assert.True(t, defaults[manifest.TierDangerous])
		assert.False(t, defaults[manifest.TierReadOnly])
	})

	errCases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"invalid json", "{", "ACTION_APPROVAL_DEFAULTS_JSON must be valid JSON"},
		{"not an object", "[]", "ACTION_APPROVAL_DEFAULTS_JSON must be a JSON object"},
		{"unknown tier", `{"spicy": true}`, "unknown risk tier 'spicy'"},
		{"non-bool value", `{"routine": "yes"}`, "value for 'routine' must be boolean"},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseApprovalDefaults(tc.raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParseApprovalOverrides(t *testing.T) {
	t.Run("normalizes plugin patterns", func(t *testing.T) {
		overrides, err := ParseApprovalOverrides(`{
			"global": {"require": ["gmail.message.reply"], "allow": ["find_my.*"]},
			"plugins": {
				"gmail": {"allow": ["*", "message.send", ".message.archive", "gmail.message.reply"]}
			}
		}`)
		require.NoError(t, err)
		assert.Equal(t, []string{"gmail.message.reply"}, overrides.GlobalRequire)
		assert.Equal(t, []string{"find_my.*"}, overrides.GlobalAllow)
		assert.Equal(t, []string{
			"gmail.*",
			"gmail.message.send",
			"gmail.message.archive",
			"gmail.message.reply",
		}, overrides.PluginAllow["gmail"])
	})

	t.Run("missing sections yield empty sets", func(t *testing.T) {
		overrides, err := ParseApprovalOverrides(`{}`)
		require.NoError(t, err)
		assert.Empty(t, overrides.GlobalAllow)
		assert.Empty(t, overrides.GlobalRequire)
		assert.Empty(t, overrides.PluginAllow)
	})

	errCases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"invalid json", "{", "ACTION_APPROVAL_OVERRIDES_JSON must be valid JSON"},
		{"not an object", `[]`, "ACTION_APPROVAL_OVERRIDES_JSON must be a JSON object"},
		{"global not an object", `{"global": []}`, "ACTION_APPROVAL_OVERRIDES_JSON.global must be an object"},
		{"allow not a list", `{"global": {"allow": "x"}}`, "ACTION_APPROVAL_OVERRIDES_JSON.global.allow must be a list"},
		{"blank entry", `{"global": {"require": [" "]}}`, "ACTION_APPROVAL_OVERRIDES_JSON.global.require entries must be non-empty strings"},
		{"plugins not an object", `{"plugins": []}`, "ACTION_APPROVAL_OVERRIDES_JSON.plugins must be an object of plugin ids"},
		{"blank plugin id", `{"plugins": {" ": {"allow": ["*"]}}}`, "keys must be non-empty plugin ids"},
		{"embedded wildcard", `{"global": {"allow": ["gmail.*.send"]}}`, "pattern 'gmail.*.send' only supports trailing *"},
		{"double wildcard", `{"global": {"allow": ["gmail.**"]}}`, "pattern 'gmail.**' only supports trailing *"},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseApprovalOverrides(tc.raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestParseBlockedDomains(t *testing.T) {
	t.Run("replaces the blocklist", func(t *testing.T) {
		domains, err := ParseBlockedDomains(`["evil.example", "rival.example"]`)
		require.NoError(t, err)
		assert.Equal(t, []string{"evil.example", "rival.example"}, domains)
	})

	errCases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{"invalid json", "[", "BLOCKED_DOMAINS_JSON must be valid JSON"},
		{"not a list", `{"domain": "evil.example"}`, "BLOCKED_DOMAINS_JSON must be a JSON list"},
		{"blank entry", `[" "]`, "entries must be non-empty strings"},
		{"non-string entry", `[42]`, "entries must be non-empty strings"},
	}
	for _, tc := range errCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseBlockedDomains(tc.raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBuildWithPolicyFile(t *testing.T) {
	path := writePolicyFile(t, `
approval_defaults:
  transactional: false
overrides:
  plugins:
    imessage:
      require: ["*"]
blocked_domains:
  - evil.example
`)
	engine, err := Build(Inputs{Limits: testLimits(), File: path})
	require.NoError(t, err)

	// File relaxed the transactional default.
	assert.False(t, engine.RequiresApproval(testAction(manifest.TierTransactional, true), plugin.PhaseExecute))

	// File requires approval for all imessage capabilities.
	imessageSend := &manifest.Action{
		Name:         "send",
		CapabilityID: "imessage.message.send",
		RiskTier:     manifest.TierRoutine,
	}
	assert.True(t, engine.RequiresApproval(imessageSend, plugin.PhaseExecute))

	// File replaced the blocklist: the default domain is no longer blocked.
	err = engine.ValidateActionRequest(testAction(manifest.TierRoutine, false), plugin.PhaseExecute, "",
		map[string]any{"to": "mallory@blocked.example"})
	require.NoError(t, err)
	err = engine.ValidateActionRequest(testAction(manifest.TierRoutine, false), plugin.PhaseExecute, "",
		map[string]any{"to": "mallory@evil.example"})
	require.Error(t, err)
}

func TestBuildEnvironmentWinsOverFile(t *testing.T) {
	path := writePolicyFile(t, `
approval_defaults:
  transactional: false
overrides:
  global:
    allow: ["gmail.*"]
`)
	engine, err := Build(Inputs{
		Limits:        testLimits(),
		File:          path,
		DefaultsJSON:  `{"transactional": true}`,
		OverridesJSON: `{"global": {"require": ["gmail.message.reply"]}}`,
	})
	require.NoError(t, err)

	assert.True(t, engine.RequiresApproval(testAction(manifest.TierTransactional, true), plugin.PhaseExecute))
}

func TestBuildBlockedDomainsFromEnvironment(t *testing.T) {
	path := writePolicyFile(t, "blocked_domains:\n  - file.example\n")
	engine, err := Build(Inputs{
		Limits:      testLimits(),
		File:        path,
		BlockedJSON: `["env.example"]`,
	})
	require.NoError(t, err)

	err = engine.ValidateActionRequest(testAction(manifest.TierRoutine, false), plugin.PhaseExecute, "",
		map[string]any{"to": "mallory@env.example"})
	require.Error(t, err)
	err = engine.ValidateActionRequest(testAction(manifest.TierRoutine, false), plugin.PhaseExecute, "",
		map[string]any{"to": "mallory@file.example"})
	require.NoError(t, err)
}

func TestBuildRejectsBadFile(t *testing.T) {
	t.Run("unknown tier", func(t *testing.T) {
		path := writePolicyFile(t, "approval_defaults:\n  spicy: true\n")
		_, err := Build(Inputs{Limits: testLimits(), File: path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown risk tier 'spicy'")
	})

	t.Run("bad pattern", func(t *testing.T) {
		path := writePolicyFile(t, "overrides:\n  global:\n    allow: [\"a.*.b\"]\n")
		_, err := Build(Inputs{Limits: testLimits(), File: path})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "only supports trailing *")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Build(Inputs{Limits: testLimits(), File: filepath.Join(t.TempDir(), "absent.yaml")})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read policy file")
	})
}
