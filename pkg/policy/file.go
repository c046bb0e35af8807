package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// filePolicy is the parsed and validated content of a policy file.
type filePolicy struct {
	defaults       map[string]bool
	overrides      Overrides
	blockedDomains []string
}

type fileSpec struct {
	ApprovalDefaults map[string]bool    `yaml:"approval_defaults"`
	Overrides        *fileOverridesSpec `yaml:"overrides"`
	BlockedDomains   []string           `yaml:"blocked_domains"`
}

type fileOverridesSpec struct {
	Global  *fileBlockSpec            `yaml:"global"`
	Plugins map[string]*fileBlockSpec `yaml:"plugins"`
}

type fileBlockSpec struct {
	Allow   []string `yaml:"allow"`
	Require []string `yaml:"require"`
}

// loadPolicyFile reads a YAML policy file. Pattern and tier validation
// matches the environment parsers, so a file that loads cleanly behaves the
// same as the equivalent environment configuration.
func loadPolicyFile(path string) (*filePolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}
	var spec fileSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("policy file %s is not valid YAML: %w", path, err)
	}

	out := &filePolicy{defaults: map[string]bool{}}
	known := defaultApprovalByRisk()
	for tier, requires := range spec.ApprovalDefaults {
		if _, ok := known[tier]; !ok {
			return nil, fmt.Errorf("policy file approval_defaults has unknown risk tier '%s'", tier)
		}
		out.defaults[tier] = requires
	}

	if spec.Overrides != nil {
		out.overrides.PluginAllow = map[string][]string{}
		out.overrides.PluginRequire = map[string][]string{}
		if spec.Overrides.Global != nil {
			out.overrides.GlobalAllow, err = normalizeFilePatterns(spec.Overrides.Global.Allow, "overrides.global.allow", "")
			if err != nil {
				return nil, err
			}
			out.overrides.GlobalRequire, err = normalizeFilePatterns(spec.Overrides.Global.Require, "overrides.global.require", "")
			if err != nil {
				return nil, err
			}
		}
		for pluginID, block := range spec.Overrides.Plugins {
			if block == nil {
				continue
			}
			source := "overrides.plugins." + pluginID
			out.overrides.PluginAllow[pluginID], err = normalizeFilePatterns(block.Allow, source+".allow", pluginID)
			if err != nil {
				return nil, err
			}
			out.overrides.PluginRequire[pluginID], err = normalizeFilePatterns(block.Require, source+".require", pluginID)
			if err != nil {
				return nil, err
			}
		}
	}

	out.blockedDomains = spec.BlockedDomains
	return out, nil
}

func normalizeFilePatterns(patterns []string, source, pluginID string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	entries := make([]any, len(patterns))
	for i, p := range patterns {
		entries[i] = p
	}
	return normalizePatterns(entries, source, pluginID)
}
