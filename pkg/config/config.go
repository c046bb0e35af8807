// Package config loads gateway settings from the environment, with an
// optional .env dotenv file as a fallback for local development.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Environment variable names recognized by Load. JSON-valued variables are
// surfaced as raw strings; the owning subsystem parses and validates them.
const (
	envAPIHost             = "CLAWGATE_API_HOST"
	envAPIPort             = "CLAWGATE_API_PORT"
	envAPIPrefix           = "CLAWGATE_API_PREFIX"
	envEnableAPIAlias      = "ENABLE_API_ALIAS"
	envEnableRawRead       = "ENABLE_RAW_READ"
	envRequireAuth         = "REQUIRE_AUTH"
	envDefaultLimit        = "CLAWGATE_DEFAULT_LIMIT"
	envMaxLimit            = "CLAWGATE_MAX_LIMIT"
	envDefaultBodyMaxChars = "CLAWGATE_DEFAULT_BODY_MAX_CHARS"
	envAgentTokensJSON     = "AGENT_TOKENS_JSON"
	envAgentJWTPublicKey   = "AGENT_JWT_PUBLIC_KEY"
	envApprovalDefaults    = "ACTION_APPROVAL_DEFAULTS_JSON"
	envApprovalOverrides   = "ACTION_APPROVAL_OVERRIDES_JSON"
	envBlockedDomainsJSON  = "BLOCKED_DOMAINS_JSON"
	envSidecarPluginsJSON  = "SIDECAR_PLUGINS_JSON"
	envPolicyFile          = "CLAWGATE_POLICY_FILE"
)

// Config holds the gateway-level settings. Plugin and audit packages read
// their own variables separately.
type Config struct {
	// APIHost and APIPort are the bind address for the HTTP server.
	APIHost string
	APIPort int

	// APIPrefix is the path prefix all routes are mounted under.
	APIPrefix string

	// EnableAPIAlias mirrors every route under /api in addition to APIPrefix.
	EnableAPIAlias bool

	// EnableRawRead allows the "raw" view on resource reads.
	EnableRawRead bool

	// RequireAuth enforces bearer token plus Tailscale identity checks.
	RequireAuth bool

	// DefaultLimit and MaxLimit bound collection page sizes.
	DefaultLimit int
	MaxLimit     int

	// DefaultBodyMaxChars caps sanitized body text when max_chars is absent.
	DefaultBodyMaxChars int

	// Raw JSON passthrough values, parsed by authz, policy and sidecar.
	AgentTokensJSON             string
	ActionApprovalDefaultsJSON  string
	ActionApprovalOverridesJSON string
	BlockedDomainsJSON          string
	SidecarPluginsJSON          string

	// AgentJWTPublicKey is a path to a PEM RSA public key. When set, bearer
	// values that look like JWTs are verified against it.
	AgentJWTPublicKey string

	// PolicyFile is a path to the optional YAML policy file watched for
	// hot reloads.
	PolicyFile string
}

// Default returns the built-in settings used when nothing is configured.
func Default() *Config {
	return &Config{
		APIHost:             "0.0.0.0",
		APIPort:             8117,
		APIPrefix:           "/v1",
		EnableAPIAlias:      false,
		EnableRawRead:       false,
		RequireAuth:         false,
		DefaultLimit:        20,
		MaxLimit:            100,
		DefaultBodyMaxChars: 1200,
	}
}

// Addr returns the host:port the HTTP server binds.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.APIHost, strconv.Itoa(c.APIPort))
}

// Load reads configuration from process environment variables, falling back
// to a .env file in the working directory for unset variables.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom behaves like Load but reads the dotenv fallback from the given
// path. A missing file is not an error.
func LoadFrom(dotenvPath string) (*Config, error) {
	v := viper.New()

	if dotenvPath != "" {
		if _, err := os.Stat(dotenvPath); err == nil {
			v.SetConfigFile(dotenvPath)
			v.SetConfigType("env")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read %s: %w", dotenvPath, err)
			}
		}
	}

	cfg := Default()

	v.SetDefault(envAPIHost, cfg.APIHost)
	v.SetDefault(envAPIPort, cfg.APIPort)
	v.SetDefault(envAPIPrefix, cfg.APIPrefix)
	v.SetDefault(envDefaultLimit, cfg.DefaultLimit)
	v.SetDefault(envMaxLimit, cfg.MaxLimit)
	v.SetDefault(envDefaultBodyMaxChars, cfg.DefaultBodyMaxChars)

	for _, key := range []string{
		envAPIHost, envAPIPort, envAPIPrefix,
		envEnableAPIAlias, envEnableRawRead, envRequireAuth,
		envDefaultLimit, envMaxLimit, envDefaultBodyMaxChars,
		envAgentTokensJSON, envAgentJWTPublicKey,
		envApprovalDefaults, envApprovalOverrides,
		envBlockedDomainsJSON, envSidecarPluginsJSON, envPolicyFile,
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	cfg.APIHost = v.GetString(envAPIHost)
	cfg.APIPrefix = v.GetString(envAPIPrefix)
	cfg.EnableAPIAlias = asBool(v.GetString(envEnableAPIAlias), cfg.EnableAPIAlias)
	cfg.EnableRawRead = asBool(v.GetString(envEnableRawRead), cfg.EnableRawRead)
	cfg.RequireAuth = asBool(v.GetString(envRequireAuth), cfg.RequireAuth)
	cfg.AgentTokensJSON = v.GetString(envAgentTokensJSON)
	cfg.AgentJWTPublicKey = v.GetString(envAgentJWTPublicKey)
	cfg.ActionApprovalDefaultsJSON = v.GetString(envApprovalDefaults)
	cfg.ActionApprovalOverridesJSON = v.GetString(envApprovalOverrides)
	cfg.BlockedDomainsJSON = v.GetString(envBlockedDomainsJSON)
	cfg.SidecarPluginsJSON = v.GetString(envSidecarPluginsJSON)
	cfg.PolicyFile = v.GetString(envPolicyFile)

	var problems []string

	intField := func(key string, dst *int) {
		raw := strings.TrimSpace(v.GetString(key))
		n, err := strconv.Atoi(raw)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s must be an integer", key))
			return
		}
		*dst = n
	}

	intField(envAPIPort, &cfg.APIPort)
	intField(envDefaultLimit, &cfg.DefaultLimit)
	intField(envMaxLimit, &cfg.MaxLimit)
	intField(envDefaultBodyMaxChars, &cfg.DefaultBodyMaxChars)

	if len(problems) == 0 {
		if cfg.APIPort < 1 || cfg.APIPort > 65535 {
			problems = append(problems, fmt.Sprintf("%s must be between 1 and 65535", envAPIPort))
		}
		if !strings.HasPrefix(cfg.APIPrefix, "/") {
			problems = append(problems, fmt.Sprintf("%s must start with '/'", envAPIPrefix))
		}
		if cfg.DefaultLimit < 1 {
			problems = append(problems, fmt.Sprintf("%s must be positive", envDefaultLimit))
		}
		if cfg.MaxLimit < cfg.DefaultLimit {
			problems = append(problems, fmt.Sprintf("%s must be >= %s", envMaxLimit, envDefaultLimit))
		}
		if cfg.DefaultBodyMaxChars < 1 {
			problems = append(problems, fmt.Sprintf("%s must be positive", envDefaultBodyMaxChars))
		}
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	cfg.APIPrefix = strings.TrimRight(cfg.APIPrefix, "/")
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/"
	}

	return cfg, nil
}

// asBool coerces a toggle value: "1", "true", "yes" and "on" (any case)
// are true, any other non-empty value is false, and an unset value keeps
// the fallback.
func asBool(raw string, fallback bool) bool {
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
