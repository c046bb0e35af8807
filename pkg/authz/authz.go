// Package authz authenticates agents and enforces capability grants. A
// principal is established per request from a bearer token bound to a
// tailnet identity; capability checks support exact ids, trailing-wildcard
// patterns, and the universal grant.
package authz

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/openclaw/clawgate/pkg/apierr"
)

// IdentityHeader carries the caller's network identity as attested by the
// tailnet ingress in front of the gateway.
const IdentityHeader = "X-Tailscale-Identity"

// Principal is the authenticated agent for one request.
type Principal struct {
	AgentID           string
	TailscaleIdentity string
	Capabilities      []string
}

// Can reports whether the principal holds a grant covering capabilityID:
// the universal "*", an exact match, or a "prefix.*" entry whose prefix
// (including the dot) starts capabilityID.
func (p *Principal) Can(capabilityID string) bool {
	for _, grant := range p.Capabilities {
		if grant == "*" || grant == capabilityID {
			return true
		}
		if strings.HasSuffix(grant, ".*") && strings.HasPrefix(capabilityID, grant[:len(grant)-1]) {
			return true
		}
	}
	return false
}

// TokenRecord is one server-side bearer-token registration. A "*" identity
// binding accepts any presented identity.
type TokenRecord struct {
	Token             string   `json:"token"`
	AgentID           string   `json:"agent_id"`
	TailscaleIdentity string   `json:"tailscale_identity"`
	Capabilities      []string `json:"capabilities"`
}

// ParseTokenTable parses the AGENT_TOKENS_JSON value into a token-indexed
// table. An empty value yields the development default: a single
// "dev-local-token" with the universal grant.
func ParseTokenTable(raw string) (map[string]TokenRecord, error) {
	if raw == "" {
		return map[string]TokenRecord{
			"dev-local-token": {
				Token:             "dev-local-token",
				AgentID:           "dev_local",
				TailscaleIdentity: "*",
				Capabilities:      []string{"*"},
			},
		}, nil
	}

	var payload any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, errors.New("AGENT_TOKENS_JSON must be valid JSON")
	}
	list, ok := payload.([]any)
	if !ok {
		return nil, errors.New("AGENT_TOKENS_JSON must be a list of token records")
	}

	records := make(map[string]TokenRecord, len(list))
	for _, entry := range list {
		obj, ok := entry.(map[string]any)
		if !ok {
			return nil, errors.New("each token record must be an object")
		}
		token := strings.TrimSpace(stringField(obj, "token"))
		agentID := strings.TrimSpace(stringField(obj, "agent_id"))
		identity := strings.TrimSpace(stringField(obj, "tailscale_identity"))
		rawCapabilities, isList := obj["capabilities"].([]any)
		if token == "" || agentID == "" || identity == "" || !isList {
			return nil, errors.New("token records require token, agent_id, tailscale_identity, capabilities[]")
		}
		capabilities := make([]string, 0, len(rawCapabilities))
		for _, value := range rawCapabilities {
			if s, ok := value.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					capabilities = append(capabilities, trimmed)
				}
			}
		}
		if len(capabilities) == 0 {
			return nil, errors.New("token records must include at least one capability")
		}
		records[token] = TokenRecord{
			Token:             token,
			AgentID:           agentID,
			TailscaleIdentity: identity,
			Capabilities:      capabilities,
		}
	}
	if len(records) == 0 {
		return nil, errors.New("AGENT_TOKENS_JSON contains no valid token records")
	}
	return records, nil
}

// Service authenticates requests against the token table and, when
// configured, RS256 agent JWTs. With requireAuth disabled every request
// resolves to a synthetic anonymous principal holding the universal grant.
type Service struct {
	requireAuth bool
	tokens      map[string]TokenRecord
	verifier    *JWTVerifier
}

// NewService builds the auth service. verifier may be nil to disable the
// JWT fallback.
func NewService(requireAuth bool, tokens map[string]TokenRecord, verifier *JWTVerifier) *Service {
	return &Service{requireAuth: requireAuth, tokens: tokens, verifier: verifier}
}

// Authenticate resolves the request to a principal. Static token records
// take precedence over JWT verification for the same bearer value.
func (s *Service) Authenticate(r *http.Request) (*Principal, error) {
	if !s.requireAuth {
		return &Principal{AgentID: "anonymous", TailscaleIdentity: "*", Capabilities: []string{"*"}}, nil
	}

	token, err := bearerToken(r)
	if err != nil {
		return nil, err
	}
	identity := r.Header.Get(IdentityHeader)
	if identity == "" {
		return nil, apierr.Unauthorized("missing X-Tailscale-Identity header")
	}

	record, ok := s.tokens[token]
	if !ok {
		if s.verifier != nil {
			return s.verifier.Verify(token, identity)
		}
		return nil, apierr.Unauthorized("invalid bearer token")
	}

	if record.TailscaleIdentity != "*" && record.TailscaleIdentity != identity {
		return nil, apierr.Unauthorized("tailscale identity mismatch")
	}
	return &Principal{
		AgentID:           record.AgentID,
		TailscaleIdentity: identity,
		Capabilities:      record.Capabilities,
	}, nil
}

// RequireCapability returns CAPABILITY_DENIED unless the principal holds a
// grant covering capabilityID.
func (s *Service) RequireCapability(p *Principal, capabilityID string) error {
	if p.Can(capabilityID) {
		return nil
	}
	return apierr.CapabilityDenied(p.AgentID, capabilityID)
}

func stringField(obj map[string]any, key string) string {
	if s, ok := obj[key].(string); ok {
		return s
	}
	return ""
}

func bearerToken(r *http.Request) (string, error) {
	authorization := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(authorization, prefix) {
		return "", apierr.Unauthorized("missing bearer token")
	}
	token := strings.TrimSpace(authorization[len(prefix):])
	if token == "" {
		return "", apierr.Unauthorized("missing bearer token")
	}
	return token, nil
}
