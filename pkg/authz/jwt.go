package authz

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openclaw/clawgate/pkg/apierr"
)

// JWTVerifier accepts RS256-signed agent tokens as an alternative to the
// static token table. Claims: "sub" is the agent id, "identity" the tailnet
// binding (default "*"), "capabilities" the list of grants.
type JWTVerifier struct {
	key *rsa.PublicKey
}

// NewJWTVerifier parses a PEM-encoded RSA public key (PKIX form).
func NewJWTVerifier(pemData []byte) (*JWTVerifier, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, fmt.Errorf("AGENT_JWT_PUBLIC_KEY is not valid PEM")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse agent JWT public key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("agent JWT public key is not RSA (got %T)", parsed)
	}
	return &JWTVerifier{key: rsaKey}, nil
}

// Verify validates the token signature and claims and resolves the
// principal. The identity binding is checked against the presented tailnet
// identity the same way static token records are.
func (v *JWTVerifier) Verify(tokenString, presentedIdentity string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.key, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil || !token.Valid {
		return nil, apierr.Unauthorized("invalid bearer token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, apierr.Unauthorized("invalid bearer token")
	}
	agentID, _ := claims["sub"].(string)
	if agentID == "" {
		return nil, apierr.Unauthorized("invalid bearer token")
	}

	binding := "*"
	if s, ok := claims["identity"].(string); ok && s != "" {
		binding = s
	}
	if binding != "*" && binding != presentedIdentity {
		return nil, apierr.Unauthorized("tailscale identity mismatch")
	}

	var capabilities []string
	if rawCaps, ok := claims["capabilities"].([]any); ok {
		for _, value := range rawCaps {
			if s, ok := value.(string); ok && s != "" {
				capabilities = append(capabilities, s)
			}
		}
	}
	if len(capabilities) == 0 {
		return nil, apierr.Unauthorized("invalid bearer token")
	}

	return &Principal{
		AgentID:           agentID,
		TailscaleIdentity: presentedIdentity,
		Capabilities:      capabilities,
	}, nil
}
