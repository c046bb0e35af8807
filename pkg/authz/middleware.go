package authz

import (
	"net/http"

	"github.com/openclaw/clawgate/pkg/apierr"
)

// Middleware authenticates every request through the service and stores the
// resulting principal in the request context. Failures end the request with
// the 401 wire envelope before any handler runs.
func (s *Service) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, err := s.Authenticate(r)
			if err != nil {
				apierr.Write(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

// Require returns middleware that rejects principals lacking a grant for
// capabilityID. It must run below Middleware.
func Require(capabilityID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				apierr.Write(w, apierr.Unauthorized(""))
				return
			}
			if !p.Can(capabilityID) {
				apierr.Write(w, apierr.CapabilityDenied(p.AgentID, capabilityID))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
