package audit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/openclaw/clawgate/pkg/authz"
)

// responseCapture wraps http.ResponseWriter to capture the status code.
type responseCapture struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rc *responseCapture) WriteHeader(code int) {
	if !rc.written {
		rc.statusCode = code
		rc.written = true
	}
	rc.ResponseWriter.WriteHeader(code)
}

func (rc *responseCapture) Write(b []byte) (int, error) {
	if !rc.written {
		rc.statusCode = http.StatusOK
		rc.written = true
	}
	return rc.ResponseWriter.Write(b)
}

// Middleware creates middleware that records audit events for mutating
// requests. It wraps the ResponseWriter to capture the status code, then
// appends an Event after the handler completes. It must run below the
// authentication middleware so the principal is available.
func Middleware(store *Store, cfg *Config, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg == nil || !cfg.Enabled || store == nil {
				next.ServeHTTP(w, r)
				return
			}

			if !shouldAudit(r.Method, r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()

			capture := &responseCapture{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(capture, r)

			statusCode := capture.statusCode

			// Skip 4xx outcomes if LogDenied is false.
			if statusCode >= 400 && statusCode < 500 && !cfg.LogDenied {
				return
			}

			ctx := r.Context()

			agentID := "anonymous"
			identity := ""
			if p, ok := authz.PrincipalFromContext(ctx); ok {
				agentID = p.AgentID
				identity = p.TailscaleIdentity
			}

			requestID := middleware.GetReqID(ctx)
			op := parseOperation(r.URL.Path)

			meta := JSONAny{}
			if identity != "" {
				meta["identity"] = identity
			}

			event := &Event{
				ID:            uuid.New().String(),
				AgentID:       agentID,
				Plugin:        op.Plugin,
				Resource:      op.Resource,
				ResourceID:    op.ResourceID,
				Action:        op.Action,
				Phase:         op.Phase,
				Method:        r.Method,
				Path:          r.URL.Path,
				Outcome:       outcomeFromStatus(statusCode),
				StatusCode:    statusCode,
				RequestID:     requestID,
				DurationMS:    time.Since(startTime).Milliseconds(),
				EventMetadata: meta,
				CreatedAt:     startTime,
			}

			// Best-effort write: don't fail the request if audit write fails.
			if err := store.Append(event); err != nil {
				logger.Error("failed to write audit event", "error", err, "requestID", requestID)
			}
		})
	}
}

// outcomeFromStatus maps HTTP status codes to audit outcomes.
func outcomeFromStatus(code int) string {
	switch {
	case code == http.StatusAccepted:
		return "pending_approval"
	case code >= 200 && code < 300:
		return "success"
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return "denied"
	default:
		return "failure"
	}
}
