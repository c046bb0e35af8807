// Package gateway assembles the HTTP surface of the agent gateway: plugin
// discovery, the approval workflow, the action mediation pipeline, resource
// read mediation and the operational endpoints (health, metrics, OpenAPI).
//
// Every agent-facing route lives under the configured API prefix and runs
// behind authentication, capability checks and policy screening. The gateway
// never exposes a plugin directly; all traffic passes through the mediators
// in this package.
package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/audit"
	"github.com/openclaw/clawgate/pkg/authz"
	"github.com/openclaw/clawgate/pkg/cache"
	"github.com/openclaw/clawgate/pkg/config"
	"github.com/openclaw/clawgate/pkg/governance"
	"github.com/openclaw/clawgate/pkg/plugin"
	"github.com/openclaw/clawgate/pkg/policy"
)

// Capability ids guarding the built-in system routes.
const (
	capPluginsRead     = "system.plugins.read"
	capApprovalsManage = "system.approvals.manage"
	capAuditRead       = "system.audit.read"
)

// Server mediates every agent request. It owns the approval and idempotency
// stores and reads the active policy engine from the policy store on each
// request, so policy reloads take effect without a restart.
type Server struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *plugin.Registry
	policies *policy.Store
	auth     *authz.Service

	approvals   *governance.ApprovalStore
	idempotency *governance.IdempotencyStore

	auditStore  *audit.Store
	auditConfig *audit.Config

	cache *cache.Manager

	metrics   *Metrics
	startedAt time.Time

	openapiOnce sync.Once
	openapiDoc  []byte
}

// ServerOption configures optional server behavior.
type ServerOption func(*Server)

// WithAudit attaches a persistent audit trail. A nil cfg falls back to the
// audit defaults.
func WithAudit(store *audit.Store, cfg *audit.Config) ServerOption {
	return func(s *Server) {
		s.auditStore = store
		if cfg == nil {
			cfg = audit.DefaultConfig()
		}
		s.auditConfig = cfg
	}
}

// WithMetrics replaces the server's private metrics instance, for callers
// that share one Prometheus registry across components.
func WithMetrics(m *Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithDiscoveryCache serves plugin list, manifest and capability reads from
// an in-memory cache. A nil or disabled cfg leaves caching off.
func WithDiscoveryCache(cfg *cache.Config) ServerOption {
	return func(s *Server) { s.cache = cache.NewManager(cfg) }
}

// NewServer creates a gateway server. A nil logger falls back to
// slog.Default().
func NewServer(cfg *config.Config, registry *plugin.Registry, policies *policy.Store, auth *authz.Service, logger *slog.Logger, opts ...ServerOption) *Server {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		policies:    policies,
		auth:        auth,
		approvals:   governance.NewApprovalStore(),
		idempotency: governance.NewIdempotencyStore(),
		startedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}
	return s
}

// Approvals exposes the server's approval store, for operator tooling that
// needs to inspect or seed tickets out of band.
func (s *Server) Approvals() *governance.ApprovalStore {
	return s.approvals
}

// MountRoutes builds the gateway's HTTP handler. The agent contract is
// mounted under the configured prefix and, when the alias is enabled, a
// second time under /api. Health, metrics and the OpenAPI document stay at
// the root, outside authentication.
func (s *Server) MountRoutes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", authz.IdentityHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(s.instrument)

	r.NotFound(notFoundHandler)

	r.Get("/healthz", s.healthHandler)
	r.Get("/livez", s.healthHandler)
	r.Get("/readyz", s.readyHandler)
	r.Get("/openapi.json", s.openapiHandler)
	r.Handle("/metrics", s.metrics.Handler())

	if s.auditStore != nil {
		s.logger.Info("audit trail enabled", "retention_days", s.auditConfig.RetentionDays)
	}

	r.Mount(s.cfg.APIPrefix, s.contractRouter())
	if s.cfg.EnableAPIAlias && s.cfg.APIPrefix != "/api" {
		r.Mount("/api", s.contractRouter())
	}

	return r
}

// contractRouter builds one instance of the agent-facing route tree.
// Authentication runs before every contract handler; the audit middleware
// records mutating calls once a principal is established.
func (s *Server) contractRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(s.auth.Middleware())
	if s.auditStore != nil {
		r.Use(audit.Middleware(s.auditStore, s.auditConfig, s.logger))
	}

	r.NotFound(notFoundHandler)

	if s.cache != nil {
		// The capability gate must run ahead of the cache: a hit is
		// written without reaching the handler's own check.
		guard := authz.Require(capPluginsRead)
		r.With(guard, s.cache.DiscoveryMiddleware()).Get("/plugins", s.listPlugins)
		r.With(guard, s.cache.ManifestMiddleware()).Get("/plugins/{plugin_id}", s.getPlugin)
		r.With(guard, s.cache.ManifestMiddleware()).Get("/plugins/{plugin_id}/capabilities", s.listCapabilities)
	} else {
		r.Get("/plugins", s.listPlugins)
		r.Get("/plugins/{plugin_id}", s.getPlugin)
		r.Get("/plugins/{plugin_id}/capabilities", s.listCapabilities)
	}

	r.Get("/approvals/{ticket_id}", s.getApproval)
	r.Post("/approvals/{ticket_action}", s.decideApproval)

	if s.auditStore != nil {
		r.With(authz.Require(capAuditRead)).Mount("/system/audit", audit.Routes(s.auditStore))
	}

	r.Post("/{plugin_action}/propose", s.pluginAction(plugin.PhasePropose))
	r.Post("/{plugin_action}/execute", s.pluginAction(plugin.PhaseExecute))
	r.Post("/{plugin_id}/{resource}/{resource_action}/propose", s.resourceAction(plugin.PhasePropose))
	r.Post("/{plugin_id}/{resource}/{resource_action}/execute", s.resourceAction(plugin.PhaseExecute))

	r.Get("/{plugin_id}/{resource}", s.listResource)
	r.Get("/{plugin_id}/{resource}/{resource_id}", s.getResource)
	r.Get("/{plugin_id}/{resource}/{resource_id}/{view}", s.getResourceView)

	return r
}

// instrument records latency and status for every request and emits one
// structured access log line.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(r.Method, route, ww.Status(), elapsed)
		s.logger.Info("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", elapsed,
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func notFoundHandler(w http.ResponseWriter, _ *http.Request) {
	apierr.Write(w, apierr.NotFound("not found"))
}

// requirePrincipal fetches the principal established by the auth middleware
// and checks its grant for capabilityID. It writes the error response itself
// and reports whether the caller may proceed.
func (s *Server) requirePrincipal(w http.ResponseWriter, r *http.Request, capabilityID string) (*authz.Principal, bool) {
	principal, ok := authz.PrincipalFromContext(r.Context())
	if !ok {
		apierr.Write(w, apierr.Unauthorized(""))
		return nil, false
	}
	if err := s.auth.RequireCapability(principal, capabilityID); err != nil {
		apierr.Write(w, err)
		return nil, false
	}
	return principal, true
}

func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "alive",
		"uptime": time.Since(s.startedAt).String(),
	})
}

// readyHandler reports per-component readiness. The audit database is the
// only component that can degrade; an unreachable store turns the whole
// probe into a 503.
func (s *Server) readyHandler(w http.ResponseWriter, _ *http.Request) {
	ready := true
	components := map[string]map[string]string{
		"registry": {
			"status":  "ready",
			"details": fmt.Sprintf("%d plugins registered", len(s.registry.List())),
		},
		"policy": {
			"status": "ready",
		},
	}

	switch {
	case s.auditStore == nil:
		components["audit"] = map[string]string{"status": "not_configured"}
	default:
		if err := s.auditStore.Ping(); err != nil {
			ready = false
			components["audit"] = map[string]string{"status": "unavailable", "details": err.Error()}
		} else {
			components["audit"] = map[string]string{"status": "ready"}
		}
	}

	status := http.StatusOK
	state := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":     state,
		"components": components,
	})
}
