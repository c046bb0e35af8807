package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/governance"
)

// listPlugins handles GET /plugins. The response is a bare array of plugin
// summaries.
func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requirePrincipal(w, r, capPluginsRead); !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.registry.List())
}

// getPlugin handles GET /plugins/{plugin_id} with the full manifest.
func (s *Server) getPlugin(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requirePrincipal(w, r, capPluginsRead); !ok {
		return
	}
	m, err := s.registry.Manifest(chi.URLParam(r, "plugin_id"))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// listCapabilities handles GET /plugins/{plugin_id}/capabilities.
func (s *Server) listCapabilities(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requirePrincipal(w, r, capPluginsRead); !ok {
		return
	}
	rows, err := s.registry.Capabilities(chi.URLParam(r, "plugin_id"))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// getApproval handles GET /approvals/{ticket_id}.
func (s *Server) getApproval(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requirePrincipal(w, r, capApprovalsManage); !ok {
		return
	}
	ticket, err := s.approvals.Get(chi.URLParam(r, "ticket_id"))
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// decideApproval handles POST /approvals/{ticket_id}:approve and
// POST /approvals/{ticket_id}:deny. An unknown verb is an unmatched route.
func (s *Server) decideApproval(w http.ResponseWriter, r *http.Request) {
	ticketID, verb, ok := splitActionSegment(chi.URLParam(r, "ticket_action"))
	if !ok {
		notFoundHandler(w, r)
		return
	}

	var status string
	switch verb {
	case "approve":
		status = governance.StatusApproved
	case "deny":
		status = governance.StatusDenied
	default:
		notFoundHandler(w, r)
		return
	}

	if _, ok := s.requirePrincipal(w, r, capApprovalsManage); !ok {
		return
	}

	ticket, err := s.approvals.SetStatus(ticketID, status)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}
