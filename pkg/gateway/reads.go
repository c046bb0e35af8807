package gateway

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/manifest"
	"github.com/openclaw/clawgate/pkg/plugin"
)

// reservedQueryKeys are paging and search controls. Every other query
// parameter on a collection read passes through to the plugin as an
// equality filter.
var reservedQueryKeys = map[string]struct{}{
	"limit":     {},
	"cursor":    {},
	"sort":      {},
	"q":         {},
	"max_chars": {},
}

// listResource handles GET /{plugin_id}/{resource}.
func (s *Server) listResource(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "plugin_id")
	resource := chi.URLParam(r, "resource")

	rm, err := s.registry.ResolveResource(pluginID, resource)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	if _, ok := s.requirePrincipal(w, r, rm.CapabilityID); !ok {
		return
	}

	engine := s.policies.Engine()
	q := r.URL.Query()

	limit := s.cfg.DefaultLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			apierr.Write(w, apierr.Validation("limit must be an integer"))
			return
		}
		limit = n
	}
	limit, err = engine.NormalizeLimit(limit)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	filters := map[string]string{}
	for key, values := range q {
		if _, reserved := reservedQueryKeys[key]; reserved {
			continue
		}
		if len(values) > 0 {
			filters[key] = values[0]
		}
	}

	p, err := s.registry.Get(pluginID)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	result, err := p.ListResource(r.Context(), resource, plugin.Query{
		Limit:   limit,
		Cursor:  q.Get("cursor"),
		Sort:    q.Get("sort"),
		Q:       q.Get("q"),
		Filters: filters,
	})
	if err != nil {
		apierr.Write(w, err)
		return
	}

	writeJSON(w, http.StatusOK, engine.ApplyCollectionPolicy(result))
}

// getResource handles GET /{plugin_id}/{resource}/{resource_id}.
func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "plugin_id")
	resource := chi.URLParam(r, "resource")
	resourceID := chi.URLParam(r, "resource_id")

	rm, err := s.registry.ResolveResource(pluginID, resource)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	if _, ok := s.requirePrincipal(w, r, rm.CapabilityID); !ok {
		return
	}

	p, err := s.registry.Get(pluginID)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	result, err := p.GetResource(r.Context(), resource, resourceID, "", plugin.Query{Limit: s.cfg.DefaultLimit})
	if err != nil {
		apierr.Write(w, err)
		return
	}

	payload, err := s.policies.Engine().ApplySingleItemPolicy(result)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// getResourceView handles GET /{plugin_id}/{resource}/{resource_id}/{view}.
// The raw gate runs before view validation, so a policy-disabled raw view
// reports as blocked rather than missing.
func (s *Server) getResourceView(w http.ResponseWriter, r *http.Request) {
	pluginID := chi.URLParam(r, "plugin_id")
	resource := chi.URLParam(r, "resource")
	resourceID := chi.URLParam(r, "resource_id")
	view := chi.URLParam(r, "view")

	rm, err := s.registry.ResolveResource(pluginID, resource)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	if _, ok := s.requirePrincipal(w, r, rm.CapabilityID); !ok {
		return
	}

	engine := s.policies.Engine()
	if err := engine.EnforceViewPolicy(view); err != nil {
		apierr.Write(w, err)
		return
	}

	known := view == manifest.ViewHeaders || view == manifest.ViewBody || view == manifest.ViewRaw
	if !known || !rm.AllowsView(view) {
		apierr.Write(w, apierr.NotFoundf("view '%s' not found", view))
		return
	}

	maxChars := 0
	if raw := r.URL.Query().Get("max_chars"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			apierr.Write(w, apierr.Validation("max_chars must be an integer"))
			return
		}
		maxChars, err = engine.NormalizeMaxChars(n)
		if err != nil {
			apierr.Write(w, err)
			return
		}
	}

	p, err := s.registry.Get(pluginID)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	result, err := p.GetResource(r.Context(), resource, resourceID, view, plugin.Query{
		Limit:    s.cfg.DefaultLimit,
		MaxChars: maxChars,
	})
	if err != nil {
		apierr.Write(w, err)
		return
	}

	payload, err := engine.ApplySingleItemPolicy(result)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	if view == manifest.ViewBody {
		chars := maxChars
		if chars == 0 {
			chars = s.cfg.DefaultBodyMaxChars
		}
		payload = engine.SanitizeBodyPayload(payload, chars)
	}
	writeJSON(w, http.StatusOK, payload)
}
