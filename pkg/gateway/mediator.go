package gateway

import (
	"context"
	"encoding/json"
	"net/http"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/go-chi/chi/v5"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/authz"
	"github.com/openclaw/clawgate/pkg/governance"
	"github.com/openclaw/clawgate/pkg/plugin"
)

// pluginAction handles plugin-global invocations shaped
// POST /{plugin_id}:{action}/{phase}.
func (s *Server) pluginAction(phase string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pluginID, actionName, ok := splitActionSegment(chi.URLParam(r, "plugin_action"))
		if !ok {
			notFoundHandler(w, r)
			return
		}
		s.handleAction(w, r, pluginID, "", "", actionName, phase)
	}
}

// resourceAction handles resource-scoped invocations shaped
// POST /{plugin_id}/{resource}/{resource_id}:{action}/{phase}.
func (s *Server) resourceAction(phase string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resourceID, actionName, ok := splitActionSegment(chi.URLParam(r, "resource_action"))
		if !ok {
			notFoundHandler(w, r)
			return
		}
		s.handleAction(w, r,
			chi.URLParam(r, "plugin_id"),
			chi.URLParam(r, "resource"),
			resourceID, actionName, phase)
	}
}

// handleAction runs the mediation pipeline shared by both action routes:
// capability check, request validation, idempotent replay, the approval gate
// and finally dispatch to the plugin.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request, pluginID, resource, resourceID, actionName, phase string) {
	outcome := "error"
	defer func() {
		s.metrics.ObserveAction(pluginID, actionName, phase, outcome)
	}()

	principal, ok := authz.PrincipalFromContext(r.Context())
	if !ok {
		apierr.Write(w, apierr.Unauthorized(""))
		return
	}

	action, err := s.registry.ResolveAction(pluginID, actionName, resource)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	if err := s.auth.RequireCapability(principal, action.CapabilityID); err != nil {
		apierr.Write(w, err)
		return
	}

	if phase == plugin.PhasePropose && !action.SupportsPropose {
		apierr.Write(w, apierr.ValidationCode(apierr.CodeActionNotProposable, "this action does not support propose"))
		return
	}

	req, err := decodeActionRequest(r)
	if err != nil {
		apierr.Write(w, err)
		return
	}

	engine := s.policies.Engine()
	if err := engine.ValidateActionRequest(action, phase, req.IdempotencyKey, req.Args); err != nil {
		apierr.Write(w, err)
		return
	}

	requestHash, err := governance.RequestHash(pluginID, resource, resourceID, actionName, phase, req.Args)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	scope := governance.IdempotencyScope(pluginID, resource, actionName)

	// Replay protection applies to keyed, mutating executes only. Proposes
	// and unkeyed calls always reach the plugin.
	replayable := phase == plugin.PhaseExecute && req.IdempotencyKey != "" && action.Mutating
	if replayable {
		record, hit, err := s.idempotency.FetchOrValidate(scope, req.IdempotencyKey, requestHash)
		if err != nil {
			apierr.Write(w, err)
			return
		}
		if hit {
			outcome = "replayed"
			writeRaw(w, record.StatusCode, record.Payload)
			return
		}
	}

	p, err := s.registry.Get(pluginID)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	actx := plugin.ActionContext{
		PluginID:   pluginID,
		Phase:      phase,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
	}

	if engine.RequiresApproval(action, phase) {
		fingerprint, err := governance.Fingerprint(action.CapabilityID, resourceID, req.Args)
		if err != nil {
			apierr.Write(w, err)
			return
		}
		approved := s.approvals.FindForFingerprint(action.CapabilityID, fingerprint, mapset.NewSet(governance.StatusApproved))
		if approved == nil {
			preview, err := s.preview(r.Context(), p, actx, req.Args)
			if err != nil {
				apierr.Write(w, err)
				return
			}
			summary := preview.Summary
			if summary == "" {
				summary = action.Name + " requires approval"
			}
			effect := preview.ProposedEffect
			if len(effect) == 0 {
				effect = preview.Result
			}
			if effect == nil {
				effect = map[string]any{}
			}
			ticket := s.approvals.CreateOrGetPending(summary, effect, action.CapabilityID, fingerprint)
			outcome = "pending_approval"
			writeJSON(w, http.StatusAccepted, needsApprovalResponse{
				ApprovalTicketID: ticket.ID,
				Summary:          ticket.Summary,
				ProposedEffect:   ticket.ProposedEffect,
			})
			return
		}
	}

	result, err := p.RunAction(r.Context(), actx, req.Args)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	if err := engine.EnforceActionPolicy(result.PolicyItems); err != nil {
		apierr.Write(w, err)
		return
	}
	if result.Status == plugin.StatusBlocked {
		apierr.Write(w, apierr.PolicyBlocked(result.Summary))
		return
	}

	response := actionSuccessResponse{Result: result.Result, Summary: result.Summary}
	if response.Result == nil {
		response.Result = map[string]any{}
	}

	if replayable {
		payload, err := json.Marshal(response)
		if err != nil {
			apierr.Write(w, apierr.Internal("encode action response"))
			return
		}
		s.idempotency.Save(scope, req.IdempotencyKey, requestHash, http.StatusOK, payload)
		outcome = "success"
		writeRaw(w, http.StatusOK, payload)
		return
	}

	outcome = "success"
	writeJSON(w, http.StatusOK, response)
}

// preview produces the summary and effect shown on an approval ticket.
// Actions that support propose are previewed through their propose phase;
// the rest run the requested phase directly.
func (s *Server) preview(ctx context.Context, p plugin.Plugin, actx plugin.ActionContext, args map[string]any) (*plugin.ActionResult, error) {
	if actx.Action.SupportsPropose {
		proposeCtx := actx
		proposeCtx.Phase = plugin.PhasePropose
		return p.RunAction(ctx, proposeCtx, args)
	}
	return p.RunAction(ctx, actx, args)
}
