package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/clawgate/pkg/authz"
	"github.com/openclaw/clawgate/pkg/manifest"
	"github.com/openclaw/clawgate/pkg/plugin"
)

// lightsPlugin covers paths the gmail fixtures cannot reach: an action
// without propose support and a transactional action whose preview must run
// the execute phase. It records the phases it was dispatched with.
type lightsPlugin struct {
	phases []string
}

var _ plugin.Plugin = (*lightsPlugin)(nil)

func (p *lightsPlugin) Manifest() *manifest.Plugin {
	return &manifest.Plugin{
		ID:          "lights",
		Name:        "Lights",
		Version:     "0.0.1",
		RuntimeMode: manifest.RuntimeInProcess,
		Resources: []manifest.Resource{
			{Name: "rooms", CapabilityID: "lights.rooms.read"},
		},
		Actions: []manifest.Action{
			{
				Name:            "toggle",
				CapabilityID:    "lights.toggle",
				RiskTier:        manifest.TierRoutine,
				Mutating:        true,
				EmitsAttributes: []string{"principal"},
			},
			{
				Name:            "purge",
				CapabilityID:    "lights.purge",
				RiskTier:        manifest.TierTransactional,
				Mutating:        true,
				EmitsAttributes: []string{"principal"},
			},
		},
	}
}

func (p *lightsPlugin) ListResource(context.Context, string, plugin.Query) (*plugin.ReadResult, error) {
	return &plugin.ReadResult{Data: map[string]any{"items": []any{}, "next_cursor": nil}}, nil
}

func (p *lightsPlugin) GetResource(context.Context, string, string, string, plugin.Query) (*plugin.ReadResult, error) {
	return &plugin.ReadResult{Data: map[string]any{}}, nil
}

func (p *lightsPlugin) RunAction(_ context.Context, actx plugin.ActionContext, _ map[string]any) (*plugin.ActionResult, error) {
	p.phases = append(p.phases, actx.Phase)
	return &plugin.ActionResult{
		Status:  plugin.StatusSuccess,
		Result:  map[string]any{"action": actx.Action.Name, "phase": actx.Phase},
		Summary: "Ran " + actx.Action.Name,
	}, nil
}

func TestProposeReturnsPreviewWithoutSideEffects(t *testing.T) {
	h := newTestHandler(t, nil)

	rr := doRequest(t, h, http.MethodPost, "/v1/gmail/messages/msg_allowed:reply/propose",
		map[string]any{"args": map[string]any{"body": "On it"}})
	require.Equal(t, http.StatusOK, rr.Code)

	body := decodeMap(t, rr)
	result, ok := body["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "thr_a", result["thread_id"])
	assert.NotContains(t, result, "sent_message_id")
	assert.Equal(t, "Reply to alice@corp.com", body["summary"])
}

func TestProposeOnNonProposableAction(t *testing.T) {
	h := newTestHandler(t, func(env *testEnv) {
		env.plugins = append(env.plugins, &lightsPlugin{})
	})

	rr := doRequest(t, h, http.MethodPost, "/v1/lights:toggle/propose", map[string]any{})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	code, message := decodeWireError(t, rr)
	assert.Equal(t, "ACTION_NOT_PROPOSABLE", code)
	assert.Equal(t, "this action does not support propose", message)
}

func TestRoutineActionExecutesWithoutApproval(t *testing.T) {
	h := newTestHandler(t, func(env *testEnv) {
		env.plugins = append(env.plugins, &lightsPlugin{})
	})

	rr := doRequest(t, h, http.MethodPost, "/v1/lights:toggle/execute", map[string]any{})
	require.Equal(t, http.StatusOK, rr.Code)
	body := decodeMap(t, rr)
	result := body["result"].(map[string]any)
	assert.Equal(t, "toggle", result["action"])
	assert.Equal(t, "execute", result["phase"])
}

func TestPreviewWithoutProposeRunsExecutePhase(t *testing.T) {
	lights := &lightsPlugin{}
	h := newTestHandler(t, func(env *testEnv) {
		env.plugins = append(env.plugins, lights)
	})

	rr := doRequest(t, h, http.MethodPost, "/v1/lights:purge/execute", map[string]any{})
	require.Equal(t, http.StatusAccepted, rr.Code)
	require.Equal(t, []string{"execute"}, lights.phases)

	body := decodeMap(t, rr)
	assert.Equal(t, "Ran purge", body["summary"])
	assert.NotEmpty(t, body["approval_ticket_id"])
}

func TestExecuteRequiresApprovalAndCoalescesTickets(t *testing.T) {
	h := newTestHandler(t, nil)
	payload := map[string]any{
		"idempotency_key": "idem-reply-2",
		"args":            map[string]any{"body": "On it"},
	}

	first := doRequest(t, h, http.MethodPost, "/v1/gmail/messages/msg_allowed:reply/execute", payload)
	require.Equal(t, http.StatusAccepted, first.Code)
	firstBody := decodeMap(t, first)
	ticketID, _ := firstBody["approval_ticket_id"].(string)
	require.NotEmpty(t, ticketID)
	assert.Equal(t, "Reply to alice@corp.com", firstBody["summary"])
	effect, ok := firstBody["proposed_effect"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "On it", effect["body"])

	second := doRequest(t, h, http.MethodPost, "/v1/gmail/messages/msg_allowed:reply/execute", payload)
	require.Equal(t, http.StatusAccepted, second.Code)
	secondBody := decodeMap(t, second)
	assert.Equal(t, ticketID, secondBody["approval_ticket_id"])
}

func TestApprovalLifecycle(t *testing.T) {
	h := newTestHandler(t, nil)
	payload := map[string]any{
		"idempotency_key": "idem-reply-2",
		"args":            map[string]any{"body": "On it"},
	}

	rr := doRequest(t, h, http.MethodPost, "/v1/gmail/messages/msg_allowed:reply/execute", payload)
	require.Equal(t, http.StatusAccepted, rr.Code)
	ticketID := decodeMap(t, rr)["approval_ticket_id"].(string)

	rr = doRequest(t, h, http.MethodPost, "/v1/approvals/"+ticketID+":approve", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "approved", decodeMap(t, rr)["status"])

	rr = doRequest(t, h, http.MethodPost, "/v1/gmail/messages/msg_allowed:reply/execute", payload)
	require.Equal(t, http.StatusOK, rr.Code)
	result := decodeMap(t, rr)["result"].(map[string]any)
	assert.Equal(t, "sent_reply_001", result["sent_message_id"])
}

func TestIdempotentReplayIsByteIdentical(t *testing.T) {
	h := newTestHandler(t, nil)
	payload := map[string]any{
		"idempotency_key": "idem-archive-1",
		"args":            map[string]any{},
	}

	rr := doRequest(t, h, http.MethodPost, "/v1/gmail/messages/msg_allowed:archive/execute", payload)
	require.Equal(t, http.StatusAccepted, rr.Code)
	ticketID := decodeMap(t, rr)["approval_ticket_id"].(string)

	rr = doRequest(t, h, http.MethodPost, "/v1/approvals/"+ticketID+":approve", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	first := doRequest(t, h, http.MethodPost, "/v1/gmail/messages/msg_allowed:archive/execute", payload)
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(t, h, http.MethodPost, "/v1/gmail/messages/msg_allowed:archive/execute", payload)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, first.Body.Bytes(), second.Body.Bytes())
}

func TestIdempotencyKeyReusedWithDifferentPayload(t *testing.T) {
	h := newTestHandler(t, nil)
	payload := map[string]any{
		"idempotency_key": "idem-archive-1",
		"args":            map[string]any{},
	}

	rr := doRequest(t, h, http.MethodPost, "/v1/gmail/messages/msg_allowed:archive/execute", payload)
	require.Equal(t, http.StatusAccepted, rr.Code)
	ticketID := decodeMap(t, rr)["approval_ticket_id"].(string)
	rr = doRequest(t, h, http.MethodPost, "/v1/approvals/"+ticketID+":approve", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	rr = doRequest(t, h, http.MethodPost, "/v1/gmail/messages/msg_allowed:archive/execute", payload)
	require.Equal(t, http.StatusOK, rr.Code)

	reused := doRequest(t, h, http.MethodPost, "/v1/gmail/messages/msg_blocked:archive/execute", payload)
	require.Equal(t, http.StatusBadRequest, reused.Code)
	code, message := decodeWireError(t, reused)
	assert.Equal(t, "IDEMPOTENCY_KEY_REUSED", code)
	assert.Equal(t, "idempotency_key already used with a different payload", message)
}

func TestExecuteWithoutIdempotencyKey(t *testing.T) {
	h := newTestHandler(t, nil)

	rr := doRequest(t, h, http.MethodPost, "/v1/gmail/messages/msg_allowed:reply/execute",
		map[string]any{"args": map[string]any{"body": "On it"}})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	code, message := decodeWireError(t, rr)
	assert.Equal(t, "IDEMPOTENCY_KEY_REQUIRED", code)
	assert.Equal(t, "idempotency_key is required for this action", message)
}

func TestSendToBlockedDomain(t *testing.T) {
	h := newTestHandler(t, nil)

	rr := doRequest(t, h, http.MethodPost, "/v1/gmail:send/execute", map[string]any{
		"idempotency_key": "idem-send-1",
		"args": map[string]any{
			"to":   []string{"mallory@blocked.example"},
			"body": "test",
		},
	})
	require.Equal(t, http.StatusForbidden, rr.Code)
	code, _ := decodeWireError(t, rr)
	assert.Equal(t, "POLICY_BLOCKED", code)
}

func TestUnknownActionIsNotFound(t *testing.T) {
	h := newTestHandler(t, nil)

	rr := doRequest(t, h, http.MethodPost, "/v1/gmail:forward/execute", map[string]any{})
	require.Equal(t, http.StatusNotFound, rr.Code)
	code, message := decodeWireError(t, rr)
	assert.Equal(t, "NOT_FOUND", code)
	assert.Equal(t, "action 'forward' not found in 'gmail'", message)
}

func TestActionSegmentWithoutColonIsUnmatched(t *testing.T) {
	h := newTestHandler(t, nil)

	rr := doRequest(t, h, http.MethodPost, "/v1/gmail/execute", map[string]any{})
	require.Equal(t, http.StatusNotFound, rr.Code)
	code, _ := decodeWireError(t, rr)
	assert.Equal(t, "NOT_FOUND", code)
}

func TestMalformedActionBody(t *testing.T) {
	h := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/gmail/messages/msg_allowed:reply/propose",
		strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	code, message := decodeWireError(t, rr)
	assert.Equal(t, "VALIDATION_ERROR", code)
	assert.Equal(t, "request body must be valid JSON", message)
}

func TestActionCapabilityDenied(t *testing.T) {
	h := newTestHandler(t, func(env *testEnv) {
		env.auth = authz.NewService(true, map[string]authz.TokenRecord{
			"tok-read": {
				Token:             "tok-read",
				AgentID:           "reader",
				TailscaleIdentity: "*",
				Capabilities:      []string{"system.plugins.read", "gmail.messages.read"},
			},
		}, nil)
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/gmail/messages/msg_allowed:reply/execute",
		strings.NewReader(`{"idempotency_key":"k1","args":{"body":"hi"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer tok-read")
	req.Header.Set(authz.IdentityHeader, "reader.tail.net")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	require.Equal(t, http.StatusForbidden, rr.Code)
	code, _ := decodeWireError(t, rr)
	assert.Equal(t, "CAPABILITY_DENIED", code)
}
