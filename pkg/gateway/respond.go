package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/openclaw/clawgate/pkg/apierr"
)

// actionRequest is the body accepted by the propose and execute endpoints.
// Every field is optional; a missing body behaves like an empty object.
type actionRequest struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Reason         string         `json:"reason"`
	Args           map[string]any `json:"args"`
}

// actionSuccessResponse is the 200 envelope for a completed action.
type actionSuccessResponse struct {
	Result  map[string]any `json:"result"`
	Summary string         `json:"summary,omitempty"`
}

// needsApprovalResponse is the 202 envelope returned while an action waits
// for a human decision.
type needsApprovalResponse struct {
	ApprovalTicketID string         `json:"approval_ticket_id"`
	Summary          string         `json:"summary"`
	ProposedEffect   map[string]any `json:"proposed_effect"`
}

func decodeActionRequest(r *http.Request) (*actionRequest, error) {
	req := actionRequest{}
	if r.Body != nil {
		err := json.NewDecoder(r.Body).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, apierr.Validation("request body must be valid JSON")
		}
	}
	if req.Args == nil {
		req.Args = map[string]any{}
	}
	return &req, nil
}

// splitActionSegment splits a combined "<prefix>:<action>" path segment at
// its last colon, so identifiers containing colons keep working.
func splitActionSegment(segment string) (prefix, action string, ok bool) {
	idx := strings.LastIndex(segment, ":")
	if idx <= 0 || idx == len(segment)-1 {
		return "", "", false
	}
	return segment[:idx], segment[idx+1:], true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeRaw emits pre-marshaled JSON exactly as stored, so idempotent replays
// are byte-identical to the first response.
func writeRaw(w http.ResponseWriter, status int, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
