package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/clawgate/pkg/apierr"
)

// ListEventsHandler handles GET /v1/system/audit.
// Query params: agent, plugin, action, outcome, page_size, page_token.
func ListEventsHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ListFilter{
			AgentID: r.URL.Query().Get("agent"),
			Plugin:  r.URL.Query().Get("plugin"),
			Action:  r.URL.Query().Get("action"),
			Outcome: r.URL.Query().Get("outcome"),
		}

		pageSize := 20
		if ps := r.URL.Query().Get("page_size"); ps != "" {
			v, err := strconv.Atoi(ps)
			if err != nil || v <= 0 {
				apierr.Write(w, apierr.Validation("page_size must be a positive integer"))
				return
			}
			pageSize = v
		}
		pageToken := r.URL.Query().Get("page_token")

		records, nextToken, total, err := store.List(filter, pageSize, pageToken)
		if err != nil {
			apierr.Write(w, err)
			return
		}

		events := make([]eventResponse, len(records))
		for i, rec := range records {
			events[i] = recordToResponse(rec)
		}

		var next any
		if nextToken != "" {
			next = nextToken
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"events":          events,
			"next_page_token": next,
			"total_size":      total,
		})
	}
}

// GetEventHandler handles GET /v1/system/audit/{event_id}.
func GetEventHandler(store *Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID := chi.URLParam(r, "event_id")

		record, err := store.GetByID(eventID)
		if err != nil {
			apierr.Write(w, err)
			return
		}
		if record == nil {
			apierr.Write(w, apierr.NotFoundf("audit event '%s' not found", eventID))
			return
		}

		writeJSON(w, http.StatusOK, recordToResponse(*record))
	}
}

// eventResponse is the wire shape of an audit event.
type eventResponse struct {
	ID         string         `json:"id"`
	AgentID    string         `json:"agent_id"`
	Plugin     string         `json:"plugin,omitempty"`
	Resource   string         `json:"resource,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Action     string         `json:"action,omitempty"`
	Phase      string         `json:"phase,omitempty"`
	Method     string         `json:"method"`
	Path       string         `json:"path"`
	Outcome    string         `json:"outcome"`
	StatusCode int            `json:"status_code"`
	RequestID  string         `json:"request_id,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  string         `json:"created_at"`
}

func recordToResponse(rec Event) eventResponse {
	return eventResponse{
		ID:         rec.ID,
		AgentID:    rec.AgentID,
		Plugin:     rec.Plugin,
		Resource:   rec.Resource,
		ResourceID: rec.ResourceID,
		Action:     rec.Action,
		Phase:      rec.Phase,
		Method:     rec.Method,
		Path:       rec.Path,
		Outcome:    rec.Outcome,
		StatusCode: rec.StatusCode,
		RequestID:  rec.RequestID,
		DurationMS: rec.DurationMS,
		Metadata:   map[string]any(rec.EventMetadata),
		CreatedAt:  rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
