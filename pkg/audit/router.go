package audit

import (
	"github.com/go-chi/chi/v5"
)

// Routes returns the router for the audit API. The gateway mounts it under
// the system prefix behind the system.audit.read capability gate.
func Routes(store *Store) chi.Router {
	r := chi.NewRouter()
	r.Get("/", ListEventsHandler(store))
	r.Get("/{event_id}", GetEventHandler(store))
	return r
}
