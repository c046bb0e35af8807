package governance

import (
	"encoding/json"
	"sync"

	"github.com/openclaw/clawgate/pkg/apierr"
)

// IdempotencyRecord is a memoized execute response. Payload holds the exact
// bytes originally written, so a replay is byte-equal to the first response.
type IdempotencyRecord struct {
	RequestHash string
	StatusCode  int
	Payload     json.RawMessage
}

// IdempotencyStore memoizes execute responses keyed by scope and
// idempotency key. Safe for concurrent use.
type IdempotencyStore struct {
	mu      sync.Mutex
	records map[string]IdempotencyRecord
}

// NewIdempotencyStore returns an empty store.
func NewIdempotencyStore() *IdempotencyStore {
	return &IdempotencyStore{records: make(map[string]IdempotencyRecord)}
}

func recordKey(scope, idempotencyKey string) string {
	return scope + ":" + idempotencyKey
}

// Fetch returns the stored record, if any.
func (s *IdempotencyStore) Fetch(scope, idempotencyKey string) (IdempotencyRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[recordKey(scope, idempotencyKey)]
	return record, ok
}

// FetchOrValidate returns the stored record for replay, or an
// IDEMPOTENCY_KEY_REUSED error when the key was recorded under a different
// request hash. A miss returns ok=false with no error.
func (s *IdempotencyStore) FetchOrValidate(scope, idempotencyKey, requestHash string) (IdempotencyRecord, bool, error) {
	record, ok := s.Fetch(scope, idempotencyKey)
	if !ok {
		return IdempotencyRecord{}, false, nil
	}
	if record.RequestHash != requestHash {
		return IdempotencyRecord{}, false, apierr.ValidationCode(apierr.CodeIdempotencyKeyReused,
			"idempotency_key already used with a different payload")
	}
	return record, true, nil
}

// Save unconditionally records the response; callers only save successful
// executions.
func (s *IdempotencyStore) Save(scope, idempotencyKey, requestHash string, statusCode int, payload json.RawMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[recordKey(scope, idempotencyKey)] = IdempotencyRecord{
		RequestHash: requestHash,
		StatusCode:  statusCode,
		Payload:     payload,
	}
}
