// Package governance holds the gateway's mutable mediation state: approval
// tickets and idempotency records, plus the canonical hashing that keys
// both. Stores are in-memory for the process lifetime; durability is an
// explicit non-goal of the mediation layer.
package governance

import (
	"fmt"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/openclaw/clawgate/pkg/apierr"
)

// Approval ticket statuses. A ticket leaves pending exactly once.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusDenied   = "denied"
)

// Ticket is one approval request surfaced to a human operator.
type Ticket struct {
	ID             string         `json:"id"`
	Status         string         `json:"status"`
	Summary        string         `json:"summary"`
	ProposedEffect map[string]any `json:"proposed_effect"`
	Fingerprint    string         `json:"fingerprint"`
	CapabilityID   string         `json:"capability_id"`
}

// ApprovalStore keeps tickets for the process lifetime. All methods are safe
// for concurrent use; the lock is held only around map operations.
type ApprovalStore struct {
	mu      sync.Mutex
	tickets map[string]*Ticket
	order   []string
}

// NewApprovalStore returns an empty store.
func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{tickets: make(map[string]*Ticket)}
}

func newTicketID() string {
	id := uuid.New()
	return fmt.Sprintf("appr_%x", id[:6])
}

// CreateOrGetPending returns the pending ticket for (capabilityID,
// fingerprint) or creates one atomically, so concurrent executes with the
// same fingerprint coalesce onto a single pending ticket.
func (s *ApprovalStore) CreateOrGetPending(summary string, proposedEffect map[string]any, capabilityID, fingerprint string) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing := s.findLocked(capabilityID, fingerprint, mapset.NewThreadUnsafeSet(StatusPending)); existing != nil {
		return snapshot(existing)
	}
	ticket := &Ticket{
		ID:             newTicketID(),
		Status:         StatusPending,
		Summary:        summary,
		ProposedEffect: proposedEffect,
		Fingerprint:    fingerprint,
		CapabilityID:   capabilityID,
	}
	s.tickets[ticket.ID] = ticket
	s.order = append(s.order, ticket.ID)
	return snapshot(ticket)
}

// Get returns a snapshot of the ticket.
func (s *ApprovalStore) Get(ticketID string) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, apierr.NotFoundf("approval ticket '%s' not found", ticketID)
	}
	return snapshot(ticket), nil
}

// SetStatus transitions a ticket to approved or denied. Setting the current
// status again is a no-op; any other transition away from a finalized ticket
// fails with APPROVAL_ALREADY_FINALIZED.
func (s *ApprovalStore) SetStatus(ticketID, status string) (*Ticket, error) {
	if status != StatusApproved && status != StatusDenied {
		return nil, apierr.Validation("status must be 'approved' or 'denied'")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ticket, ok := s.tickets[ticketID]
	if !ok {
		return nil, apierr.NotFoundf("approval ticket '%s' not found", ticketID)
	}
	if ticket.Status == status {
		return snapshot(ticket), nil
	}
	if ticket.Status != StatusPending {
		return nil, apierr.ValidationCode(apierr.CodeApprovalAlreadyFinalized,
			fmt.Sprintf("ticket '%s' already finalized as '%s'", ticketID, ticket.Status))
	}
	ticket.Status = status
	return snapshot(ticket), nil
}

// FindForFingerprint returns the first ticket matching the capability,
// fingerprint, and one of the given statuses, or nil.
func (s *ApprovalStore) FindForFingerprint(capabilityID, fingerprint string, statuses mapset.Set[string]) *Ticket {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ticket := s.findLocked(capabilityID, fingerprint, statuses); ticket != nil {
		return snapshot(ticket)
	}
	return nil
}

func (s *ApprovalStore) findLocked(capabilityID, fingerprint string, statuses mapset.Set[string]) *Ticket {
	for _, id := range s.order {
		ticket := s.tickets[id]
		if ticket.CapabilityID != capabilityID {
			continue
		}
		if ticket.Fingerprint != fingerprint {
			continue
		}
		if !statuses.Contains(ticket.Status) {
			continue
		}
		return ticket
	}
	return nil
}

func snapshot(t *Ticket) *Ticket {
	copied := *t
	return &copied
}
