// Package approval is the human-in-the-loop ledger. Every record tracks one
// request for sign-off on an (agent, action) pair at a specific risk band
// and rule version; humans may only approve or reject, and only while the
// record is still pending. Expiry transitions (policy_expired, risk_shift)
// belong to the system, not to this package's Decide.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/bandwatch/internal/model"
	"github.com/ppiankov/bandwatch/internal/store"
)

// InvalidTransitionError reports an attempt to decide a record that is no
// longer pending. Status carries the record's current state so callers can
// tell "already approved" from "expired by a policy edit".
type InvalidTransitionError struct {
	ID     int64
	Status model.ApprovalStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("approval %d is %s, not pending", e.ID, e.Status)
}

// Ledger records and resolves approval requests.
type Ledger struct {
	store *store.Store
}

func NewLedger(s *store.Store) *Ledger {
	return &Ledger{store: s}
}

// Request opens a pending record for (agent, action). If one is already open
// the existing record is returned instead of a duplicate; repeated attempts
// while a request is in flight are idempotent.
func (l *Ledger) Request(ctx context.Context, agentID, action string, band model.Band, ruleVersion int64, requestedBy string, request map[string]any, now time.Time) (*model.ApprovalRecord, bool, error) {
	rec, err := l.store.InsertPendingApproval(ctx, model.ApprovalRecord{
		AgentID:     agentID,
		Action:      action,
		Band:        band,
		RuleVersion: ruleVersion,
		RequestedBy: requestedBy,
		RequestedAt: now,
		Request:     request,
	})
	if err == nil {
		return rec, true, nil
	}
	if errors.Is(err, store.ErrDuplicatePending) {
		existing, gerr := l.store.GetPendingApproval(ctx, agentID, action)
		if gerr != nil {
			return nil, false, gerr
		}
		return existing, false, nil
	}
	return nil, false, err
}

// Get returns a record by id.
func (l *Ledger) Get(ctx context.Context, id int64) (*model.ApprovalRecord, error) {
	return l.store.GetApproval(ctx, id)
}

// Pending returns the open record for (agent, action), or store.ErrNotFound.
func (l *Ledger) Pending(ctx context.Context, agentID, action string) (*model.ApprovalRecord, error) {
	return l.store.GetPendingApproval(ctx, agentID, action)
}

// ListByStatus returns records with the given status, oldest first. Empty
// status lists all records.
func (l *Ledger) ListByStatus(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalRecord, error) {
	return l.store.ListApprovalsByStatus(ctx, status)
}

// Decide resolves a pending record to approved or rejected. Any other target
// status is refused, and deciding a record that has already left pending
// returns InvalidTransitionError with its current state.
func (l *Ledger) Decide(ctx context.Context, id int64, status model.ApprovalStatus, decidedBy, note string, now time.Time) (*model.ApprovalRecord, error) {
	if status != model.ApprovalApproved && status != model.ApprovalRejected {
		return nil, fmt.Errorf("decision must be %s or %s, got %q",
			model.ApprovalApproved, model.ApprovalRejected, status)
	}
	rec, applied, err := l.store.DecideApproval(ctx, id, status, decidedBy, note, now)
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, &InvalidTransitionError{ID: id, Status: rec.Status}
	}
	return rec, nil
}
