// Package policy maintains the per-action decision matrix: which risk bands
// an action is allowed in, and which bands additionally require a human
// approval. Actions are registered automatically the first time any agent
// attempts them, under a conservative default posture flagged for review.
package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/bandwatch/internal/model"
	"github.com/ppiankov/bandwatch/internal/store"
)

// DefaultRule is the posture a never-seen action starts with: usable in
// green and amber (amber behind an approval), hard-denied in red, and marked
// needs_review so an operator tightens or blesses it deliberately.
func DefaultRule(action string, now time.Time) model.ActionRule {
	return model.ActionRule{
		Action:      action,
		Status:      model.RuleNeedsReview,
		Allow:       model.BandFlags{Green: true, Amber: true},
		Approve:     model.BandFlags{Amber: true, Red: true},
		Version:     1,
		CreatedAt:   now,
		LastSeenAt:  now,
		UpdatedAt:   now,
	}
}

// Matrix is the rule catalogue over the store.
type Matrix struct {
	store *store.Store
}

func NewMatrix(s *store.Store) *Matrix {
	return &Matrix{store: s}
}

// GetOrCreate returns the rule for the action, registering it with the
// default posture on first sighting. created reports whether this call did
// the registration. Two concurrent first sightings converge on one row: the
// insert loser re-reads the winner's rule.
func (m *Matrix) GetOrCreate(ctx context.Context, action string, now time.Time) (rule *model.ActionRule, created bool, err error) {
	rule, err = m.store.GetRule(ctx, action)
	if err == nil {
		if err := m.store.TouchRuleSeen(ctx, action, now); err != nil {
			return nil, false, err
		}
		return rule, false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	if err := m.store.InsertRule(ctx, DefaultRule(action, now)); err != nil {
		if errors.Is(err, store.ErrRuleExists) {
			rule, err = m.store.GetRule(ctx, action)
			return rule, false, err
		}
		return nil, false, err
	}
	rule, err = m.store.GetRule(ctx, action)
	return rule, true, err
}

// Get returns an existing rule without registering anything.
func (m *Matrix) Get(ctx context.Context, action string) (*model.ActionRule, error) {
	return m.store.GetRule(ctx, action)
}

// List returns all registered rules.
func (m *Matrix) List(ctx context.Context) ([]model.ActionRule, error) {
	return m.store.ListRules(ctx)
}

// UpdatePatch carries the editable fields of a rule. Nil means "leave as is".
type UpdatePatch struct {
	Description *string
	Allow       *model.BandFlags
	Approve     *model.BandFlags
	Status      *model.RuleStatus
}

// UpdateResult is the outcome of a rule edit.
type UpdateResult struct {
	Rule    *model.ActionRule
	Expired []int64 // approvals invalidated by the edit
}

// Update edits a rule. An edit that changes the band flags bumps the version
// and expires every pending and approved record for the action: an approval
// granted under one posture must not authorize actions under another.
// Description or status edits leave the posture intact, so they keep the
// version and approvals untouched.
func (m *Matrix) Update(ctx context.Context, action string, patch UpdatePatch) (*UpdateResult, error) {
	current, err := m.store.GetRule(ctx, action)
	if err != nil {
		return nil, err
	}
	next := *current
	if patch.Description != nil {
		next.Description = *patch.Description
	}
	if patch.Allow != nil {
		next.Allow = *patch.Allow
	}
	if patch.Approve != nil {
		next.Approve = *patch.Approve
	}
	if patch.Status != nil {
		if !patch.Status.Valid() {
			return nil, fmt.Errorf("invalid rule status %q", *patch.Status)
		}
		next.Status = *patch.Status
	}

	if next.Allow == current.Allow && next.Approve == current.Approve {
		rule, err := m.store.UpdateRuleMeta(ctx, next)
		if err != nil {
			return nil, err
		}
		return &UpdateResult{Rule: rule}, nil
	}

	rule, expired, err := m.store.UpdateRuleExpiring(ctx, next)
	if err != nil {
		return nil, err
	}
	return &UpdateResult{Rule: rule, Expired: expired}, nil
}

// MarkReviewed flips a needs_review rule to active without changing its
// posture or version, so existing approvals stay valid.
func (m *Matrix) MarkReviewed(ctx context.Context, action string) (*model.ActionRule, error) {
	return m.store.SetRuleStatus(ctx, action, model.RuleActive)
}
