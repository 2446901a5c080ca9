package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/bandwatch/internal/model"
)

// ErrRuleExists is returned by InsertRule when the action is already present.
var ErrRuleExists = errors.New("action rule already exists")

const ruleColumns = `action_name, description, status,
	allow_green, allow_amber, allow_red,
	approve_green, approve_amber, approve_red,
	version, created_at, last_seen_at, updated_at`

func scanRule(row interface{ Scan(...any) error }) (*model.ActionRule, error) {
	var r model.ActionRule
	var status, created, lastSeen, updated string
	var ag, aa, ar, pg, pa, pr int
	err := row.Scan(
		&r.Action, &r.Description, &status,
		&ag, &aa, &ar, &pg, &pa, &pr,
		&r.Version, &created, &lastSeen, &updated,
	)
	if err != nil {
		return nil, err
	}
	r.Status = model.RuleStatus(status)
	r.Allow = model.BandFlags{Green: ag != 0, Amber: aa != 0, Red: ar != 0}
	r.Approve = model.BandFlags{Green: pg != 0, Amber: pa != 0, Red: pr != 0}
	r.CreatedAt = parseTime(created)
	r.LastSeenAt = parseTime(lastSeen)
	r.UpdatedAt = parseTime(updated)
	return &r, nil
}

// GetRule returns the rule for the action, or ErrNotFound.
func (s *Store) GetRule(ctx context.Context, action string) (*model.ActionRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM action_rules WHERE action_name = ?`, ruleColumns)
	r, err := scanRule(s.db.QueryRowContext(ctx, query, action))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule %q: %w", action, err)
	}
	return r, nil
}

// InsertRule creates a new rule row. Returns ErrRuleExists if another caller
// registered the action first (the conditional-insert half of get-or-create).
func (s *Store) InsertRule(ctx context.Context, r model.ActionRule) error {
	query := `INSERT INTO action_rules (` + ruleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		r.Action, r.Description, string(r.Status),
		boolInt(r.Allow.Green), boolInt(r.Allow.Amber), boolInt(r.Allow.Red),
		boolInt(r.Approve.Green), boolInt(r.Approve.Amber), boolInt(r.Approve.Red),
		r.Version, fmtTime(r.CreatedAt), fmtTime(r.LastSeenAt), fmtTime(r.UpdatedAt),
	)
	if isUniqueViolation(err) {
		return ErrRuleExists
	}
	if err != nil {
		return fmt.Errorf("insert rule %q: %w", r.Action, err)
	}
	return nil
}

// TouchRuleSeen advances last_seen_at for an existing rule.
func (s *Store) TouchRuleSeen(ctx context.Context, action string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE action_rules SET last_seen_at = ? WHERE action_name = ?`,
		fmtTime(at), action)
	if err != nil {
		return fmt.Errorf("touch rule %q: %w", action, err)
	}
	return nil
}

// UpdateRuleMeta writes description and status without bumping the version
// or touching approvals, for edits that leave the band flags unchanged.
func (s *Store) UpdateRuleMeta(ctx context.Context, r model.ActionRule) (*model.ActionRule, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE action_rules SET description = ?, status = ?, updated_at = ?
		WHERE action_name = ?`,
		r.Description, string(r.Status), fmtTime(time.Now()), r.Action)
	if err != nil {
		return nil, fmt.Errorf("update rule %q: %w", r.Action, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetRule(ctx, r.Action)
}

// UpdateRuleExpiring writes new rule values, bumps the rule version, and
// transitions every active (pending or approved) approval for the action to
// policy_expired — in one transaction, so an in-flight evaluate either sees
// the old rule with live approvals or the new rule with none. Returns the
// updated rule and the ids of the approvals expired as a side effect.
func (s *Store) UpdateRuleExpiring(ctx context.Context, r model.ActionRule) (*model.ActionRule, []int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("update rule %q: begin: %w", r.Action, err)
	}
	defer tx.Rollback()

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`UPDATE action_rules SET
			description = ?, status = ?,
			allow_green = ?, allow_amber = ?, allow_red = ?,
			approve_green = ?, approve_amber = ?, approve_red = ?,
			version = version + 1, updated_at = ?
		WHERE action_name = ?`,
		r.Description, string(r.Status),
		boolInt(r.Allow.Green), boolInt(r.Allow.Amber), boolInt(r.Allow.Red),
		boolInt(r.Approve.Green), boolInt(r.Approve.Amber), boolInt(r.Approve.Red),
		fmtTime(now), r.Action,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("update rule %q: %w", r.Action, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil, ErrNotFound
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM approvals WHERE action = ? AND status IN (?, ?)`,
		r.Action, string(model.ApprovalPending), string(model.ApprovalApproved))
	if err != nil {
		return nil, nil, fmt.Errorf("update rule %q: list active approvals: %w", r.Action, err)
	}
	var expired []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, nil, err
		}
		expired = append(expired, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	if len(expired) > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE approvals SET status = ?, decided_at = ?
			WHERE action = ? AND status IN (?, ?)`,
			string(model.ApprovalPolicyExpired), fmtTime(now),
			r.Action, string(model.ApprovalPending), string(model.ApprovalApproved))
		if err != nil {
			return nil, nil, fmt.Errorf("update rule %q: expire approvals: %w", r.Action, err)
		}
	}

	updated, err := scanRule(tx.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM action_rules WHERE action_name = ?`, ruleColumns), r.Action))
	if err != nil {
		return nil, nil, fmt.Errorf("update rule %q: reread: %w", r.Action, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("update rule %q: commit: %w", r.Action, err)
	}
	return updated, expired, nil
}

// SetRuleStatus flips the review status without touching rule values or
// version. Marking a rule reviewed is deliberately independent of edits.
func (s *Store) SetRuleStatus(ctx context.Context, action string, status model.RuleStatus) (*model.ActionRule, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE action_rules SET status = ?, updated_at = ? WHERE action_name = ?`,
		string(status), fmtTime(time.Now()), action)
	if err != nil {
		return nil, fmt.Errorf("set rule status %q: %w", action, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.GetRule(ctx, action)
}

// ListRules returns all rules ordered by action name.
func (s *Store) ListRules(ctx context.Context) ([]model.ActionRule, error) {
	query := fmt.Sprintf(`SELECT %s FROM action_rules ORDER BY action_name`, ruleColumns)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var rules []model.ActionRule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}
