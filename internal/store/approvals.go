package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/bandwatch/internal/model"
)

const approvalColumns = `id, agent_id, action, band, status, rule_version,
	requested_by, requested_at, decided_by, decided_at, note, request_json`

func scanApproval(row interface{ Scan(...any) error }) (*model.ApprovalRecord, error) {
	var a model.ApprovalRecord
	var band, status, requested, requestJSON string
	var decided sql.NullString
	err := row.Scan(
		&a.ID, &a.AgentID, &a.Action, &band, &status, &a.RuleVersion,
		&a.RequestedBy, &requested, &a.DecidedBy, &decided, &a.Note, &requestJSON,
	)
	if err != nil {
		return nil, err
	}
	a.Band = model.Band(band)
	a.Status = model.ApprovalStatus(status)
	a.RequestedAt = parseTime(requested)
	if decided.Valid && decided.String != "" {
		t := parseTime(decided.String)
		a.DecidedAt = &t
	}
	if requestJSON != "" && requestJSON != "{}" {
		_ = json.Unmarshal([]byte(requestJSON), &a.Request)
	}
	return &a, nil
}

// InsertPendingApproval creates a pending record. The partial unique index on
// (agent_id, action) WHERE status='pending' makes this the arbiter under
// concurrency: the loser gets ErrDuplicatePending and should re-read.
func (s *Store) InsertPendingApproval(ctx context.Context, a model.ApprovalRecord) (*model.ApprovalRecord, error) {
	requestJSON := "{}"
	if len(a.Request) > 0 {
		requestJSON = marshalJSON(a.Request)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO approvals (agent_id, action, band, status, rule_version,
			requested_by, requested_at, note, request_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.AgentID, a.Action, string(a.Band), string(model.ApprovalPending),
		a.RuleVersion, a.RequestedBy, fmtTime(a.RequestedAt), a.Note, requestJSON,
	)
	if isUniqueViolation(err) {
		return nil, ErrDuplicatePending
	}
	if err != nil {
		return nil, fmt.Errorf("insert approval %s/%s: %w", a.AgentID, a.Action, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert approval %s/%s: %w", a.AgentID, a.Action, err)
	}
	return s.GetApproval(ctx, id)
}

// GetApproval returns the approval with the given id, or ErrNotFound.
func (s *Store) GetApproval(ctx context.Context, id int64) (*model.ApprovalRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM approvals WHERE id = ?`, approvalColumns)
	a, err := scanApproval(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get approval %d: %w", id, err)
	}
	return a, nil
}

// GetPendingApproval returns the single pending record for (agent, action),
// or ErrNotFound when none is open.
func (s *Store) GetPendingApproval(ctx context.Context, agentID, action string) (*model.ApprovalRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM approvals WHERE agent_id = ? AND action = ? AND status = ?`,
		approvalColumns)
	a, err := scanApproval(s.db.QueryRowContext(ctx, query,
		agentID, action, string(model.ApprovalPending)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending approval %s/%s: %w", agentID, action, err)
	}
	return a, nil
}

// GetLatestApproval returns the most recent record for (agent, action) with
// the given status, or ErrNotFound.
func (s *Store) GetLatestApproval(ctx context.Context, agentID, action string, status model.ApprovalStatus) (*model.ApprovalRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM approvals WHERE agent_id = ? AND action = ? AND status = ?
		ORDER BY requested_at DESC, id DESC LIMIT 1`, approvalColumns)
	a, err := scanApproval(s.db.QueryRowContext(ctx, query, agentID, action, string(status)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest approval %s/%s: %w", agentID, action, err)
	}
	return a, nil
}

// ListApprovalsByStatus returns records with the given status, oldest first.
// An empty status lists everything.
func (s *Store) ListApprovalsByStatus(ctx context.Context, status model.ApprovalStatus) ([]model.ApprovalRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM approvals WHERE status = ? ORDER BY requested_at, id`, approvalColumns)
	args := []any{string(status)}
	if status == "" {
		query = fmt.Sprintf(`SELECT %s FROM approvals ORDER BY requested_at, id`, approvalColumns)
		args = nil
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	var out []model.ApprovalRecord
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// DecideApproval moves a record out of pending. The WHERE status='pending'
// guard makes the transition conditional: a record already decided (or
// expired by a concurrent policy edit) is left untouched and the caller gets
// applied=false plus the record's current state.
func (s *Store) DecideApproval(ctx context.Context, id int64, status model.ApprovalStatus, decidedBy, note string, at time.Time) (*model.ApprovalRecord, bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, decided_by = ?, decided_at = ?, note = ?
		WHERE id = ? AND status = ?`,
		string(status), decidedBy, fmtTime(at), note, id, string(model.ApprovalPending))
	if err != nil {
		return nil, false, fmt.Errorf("decide approval %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("decide approval %d: %w", id, err)
	}
	a, err := s.GetApproval(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return a, n > 0, nil
}

// ShiftApproval transitions a single record to risk_shift if it is still in
// the expected status. Used by the watchdog when an agent's band moves out
// from under an open or granted approval.
func (s *Store) ShiftApproval(ctx context.Context, id int64, from model.ApprovalStatus, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE approvals SET status = ?, decided_at = ? WHERE id = ? AND status = ?`,
		string(model.ApprovalRiskShift), fmtTime(at), id, string(from))
	if err != nil {
		return false, fmt.Errorf("shift approval %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListActiveApprovalsForAgent returns the agent's pending and approved
// records, the population the watchdog re-checks after a band change.
func (s *Store) ListActiveApprovalsForAgent(ctx context.Context, agentID string) ([]model.ApprovalRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM approvals WHERE agent_id = ? AND status IN (?, ?) ORDER BY id`,
		approvalColumns)
	rows, err := s.db.QueryContext(ctx, query, agentID,
		string(model.ApprovalPending), string(model.ApprovalApproved))
	if err != nil {
		return nil, fmt.Errorf("list active approvals %s: %w", agentID, err)
	}
	defer rows.Close()

	var out []model.ApprovalRecord
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}
