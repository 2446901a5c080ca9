package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/bandwatch/internal/model"
)

// UpsertAgent creates the agent on first sighting or refreshes its
// attributes. Agents are never deleted, only superseded.
func (s *Store) UpsertAgent(ctx context.Context, a model.Agent) error {
	now := fmtTime(time.Now())
	query := `INSERT INTO agents (agent_id, platform, project_id, location, owner_email, dlp_template, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			platform     = CASE WHEN excluded.platform     != '' THEN excluded.platform     ELSE agents.platform     END,
			project_id   = CASE WHEN excluded.project_id   != '' THEN excluded.project_id   ELSE agents.project_id   END,
			location     = CASE WHEN excluded.location     != '' THEN excluded.location     ELSE agents.location     END,
			owner_email  = CASE WHEN excluded.owner_email  != '' THEN excluded.owner_email  ELSE agents.owner_email  END,
			dlp_template = CASE WHEN excluded.dlp_template != '' THEN excluded.dlp_template ELSE agents.dlp_template END,
			updated_at   = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		a.ID, a.Platform, a.Project, a.Location, a.Owner, a.DLPTemplate, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert agent %q: %w", a.ID, err)
	}
	return nil
}

// GetAgent returns the agent record, or ErrNotFound.
func (s *Store) GetAgent(ctx context.Context, agentID string) (*model.Agent, error) {
	query := `SELECT agent_id, platform, project_id, location, owner_email, dlp_template, created_at, updated_at
		FROM agents WHERE agent_id = ?`

	var a model.Agent
	var created, updated string
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(
		&a.ID, &a.Platform, &a.Project, &a.Location, &a.Owner, &a.DLPTemplate, &created, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %q: %w", agentID, err)
	}
	a.CreatedAt = parseTime(created)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}

// ListAgentIDs returns all known agent ids in stable order.
func (s *Store) ListAgentIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT agent_id FROM agents ORDER BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
