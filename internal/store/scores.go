package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ppiankov/bandwatch/internal/model"
)

// PutScore stores the latest risk score for an agent (one row per agent).
func (s *Store) PutScore(ctx context.Context, sc model.RiskScore) error {
	query := `INSERT INTO scores (agent_id, score, band, reasons, computed_at, signal_ts, config_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			score       = excluded.score,
			band        = excluded.band,
			reasons     = excluded.reasons,
			computed_at = excluded.computed_at,
			signal_ts   = excluded.signal_ts,
			config_hash = excluded.config_hash`

	_, err := s.db.ExecContext(ctx, query,
		sc.AgentID, sc.Score, string(sc.Band), marshalJSON(sc.Reasons),
		fmtTime(sc.ComputedAt), fmtTime(sc.SignalTS), sc.ConfigHash,
	)
	if err != nil {
		return fmt.Errorf("put score for %q: %w", sc.AgentID, err)
	}
	return nil
}

// GetScore returns the latest risk score for the agent, or ErrNotFound.
func (s *Store) GetScore(ctx context.Context, agentID string) (*model.RiskScore, error) {
	query := `SELECT agent_id, score, band, reasons, computed_at, signal_ts, config_hash
		FROM scores WHERE agent_id = ?`

	var sc model.RiskScore
	var band, reasons, computed, signalTS string
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(
		&sc.AgentID, &sc.Score, &band, &reasons, &computed, &signalTS, &sc.ConfigHash,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get score for %q: %w", agentID, err)
	}
	sc.Band = model.Band(band)
	sc.Reasons = unmarshalStrings(reasons)
	sc.ComputedAt = parseTime(computed)
	sc.SignalTS = parseTime(signalTS)
	return &sc, nil
}

// BandCounts returns the number of agents currently in each band.
func (s *Store) BandCounts(ctx context.Context) (map[model.Band]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT band, COUNT(*) FROM scores GROUP BY band`)
	if err != nil {
		return nil, fmt.Errorf("band counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.Band]int)
	for rows.Next() {
		var band string
		var n int
		if err := rows.Scan(&band, &n); err != nil {
			return nil, err
		}
		counts[model.Band(band)] = n
	}
	return counts, rows.Err()
}
