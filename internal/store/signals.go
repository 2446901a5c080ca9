package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ppiankov/bandwatch/internal/model"
)

// PutSignals writes an agent's signal set conditionally on its source
// timestamp: an update older than the stored one is reported as not applied,
// never written. This is the compare-and-swap that makes concurrent,
// out-of-order ingestion safe without explicit versioning.
func (s *Store) PutSignals(ctx context.Context, agentID string, sig model.SignalSet) (applied bool, err error) {
	now := fmtTime(time.Now())
	query := `INSERT INTO signals (agent_id, data_class, output_scope, autonomy, reach, external_tools, source_ts, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			data_class     = excluded.data_class,
			output_scope   = excluded.output_scope,
			autonomy       = excluded.autonomy,
			reach          = excluded.reach,
			external_tools = excluded.external_tools,
			source_ts      = excluded.source_ts,
			updated_at     = excluded.updated_at
		WHERE excluded.source_ts > signals.source_ts`

	res, err := s.db.ExecContext(ctx, query,
		agentID,
		string(sig.DataClass),
		marshalJSON(sig.OutputScope),
		string(sig.Autonomy),
		string(sig.Reach),
		marshalJSON(sig.ExternalTools),
		fmtTime(sig.SourceTS),
		now,
	)
	if err != nil {
		return false, fmt.Errorf("put signals for %q: %w", agentID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetSignals returns the latest signal set for the agent, or ErrNotFound.
func (s *Store) GetSignals(ctx context.Context, agentID string) (*model.SignalSet, error) {
	query := `SELECT data_class, output_scope, autonomy, reach, external_tools, source_ts
		FROM signals WHERE agent_id = ?`

	var dataClass, scope, autonomy, reach, tools, sourceTS string
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(
		&dataClass, &scope, &autonomy, &reach, &tools, &sourceTS,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get signals for %q: %w", agentID, err)
	}

	return &model.SignalSet{
		DataClass:     model.DataClass(dataClass),
		OutputScope:   unmarshalStrings(scope),
		Autonomy:      model.Autonomy(autonomy),
		Reach:         model.Reach(reach),
		ExternalTools: unmarshalStrings(tools),
		SourceTS:      parseTime(sourceTS),
	}, nil
}
