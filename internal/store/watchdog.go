package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ppiankov/bandwatch/internal/model"
)

// InsertWatchdogRun appends one run record. Runs are written even when no
// band changed, so the run history doubles as a liveness record.
func (s *Store) InsertWatchdogRun(ctx context.Context, run model.WatchdogRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watchdog_runs (id, started_at, finished_at, rescored, changes, drift)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, fmtTime(run.StartedAt), fmtTime(run.FinishedAt),
		run.Rescored, len(run.Drifts), marshalJSON(run.Drifts),
	)
	if err != nil {
		return fmt.Errorf("insert watchdog run %s: %w", run.ID, err)
	}
	return nil
}

// ListWatchdogRuns returns the most recent runs, newest first.
func (s *Store) ListWatchdogRuns(ctx context.Context, limit int) ([]model.WatchdogRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, rescored, drift
		FROM watchdog_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list watchdog runs: %w", err)
	}
	defer rows.Close()

	var runs []model.WatchdogRun
	for rows.Next() {
		var run model.WatchdogRun
		var started, finished, drift string
		if err := rows.Scan(&run.ID, &started, &finished, &run.Rescored, &drift); err != nil {
			return nil, err
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		if drift != "" && drift != "[]" {
			_ = json.Unmarshal([]byte(drift), &run.Drifts)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
