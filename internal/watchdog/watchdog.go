// Package watchdog runs the periodic rescoring pass: every agent is scored
// under the current config, band changes are detected, and any open or
// granted approval belonging to a drifted agent is invalidated (risk_shift)
// so a stale sign-off can never keep authorizing a riskier agent.
package watchdog

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/bandwatch/internal/alert"
	"github.com/ppiankov/bandwatch/internal/audit"
	"github.com/ppiankov/bandwatch/internal/engine"
	"github.com/ppiankov/bandwatch/internal/model"
	"github.com/ppiankov/bandwatch/internal/store"
)

// Watchdog drives rescoring runs over the engine and store.
type Watchdog struct {
	engine *engine.Engine
	store  *store.Store
	audit  *audit.Log
	alerts *alert.Dispatcher
}

func New(e *engine.Engine, s *store.Store, log *audit.Log, alerts *alert.Dispatcher) *Watchdog {
	return &Watchdog{engine: e, store: s, audit: log, alerts: alerts}
}

// RunOnce performs one full pass and appends exactly one run record, drift
// or no drift. Partial failures still produce a record covering the work
// done before the failure.
func (w *Watchdog) RunOnce(ctx context.Context) (*model.WatchdogRun, error) {
	run := model.WatchdogRun{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}

	rescored, drifts, scanErr := w.engine.RescoreAll(ctx)
	run.Rescored = rescored
	run.Drifts = drifts

	var shiftErr error
	for _, d := range drifts {
		if err := w.shiftAgent(ctx, d, run.ID); err != nil && shiftErr == nil {
			shiftErr = err
		}
	}

	run.FinishedAt = time.Now()
	if err := w.store.InsertWatchdogRun(ctx, run); err != nil {
		return &run, err
	}
	w.record(run)

	if scanErr != nil {
		return &run, fmt.Errorf("watchdog run %s: rescore: %w", run.ID, scanErr)
	}
	if shiftErr != nil {
		return &run, fmt.Errorf("watchdog run %s: shift approvals: %w", run.ID, shiftErr)
	}
	return &run, nil
}

// shiftAgent invalidates the drifted agent's pending and approved records
// and emits a drift alert.
func (w *Watchdog) shiftAgent(ctx context.Context, d model.BandDrift, runID string) error {
	now := time.Now()
	active, err := w.store.ListActiveApprovalsForAgent(ctx, d.AgentID)
	if err != nil {
		return err
	}
	for _, rec := range active {
		if _, err := w.store.ShiftApproval(ctx, rec.ID, rec.Status, now); err != nil {
			return err
		}
	}

	if w.alerts != nil {
		w.alerts.Dispatch(alert.Event{
			Timestamp: now.UTC().Format(time.RFC3339),
			Type:      alert.EventBandDrift,
			AgentID:   d.AgentID,
			Band:      string(d.To),
			Reason:    fmt.Sprintf("band moved %s -> %s, %d approval(s) invalidated", d.From, d.To, len(active)),
			RunID:     runID,
		})
	}
	return nil
}

func (w *Watchdog) record(run model.WatchdogRun) {
	if w.audit == nil {
		return
	}
	var parts []string
	for _, d := range run.Drifts {
		parts = append(parts, fmt.Sprintf("%s:%s->%s", d.AgentID, d.From, d.To))
	}
	reason := fmt.Sprintf("rescored %d agent(s)", run.Rescored)
	if len(parts) > 0 {
		reason += ": " + strings.Join(parts, "; ")
	}
	if err := w.audit.Record(audit.Entry{
		Kind:   audit.KindWatchdogRun,
		RunID:  run.ID,
		Reason: reason,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "bandwatch: audit append failed: %v\n", err)
	}
}

// Start runs RunOnce on the given interval until ctx is cancelled. Errors
// are logged and the ticker keeps going.
func (w *Watchdog) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if run, err := w.RunOnce(ctx); err != nil {
				fmt.Fprintf(os.Stderr, "bandwatch: watchdog run failed: %v\n", err)
			} else if len(run.Drifts) > 0 {
				fmt.Fprintf(os.Stderr, "bandwatch: watchdog run %s: %d rescored, %d drifted\n",
					run.ID, run.Rescored, len(run.Drifts))
			}
		}
	}
}
