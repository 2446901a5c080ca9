package watchdog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ppiankov/bandwatch/internal/engine"
	"github.com/ppiankov/bandwatch/internal/model"
	"github.com/ppiankov/bandwatch/internal/risk"
	"github.com/ppiankov/bandwatch/internal/store"
)

func newTestWatchdog(t *testing.T) (*Watchdog, *engine.Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	eng := engine.New(s, risk.DefaultConfig(), "sha256:test", engine.Options{})
	return New(eng, s, nil, nil), eng, s
}

func seedAgent(t *testing.T, s *store.Store, id string, sig model.SignalSet) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	if err := s.UpsertAgent(ctx, model.Agent{ID: id, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if sig.SourceTS.IsZero() {
		sig.SourceTS = now
	}
	if _, err := s.PutSignals(ctx, id, sig); err != nil {
		t.Fatal(err)
	}
}

func TestRunOnceRecordsQuietRun(t *testing.T) {
	w, _, s := newTestWatchdog(t)
	ctx := context.Background()

	seedAgent(t, s, "a1", model.SignalSet{
		DataClass:   model.DataPublic,
		OutputScope: []string{model.ScopeInternalOnly},
		Autonomy:    model.AutonomyReadOnly,
		Reach:       model.ReachIndividual,
	})

	run, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if run.Rescored != 1 {
		t.Errorf("rescored = %d, want 1", run.Rescored)
	}
	if len(run.Drifts) != 0 {
		t.Errorf("unexpected drifts: %v", run.Drifts)
	}

	// Even a quiet run leaves a record
	runs, err := s.ListWatchdogRuns(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d run records, want 1", len(runs))
	}
	if runs[0].ID != run.ID {
		t.Errorf("recorded run id %s, want %s", runs[0].ID, run.ID)
	}
}

func TestRunOnceShiftsApprovalsOfDriftedAgents(t *testing.T) {
	w, eng, s := newTestWatchdog(t)
	ctx := context.Background()

	seedAgent(t, s, "a1", model.SignalSet{
		DataClass:   model.DataConfidential,
		OutputScope: []string{model.ScopeInternalOnly},
		Autonomy:    model.AutonomyReadOnly,
		Reach:       model.ReachIndividual,
	})

	// Amber agent requests an approval-gated action; a human grants it
	dec, err := eng.Evaluate(ctx, engine.Request{AgentID: "a1", Action: "send_email"})
	if err != nil {
		t.Fatal(err)
	}
	if dec.Outcome != model.OutcomeApprovalRequired {
		t.Fatalf("setup: outcome = %s", dec.Outcome)
	}
	if _, err := eng.Ledger().Decide(ctx, dec.ApprovalID, model.ApprovalApproved, "alice", "", time.Now()); err != nil {
		t.Fatal(err)
	}

	// Tighter thresholds push the agent from amber into red
	cfg := risk.DefaultConfig()
	cfg.Thresholds = risk.Thresholds{Amber: 20, Red: 45}
	eng.SetRiskConfig(cfg, "sha256:tight")

	run, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(run.Drifts) != 1 {
		t.Fatalf("drifts = %v, want one", run.Drifts)
	}
	if run.Drifts[0].From != model.BandAmber || run.Drifts[0].To != model.BandRed {
		t.Errorf("drift = %+v, want amber -> red", run.Drifts[0])
	}

	got, err := s.GetApproval(ctx, dec.ApprovalID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.ApprovalRiskShift {
		t.Errorf("grant status = %s, want risk_shift", got.Status)
	}
}

func TestRunOnceWithNoAgents(t *testing.T) {
	w, _, s := newTestWatchdog(t)

	run, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if run.Rescored != 0 || len(run.Drifts) != 0 {
		t.Errorf("empty run: %+v", run)
	}
	runs, err := s.ListWatchdogRuns(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("got %d run records, want 1", len(runs))
	}
}
