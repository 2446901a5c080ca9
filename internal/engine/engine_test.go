package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/bandwatch/internal/model"
	"github.com/ppiankov/bandwatch/internal/policy"
	"github.com/ppiankov/bandwatch/internal/risk"
	"github.com/ppiankov/bandwatch/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return New(s, risk.DefaultConfig(), "sha256:test", Options{}), s
}

func putSignals(t *testing.T, s *store.Store, agentID string, sig model.SignalSet) {
	t.Helper()
	if sig.SourceTS.IsZero() {
		sig.SourceTS = time.Now()
	}
	if _, err := s.PutSignals(context.Background(), agentID, sig); err != nil {
		t.Fatal(err)
	}
}

func greenSignals() model.SignalSet {
	return model.SignalSet{
		DataClass:   model.DataPublic,
		OutputScope: []string{model.ScopeInternalOnly},
		Autonomy:    model.AutonomyReadOnly,
		Reach:       model.ReachIndividual,
	}
}

func amberSignals() model.SignalSet {
	return model.SignalSet{
		DataClass:   model.DataConfidential,
		OutputScope: []string{model.ScopeInternalOnly},
		Autonomy:    model.AutonomyReadOnly,
		Reach:       model.ReachIndividual,
	}
}

func TestGreenAgentAllowedWithHeader(t *testing.T) {
	eng, s := newTestEngine(t)
	putSignals(t, s, "a1", greenSignals())

	dec, err := eng.Evaluate(context.Background(), Request{AgentID: "a1", Action: "summarize"})
	if err != nil {
		t.Fatal(err)
	}
	if dec.Outcome != model.OutcomeAllowed {
		t.Fatalf("outcome = %s, want allowed (reasons: %v)", dec.Outcome, dec.Reasons)
	}
	if dec.Band != model.BandGreen {
		t.Errorf("band = %s, want green", dec.Band)
	}
	if dec.SystemHeader == "" {
		t.Error("allowed decision missing system header")
	}
	if !strings.Contains(dec.SystemHeader, "internal systems") {
		t.Errorf("header missing egress line: %q", dec.SystemHeader)
	}
}

func TestUnknownAgentScoresFailClosedIntoApproval(t *testing.T) {
	eng, _ := newTestEngine(t)

	dec, err := eng.Evaluate(context.Background(), Request{AgentID: "ghost", Action: "send_email"})
	if err != nil {
		t.Fatal(err)
	}
	if dec.Band != model.BandAmber {
		t.Fatalf("band = %s, want amber for fully-unknown agent", dec.Band)
	}
	if dec.Score != 45 {
		t.Errorf("score = %d, want 45", dec.Score)
	}
	if dec.SignalCoverage != 0 {
		t.Errorf("coverage = %d, want 0", dec.SignalCoverage)
	}
	if dec.Outcome != model.OutcomeApprovalRequired {
		t.Errorf("outcome = %s, want approval_required", dec.Outcome)
	}
	if dec.ApprovalID == 0 {
		t.Error("no approval record created")
	}
}

func TestApprovalWorkflow(t *testing.T) {
	eng, s := newTestEngine(t)
	putSignals(t, s, "a1", amberSignals())
	ctx := context.Background()
	req := Request{AgentID: "a1", Action: "send_email", RequestedBy: "bot"}

	// Amber band under the default posture requires approval
	dec, err := eng.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Outcome != model.OutcomeApprovalRequired {
		t.Fatalf("outcome = %s, want approval_required (reasons: %v)", dec.Outcome, dec.Reasons)
	}
	approvalID := dec.ApprovalID

	// Re-evaluating reuses the open record instead of stacking duplicates
	again, err := eng.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if again.ApprovalID != approvalID {
		t.Errorf("second evaluate created approval %d, want reuse of %d", again.ApprovalID, approvalID)
	}

	// A human approves; the next evaluate is allowed and says who signed off
	if _, err := eng.Ledger().Decide(ctx, approvalID, model.ApprovalApproved, "alice", "", time.Now()); err != nil {
		t.Fatal(err)
	}
	allowed, err := eng.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if allowed.Outcome != model.OutcomeAllowed {
		t.Fatalf("outcome after approval = %s, want allowed (reasons: %v)", allowed.Outcome, allowed.Reasons)
	}
	found := false
	for _, r := range allowed.Reasons {
		if r == "approved_by=alice" {
			found = true
		}
	}
	if !found {
		t.Errorf("reasons missing approved_by: %v", allowed.Reasons)
	}
	if allowed.SystemHeader == "" {
		t.Error("approved decision missing system header")
	}
}

func TestRejectionDoesNotBlockRetry(t *testing.T) {
	eng, s := newTestEngine(t)
	putSignals(t, s, "a1", amberSignals())
	ctx := context.Background()
	req := Request{AgentID: "a1", Action: "send_email"}

	dec, err := eng.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Ledger().Decide(ctx, dec.ApprovalID, model.ApprovalRejected, "alice", "not now", time.Now()); err != nil {
		t.Fatal(err)
	}

	retry, err := eng.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if retry.Outcome != model.OutcomeApprovalRequired {
		t.Fatalf("outcome after rejection = %s, want approval_required", retry.Outcome)
	}
	if retry.ApprovalID == dec.ApprovalID {
		t.Error("rejected record was reused instead of opening a fresh one")
	}
}

func TestRedAutonomousAgentBlocked(t *testing.T) {
	eng, s := newTestEngine(t)
	putSignals(t, s, "a1", model.SignalSet{
		DataClass:     model.DataConfidential,
		OutputScope:   []string{model.ScopeExternalAPI},
		Autonomy:      model.AutonomyAutoAction,
		Reach:         model.ReachOrgWide,
		ExternalTools: []string{"slack"},
	})

	dec, err := eng.Evaluate(context.Background(), Request{AgentID: "a1", Action: "send_email"})
	if err != nil {
		t.Fatal(err)
	}
	if dec.Outcome != model.OutcomeBlocked {
		t.Fatalf("outcome = %s, want blocked", dec.Outcome)
	}
	if dec.Band != model.BandRed {
		t.Errorf("band = %s, want red", dec.Band)
	}
	if dec.SystemHeader != "" {
		t.Error("blocked decision carries a system header")
	}
	if len(dec.Violations) == 0 {
		t.Error("expected safeguard violations")
	}
}

func TestPolicyEditExpiresGrant(t *testing.T) {
	eng, s := newTestEngine(t)
	putSignals(t, s, "a1", amberSignals())
	ctx := context.Background()
	req := Request{AgentID: "a1", Action: "send_email"}

	dec, err := eng.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Ledger().Decide(ctx, dec.ApprovalID, model.ApprovalApproved, "alice", "", time.Now()); err != nil {
		t.Fatal(err)
	}

	// Widening the approval posture expires the grant and bumps the version
	appr := model.BandFlags{Green: true, Amber: true, Red: true}
	res, err := eng.Matrix().Update(ctx, "send_email", policy.UpdatePatch{Approve: &appr})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Expired) != 1 {
		t.Fatalf("expired %d records, want 1", len(res.Expired))
	}

	// The stale grant no longer authorizes; a fresh pending opens
	after, err := eng.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if after.Outcome != model.OutcomeApprovalRequired {
		t.Fatalf("outcome after edit = %s, want approval_required", after.Outcome)
	}
	if after.ApprovalID == dec.ApprovalID {
		t.Error("expired record was reused")
	}
}

func TestBandDriftInvalidatesGrantInline(t *testing.T) {
	eng, s := newTestEngine(t)
	putSignals(t, s, "a1", amberSignals())
	ctx := context.Background()
	req := Request{AgentID: "a1", Action: "export_report"}

	// Open the action and widen its rule so red stays evaluable
	if _, err := eng.Evaluate(ctx, req); err != nil {
		t.Fatal(err)
	}
	allow := model.BandFlags{Green: true, Amber: true, Red: true}
	appr := model.BandFlags{Amber: true, Red: true}
	if _, err := eng.Matrix().Update(ctx, "export_report", policy.UpdatePatch{Allow: &allow, Approve: &appr}); err != nil {
		t.Fatal(err)
	}

	dec, err := eng.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := eng.Ledger().Decide(ctx, dec.ApprovalID, model.ApprovalApproved, "alice", "", time.Now()); err != nil {
		t.Fatal(err)
	}

	// The agent's risk rises to red; the amber grant must not carry over
	putSignals(t, s, "a1", model.SignalSet{
		DataClass:     model.DataConfidential,
		OutputScope:   []string{model.ScopeExternalAPI},
		Autonomy:      model.AutonomyReadOnly,
		Reach:         model.ReachOrgWide,
		ExternalTools: []string{"slack"},
		SourceTS:      time.Now().Add(time.Minute),
	})

	after, err := eng.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if after.Band != model.BandRed {
		t.Fatalf("band = %s, want red", after.Band)
	}
	if after.Outcome != model.OutcomeApprovalRequired {
		t.Fatalf("outcome = %s, want approval_required", after.Outcome)
	}
	if after.ApprovalID == dec.ApprovalID {
		t.Error("amber grant survived a band shift")
	}

	shifted, err := s.GetApproval(ctx, dec.ApprovalID)
	if err != nil {
		t.Fatal(err)
	}
	if shifted.Status != model.ApprovalRiskShift {
		t.Errorf("old grant status = %s, want risk_shift", shifted.Status)
	}
}

func TestBandDriftShiftsPendingRequest(t *testing.T) {
	eng, s := newTestEngine(t)
	putSignals(t, s, "a1", amberSignals())
	ctx := context.Background()
	req := Request{AgentID: "a1", Action: "export_report"}

	// Open the action and widen its rule so red stays evaluable
	if _, err := eng.Evaluate(ctx, req); err != nil {
		t.Fatal(err)
	}
	allow := model.BandFlags{Green: true, Amber: true, Red: true}
	appr := model.BandFlags{Amber: true, Red: true}
	if _, err := eng.Matrix().Update(ctx, "export_report", policy.UpdatePatch{Allow: &allow, Approve: &appr}); err != nil {
		t.Fatal(err)
	}

	// Leave the amber request pending, then drive the agent to red
	dec, err := eng.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if dec.Outcome != model.OutcomeApprovalRequired {
		t.Fatalf("outcome = %s, want approval_required", dec.Outcome)
	}
	putSignals(t, s, "a1", model.SignalSet{
		DataClass:     model.DataConfidential,
		OutputScope:   []string{model.ScopeExternalAPI},
		Autonomy:      model.AutonomyReadOnly,
		Reach:         model.ReachOrgWide,
		ExternalTools: []string{"slack"},
		SourceTS:      time.Now().Add(time.Minute),
	})

	after, err := eng.Evaluate(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if after.Band != model.BandRed {
		t.Fatalf("band = %s, want red", after.Band)
	}
	if after.ApprovalID == dec.ApprovalID {
		t.Error("amber pending request survived a band shift")
	}

	shifted, err := s.GetApproval(ctx, dec.ApprovalID)
	if err != nil {
		t.Fatal(err)
	}
	if shifted.Status != model.ApprovalRiskShift {
		t.Errorf("old request status = %s, want risk_shift", shifted.Status)
	}
	fresh, err := s.GetApproval(ctx, after.ApprovalID)
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Band != model.BandRed {
		t.Errorf("fresh request band = %s, want red", fresh.Band)
	}
}

func TestStorageFailureBlocksFailClosed(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	eng := New(s, risk.DefaultConfig(), "sha256:test", Options{})
	s.Close()

	dec, err := eng.Evaluate(context.Background(), Request{AgentID: "a1", Action: "send_email"})
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if dec == nil || dec.Outcome != model.OutcomeBlocked {
		t.Fatalf("expected blocked decision, got %+v", dec)
	}
	if dec.SystemHeader != "" {
		t.Error("fail-closed decision carries a system header")
	}
}

func TestConfigSwapRecomputesLazily(t *testing.T) {
	eng, s := newTestEngine(t)
	putSignals(t, s, "a1", amberSignals())
	ctx := context.Background()

	dec, err := eng.Evaluate(ctx, Request{AgentID: "a1", Action: "summarize"})
	if err != nil {
		t.Fatal(err)
	}
	if dec.Band != model.BandAmber {
		t.Fatalf("band = %s, want amber", dec.Band)
	}

	// Raising the amber threshold above the agent's score moves it to green
	cfg := risk.DefaultConfig()
	cfg.Thresholds.Amber = 60
	eng.SetRiskConfig(cfg, "sha256:test2")

	after, err := eng.Evaluate(ctx, Request{AgentID: "a1", Action: "summarize"})
	if err != nil {
		t.Fatal(err)
	}
	if after.Band != model.BandGreen {
		t.Errorf("band after config swap = %s, want green", after.Band)
	}
	if after.Outcome != model.OutcomeAllowed {
		t.Errorf("outcome = %s, want allowed", after.Outcome)
	}
}
