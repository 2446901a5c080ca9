package mcp

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/bandwatch/internal/model"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()
	s, err := New(Config{
		DBPath:         filepath.Join(dir, "test.db"),
		RiskConfigPath: filepath.Join(dir, "risk.yaml"), // missing, defaults apply
		AgentID:        "default-bot",
	})
	if err != nil {
		t.Fatalf("failed to create MCP server: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func putGreenSignals(t *testing.T, s *Server, agentID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()
	if err := s.store.UpsertAgent(ctx, model.Agent{
		ID: agentID, DLPTemplate: "projects/p/deidentifyTemplates/t",
		CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}
	_, err := s.store.PutSignals(ctx, agentID, model.SignalSet{
		DataClass:   model.DataPublic,
		OutputScope: []string{"internal_only"},
		Autonomy:    model.AutonomyReadOnly,
		Reach:       model.ReachIndividual,
		SourceTS:    now,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCheckAllowedAgent(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	putGreenSignals(t, s, "green-bot")

	_, out, err := s.handleCheck(ctx, &mcpsdk.CallToolRequest{}, CheckInput{
		AgentID: "green-bot",
		Action:  "lookup_order",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Outcome != "allowed" {
		t.Fatalf("expected allowed, got %q (%v)", out.Outcome, out.Reasons)
	}
	if out.Band != "green" {
		t.Fatalf("expected green band, got %q", out.Band)
	}
	if !strings.HasPrefix(out.SystemHeader, "SYSTEM:") {
		t.Fatalf("expected system header, got %q", out.SystemHeader)
	}
}

func TestCheckUnknownAgentNeedsApproval(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	// No signals at all: fail-closed scoring lands the agent in amber
	// and the default posture requires approval.
	_, out, err := s.handleCheck(ctx, &mcpsdk.CallToolRequest{}, CheckInput{
		AgentID: "ghost-bot",
		Action:  "send_email",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Outcome != "approval_required" {
		t.Fatalf("expected approval_required, got %q (%v)", out.Outcome, out.Reasons)
	}
	if out.ApprovalID == 0 {
		t.Fatal("expected an approval id")
	}
}

func TestCheckUsesConfiguredAgentDefault(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	putGreenSignals(t, s, "default-bot")

	_, out, err := s.handleCheck(ctx, &mcpsdk.CallToolRequest{}, CheckInput{
		Action: "lookup_order",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Outcome != "allowed" {
		t.Fatalf("expected allowed for configured agent, got %q (%v)", out.Outcome, out.Reasons)
	}
}

func TestCheckRequiresAction(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, _, err := s.handleCheck(ctx, &mcpsdk.CallToolRequest{}, CheckInput{AgentID: "x"})
	if err == nil {
		t.Fatal("expected error for missing action")
	}
}

func TestPendingAndDecide(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	// Create a pending approval through a check.
	_, checkOut, err := s.handleCheck(ctx, &mcpsdk.CallToolRequest{}, CheckInput{
		AgentID: "ghost-bot",
		Action:  "send_email",
		Prompt:  "send the weekly digest",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if checkOut.ApprovalID == 0 {
		t.Fatal("expected an approval id from check")
	}

	_, pendingOut, err := s.handlePending(ctx, &mcpsdk.CallToolRequest{}, PendingInput{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pendingOut.Approvals) != 1 {
		t.Fatalf("expected 1 pending approval, got %d", len(pendingOut.Approvals))
	}
	if pendingOut.Approvals[0].ID != checkOut.ApprovalID {
		t.Fatalf("pending list id %d does not match check id %d",
			pendingOut.Approvals[0].ID, checkOut.ApprovalID)
	}

	_, decideOut, err := s.handleDecide(ctx, &mcpsdk.CallToolRequest{}, DecideInput{
		ID:        checkOut.ApprovalID,
		Status:    "approved",
		DecidedBy: "alice",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decideOut.Status != "approved" {
		t.Fatalf("expected approved, got %q", decideOut.Status)
	}

	// Approved grant now authorizes the action.
	_, afterOut, err := s.handleCheck(ctx, &mcpsdk.CallToolRequest{}, CheckInput{
		AgentID: "ghost-bot",
		Action:  "send_email",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if afterOut.Outcome != "allowed" {
		t.Fatalf("expected allowed after approval, got %q (%v)", afterOut.Outcome, afterOut.Reasons)
	}
}

func TestDecideTwiceReportsCurrentStatus(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, checkOut, err := s.handleCheck(ctx, &mcpsdk.CallToolRequest{}, CheckInput{
		AgentID: "ghost-bot",
		Action:  "send_email",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, _, err := s.handleDecide(ctx, &mcpsdk.CallToolRequest{}, DecideInput{
		ID: checkOut.ApprovalID, Status: "rejected", DecidedBy: "alice",
	}); err != nil {
		t.Fatalf("first decide failed: %v", err)
	}

	_, _, err = s.handleDecide(ctx, &mcpsdk.CallToolRequest{}, DecideInput{
		ID: checkOut.ApprovalID, Status: "approved", DecidedBy: "bob",
	})
	if err == nil {
		t.Fatal("expected error on second decide")
	}
	if !strings.Contains(err.Error(), "already rejected") {
		t.Fatalf("expected current status in error, got %q", err.Error())
	}
}

func TestToolRegistration(t *testing.T) {
	s := newTestServer(t)
	if s.mcpServer == nil {
		t.Fatal("expected MCP server to be initialized")
	}
}
