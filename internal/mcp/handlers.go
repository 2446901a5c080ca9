package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/ppiankov/bandwatch/internal/approval"
	"github.com/ppiankov/bandwatch/internal/engine"
	"github.com/ppiankov/bandwatch/internal/model"
)

// CheckInput defines parameters for the bandwatch_check tool.
type CheckInput struct {
	AgentID string `json:"agent_id,omitempty" jsonschema:"agent identity, defaults to the server's configured agent"`
	Action  string `json:"action" jsonschema:"action the agent wants to perform"`
	Prompt  string `json:"prompt,omitempty" jsonschema:"prompt or task context for the approval request"`
}

// CheckOutput contains the governance decision.
type CheckOutput struct {
	Outcome        string   `json:"outcome"`
	Band           string   `json:"band"`
	Score          int      `json:"score"`
	Reasons        []string `json:"reasons,omitempty"`
	Violations     []string `json:"violations,omitempty"`
	SystemHeader   string   `json:"system_header,omitempty"`
	ApprovalID     int64    `json:"approval_id,omitempty"`
	ApprovalStatus string   `json:"approval_status,omitempty"`
}

// PendingInput is empty — no parameters needed.
type PendingInput struct{}

// PendingOutput lists approvals awaiting a decision.
type PendingOutput struct {
	Approvals []PendingItem `json:"approvals"`
}

// PendingItem describes a single approval request.
type PendingItem struct {
	ID          int64  `json:"id"`
	AgentID     string `json:"agent_id"`
	Action      string `json:"action"`
	Band        string `json:"band"`
	RequestedBy string `json:"requested_by,omitempty"`
	RequestedAt string `json:"requested_at"`
}

// DecideInput defines parameters for the bandwatch_decide tool.
type DecideInput struct {
	ID        int64  `json:"id" jsonschema:"approval id from bandwatch_pending"`
	Status    string `json:"status" jsonschema:"approved or rejected"`
	DecidedBy string `json:"decided_by" jsonschema:"reviewer identity"`
	Note      string `json:"note,omitempty" jsonschema:"optional reviewer note"`
}

// DecideOutput confirms the decision.
type DecideOutput struct {
	ID     int64  `json:"id"`
	Status string `json:"status"`
}

func (s *Server) handleCheck(ctx context.Context, req *mcpsdk.CallToolRequest, input CheckInput) (*mcpsdk.CallToolResult, CheckOutput, error) {
	agentID := input.AgentID
	if agentID == "" {
		agentID = s.agentID
	}
	if agentID == "" || input.Action == "" {
		return nil, CheckOutput{}, fmt.Errorf("agent_id and action are required")
	}

	dec, err := s.engine.Evaluate(ctx, engine.Request{
		AgentID: agentID,
		Action:  input.Action,
		Prompt:  input.Prompt,
	})
	if err != nil && !errors.Is(err, engine.ErrUnavailable) {
		return nil, CheckOutput{}, err
	}
	// Unavailability still yields a blocked decision; surface it as a
	// normal (fail-closed) result rather than a tool error.
	return nil, CheckOutput{
		Outcome:        string(dec.Outcome),
		Band:           string(dec.Band),
		Score:          dec.Score,
		Reasons:        dec.Reasons,
		Violations:     dec.Violations,
		SystemHeader:   dec.SystemHeader,
		ApprovalID:     dec.ApprovalID,
		ApprovalStatus: string(dec.ApprovalStatus),
	}, nil
}

func (s *Server) handlePending(ctx context.Context, req *mcpsdk.CallToolRequest, input PendingInput) (*mcpsdk.CallToolResult, PendingOutput, error) {
	recs, err := s.engine.Ledger().ListByStatus(ctx, model.ApprovalPending)
	if err != nil {
		return nil, PendingOutput{}, err
	}
	out := PendingOutput{}
	for _, rec := range recs {
		out.Approvals = append(out.Approvals, PendingItem{
			ID:          rec.ID,
			AgentID:     rec.AgentID,
			Action:      rec.Action,
			Band:        string(rec.Band),
			RequestedBy: rec.RequestedBy,
			RequestedAt: rec.RequestedAt.UTC().Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

func (s *Server) handleDecide(ctx context.Context, req *mcpsdk.CallToolRequest, input DecideInput) (*mcpsdk.CallToolResult, DecideOutput, error) {
	rec, err := s.engine.Ledger().Decide(ctx, input.ID,
		model.ApprovalStatus(input.Status), input.DecidedBy, input.Note, time.Now())
	if err != nil {
		var invalid *approval.InvalidTransitionError
		if errors.As(err, &invalid) {
			return nil, DecideOutput{}, fmt.Errorf("approval %d already %s", invalid.ID, invalid.Status)
		}
		return nil, DecideOutput{}, err
	}
	return nil, DecideOutput{ID: rec.ID, Status: string(rec.Status)}, nil
}
