// Package engine is the decision core: it joins the signal store, risk
// scorer, policy matrix, and approval ledger into a single Evaluate call
// answering "may agent X do action Y right now". Evaluation is fail-closed:
// any storage failure produces a blocked decision, never an allowed one.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/bandwatch/internal/alert"
	"github.com/ppiankov/bandwatch/internal/approval"
	"github.com/ppiankov/bandwatch/internal/audit"
	"github.com/ppiankov/bandwatch/internal/model"
	"github.com/ppiankov/bandwatch/internal/policy"
	"github.com/ppiankov/bandwatch/internal/risk"
	"github.com/ppiankov/bandwatch/internal/store"
)

// ErrUnavailable marks decisions blocked because governance state could not
// be read or written, as opposed to decisions blocked by policy.
var ErrUnavailable = errors.New("governance check unavailable")

// Request is one evaluate call.
type Request struct {
	AgentID     string
	Action      string
	RequestedBy string
	Prompt      string
	Metadata    map[string]any
}

// Options carries the optional sinks an Engine reports into.
type Options struct {
	Audit  *audit.Log
	Alerts *alert.Dispatcher
}

// Engine evaluates action requests against current governance state.
type Engine struct {
	store  *store.Store
	matrix *policy.Matrix
	ledger *approval.Ledger
	audit  *audit.Log
	alerts *alert.Dispatcher

	cfgMu   sync.RWMutex
	cfg     *risk.Config
	cfgHash string

	locks sync.Map // "agent\x00action" -> *sync.Mutex
}

func New(s *store.Store, cfg *risk.Config, cfgHash string, opts Options) *Engine {
	if cfg == nil {
		cfg = risk.DefaultConfig()
	}
	return &Engine{
		store:   s,
		matrix:  policy.NewMatrix(s),
		ledger:  approval.NewLedger(s),
		audit:   opts.Audit,
		alerts:  opts.Alerts,
		cfg:     cfg,
		cfgHash: cfgHash,
	}
}

// Matrix exposes the policy matrix for admin surfaces.
func (e *Engine) Matrix() *policy.Matrix { return e.matrix }

// Ledger exposes the approval ledger for admin surfaces.
func (e *Engine) Ledger() *approval.Ledger { return e.ledger }

// Store exposes the underlying store for read-only surfaces.
func (e *Engine) Store() *store.Store { return e.store }

// SetRiskConfig swaps the scoring config. Existing scores become stale via
// the hash mismatch and are recomputed lazily on the next evaluate, or
// eagerly by RescoreAll.
func (e *Engine) SetRiskConfig(cfg *risk.Config, hash string) {
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgHash = hash
	e.cfgMu.Unlock()
}

// RiskConfig returns the current scoring config and its hash.
func (e *Engine) RiskConfig() (*risk.Config, string) {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg, e.cfgHash
}

func (e *Engine) lock(agentID, action string) *sync.Mutex {
	key := agentID + "\x00" + action
	mu, _ := e.locks.LoadOrStore(key, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// currentScore returns an up-to-date score for the agent, recomputing and
// persisting when the stored one is missing or was computed from different
// signals or a different config.
func (e *Engine) currentScore(ctx context.Context, agentID string, sig model.SignalSet, now time.Time) (*model.RiskScore, error) {
	cfg, hash := e.RiskConfig()

	sc, err := e.store.GetScore(ctx, agentID)
	if err == nil && sc.SignalTS.Equal(sig.SourceTS) && sc.ConfigHash == hash {
		return sc, nil
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	fresh := risk.Score(agentID, sig, cfg, now)
	fresh.ConfigHash = hash
	if err := e.store.PutScore(ctx, fresh); err != nil {
		return nil, err
	}
	return &fresh, nil
}

// Evaluate runs the decision state machine for one (agent, action) attempt.
//
// The returned Decision is never nil: policy blocks return (decision, nil),
// while storage failures return a blocked decision together with an error
// wrapping ErrUnavailable so callers can tell the two apart.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*model.Decision, error) {
	dec := &model.Decision{
		AgentID: req.AgentID,
		Action:  req.Action,
		Outcome: model.OutcomeBlocked,
	}
	if req.AgentID == "" || req.Action == "" {
		dec.Reasons = []string{"agent_id and action are required"}
		return dec, fmt.Errorf("evaluate: agent_id and action are required")
	}

	mu := e.lock(req.AgentID, req.Action)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now()

	agent, err := e.store.GetAgent(ctx, req.AgentID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return e.failClosed(dec, err)
	}

	sig := model.SignalSet{}
	if got, err := e.store.GetSignals(ctx, req.AgentID); err == nil {
		sig = *got
	} else if !errors.Is(err, store.ErrNotFound) {
		return e.failClosed(dec, err)
	}
	dec.SignalCoverage = sig.Coverage()

	sc, err := e.currentScore(ctx, req.AgentID, sig, now)
	if err != nil {
		return e.failClosed(dec, err)
	}
	dec.Band = sc.Band
	dec.Score = sc.Score
	dec.Reasons = append(dec.Reasons, sc.Reasons...)

	rule, created, err := e.matrix.GetOrCreate(ctx, req.Action, now)
	if err != nil {
		return e.failClosed(dec, err)
	}
	if created {
		dec.Reasons = append(dec.Reasons, fmt.Sprintf("action %q registered with default posture, pending review", req.Action))
	}

	sg := safeguards(agent, sig, sc.Band, req.Action)
	dec.Violations = sg.Violations

	switch {
	case !rule.Allow.For(sc.Band) || sg.Block:
		dec.Outcome = model.OutcomeBlocked
		if !rule.Allow.For(sc.Band) {
			dec.Reasons = append(dec.Reasons, fmt.Sprintf("action %q is not allowed in band %s", req.Action, sc.Band))
		}
		dec.Reasons = append(dec.Reasons, sg.Violations...)

	case rule.Approve.For(sc.Band) || sg.RequireApproval:
		if err := e.resolveApproval(ctx, req, dec, sig, sc, rule, now); err != nil {
			return e.failClosed(dec, err)
		}

	default:
		dec.Outcome = model.OutcomeAllowed
	}

	if dec.Outcome == model.OutcomeAllowed {
		dec.SystemHeader = systemHeader(sig, sc.Band)
	}

	e.record(dec, sc)
	return dec, nil
}

// resolveApproval handles the approval-required branch: reuse a still-valid
// grant, reuse an open pending record, or open a new one. A pending record
// created at another band is shifted to risk_shift first, so reviewers only
// ever see requests labelled with the agent's current band. A previously
// rejected record never blocks a fresh attempt.
func (e *Engine) resolveApproval(ctx context.Context, req Request, dec *model.Decision, sig model.SignalSet, sc *model.RiskScore, rule *model.ActionRule, now time.Time) error {
	granted, err := e.store.GetLatestApproval(ctx, req.AgentID, req.Action, model.ApprovalApproved)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if granted != nil {
		if granted.Band == sc.Band && granted.RuleVersion == rule.Version {
			dec.Outcome = model.OutcomeAllowed
			dec.ApprovalID = granted.ID
			dec.ApprovalStatus = granted.Status
			by := granted.DecidedBy
			if by == "" {
				by = "admin"
			}
			dec.Reasons = append(dec.Reasons, "approved_by="+by)
			return nil
		}
		// A grant from another band no longer covers this attempt.
		if granted.Band != sc.Band {
			if _, err := e.store.ShiftApproval(ctx, granted.ID, model.ApprovalApproved, now); err != nil {
				return err
			}
			dec.Reasons = append(dec.Reasons,
				fmt.Sprintf("previous approval invalidated: band moved %s -> %s", granted.Band, sc.Band))
		}
	}

	pending, err := e.store.GetPendingApproval(ctx, req.AgentID, req.Action)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return err
	}
	if pending != nil && pending.Band != sc.Band {
		if _, err := e.store.ShiftApproval(ctx, pending.ID, model.ApprovalPending, now); err != nil {
			return err
		}
		dec.Reasons = append(dec.Reasons,
			fmt.Sprintf("open request invalidated: band moved %s -> %s", pending.Band, sc.Band))
	}

	request := map[string]any{}
	if req.Prompt != "" {
		request["prompt"] = req.Prompt
	}
	for k, v := range req.Metadata {
		request[k] = v
	}

	rec, createdNew, err := e.ledger.Request(ctx, req.AgentID, req.Action, sc.Band,
		rule.Version, req.RequestedBy, request, now)
	if err != nil {
		return err
	}
	dec.Outcome = model.OutcomeApprovalRequired
	dec.ApprovalID = rec.ID
	dec.ApprovalStatus = rec.Status
	dec.Reasons = append(dec.Reasons, "human approval required")

	if createdNew && e.alerts != nil {
		e.alerts.Dispatch(alert.Event{
			Timestamp: now.UTC().Format(time.RFC3339),
			Type:      alert.EventApprovalPending,
			AgentID:   req.AgentID,
			Action:    req.Action,
			Band:      string(sc.Band),
			Score:     sc.Score,
			Reason:    fmt.Sprintf("approval %d pending", rec.ID),
		})
	}
	return nil
}

// failClosed finalizes dec as blocked-for-unavailability and returns the
// wrapped storage error.
func (e *Engine) failClosed(dec *model.Decision, cause error) (*model.Decision, error) {
	dec.Outcome = model.OutcomeBlocked
	dec.SystemHeader = ""
	dec.Reasons = append(dec.Reasons, ErrUnavailable.Error())
	e.record(dec, nil)
	return dec, fmt.Errorf("%w: %v", ErrUnavailable, cause)
}

// record appends the decision to the audit log and fires block alerts.
// Reporting failures never change the decision.
func (e *Engine) record(dec *model.Decision, sc *model.RiskScore) {
	_, hash := e.RiskConfig()
	if e.audit != nil {
		if err := e.audit.Record(audit.Entry{
			Kind:       audit.KindDecision,
			AgentID:    dec.AgentID,
			Action:     dec.Action,
			Outcome:    string(dec.Outcome),
			Band:       string(dec.Band),
			Score:      dec.Score,
			Reason:     strings.Join(dec.Reasons, "; "),
			ConfigHash: hash,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "bandwatch: audit append failed: %v\n", err)
		}
	}
	if dec.Outcome == model.OutcomeBlocked && e.alerts != nil {
		reason := ""
		if len(dec.Reasons) > 0 {
			reason = dec.Reasons[len(dec.Reasons)-1]
		}
		e.alerts.Dispatch(alert.Event{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Type:      alert.EventBlocked,
			AgentID:   dec.AgentID,
			Action:    dec.Action,
			Band:      string(dec.Band),
			Score:     dec.Score,
			Reason:    reason,
		})
	}
}

// RescoreAll recomputes every agent's score under the current config and
// returns the rescored count plus the band changes. It does not touch
// approvals; that escalation belongs to the watchdog.
func (e *Engine) RescoreAll(ctx context.Context) (int, []model.BandDrift, error) {
	cfg, hash := e.RiskConfig()
	now := time.Now()

	ids, err := e.store.ListAgentIDs(ctx)
	if err != nil {
		return 0, nil, err
	}

	var drifts []model.BandDrift
	rescored := 0
	for _, id := range ids {
		sig := model.SignalSet{}
		if got, err := e.store.GetSignals(ctx, id); err == nil {
			sig = *got
		} else if !errors.Is(err, store.ErrNotFound) {
			return rescored, drifts, err
		}

		var prev model.Band
		if old, err := e.store.GetScore(ctx, id); err == nil {
			prev = old.Band
		} else if !errors.Is(err, store.ErrNotFound) {
			return rescored, drifts, err
		}

		fresh := risk.Score(id, sig, cfg, now)
		fresh.ConfigHash = hash
		if err := e.store.PutScore(ctx, fresh); err != nil {
			return rescored, drifts, err
		}
		rescored++

		if prev != "" && prev != fresh.Band {
			drifts = append(drifts, model.BandDrift{AgentID: id, From: prev, To: fresh.Band})
		}
	}
	return rescored, drifts, nil
}
