package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/bandwatch/internal/approval"
	"github.com/ppiankov/bandwatch/internal/audit"
	"github.com/ppiankov/bandwatch/internal/engine"
	"github.com/ppiankov/bandwatch/internal/model"
	"github.com/ppiankov/bandwatch/internal/policy"
	"github.com/ppiankov/bandwatch/internal/risk"
	"github.com/ppiankov/bandwatch/internal/store"
)

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/check", s.handleCheck)
	mux.HandleFunc("POST /v1/signals", s.handleIngest)
	mux.HandleFunc("GET /v1/approvals", s.handleListApprovals)
	mux.HandleFunc("POST /v1/approvals/{id}/decision", s.handleDecideApproval)
	mux.HandleFunc("GET /v1/policies/actions", s.handleListRules)
	mux.HandleFunc("PUT /v1/policies/actions/{name}", s.handleUpdateRule)
	mux.HandleFunc("POST /v1/policies/actions/{name}/review", s.handleReviewRule)
	mux.HandleFunc("GET /v1/policies/risk", s.handleGetRiskConfig)
	mux.HandleFunc("PUT /v1/policies/risk", s.handlePutRiskConfig)
	mux.HandleFunc("POST /v1/rescore", s.handleRescore)
	mux.HandleFunc("POST /v1/watchdog/run", s.handleWatchdogRun)
	mux.HandleFunc("GET /v1/watchdog/runs", s.handleWatchdogRuns)
	mux.HandleFunc("GET /v1/agents/{id}/governance", s.handleGovernance)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "bandwatch: write response: %v\n", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.BandCounts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_, hash := s.engine.RiskConfig()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"risk_config_hash": hash,
		"band_counts":      counts,
	})
}

type checkRequest struct {
	AgentID     string         `json:"agent_id"`
	Action      string         `json:"action"`
	Prompt      string         `json:"prompt,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	RequestedBy string         `json:"requested_by,omitempty"`
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "agent_id and action are required")
		return
	}

	dec, err := s.engine.Evaluate(r.Context(), engine.Request{
		AgentID:     req.AgentID,
		Action:      req.Action,
		RequestedBy: req.RequestedBy,
		Prompt:      req.Prompt,
		Metadata:    req.Metadata,
	})
	if err != nil && errors.Is(err, engine.ErrUnavailable) {
		// Fail-closed decision still goes to the caller, with a 503 so
		// clients can distinguish outage blocks from policy blocks.
		writeJSON(w, http.StatusServiceUnavailable, dec)
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

type ingestRequest struct {
	AgentID       string   `json:"agent_id"`
	Platform      string   `json:"platform,omitempty"`
	Project       string   `json:"project_id,omitempty"`
	Location      string   `json:"location,omitempty"`
	Owner         string   `json:"owner_email,omitempty"`
	DLPTemplate   string   `json:"dlp_template,omitempty"`
	DataClass     string   `json:"data_class,omitempty"`
	OutputScope   []string `json:"output_scope,omitempty"`
	Autonomy      string   `json:"autonomy,omitempty"`
	AudienceCount *int     `json:"audience_count,omitempty"`
	Reach         string   `json:"reach,omitempty"`
	ExternalTools []string `json:"external_tools,omitempty"`
	SourceTS      string   `json:"source_ts"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}
	sourceTS, err := time.Parse(time.RFC3339, req.SourceTS)
	if err != nil {
		writeError(w, http.StatusBadRequest, "source_ts must be RFC 3339")
		return
	}

	now := time.Now()
	if err := s.store.UpsertAgent(r.Context(), model.Agent{
		ID:          req.AgentID,
		Platform:    req.Platform,
		Project:     req.Project,
		Location:    req.Location,
		Owner:       req.Owner,
		DLPTemplate: req.DLPTemplate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	reach := model.Reach(req.Reach)
	if req.AudienceCount != nil {
		reach = model.BucketReach(*req.AudienceCount)
	}
	sig := model.SignalSet{
		DataClass:     model.DataClass(req.DataClass),
		OutputScope:   req.OutputScope,
		Autonomy:      model.Autonomy(req.Autonomy),
		Reach:         reach,
		ExternalTools: req.ExternalTools,
		SourceTS:      sourceTS,
	}
	applied, err := s.store.PutSignals(r.Context(), req.AgentID, sig)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": req.AgentID,
		"applied":  applied,
	})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	status := model.ApprovalStatus(r.URL.Query().Get("status"))
	recs, err := s.engine.Ledger().ListByStatus(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n >= 0 && n < len(recs) {
			recs = recs[:n]
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": recs})
}

type decisionRequest struct {
	Status    string `json:"status"`
	DecidedBy string `json:"decided_by"`
	Note      string `json:"note,omitempty"`
}

func (s *Server) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid approval id")
		return
	}
	var req decisionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, err := s.engine.Ledger().Decide(r.Context(), id,
		model.ApprovalStatus(req.Status), req.DecidedBy, req.Note, time.Now())
	if err != nil {
		var invalid *approval.InvalidTransitionError
		switch {
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusConflict, map[string]any{
				"error":          err.Error(),
				"current_status": invalid.Status,
			})
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.engine.Matrix().List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": rules})
}

type ruleUpdateRequest struct {
	Description *string           `json:"description,omitempty"`
	Allow       *model.BandFlags  `json:"allow,omitempty"`
	Approve     *model.BandFlags  `json:"approval_required,omitempty"`
	Status      *model.RuleStatus `json:"status,omitempty"`
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var req ruleUpdateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := s.engine.Matrix().Update(r.Context(), name, policy.UpdatePatch{
		Description: req.Description,
		Allow:       req.Allow,
		Approve:     req.Approve,
		Status:      req.Status,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", name))
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if s.auditLog != nil {
		if err := s.auditLog.Record(audit.Entry{
			Kind:   audit.KindPolicyEdit,
			Action: name,
			Reason: fmt.Sprintf("rule updated to v%d, %d approval(s) expired", res.Rule.Version, len(res.Expired)),
		}); err != nil {
			fmt.Fprintf(os.Stderr, "bandwatch: audit append failed: %v\n", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"rule":              res.Rule,
		"expired_approvals": res.Expired,
	})
}

func (s *Server) handleReviewRule(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	rule, err := s.engine.Matrix().MarkReviewed(r.Context(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown action %q", name))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleGetRiskConfig(w http.ResponseWriter, r *http.Request) {
	cfg, hash := s.engine.RiskConfig()
	writeJSON(w, http.StatusOK, map[string]any{
		"config": cfg,
		"hash":   hash,
	})
}

func (s *Server) handlePutRiskConfig(w http.ResponseWriter, r *http.Request) {
	var cfg risk.Config
	if !decodeJSON(w, r, &cfg) {
		return
	}
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	path := s.cfg.RiskConfigPath
	if path == "" {
		path = risk.DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.ReloadRiskConfig(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_, hash := s.engine.RiskConfig()
	// Scores are not recomputed here; call /v1/rescore for that.
	writeJSON(w, http.StatusOK, map[string]any{"hash": hash})
}

func (s *Server) handleRescore(w http.ResponseWriter, r *http.Request) {
	rescored, drifts, err := s.engine.RescoreAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rescored": rescored,
		"drifts":   drifts,
	})
}

func (s *Server) handleWatchdogRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.watchdog.RunOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleWatchdogRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil {
			limit = n
		}
	}
	runs, err := s.store.ListWatchdogRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGovernance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ctx := r.Context()

	agent, err := s.store.GetAgent(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown agent %q", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"agent": agent}
	if sig, err := s.store.GetSignals(ctx, id); err == nil {
		resp["signals"] = sig
		resp["signal_coverage"] = sig.Coverage()
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if sc, err := s.store.GetScore(ctx, id); err == nil {
		resp["risk"] = sc
	} else if !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	active, err := s.store.ListActiveApprovalsForAgent(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp["active_approvals"] = active

	writeJSON(w, http.StatusOK, resp)
}
