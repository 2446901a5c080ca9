// Package model defines the shared value types of the governance core:
// risk bands, signal sets, policy rules, approval records, and the decision
// returned to action-gate callers.
package model

import "time"

// Band is the discretized risk level derived from a numeric score.
type Band string

const (
	BandGreen Band = "green"
	BandAmber Band = "amber"
	BandRed   Band = "red"
)

// bandRank maps bands to comparable integers for drift and escalation checks.
var bandRank = map[Band]int{
	BandGreen: 0,
	BandAmber: 1,
	BandRed:   2,
}

// Rank returns a comparable integer for the band (green 0 .. red 2).
// Unknown bands rank above red so that malformed state fails closed.
func (b Band) Rank() int {
	if r, ok := bandRank[b]; ok {
		return r
	}
	return 3
}

// Valid reports whether b is one of the three defined bands.
func (b Band) Valid() bool {
	_, ok := bandRank[b]
	return ok
}

// DataClass is the sensitivity classification of the data an agent handles.
// The empty string means unknown.
type DataClass string

const (
	DataPublic       DataClass = "public"
	DataInternal     DataClass = "internal"
	DataConfidential DataClass = "confidential"
)

// Autonomy describes whether an agent only reads or acts on its own.
// The empty string means unknown.
type Autonomy string

const (
	AutonomyReadOnly   Autonomy = "readonly"
	AutonomyAutoAction Autonomy = "auto_action"
)

// Reach is the bucketed audience size of an agent's outputs.
// The empty string means unknown.
type Reach string

const (
	ReachIndividual Reach = "individual"
	ReachTeam       Reach = "team"
	ReachDepartment Reach = "department"
	ReachOrgWide    Reach = "org_wide"
)

// BucketReach converts a raw audience count into a reach bucket.
func BucketReach(count int) Reach {
	switch {
	case count >= 5000:
		return ReachOrgWide
	case count >= 200:
		return ReachDepartment
	case count >= 20:
		return ReachTeam
	default:
		return ReachIndividual
	}
}

// ScopeExternalAPI is the output-scope destination that marks external egress.
const ScopeExternalAPI = "api_external"

// ScopeInternalOnly marks outputs confined to internal systems.
const ScopeInternalOnly = "internal_only"

// SignalSet holds the latest derived governance signals for one agent.
// Every field is independently unknown (zero value); absence is scored
// fail-closed, never rejected.
type SignalSet struct {
	DataClass     DataClass `json:"data_class,omitempty"`
	OutputScope   []string  `json:"output_scope,omitempty"`
	Autonomy      Autonomy  `json:"autonomy,omitempty"`
	Reach         Reach     `json:"reach,omitempty"`
	ExternalTools []string  `json:"external_tools,omitempty"`
	SourceTS      time.Time `json:"source_ts"`
}

// HasExternalScope reports whether the agent can emit to an external API.
func (s SignalSet) HasExternalScope() bool {
	for _, dest := range s.OutputScope {
		if dest == ScopeExternalAPI {
			return true
		}
	}
	return false
}

// SignalDimensions is the number of scored signal dimensions.
const SignalDimensions = 5

// Coverage returns how many of the five dimensions carry a known value.
func (s SignalSet) Coverage() int {
	n := 0
	if s.DataClass != "" {
		n++
	}
	if len(s.OutputScope) > 0 {
		n++
	}
	if s.Autonomy != "" {
		n++
	}
	if s.Reach != "" {
		n++
	}
	if len(s.ExternalTools) > 0 {
		n++
	}
	return n
}

// Agent is the identity record created on first observed event.
type Agent struct {
	ID          string    `json:"agent_id"`
	Platform    string    `json:"platform,omitempty"`
	Project     string    `json:"project_id,omitempty"`
	Location    string    `json:"location,omitempty"`
	Owner       string    `json:"owner_email,omitempty"`
	DLPTemplate string    `json:"dlp_template,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RiskScore is the latest computed risk for one agent. It records the signal
// timestamp and config hash it was computed from so stale scores are
// detectable without re-scoring.
type RiskScore struct {
	AgentID    string    `json:"agent_id"`
	Score      int       `json:"score"`
	Band       Band      `json:"band"`
	Reasons    []string  `json:"reasons"`
	ComputedAt time.Time `json:"computed_at"`
	SignalTS   time.Time `json:"signal_ts"`
	ConfigHash string    `json:"config_hash"`
}

// RuleStatus tracks whether a policy rule has been reviewed by a human.
type RuleStatus string

const (
	RuleActive      RuleStatus = "active"
	RuleNeedsReview RuleStatus = "needs_review"
)

// Valid reports whether s is a recognized rule status.
func (s RuleStatus) Valid() bool {
	return s == RuleActive || s == RuleNeedsReview
}

// BandFlags holds one boolean per band.
type BandFlags struct {
	Green bool `json:"green"`
	Amber bool `json:"amber"`
	Red   bool `json:"red"`
}

// For returns the flag for the given band. Unknown bands fail closed (false).
func (f BandFlags) For(b Band) bool {
	switch b {
	case BandGreen:
		return f.Green
	case BandAmber:
		return f.Amber
	case BandRed:
		return f.Red
	default:
		return false
	}
}

// ActionRule is one row of the policy matrix, keyed by action verb.
// Version increments on every value edit; approval records carry the version
// in force at creation so a later edit invalidates them.
type ActionRule struct {
	Action      string     `json:"action_name"`
	Description string     `json:"description,omitempty"`
	Status      RuleStatus `json:"status"`
	Allow       BandFlags  `json:"allow"`
	Approve     BandFlags  `json:"approval"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// ApprovalStatus is the lifecycle state of an approval record.
type ApprovalStatus string

const (
	ApprovalPending       ApprovalStatus = "pending"
	ApprovalApproved      ApprovalStatus = "approved"
	ApprovalRejected      ApprovalStatus = "rejected"
	ApprovalPolicyExpired ApprovalStatus = "policy_expired"
	ApprovalRiskShift     ApprovalStatus = "risk_shift"
)

// Terminal reports whether the status can never transition again via decide.
// Approved records remain subject to system expiry (policy edit, band drift).
func (s ApprovalStatus) Terminal() bool {
	return s != ApprovalPending
}

// ApprovalRecord is one reviewable instance of "agent X wants to do action Y".
type ApprovalRecord struct {
	ID          int64          `json:"id"`
	AgentID     string         `json:"agent_id"`
	Action      string         `json:"action"`
	Band        Band           `json:"risk_band"`
	Status      ApprovalStatus `json:"status"`
	RuleVersion int64          `json:"rule_version"`
	RequestedBy string         `json:"requested_by,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	Note        string         `json:"note,omitempty"`
	Request     map[string]any `json:"request,omitempty"`
}

// Outcome is the final disposition of one evaluate call.
type Outcome string

const (
	OutcomeAllowed          Outcome = "allowed"
	OutcomeBlocked          Outcome = "blocked"
	OutcomeApprovalRequired Outcome = "approval_required"
)

// Decision is what the engine returns to the action-gate caller. Always
// definitive: there is no "unknown" outcome.
type Decision struct {
	AgentID        string         `json:"agent_id"`
	Action         string         `json:"action"`
	Outcome        Outcome        `json:"outcome"`
	Band           Band           `json:"band"`
	Score          int            `json:"score"`
	Reasons        []string       `json:"reasons"`
	Violations     []string       `json:"violations,omitempty"`
	SystemHeader   string         `json:"system_header,omitempty"`
	SignalCoverage int            `json:"signal_coverage"`
	ApprovalID     int64          `json:"approval_id,omitempty"`
	ApprovalStatus ApprovalStatus `json:"approval_status,omitempty"`
}

// Allowed reports whether the decision permits the action.
func (d Decision) Allowed() bool {
	return d.Outcome == OutcomeAllowed
}

// BandDrift records one agent whose band changed during a watchdog run.
type BandDrift struct {
	AgentID string `json:"agent_id"`
	From    Band   `json:"from"`
	To      Band   `json:"to"`
}

// WatchdogRun is the append-only audit record of one full rescoring pass.
type WatchdogRun struct {
	ID         string      `json:"id"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt time.Time   `json:"finished_at"`
	Rescored   int         `json:"rescored"`
	Drifts     []BandDrift `json:"drifts,omitempty"`
}
