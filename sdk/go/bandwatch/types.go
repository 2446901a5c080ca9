package bandwatch

import "fmt"

// Outcome is the governance decision for one action attempt.
type Outcome string

const (
	Allowed          Outcome = "allowed"
	Blocked          Outcome = "blocked"
	ApprovalRequired Outcome = "approval_required"
)

// Action describes what a tool intends to do.
type Action struct {
	Name     string         // governed action name, e.g. "send_email"
	Prompt   string         // optional task context, shown to reviewers
	Metadata map[string]any // optional extra request fields
}

// Result is one evaluate outcome as returned by the server.
type Result struct {
	AgentID        string   `json:"agent_id"`
	Action         string   `json:"action"`
	Outcome        Outcome  `json:"outcome"`
	Band           string   `json:"band"`
	Score          int      `json:"score"`
	Reasons        []string `json:"reasons,omitempty"`
	Violations     []string `json:"violations,omitempty"`
	SystemHeader   string   `json:"system_header,omitempty"`
	SignalCoverage int      `json:"signal_coverage"`
	ApprovalID     int64    `json:"approval_id,omitempty"`
	ApprovalStatus string   `json:"approval_status,omitempty"`
}

// Allowed returns true if the decision permits the action.
func (r Result) Allowed() bool {
	return r.Outcome == Allowed
}

// BlockedError is returned when governance blocks or holds an action.
type BlockedError struct {
	Action Action
	Result Result
}

func (e *BlockedError) Error() string {
	reason := ""
	if n := len(e.Result.Reasons); n > 0 {
		reason = ": " + e.Result.Reasons[n-1]
	}
	return fmt.Sprintf("bandwatch blocked (%s)%s", e.Result.Outcome, reason)
}
