package audit

// Entry is one line in the hash-chained JSONL audit log. Decisions, watchdog
// runs and policy edits share the format; Kind tells them apart.
// All fields are scalars (no map[string]any) to guarantee deterministic
// json.Marshal field order for reproducible hashing.
type Entry struct {
	Timestamp  string `json:"ts"`
	Kind       string `json:"kind"`
	AgentID    string `json:"agent_id,omitempty"`
	Action     string `json:"action,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Band       string `json:"band,omitempty"`
	Score      int    `json:"score"`
	Reason     string `json:"reason,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	ConfigHash string `json:"config_hash,omitempty"`
	PrevHash   string `json:"prev_hash"`
}

const (
	KindDecision    = "decision"
	KindWatchdogRun = "watchdog_run"
	KindPolicyEdit  = "policy_edit"
)
