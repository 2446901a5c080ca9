package alert

// Config defines a webhook alert destination.
type Config struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack"
	Events  []string          `yaml:"events"  json:"events"` // ["blocked", "approval_pending", "band_drift"]
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// Event types dispatched by the governance core.
const (
	EventBlocked         = "blocked"
	EventApprovalPending = "approval_pending"
	EventBandDrift       = "band_drift"
)

// Event is the payload sent to webhook endpoints.
type Event struct {
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	AgentID   string `json:"agent_id"`
	Action    string `json:"action,omitempty"`
	Band      string `json:"band"`
	Score     int    `json:"score,omitempty"`
	Reason    string `json:"reason"`
	RunID     string `json:"run_id,omitempty"`
}
