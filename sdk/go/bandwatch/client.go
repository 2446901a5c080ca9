package bandwatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Client talks to a bandwatch server over HTTP.
// Safe for concurrent use.
type Client struct {
	cfg  clientConfig
	http *http.Client
}

// New creates a Client with the given options.
func New(opts ...Option) *Client {
	cfg := clientConfig{
		baseURL: "http://localhost:8787",
	}
	for _, o := range opts {
		o(&cfg)
	}
	hc := cfg.httpClient
	if hc == nil {
		hc = &http.Client{Timeout: 5 * time.Second}
	}
	return &Client{cfg: cfg, http: hc}
}

type checkRequest struct {
	AgentID  string         `json:"agent_id"`
	Action   string         `json:"action"`
	Prompt   string         `json:"prompt,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Check asks the server whether agentID may perform the action. Transport
// errors fail closed: the returned Result is blocked, never allowed, and the
// error describes the failure.
func (c *Client) Check(ctx context.Context, agentID string, action Action) (Result, error) {
	blocked := Result{
		AgentID: agentID,
		Action:  action.Name,
		Outcome: Blocked,
	}

	body, err := json.Marshal(checkRequest{
		AgentID:  agentID,
		Action:   action.Name,
		Prompt:   action.Prompt,
		Metadata: action.Metadata,
	})
	if err != nil {
		blocked.Reasons = []string{"governance check unavailable"}
		return blocked, fmt.Errorf("bandwatch: encode request: %w", err)
	}

	url := strings.TrimRight(c.cfg.baseURL, "/") + "/v1/check"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		blocked.Reasons = []string{"governance check unavailable"}
		return blocked, fmt.Errorf("bandwatch: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		blocked.Reasons = []string{"governance check unavailable"}
		return blocked, fmt.Errorf("bandwatch: check request: %w", err)
	}
	defer resp.Body.Close()

	// 200 and 503 both carry a decision body; 503 is the server's own
	// fail-closed block.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		blocked.Reasons = []string{fmt.Sprintf("governance check failed: HTTP %d", resp.StatusCode)}
		return blocked, fmt.Errorf("bandwatch: check returned HTTP %d", resp.StatusCode)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		blocked.Reasons = []string{"governance check unavailable"}
		return blocked, fmt.Errorf("bandwatch: decode response: %w", err)
	}
	return result, nil
}
