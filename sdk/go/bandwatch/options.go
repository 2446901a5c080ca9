package bandwatch

import (
	"net/http"
	"time"
)

// Option configures a Client at creation time.
type Option func(*clientConfig)

type clientConfig struct {
	baseURL    string
	agentID    string
	httpClient *http.Client
}

// WithBaseURL sets the bandwatch server address.
func WithBaseURL(url string) Option {
	return func(c *clientConfig) { c.baseURL = url }
}

// WithAgentID sets the agent identity reported on every check.
func WithAgentID(id string) Option {
	return func(c *clientConfig) { c.agentID = id }
}

// WithHTTPClient overrides the default HTTP client (5s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *clientConfig) { c.httpClient = hc }
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// WrapOption configures a single Wrap call.
type WrapOption func(*wrapConfig)

type wrapConfig struct {
	agentID string
}

// WrapWithAgentID overrides the client-level agent identity for this wrap.
func WrapWithAgentID(id string) WrapOption {
	return func(w *wrapConfig) { w.agentID = id }
}
