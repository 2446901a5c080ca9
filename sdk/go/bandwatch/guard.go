package bandwatch

import "context"

// ToolFunc is the function signature that Wrap guards.
// The caller provides an Action describing the intended operation.
type ToolFunc func(ctx context.Context, action Action) (any, error)

// Wrap returns a new ToolFunc that checks governance before calling fn.
// Anything other than an allowed decision — blocked, approval_required, or
// an unreachable server — returns a *BlockedError without calling fn.
func (c *Client) Wrap(fn ToolFunc, opts ...WrapOption) ToolFunc {
	wcfg := wrapConfig{agentID: c.cfg.agentID}
	for _, o := range opts {
		o(&wcfg)
	}

	return func(ctx context.Context, action Action) (any, error) {
		result, err := c.Check(ctx, wcfg.agentID, action)
		if err != nil || !result.Allowed() {
			return nil, &BlockedError{Action: action, Result: result}
		}
		return fn(ctx, action)
	}
}
