// Package bandwatch provides governance gating for Go agent frameworks.
// It checks every tool call against a bandwatch server — risk band, policy
// matrix, human approvals — and fails closed: if the server cannot be
// reached, the call is blocked.
//
// Usage:
//
//	bw := bandwatch.New(bandwatch.WithBaseURL("http://localhost:8787"),
//	    bandwatch.WithAgentID("support-bot"))
//	wrapped := bw.Wrap(myTool)
//	result, err := wrapped(ctx, bandwatch.Action{Name: "send_email"})
//
// Blocked and approval-required calls return a *BlockedError carrying the
// decision details, including the approval id a human can act on.
package bandwatch
