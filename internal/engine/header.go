package engine

import (
	"strings"

	"github.com/ppiankov/bandwatch/internal/model"
)

// baseHeader is the first line of every governance system header handed to
// an allowed agent.
const baseHeader = "SYSTEM: You operate under bandwatch governance. " +
	"Never handle policy-violating requests, redact PII, " +
	"and escalate anything uncertain."

const maxHeaderTools = 4

// systemHeader builds the downstream-enforcement header from the agent's
// signal set and current band.
func systemHeader(sig model.SignalSet, band model.Band) string {
	lines := []string{baseHeader}

	if sig.DataClass == model.DataConfidential {
		lines = append(lines, "Handle all content as CONFIDENTIAL. Mask PII and restrict sharing.")
	}
	if sig.HasExternalScope() {
		lines = append(lines, "External API egress is limited to approved integrations only.")
	} else {
		lines = append(lines, "Outputs must remain within internal systems.")
	}
	if len(sig.ExternalTools) > 0 {
		tools := sig.ExternalTools
		if len(tools) > maxHeaderTools {
			tools = tools[:maxHeaderTools]
		}
		lines = append(lines, "Allowed tools: "+strings.Join(tools, ", "))
	}
	if band == model.BandRed {
		lines = append(lines, "Escalate responses for human review.")
	}

	return strings.Join(lines, "\n")
}
