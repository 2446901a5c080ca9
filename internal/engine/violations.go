package engine

import (
	"strings"

	"github.com/ppiankov/bandwatch/internal/model"
)

// safeguardResult is the combined effect of the built-in safeguard checks.
// Safeguards only escalate: they can add an approval requirement or a hard
// block on top of the matrix outcome, never relax it.
type safeguardResult struct {
	Violations      []string
	RequireApproval bool
	Block           bool
}

// safeguards runs the built-in checks that apply regardless of the action's
// configured rule.
func safeguards(agent *model.Agent, sig model.SignalSet, band model.Band, action string) safeguardResult {
	var res safeguardResult
	add := func(v string) { res.Violations = append(res.Violations, v) }

	dlp := ""
	if agent != nil {
		dlp = agent.DLPTemplate
	}
	if sig.DataClass == model.DataConfidential && sig.HasExternalScope() && dlp == "" {
		add("Confidential data with external API but no DLP template")
		res.RequireApproval = true
	}

	if sig.Autonomy == model.AutonomyAutoAction &&
		(sig.Reach == model.ReachOrgWide || sig.Reach == model.ReachDepartment) {
		add("Autonomous agent with high reach requires approval")
		res.RequireApproval = true
	}

	if band == model.BandRed && sig.Autonomy == model.AutonomyAutoAction {
		add("Red-band autonomous agent is blocked for action")
		res.Block = true
	}

	if strings.Contains(strings.ToLower(action), "delete") && band != model.BandGreen {
		add("Destructive action requested on non-green agent")
		res.RequireApproval = true
	}

	return res
}
