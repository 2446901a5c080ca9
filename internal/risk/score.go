package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/bandwatch/internal/model"
)

// maxScore caps the weighted sum so the score stays in a bounded range.
const maxScore = 100

// Score computes the risk score and band for one agent's signal set.
// Deterministic and total: there is no error path. Unknown dimensions
// contribute the configured fail-closed weight and a reason entry noting
// the gap, so signal coverage can be measured without blocking scoring.
func Score(agentID string, sig model.SignalSet, cfg *Config, now time.Time) model.RiskScore {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	score := 0
	var reasons []string

	// data_class
	if sig.DataClass == "" {
		score += cfg.Weights.Unknown["data_class"]
		reasons = append(reasons, "data classification unknown (scored fail-closed)")
	} else {
		score += cfg.Weights.DataClass[string(sig.DataClass)]
		if sig.DataClass == model.DataConfidential {
			reasons = append(reasons, "confidential data")
		}
	}

	// output_scope
	switch {
	case len(sig.OutputScope) == 0:
		score += cfg.Weights.Unknown["output_scope"]
		reasons = append(reasons, "output scope unknown (scored fail-closed)")
	case sig.HasExternalScope():
		score += cfg.Weights.OutputScope[model.ScopeExternalAPI]
		reasons = append(reasons, "external API egress enabled")
	default:
		score += cfg.Weights.OutputScope[model.ScopeInternalOnly]
		reasons = append(reasons, "internal-only outputs")
	}

	// autonomy
	switch sig.Autonomy {
	case "":
		score += cfg.Weights.Unknown["autonomy"]
		reasons = append(reasons, "autonomy level unknown (scored fail-closed)")
	case model.AutonomyAutoAction:
		score += cfg.Weights.Autonomy[string(model.AutonomyAutoAction)]
		reasons = append(reasons, "autonomous actions enabled")
	default:
		score += cfg.Weights.Autonomy[string(sig.Autonomy)]
		reasons = append(reasons, "read-only / human-in-loop")
	}

	// reach
	switch sig.Reach {
	case "":
		score += cfg.Weights.Unknown["reach"]
		reasons = append(reasons, "audience reach unknown (scored fail-closed)")
	case model.ReachOrgWide:
		score += cfg.Weights.Reach[string(model.ReachOrgWide)]
		reasons = append(reasons, "organisation-wide reach")
	case model.ReachDepartment:
		score += cfg.Weights.Reach[string(model.ReachDepartment)]
		reasons = append(reasons, "department-level reach")
	case model.ReachTeam:
		score += cfg.Weights.Reach[string(model.ReachTeam)]
		reasons = append(reasons, "team-level reach")
	default:
		score += cfg.Weights.Reach[string(sig.Reach)]
	}

	// external_tools
	if len(sig.ExternalTools) > 0 {
		score += cfg.Weights.ExternalTools["has_tools"]
		reasons = append(reasons, "integrates external tools: "+strings.Join(head(sig.ExternalTools, 3), ", "))
	} else {
		score += cfg.Weights.Unknown["external_tools"]
	}

	if score > maxScore {
		score = maxScore
	}

	band := BandFor(score, cfg.Thresholds)
	reasons = append(reasons, fmt.Sprintf("score %d -> band %s", score, band))

	return model.RiskScore{
		AgentID:    agentID,
		Score:      score,
		Band:       band,
		Reasons:    reasons,
		ComputedAt: now.UTC(),
		SignalTS:   sig.SourceTS,
	}
}

// BandFor maps a score to a band under the given thresholds.
// The mapping is monotonic: a higher score never yields a lower band.
func BandFor(score int, t Thresholds) model.Band {
	switch {
	case score >= t.Red:
		return model.BandRed
	case score >= t.Amber:
		return model.BandAmber
	default:
		return model.BandGreen
	}
}

func head(ss []string, n int) []string {
	if len(ss) <= n {
		return ss
	}
	return ss[:n]
}
