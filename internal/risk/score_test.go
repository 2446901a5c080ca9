package risk

import (
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/bandwatch/internal/model"
)

func TestScoreBands(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	tests := []struct {
		name      string
		sig       model.SignalSet
		wantScore int
		wantBand  model.Band
	}{
		{
			name: "benign readonly agent stays green",
			sig: model.SignalSet{
				DataClass:   model.DataPublic,
				OutputScope: []string{model.ScopeInternalOnly},
				Autonomy:    model.AutonomyReadOnly,
				Reach:       model.ReachIndividual,
			},
			wantScore: 10, // internal_only 5 + readonly 5
			wantBand:  model.BandGreen,
		},
		{
			name: "fully unknown agent scores fail-closed into amber",
			sig:  model.SignalSet{},
			// unknown weights: 20+10+10+5+0
			wantScore: 45,
			wantBand:  model.BandAmber,
		},
		{
			name: "confidential external autonomous agent is red",
			sig: model.SignalSet{
				DataClass:     model.DataConfidential,
				OutputScope:   []string{model.ScopeExternalAPI},
				Autonomy:      model.AutonomyAutoAction,
				Reach:         model.ReachOrgWide,
				ExternalTools: []string{"slack", "jira"},
			},
			// 40+30+20+20+10 clamps to 100
			wantScore: 100,
			wantBand:  model.BandRed,
		},
		{
			name: "amber threshold is inclusive",
			sig: model.SignalSet{
				DataClass:   model.DataConfidential,
				OutputScope: []string{model.ScopeInternalOnly},
				Autonomy:    model.AutonomyReadOnly,
				Reach:       model.ReachIndividual,
			},
			wantScore: 50, // 40+5+5
			wantBand:  model.BandAmber,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score("agent-1", tt.sig, cfg, now)
			if got.Score != tt.wantScore {
				t.Errorf("score = %d, want %d (reasons: %v)", got.Score, tt.wantScore, got.Reasons)
			}
			if got.Band != tt.wantBand {
				t.Errorf("band = %s, want %s", got.Band, tt.wantBand)
			}
		})
	}
}

func TestScoreUnknownDimensionsFlagged(t *testing.T) {
	got := Score("agent-1", model.SignalSet{}, DefaultConfig(), time.Now())

	failClosed := 0
	for _, r := range got.Reasons {
		if strings.Contains(r, "scored fail-closed") {
			failClosed++
		}
	}
	// external_tools has no fail-closed reason entry, the other four do
	if failClosed != 4 {
		t.Errorf("expected 4 fail-closed reasons, got %d: %v", failClosed, got.Reasons)
	}
}

func TestScoreIsDeterministic(t *testing.T) {
	sig := model.SignalSet{
		DataClass:     model.DataConfidential,
		OutputScope:   []string{model.ScopeExternalAPI},
		ExternalTools: []string{"github"},
	}
	now := time.Now()
	a := Score("agent-1", sig, DefaultConfig(), now)
	b := Score("agent-1", sig, DefaultConfig(), now)
	if a.Score != b.Score || a.Band != b.Band {
		t.Fatalf("same inputs produced %d/%s and %d/%s", a.Score, a.Band, b.Score, b.Band)
	}
}

func TestScoreAddingSignalNeverLowersBandRank(t *testing.T) {
	cfg := DefaultConfig()
	now := time.Now()

	base := model.SignalSet{
		DataClass:   model.DataInternal,
		OutputScope: []string{model.ScopeInternalOnly},
		Autonomy:    model.AutonomyReadOnly,
		Reach:       model.ReachTeam,
	}
	before := Score("agent-1", base, cfg, now)

	worse := base
	worse.OutputScope = append([]string{model.ScopeExternalAPI}, base.OutputScope...)
	after := Score("agent-1", worse, cfg, now)

	if after.Band.Rank() < before.Band.Rank() {
		t.Errorf("adding external egress lowered band: %s -> %s", before.Band, after.Band)
	}
}

func TestBandForMonotonic(t *testing.T) {
	th := Thresholds{Amber: 40, Red: 80}
	prev := model.BandGreen
	for score := 0; score <= 100; score++ {
		band := BandFor(score, th)
		if band.Rank() < prev.Rank() {
			t.Fatalf("band went backwards at score %d: %s -> %s", score, prev, band)
		}
		prev = band
	}
	if BandFor(40, th) != model.BandAmber {
		t.Error("score 40 should be amber")
	}
	if BandFor(80, th) != model.BandRed {
		t.Error("score 80 should be red")
	}
	if BandFor(39, th) != model.BandGreen {
		t.Error("score 39 should be green")
	}
}
