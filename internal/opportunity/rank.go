package opportunity

import (
	"math"
	"sort"
	"time"

	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/model"
)

// Weights control the composite score. They need not sum to one; the
// composite is normalized by their total.
type Weights struct {
	Strength    float64 `yaml:"strength" mapstructure:"strength" json:"strength"`
	Recency     float64 `yaml:"recency" mapstructure:"recency" json:"recency"`
	Consistency float64 `yaml:"consistency" mapstructure:"consistency" json:"consistency"`
}

// RankConfig configures merging and ranking.
type RankConfig struct {
	Weights             Weights `yaml:"weights" mapstructure:"weights" json:"weights"`
	RecencyHalfLifeDays float64 `yaml:"recency_half_life_days" mapstructure:"recency_half_life_days" json:"recency_half_life_days"`
	MergeThreshold      float64 `yaml:"merge_threshold" mapstructure:"merge_threshold" json:"merge_threshold"`
}

// DefaultRankConfig returns the stock ranking parameters.
func DefaultRankConfig() RankConfig {
	return RankConfig{
		Weights:             Weights{Strength: 0.5, Recency: 0.2, Consistency: 0.3},
		RecencyHalfLifeDays: 90,
		MergeThreshold:      DefaultMergeThreshold,
	}
}

// Recency scores the newest citation date with exponential half-life decay.
// Citations without a date contribute nothing; future dates count as now.
func Recency(citations []model.Citation, now time.Time, halfLifeDays float64) float64 {
	var newest time.Time
	for _, c := range citations {
		if c.Date.After(newest) {
			newest = c.Date
		}
	}
	if newest.IsZero() {
		return 0
	}
	if halfLifeDays <= 0 {
		halfLifeDays = 90
	}
	ageDays := now.Sub(newest).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	return math.Pow(0.5, ageDays/halfLifeDays)
}

// Consistency is the share of covered competitors that the citations
// reference. Zero when coverage has no covered competitors.
func Consistency(citations []model.Citation, cov evidence.Coverage) float64 {
	if cov.CoveredCompetitors == 0 {
		return 0
	}
	seen := make(map[string]bool)
	for _, c := range citations {
		if c.CompetitorID != "" {
			seen[c.CompetitorID] = true
		}
	}
	return math.Min(1, float64(len(seen))/float64(cov.CoveredCompetitors))
}

// ScoreOne computes the composite score of o on a 0-100 scale and returns
// the breakdown it was derived from.
func ScoreOne(o model.Opportunity, cov evidence.Coverage, cfg RankConfig, now time.Time) (float64, model.ScoreBreakdown, model.Confidence) {
	conf := evidence.ClassifyConfidence(o.Citations)
	bd := model.ScoreBreakdown{
		Strength:    evidence.StrengthScore(conf),
		Recency:     Recency(o.Citations, now, cfg.RecencyHalfLifeDays),
		Consistency: Consistency(o.Citations, cov),
	}
	w := cfg.Weights
	total := w.Strength + w.Recency + w.Consistency
	if total <= 0 {
		w = DefaultRankConfig().Weights
		total = w.Strength + w.Recency + w.Consistency
	}
	raw := (w.Strength*bd.Strength + w.Recency*bd.Recency + w.Consistency*bd.Consistency) / total
	return round2(raw * 100), bd, conf
}

// Rank scores every opportunity and orders them by score desc, citation
// count desc, then title asc.
func Rank(opps []model.Opportunity, cov evidence.Coverage, cfg RankConfig, now time.Time) []model.Opportunity {
	out := make([]model.Opportunity, len(opps))
	for i, o := range opps {
		score, bd, conf := ScoreOne(o, cov, cfg, now)
		o.Score = score
		o.Breakdown = &bd
		o.Confidence = &conf
		out[i] = o
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if len(a.Citations) != len(b.Citations) {
			return len(a.Citations) > len(b.Citations)
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})
	return out
}

// RankOpportunities merges near-duplicates with sim and ranks the result.
func RankOpportunities(candidates []model.Opportunity, cov evidence.Coverage, cfg RankConfig, sim SimilarityFunc, now time.Time) []model.Opportunity {
	merged := Merge(candidates, sim, cfg.MergeThreshold)
	return Rank(merged, cov, cfg, now)
}

// round2 rounds to two decimals so equal inputs tie exactly.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
