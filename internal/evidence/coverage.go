package evidence

import (
	"fmt"
	"math"
	"sort"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// Missing-reason codes returned when evidence is insufficient.
const (
	ReasonNeedCompetitors = "need_more_competitors"
	ReasonNeedEvidence    = "need_evidence_for_competitors"
)

// CoverageConfig holds the sufficiency thresholds.
type CoverageConfig struct {
	// MinCompetitors is the absolute minimum number of competitors,
	// independent of the coverage ratio.
	MinCompetitors int `yaml:"min_competitors" mapstructure:"min_competitors" json:"min_competitors"`
	// MinCoverageRatio is the minimum share of competitors with at least one
	// evidence item.
	MinCoverageRatio float64 `yaml:"min_coverage_ratio" mapstructure:"min_coverage_ratio" json:"min_coverage_ratio"`
}

// DefaultCoverageConfig returns the stock thresholds.
func DefaultCoverageConfig() CoverageConfig {
	return CoverageConfig{MinCompetitors: 3, MinCoverageRatio: 0.6}
}

// MissingReason is an actionable explanation of why evidence is insufficient.
type MissingReason struct {
	Code    string `json:"code"`
	Count   int    `json:"count"`
	Message string `json:"message"`
}

// CompetitorCoverage summarizes the evidence collected for one competitor.
type CompetitorCoverage struct {
	CompetitorID string             `json:"competitor_id"`
	Name         string             `json:"name"`
	Items        int                `json:"items"`
	SourceTypes  []model.SourceType `json:"source_types"`
}

// Coverage is the result of the sufficiency gate.
type Coverage struct {
	TotalCompetitors   int                  `json:"total_competitors"`
	CoveredCompetitors int                  `json:"covered_competitors"`
	EvidenceItems      int                  `json:"evidence_items"`
	Ratio              float64              `json:"ratio"`
	Sufficient         bool                 `json:"sufficient"`
	Missing            []MissingReason      `json:"missing,omitempty"`
	Competitors        []CompetitorCoverage `json:"competitors"`
}

// ComputeCoverage decides whether the evidence for a project is sufficient
// to generate trustworthy output. Evidence that belongs to no listed
// competitor is ignored. Sufficient is true exactly when Missing is empty.
func ComputeCoverage(competitors []model.Competitor, items []model.EvidenceItem, cfg CoverageConfig) Coverage {
	byCompetitor := make(map[string][]model.EvidenceItem, len(competitors))
	for _, it := range Dedupe(items) {
		byCompetitor[it.CompetitorID] = append(byCompetitor[it.CompetitorID], it)
	}

	cov := Coverage{TotalCompetitors: len(competitors)}
	for _, c := range competitors {
		its := byCompetitor[c.ID]
		types := make(map[model.SourceType]bool)
		for _, it := range its {
			types[it.SourceType] = true
		}
		cc := CompetitorCoverage{
			CompetitorID: c.ID,
			Name:         c.Name,
			Items:        len(its),
			SourceTypes:  sortedTypes(types),
		}
		if len(its) > 0 {
			cov.CoveredCompetitors++
		}
		cov.EvidenceItems += len(its)
		cov.Competitors = append(cov.Competitors, cc)
	}
	sort.Slice(cov.Competitors, func(i, j int) bool {
		return cov.Competitors[i].CompetitorID < cov.Competitors[j].CompetitorID
	})

	if cov.TotalCompetitors > 0 {
		cov.Ratio = float64(cov.CoveredCompetitors) / float64(cov.TotalCompetitors)
	}

	minCompetitors := max(cfg.MinCompetitors, 1)
	if short := minCompetitors - cov.TotalCompetitors; short > 0 {
		cov.Missing = append(cov.Missing, MissingReason{
			Code:    ReasonNeedCompetitors,
			Count:   short,
			Message: fmt.Sprintf("need %d more competitor%s", short, plural(short)),
		})
	}

	// Competitors still lacking evidence before the ratio is met. Measured
	// against at least MinCompetitors so an empty project asks for evidence
	// on the competitors it will need.
	base := max(cov.TotalCompetitors, minCompetitors)
	needCovered := int(math.Ceil(cfg.MinCoverageRatio*float64(base) - 1e-9))
	if cov.TotalCompetitors == 0 || cov.Ratio < cfg.MinCoverageRatio {
		if short := needCovered - cov.CoveredCompetitors; short > 0 {
			cov.Missing = append(cov.Missing, MissingReason{
				Code:    ReasonNeedEvidence,
				Count:   short,
				Message: fmt.Sprintf("need evidence for %d more competitor%s", short, plural(short)),
			})
		}
	}

	cov.Sufficient = len(cov.Missing) == 0
	return cov
}

// ReasonMessages flattens the missing reasons into display strings.
func (c Coverage) ReasonMessages() []string {
	out := make([]string, 0, len(c.Missing))
	for _, m := range c.Missing {
		out = append(out, m.Message)
	}
	return out
}

func sortedTypes(set map[model.SourceType]bool) []model.SourceType {
	out := make([]model.SourceType, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
