// Package nextaction recommends the next thing a user should do for a
// project.
package nextaction

import (
	"fmt"

	"github.com/sells-group/opportunity-cli/internal/evidence"
)

// Kind names a recommended action.
type Kind string

const (
	AddCompetitors        Kind = "add_competitors"
	FetchEvidence         Kind = "fetch_evidence"
	GenerateOpportunities Kind = "generate_opportunities"
	ViewOpportunities     Kind = "view_opportunities"
)

// State is the project snapshot the resolver decides from.
type State struct {
	CompetitorCount  int               `json:"competitor_count"`
	MinCompetitors   int               `json:"min_competitors"`
	Coverage         evidence.Coverage `json:"coverage"`
	HasOpportunities bool              `json:"has_opportunities"`
}

// Action is the single recommendation for a State.
type Action struct {
	Kind    Kind                     `json:"kind"`
	Message string                   `json:"message"`
	Reasons []evidence.MissingReason `json:"reasons,omitempty"`
}

// Resolve maps s to exactly one action. The first matching rule wins:
// too few competitors, then insufficient evidence, then a missing
// opportunities artifact.
func Resolve(s State) Action {
	minCompetitors := max(s.MinCompetitors, 1)
	if s.CompetitorCount < minCompetitors {
		short := minCompetitors - s.CompetitorCount
		return Action{
			Kind:    AddCompetitors,
			Message: fmt.Sprintf("Add %d more competitor%s to start an analysis.", short, plural(short)),
			Reasons: []evidence.MissingReason{{
				Code:    evidence.ReasonNeedCompetitors,
				Count:   short,
				Message: fmt.Sprintf("need %d more competitor%s", short, plural(short)),
			}},
		}
	}

	if !s.Coverage.Sufficient {
		msg := "Fetch more evidence before generating opportunities."
		for _, r := range s.Coverage.Missing {
			if r.Code == evidence.ReasonNeedEvidence {
				msg = fmt.Sprintf("Fetch evidence for %d more competitor%s.", r.Count, plural(r.Count))
				break
			}
		}
		return Action{Kind: FetchEvidence, Message: msg, Reasons: s.Coverage.Missing}
	}

	if !s.HasOpportunities {
		return Action{Kind: GenerateOpportunities, Message: "Evidence is sufficient. Generate opportunities."}
	}
	return Action{Kind: ViewOpportunities, Message: "Review the ranked opportunities."}
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
