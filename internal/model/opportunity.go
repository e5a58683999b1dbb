package model

// ConfidenceLevel labels how well a set of citations supports a claim.
type ConfidenceLevel string

const (
	ConfidenceLimited  ConfidenceLevel = "limited"
	ConfidenceModerate ConfidenceLevel = "moderate"
	ConfidenceStrong   ConfidenceLevel = "strong"
)

// Confidence is the classification of a citation set.
type Confidence struct {
	Level       ConfidenceLevel `json:"level"`
	Citations   int             `json:"citations"`
	SourceTypes int             `json:"source_types"`
	IsWeak      bool            `json:"is_weak"`
}

// ScoreBreakdown records the components of an opportunity's composite score.
type ScoreBreakdown struct {
	Strength    float64 `json:"strength"`
	Recency     float64 `json:"recency"`
	Consistency float64 `json:"consistency"`
}

// Opportunity is a ranked, citation-backed recommendation.
type Opportunity struct {
	ID         string          `json:"id"`
	Title      string          `json:"title"`
	Summary    string          `json:"summary,omitempty"`
	Claims     []string        `json:"claims,omitempty"`
	Score      float64         `json:"score"`
	Breakdown  *ScoreBreakdown `json:"breakdown,omitempty"`
	Confidence *Confidence     `json:"confidence,omitempty"`
	Citations  []Citation      `json:"citations"`
	MergeGroup []string        `json:"merge_group,omitempty"`
	MergeCount int             `json:"merge_count,omitempty"`
}

// CompetitorCandidate is a prospective competitor found in search results.
// It only exists during discovery.
type CompetitorCandidate struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Domain string `json:"domain"`
	Score  int    `json:"score"`
}
