package model

import (
	"strings"
	"time"
)

// SourceType classifies where a piece of evidence was found.
type SourceType string

const (
	SourcePricing   SourceType = "pricing"
	SourceDocs      SourceType = "docs"
	SourceReviews   SourceType = "reviews"
	SourceChangelog SourceType = "changelog"
	SourceMarketing SourceType = "marketing"
	SourceOther     SourceType = "other"
)

// SourceTypes lists the known source types.
var SourceTypes = []SourceType{SourcePricing, SourceDocs, SourceReviews, SourceChangelog, SourceMarketing, SourceOther}

// ParseSourceType maps a free-form label to a SourceType. Unknown labels
// become SourceOther.
func ParseSourceType(s string) SourceType {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "_")
	switch s {
	case "pricing", "pricing_page":
		return SourcePricing
	case "docs", "documentation":
		return SourceDocs
	case "reviews", "review":
		return SourceReviews
	case "changelog", "release_notes":
		return SourceChangelog
	case "marketing":
		return SourceMarketing
	default:
		return SourceOther
	}
}

// Project groups the competitors, evidence and runs of one analysis.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Competitor is a tracked competitor of a project.
type Competitor struct {
	ID        string    `json:"id"`
	ProjectID string    `json:"project_id"`
	Name      string    `json:"name"`
	Website   string    `json:"website"`
	Domain    string    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`
}

// EvidenceItem is one piece of collected evidence. Read-only once stored.
type EvidenceItem struct {
	ID           string     `json:"id"`
	ProjectID    string     `json:"project_id"`
	CompetitorID string     `json:"competitor_id"`
	URL          string     `json:"url"`
	Domain       string     `json:"domain"`
	SourceType   SourceType `json:"source_type"`
	Title        string     `json:"title,omitempty"`
	Content      string     `json:"content"`
	ExtractedAt  time.Time  `json:"extracted_at"`
}

// Citation references the evidence used to justify a claim.
type Citation struct {
	URL          string     `json:"url"`
	SourceType   SourceType `json:"source_type"`
	Date         time.Time  `json:"date"`
	CompetitorID string     `json:"competitor_id,omitempty"`
}
