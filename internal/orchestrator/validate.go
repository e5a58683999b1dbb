package orchestrator

import (
	"strings"

	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/fluff"
	"github.com/sells-group/opportunity-cli/internal/model"
)

// RejectReason tags why validation dropped an opportunity.
type RejectReason string

const (
	RejectNoCitations     RejectReason = "no_citations"
	RejectUnknownCitation RejectReason = "unknown_citation"
	RejectFluffy          RejectReason = "fluffy"
)

// Rejection records a dropped opportunity.
type Rejection struct {
	ID     string       `json:"id"`
	Title  string       `json:"title"`
	Reason RejectReason `json:"reason"`
	Detail string       `json:"detail,omitempty"`
}

// ValidateOptions selects the optional validation rules.
type ValidateOptions struct {
	RequireKnownCitations bool
	FilterFluff           bool
}

// Validate splits generated opportunities into accepted and rejected.
//
// An opportunity is rejected when it has no citations, when (with
// RequireKnownCitations) any citation does not resolve to collected
// evidence, or (with FilterFluff) when its title uses a vague phrasing or
// no specific claim survives and its title and summary read as fluff.
// Fluffy claims are removed from accepted opportunities. Citations of
// accepted opportunities are rewritten from the evidence they resolve to.
func Validate(opps []model.Opportunity, items []model.EvidenceItem, opts ValidateOptions) ([]model.Opportunity, []Rejection) {
	byURL := make(map[string]model.EvidenceItem, len(items))
	for _, it := range items {
		u := evidence.CanonicalURL(it.URL)
		if _, ok := byURL[u]; !ok {
			byURL[u] = it
		}
	}

	accepted := make([]model.Opportunity, 0, len(opps))
	var rejected []Rejection
	reject := func(o model.Opportunity, reason RejectReason, detail string) {
		rejected = append(rejected, Rejection{ID: o.ID, Title: o.Title, Reason: reason, Detail: detail})
	}

	for _, o := range opps {
		if len(o.Citations) == 0 {
			reject(o, RejectNoCitations, "")
			continue
		}

		citations := make([]model.Citation, 0, len(o.Citations))
		unknown := ""
		for _, c := range o.Citations {
			u := evidence.CanonicalURL(c.URL)
			if it, ok := byURL[u]; ok {
				citations = append(citations, evidence.ToCitation(it))
				continue
			}
			if unknown == "" {
				unknown = u
			}
			c.URL = u
			citations = append(citations, c)
		}
		if opts.RequireKnownCitations && unknown != "" {
			reject(o, RejectUnknownCitation, unknown)
			continue
		}

		if opts.FilterFluff {
			if fluff.HasBannedPhrase(o.Title) {
				reject(o, RejectFluffy, o.Title)
				continue
			}
			var specific []string
			for _, claim := range o.Claims {
				if !fluff.IsFluffy(claim) {
					specific = append(specific, claim)
				}
			}
			if len(specific) == 0 {
				statement := strings.TrimSpace(o.Title + ". " + o.Summary)
				if fluff.IsFluffy(statement) {
					reject(o, RejectFluffy, statement)
					continue
				}
			}
			o.Claims = specific
		}

		o.Citations = citations
		accepted = append(accepted, o)
	}
	return accepted, rejected
}
