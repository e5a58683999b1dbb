// Package opportunity merges near-duplicate generated opportunities and
// orders the final list.
package opportunity

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/model"
)

// SimilarityFunc scores how alike two opportunity titles are, in [0,1].
type SimilarityFunc func(a, b string) float64

// DefaultMergeThreshold is the similarity at which two titles are merged.
const DefaultMergeThreshold = 0.6

var titleStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "of": true,
	"to": true, "for": true, "in": true, "on": true, "with": true, "by": true,
	"our": true, "their": true, "its": true,
}

func titleTokens(title string) map[string]bool {
	folded := cases.Fold().String(norm.NFKC.String(title))
	words := strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]bool, len(words))
	for _, w := range words {
		if !titleStopwords[w] {
			set[w] = true
		}
	}
	return set
}

// TitleSimilarity is the Jaccard index of the normalized title token sets.
func TitleSimilarity(a, b string) float64 {
	ta, tb := titleTokens(a), titleTokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if tb[t] {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// Merge combines equivalent opportunities. Input is first put in a stable
// order (citation count desc, title asc, id asc) so the result does not
// depend on generator output order; each opportunity joins the first group
// whose representative it matches. The representative keeps its id and
// title; citations are unioned by canonical URL.
func Merge(opps []model.Opportunity, sim SimilarityFunc, threshold float64) []model.Opportunity {
	if sim == nil {
		sim = TitleSimilarity
	}
	if threshold <= 0 {
		threshold = DefaultMergeThreshold
	}

	ordered := make([]model.Opportunity, len(opps))
	copy(ordered, opps)
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i], ordered[j]
		if len(a.Citations) != len(b.Citations) {
			return len(a.Citations) > len(b.Citations)
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.ID < b.ID
	})

	type group struct {
		rep     model.Opportunity
		members []model.Opportunity
	}
	var groups []*group
	for _, o := range ordered {
		var target *group
		for _, g := range groups {
			if sim(g.rep.Title, o.Title) >= threshold {
				target = g
				break
			}
		}
		if target == nil {
			groups = append(groups, &group{rep: o, members: []model.Opportunity{o}})
			continue
		}
		target.members = append(target.members, o)
	}

	out := make([]model.Opportunity, 0, len(groups))
	for _, g := range groups {
		out = append(out, combine(g.rep, g.members))
	}
	return out
}

func combine(rep model.Opportunity, members []model.Opportunity) model.Opportunity {
	merged := rep
	merged.MergeCount = len(members)
	merged.MergeGroup = nil
	if len(members) > 1 {
		for _, m := range members {
			merged.MergeGroup = append(merged.MergeGroup, m.Title)
		}
	}

	seen := make(map[string]bool)
	merged.Citations = nil
	claims := make(map[string]bool)
	merged.Claims = nil
	for _, m := range members {
		for _, c := range m.Citations {
			key := evidence.CanonicalURL(c.URL)
			if seen[key] {
				continue
			}
			seen[key] = true
			c.URL = key
			merged.Citations = append(merged.Citations, c)
		}
		for _, cl := range m.Claims {
			if !claims[cl] {
				claims[cl] = true
				merged.Claims = append(merged.Claims, cl)
			}
		}
	}
	return merged
}

// DefaultIndicatorLimit caps how many source titles MergeIndicator lists.
const DefaultIndicatorLimit = 3

// MergeIndicator renders the merge group for display. Opportunities built
// from a single candidate have no indicator.
func MergeIndicator(o model.Opportunity, limit int) string {
	if o.MergeCount <= 1 || len(o.MergeGroup) == 0 {
		return ""
	}
	if limit <= 0 {
		limit = DefaultIndicatorLimit
	}
	titles := o.MergeGroup
	extra := 0
	if len(titles) > limit {
		extra = len(titles) - limit
		titles = titles[:limit]
	}
	s := fmt.Sprintf("Merged from %d: %s", o.MergeCount, strings.Join(titles, "; "))
	if extra > 0 {
		s += fmt.Sprintf(" (+%d more)", extra)
	}
	return s
}
