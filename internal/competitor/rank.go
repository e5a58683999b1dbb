// Package competitor scores and deduplicates competitor candidates found in
// search results.
package competitor

import (
	"net/url"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"

	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/model"
)

// Scoring constants. Bonuses and penalties are additive on top of baseScore.
const (
	baseScore = 50

	bonusRootURL      = 20
	bonusApexDomain   = 15
	penaltySubdomain  = -10
	bonusNameMatch    = 25
	bonusCommonTLD    = 5
	penaltyLongDomain = -15
	penaltyListicle   = -30

	longDomainChars = 30
)

var commonTLDs = map[string]bool{
	"com": true, "io": true, "co": true, "ai": true, "app": true,
	"dev": true, "net": true, "org": true, "so": true,
}

// listicleKeywords mark review sites, comparison pages and roundups. They
// match anywhere in the domain.
var listicleKeywords = []string{"compare", "best", "top", "vs", "alternatives", "review"}

// Score returns the heuristic quality score of a candidate.
func Score(c model.CompetitorCandidate) int {
	domain := c.Domain
	if domain == "" {
		domain = evidence.Domain(c.URL)
	}
	domain = strings.TrimPrefix(strings.ToLower(domain), "www.")

	score := baseScore
	if isRootURL(c.URL) {
		score += bonusRootURL
	}

	apex := apexDomain(domain)
	if apex == domain {
		score += bonusApexDomain
	} else {
		score += penaltySubdomain
	}

	if nameMatchesDomain(c.Name, apex) {
		score += bonusNameMatch
	}

	if commonTLDs[tld(domain)] {
		score += bonusCommonTLD
	}

	if len(domain) > longDomainChars {
		score += penaltyLongDomain
	}

	if isListicleDomain(domain) {
		score += penaltyListicle
	}
	return score
}

// Rank scores candidates, keeps the best candidate per normalized domain and
// returns them ordered by score descending, then domain.
func Rank(raw []model.CompetitorCandidate) []model.CompetitorCandidate {
	best := make(map[string]model.CompetitorCandidate, len(raw))
	for _, c := range raw {
		domain := c.Domain
		if domain == "" {
			domain = c.URL
		}
		domain = evidence.Domain(domain)
		if domain == "" {
			continue
		}
		c.Domain = domain
		c.Score = Score(c)

		prev, ok := best[domain]
		if !ok || better(c, prev) {
			best[domain] = c
		}
	}

	out := make([]model.CompetitorCandidate, 0, len(best))
	for _, c := range best {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Domain < out[j].Domain
	})
	return out
}

// better orders two candidates for the same domain: higher score, then the
// shorter URL, then lexical URL.
func better(a, b model.CompetitorCandidate) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if len(a.URL) != len(b.URL) {
		return len(a.URL) < len(b.URL)
	}
	return a.URL < b.URL
}

func isRootURL(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}
	return (u.Path == "" || u.Path == "/") && u.RawQuery == ""
}

// apexDomain returns the registrable domain (eTLD+1), or domain itself when
// it cannot be determined.
func apexDomain(domain string) string {
	apex, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return domain
	}
	return apex
}

func tld(domain string) string {
	if i := strings.LastIndex(domain, "."); i >= 0 {
		return domain[i+1:]
	}
	return domain
}

// domainLabel strips the public suffix from an apex domain:
// "pagerduty.com" -> "pagerduty".
func domainLabel(apex string) string {
	suffix, _ := publicsuffix.PublicSuffix(apex)
	label := strings.TrimSuffix(apex, "."+suffix)
	return strings.ReplaceAll(label, "-", "")
}

func nameTokens(name string) []string {
	return strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// nameMatchesDomain reports whether the company name and domain share a token.
func nameMatchesDomain(name, apex string) bool {
	label := domainLabel(apex)
	if label == "" {
		return false
	}
	tokens := nameTokens(name)
	if joined := strings.Join(tokens, ""); joined != "" && (joined == label || strings.Contains(label, joined)) {
		return true
	}
	for _, tok := range tokens {
		if len(tok) >= 3 && strings.Contains(label, tok) {
			return true
		}
	}
	return false
}

func isListicleDomain(domain string) bool {
	for _, kw := range listicleKeywords {
		if strings.Contains(domain, kw) {
			return true
		}
	}
	return false
}

// FromSearchResult builds a candidate from a search hit. The name is the
// leading segment of the page title.
func FromSearchResult(title, rawURL string) model.CompetitorCandidate {
	name := strings.TrimSpace(title)
	for _, sep := range []string{" | ", " - ", " — ", ": "} {
		if i := strings.Index(name, sep); i > 0 {
			name = strings.TrimSpace(name[:i])
		}
	}
	return model.CompetitorCandidate{
		Name:   name,
		URL:    rawURL,
		Domain: evidence.Domain(rawURL),
	}
}
