// Package fluff rejects assumption and claim statements that are too vague
// to act on.
package fluff

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

const (
	// minMeaningfulTokens is the floor below which a statement without any
	// specificity signal is rejected.
	minMeaningfulTokens = 5

	// shortStatementChars and shortMinTokens reject terse statements.
	shortStatementChars = 50
	shortMinTokens      = 4
)

// bannedPhrases are vague phrasings that never carry decision-useful content.
// Matched against the case-folded statement.
var bannedPhrases = []*regexp.Regexp{
	regexp.MustCompile(`\b(have|has|had) the (capability|capabilities|ability) to\b`),
	regexp.MustCompile(`\bcapabilit(y|ies) to (execute|deliver|scale|grow|win)\b`),
	regexp.MustCompile(`\b(ever[- ])?evolving (customer |user |market |business )?needs\b`),
	regexp.MustCompile(`\b(huge|big|great|significant|massive|unique|clear|real) opportunit(y|ies)\b`),
	regexp.MustCompile(`\bthere (is|are) (an |a )?(opportunity|opportunities)\b`),
	regexp.MustCompile(`\bopportunit(y|ies) (to|for) (grow|growth|improve|win|innovate|differentiate)\b`),
	regexp.MustCompile(`\b(leverage|unlock) (synergies|value|potential)\b`),
	regexp.MustCompile(`\b(best[- ]in[- ]class|world[- ]class|cutting[- ]edge|game[- ]chang(er|ing)|next[- ]generation)\b`),
	regexp.MustCompile(`\b(seamless|holistic|robust) (experience|approach|solution|platform)\b`),
	regexp.MustCompile(`\bin today'?s (fast[- ]paced|competitive|digital) (world|market|landscape|environment)\b`),
	regexp.MustCompile(`\b(customers|users) (want|expect) more\b`),
	regexp.MustCompile(`\bstay ahead of the (curve|competition)\b`),
}

// measurablePattern matches numbers, percentages, comparison operators and
// currency amounts.
var measurablePattern = regexp.MustCompile(`\d|%|[<>≤≥]=?|\$`)

// timeUnits count as measurable tokens.
var timeUnits = map[string]bool{
	"second": true, "seconds": true, "minute": true, "minutes": true,
	"hour": true, "hours": true, "day": true, "days": true,
	"week": true, "weeks": true, "month": true, "months": true,
	"quarter": true, "quarters": true, "year": true, "years": true,
	"weekly": true, "monthly": true, "quarterly": true, "annually": true, "yearly": true,
}

// sourceKeywords mark a statement as grounded in a recognizable evidence source.
var sourceKeywords = []string{
	"pricing", "price", "plan", "tier", "docs", "documentation", "changelog",
	"release notes", "release", "review", "reviews", "g2", "capterra",
	"trustpilot", "landing page", "homepage", "blog", "announcement",
	"press release", "case study", "api", "roadmap",
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "and": true, "or": true, "but": true,
	"of": true, "to": true, "in": true, "on": true, "for": true, "with": true,
	"at": true, "by": true, "from": true, "as": true, "is": true, "are": true,
	"was": true, "were": true, "be": true, "been": true, "being": true,
	"have": true, "has": true, "had": true, "do": true, "does": true, "did": true,
	"we": true, "our": true, "us": true, "you": true, "your": true, "they": true,
	"their": true, "them": true, "it": true, "its": true, "this": true,
	"that": true, "these": true, "those": true, "there": true, "here": true,
	"can": true, "could": true, "will": true, "would": true, "should": true,
	"may": true, "might": true, "must": true, "very": true, "really": true,
	"more": true, "most": true, "some": true, "any": true, "all": true,
	"not": true, "no": true, "so": true, "if": true, "than": true, "then": true,
	"also": true, "just": true, "into": true, "about": true, "per": true,
}

// fold case-folds s. Casers are stateful, so each call gets its own.
func fold(s string) string {
	return cases.Fold().String(s)
}

// IsFluffy reports whether statement is too vague to be decision-useful.
// It is a pure function of its input.
func IsFluffy(statement string) bool {
	s := strings.TrimSpace(norm.NFKC.String(statement))
	if s == "" {
		return true
	}
	folded := fold(s)
	if hasBannedPhrase(folded) {
		return true
	}

	tokens := meaningfulTokens(folded)

	if len([]rune(s)) < shortStatementChars && len(tokens) < shortMinTokens {
		return true
	}

	specific := hasMeasurable(folded) || hasSourceKeyword(folded) || hasNamedEntity(s)
	return !specific && len(tokens) < minMeaningfulTokens
}

// HasBannedPhrase reports whether statement contains a vague phrasing.
// Unlike IsFluffy it ignores length, so it suits headlines.
func HasBannedPhrase(statement string) bool {
	return hasBannedPhrase(fold(norm.NFKC.String(statement)))
}

func hasBannedPhrase(folded string) bool {
	for _, re := range bannedPhrases {
		if re.MatchString(folded) {
			return true
		}
	}
	return false
}

// Signals describes which specificity signals a statement carries. It backs
// validation messages.
type Signals struct {
	Measurable        bool `json:"measurable"`
	SourceKeyword     bool `json:"source_keyword"`
	NamedEntity       bool `json:"named_entity"`
	MeaningfulTokens  int  `json:"meaningful_tokens"`
	BannedPhraseFound bool `json:"banned_phrase"`
}

// Inspect returns the specificity signals of statement.
func Inspect(statement string) Signals {
	s := strings.TrimSpace(norm.NFKC.String(statement))
	folded := fold(s)
	sig := Signals{
		Measurable:       hasMeasurable(folded),
		SourceKeyword:    hasSourceKeyword(folded),
		NamedEntity:      hasNamedEntity(s),
		MeaningfulTokens: len(meaningfulTokens(folded)),
	}
	sig.BannedPhraseFound = hasBannedPhrase(folded)
	return sig
}

func words(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

func meaningfulTokens(folded string) []string {
	var out []string
	for _, w := range words(folded) {
		w = strings.Trim(w, "'-")
		if len(w) < 2 || stopwords[w] {
			continue
		}
		out = append(out, w)
	}
	return out
}

func hasMeasurable(folded string) bool {
	if measurablePattern.MatchString(folded) {
		return true
	}
	for _, w := range words(folded) {
		if timeUnits[w] {
			return true
		}
	}
	return false
}

func hasSourceKeyword(folded string) bool {
	ws := words(folded)
	set := make(map[string]bool, len(ws))
	for _, w := range ws {
		set[w] = true
	}
	for _, kw := range sourceKeywords {
		if strings.Contains(kw, " ") {
			if strings.Contains(folded, kw) {
				return true
			}
			continue
		}
		if set[kw] {
			return true
		}
	}
	return false
}

// hasNamedEntity reports a capitalized word that is not the first word of a
// sentence, or an all-caps acronym anywhere.
func hasNamedEntity(s string) bool {
	sentenceStart := true
	for _, w := range strings.Fields(s) {
		core := strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if core != "" {
			rs := []rune(core)
			if isAcronym(rs) {
				return true
			}
			if !sentenceStart && unicode.IsUpper(rs[0]) {
				return true
			}
		}
		sentenceStart = strings.HasSuffix(w, ".") || strings.HasSuffix(w, "!") || strings.HasSuffix(w, "?")
	}
	return false
}

func isAcronym(rs []rune) bool {
	if len(rs) < 2 {
		return false
	}
	letters := 0
	for _, r := range rs {
		if unicode.IsLower(r) {
			return false
		}
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 2
}
