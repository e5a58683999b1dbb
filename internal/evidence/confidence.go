package evidence

import (
	"github.com/sells-group/opportunity-cli/internal/model"
)

// Confidence thresholds: citations (n) and distinct source types (t).
const (
	strongMinCitations   = 10
	strongMinSourceTypes = 4
	moderateMinCitations = 4
	moderateMinTypes     = 3

	weakCitations   = 3
	weakSourceTypes = 2
)

// ClassifyConfidence labels a citation set. Citations are counted once per
// canonical URL. IsWeak marks sets sitting exactly on a threshold boundary.
func ClassifyConfidence(citations []model.Citation) model.Confidence {
	urls := make(map[string]bool, len(citations))
	types := make(map[model.SourceType]bool)
	for _, c := range citations {
		u := CanonicalURL(c.URL)
		if u == "" || urls[u] {
			continue
		}
		urls[u] = true
		st := c.SourceType
		if st == "" {
			st = model.SourceOther
		}
		types[st] = true
	}

	n, t := len(urls), len(types)
	conf := model.Confidence{
		Level:       model.ConfidenceLimited,
		Citations:   n,
		SourceTypes: t,
		IsWeak:      n == weakCitations || t == weakSourceTypes,
	}
	switch {
	case n >= strongMinCitations && t >= strongMinSourceTypes:
		conf.Level = model.ConfidenceStrong
	case n >= moderateMinCitations && t >= moderateMinTypes:
		conf.Level = model.ConfidenceModerate
	}
	return conf
}

// StrengthScore maps a confidence classification onto [0,1]. Weak sets are
// discounted.
func StrengthScore(c model.Confidence) float64 {
	var s float64
	switch c.Level {
	case model.ConfidenceStrong:
		s = 1.0
	case model.ConfidenceModerate:
		s = 0.6
	default:
		s = 0.25
	}
	if c.IsWeak {
		s *= 0.8
	}
	return s
}
