// Package evidence normalizes collected evidence and derives coverage and
// confidence from it.
package evidence

import (
	"net/url"
	"sort"
	"strings"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// trackingParams are query parameters that never change the page content.
var trackingParams = map[string]bool{
	"ref":     true,
	"ref_src": true,
	"fbclid":  true,
	"gclid":   true,
	"dclid":   true,
	"msclkid": true,
	"mc_cid":  true,
	"mc_eid":  true,
	"igshid":  true,
	"_hsenc":  true,
	"_hsmi":   true,
	"yclid":   true,
}

func isTrackingParam(key string) bool {
	k := strings.ToLower(key)
	return strings.HasPrefix(k, "utm_") || trackingParams[k]
}

// CanonicalURL returns raw with tracking parameters, the fragment and a
// non-root trailing slash removed. Scheme and host are lower-cased and the
// remaining query parameters sorted. Input that does not parse as an
// absolute URL is returned unchanged.
func CanonicalURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			if isTrackingParam(key) {
				q.Del(key)
			}
		}
		// Encode sorts by key.
		u.RawQuery = q.Encode()
	}
	u.ForceQuery = false

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
		u.RawPath = ""
	}
	if u.Path == "/" {
		u.Path = ""
	}

	return u.String()
}

// Domain returns the lower-cased hostname of raw without a leading "www.".
// Bare hosts ("Acme.com") are accepted. Unparseable input yields "".
func Domain(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// SameSource reports whether two URLs canonicalize identically.
func SameSource(a, b string) bool {
	return CanonicalURL(a) == CanonicalURL(b)
}

// Normalize fills the canonical URL and domain of an evidence item.
func Normalize(item model.EvidenceItem) model.EvidenceItem {
	item.URL = CanonicalURL(item.URL)
	if item.Domain == "" {
		item.Domain = Domain(item.URL)
	}
	if item.SourceType == "" {
		item.SourceType = model.SourceOther
	}
	return item
}

// Dedupe returns one normalized item per canonical URL and competitor. When
// the same source was collected more than once the most recent extraction
// wins. Output is ordered by canonical URL.
func Dedupe(items []model.EvidenceItem) []model.EvidenceItem {
	type key struct{ competitor, url string }
	best := make(map[key]model.EvidenceItem, len(items))
	for _, it := range items {
		n := Normalize(it)
		k := key{n.CompetitorID, n.URL}
		if prev, ok := best[k]; ok && !n.ExtractedAt.After(prev.ExtractedAt) {
			continue
		}
		best[k] = n
	}

	out := make([]model.EvidenceItem, 0, len(best))
	for _, it := range best {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].URL != out[j].URL {
			return out[i].URL < out[j].URL
		}
		return out[i].CompetitorID < out[j].CompetitorID
	})
	return out
}

// ToCitation derives a citation from an evidence item.
func ToCitation(item model.EvidenceItem) model.Citation {
	return model.Citation{
		URL:          CanonicalURL(item.URL),
		SourceType:   item.SourceType,
		Date:         item.ExtractedAt,
		CompetitorID: item.CompetitorID,
	}
}
