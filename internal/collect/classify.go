package collect

import (
	"net/url"
	"strings"

	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/model"
)

var reviewHosts = map[string]bool{
	"g2.com":             true,
	"capterra.com":       true,
	"trustradius.com":    true,
	"trustpilot.com":     true,
	"getapp.com":         true,
	"softwareadvice.com": true,
	"producthunt.com":    true,
}

// Path keywords per source type, checked in this order.
var pathKeywords = []struct {
	typ   model.SourceType
	words []string
}{
	{model.SourcePricing, []string{"pricing", "plans", "price"}},
	{model.SourceChangelog, []string{"changelog", "release-notes", "releases", "whats-new", "updates"}},
	{model.SourceReviews, []string{"reviews", "review", "testimonials"}},
	{model.SourceDocs, []string{"docs", "documentation", "api", "developers", "help", "support", "guide", "guides", "kb"}},
	{model.SourceMarketing, []string{"blog", "features", "product", "products", "solutions", "customers", "why", "compare"}},
}

// ClassifySource infers the source type of a page from its URL. The root
// page of a site counts as marketing.
func ClassifySource(rawURL string) model.SourceType {
	u, err := url.Parse(evidence.CanonicalURL(rawURL))
	if err != nil || u.Host == "" {
		return model.SourceOther
	}
	host := evidence.Domain(u.Host)
	if reviewHosts[host] {
		return model.SourceReviews
	}
	if strings.HasPrefix(host, "docs.") || strings.HasPrefix(host, "developer.") || strings.HasPrefix(host, "help.") {
		return model.SourceDocs
	}
	if strings.HasPrefix(host, "changelog.") || strings.HasPrefix(host, "status.") {
		return model.SourceChangelog
	}

	segments := strings.FieldsFunc(strings.ToLower(u.Path), func(r rune) bool { return r == '/' })
	if len(segments) == 0 {
		return model.SourceMarketing
	}
	for _, pk := range pathKeywords {
		for _, seg := range segments {
			for _, w := range pk.words {
				if seg == w || strings.HasPrefix(seg, w+"-") || strings.HasSuffix(seg, "-"+w) {
					return pk.typ
				}
			}
		}
	}
	return model.SourceOther
}
