package collect

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/competitor"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/resilience"
	"github.com/sells-group/opportunity-cli/pkg/jina"
)

// Discoverer turns a free-text query into ranked competitor candidates.
type Discoverer struct {
	client  jina.Client
	breaker *resilience.Breaker
}

// NewDiscoverer creates a Discoverer over a Jina search client.
func NewDiscoverer(client jina.Client, cfg resilience.BreakerConfig) *Discoverer {
	return &Discoverer{client: client, breaker: resilience.NewBreaker("jina-discover", cfg)}
}

// Discover searches for query and returns deduplicated, ranked candidates.
func (d *Discoverer) Discover(ctx context.Context, query string) ([]model.CompetitorCandidate, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, eris.New("collect: empty discovery query")
	}

	resp, err := resilience.Call(ctx, d.breaker, func(ctx context.Context) (*jina.SearchResponse, error) {
		return d.client.Search(ctx, query)
	})
	if err != nil {
		return nil, eris.Wrap(err, "collect: discover")
	}

	raw := make([]model.CompetitorCandidate, 0, len(resp.Data))
	for _, r := range resp.Data {
		if r.URL == "" {
			continue
		}
		c := competitor.FromSearchResult(r.Title, r.URL)
		if c.Domain == "" || c.Name == "" {
			continue
		}
		raw = append(raw, c)
	}

	ranked := competitor.Rank(raw)
	zap.L().Debug("collect: discovered competitors",
		zap.String("query", query),
		zap.Int("results", len(resp.Data)),
		zap.Int("candidates", len(ranked)))
	return ranked, nil
}
