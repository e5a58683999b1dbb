// Package collect gathers competitor evidence and competitor candidates from
// web search.
package collect

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sells-group/opportunity-cli/internal/config"
	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/resilience"
	"github.com/sells-group/opportunity-cli/pkg/jina"
)

// ErrNoResults is returned when every search for a collection failed.
var ErrNoResults = eris.New("collect: all searches failed")

// JinaSource collects evidence by searching each competitor's site for a
// fixed set of topics.
type JinaSource struct {
	client  jina.Client
	cfg     config.CollectConfig
	limiter *rate.Limiter
	breaker *resilience.Breaker
	now     func() time.Time
}

// NewJinaSource creates an evidence source over a Jina search client.
func NewJinaSource(client jina.Client, cfg config.CollectConfig) *JinaSource {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.ResultsPerSearch <= 0 {
		cfg.ResultsPerSearch = 5
	}
	if len(cfg.Queries) == 0 {
		cfg.Queries = []string{"pricing", "changelog", "reviews", "documentation"}
	}
	limit := rate.Inf
	burst := cfg.Concurrency
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	return &JinaSource{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, burst),
		breaker: resilience.NewBreaker("jina", cfg.Breaker),
		now:     time.Now,
	}
}

type searchJob struct {
	competitor model.Competitor
	query      string
	site       string
}

// Collect searches every (competitor, query) pair and returns the deduped
// evidence. Individual search failures are logged and skipped; an error is
// returned only when nothing could be searched.
func (s *JinaSource) Collect(ctx context.Context, projectID string, competitors []model.Competitor) ([]model.EvidenceItem, error) {
	log := zap.L().With(zap.String("project_id", projectID), zap.Int("competitors", len(competitors)))

	var jobs []searchJob
	for _, c := range competitors {
		domain := c.Domain
		if domain == "" {
			domain = evidence.Domain(c.Website)
		}
		for _, q := range s.cfg.Queries {
			job := searchJob{competitor: c, query: strings.TrimSpace(c.Name + " " + q), site: domain}
			// Reviews live on third-party sites.
			if strings.Contains(strings.ToLower(q), "review") {
				job.site = ""
			}
			jobs = append(jobs, job)
		}
	}
	if len(jobs) == 0 {
		return nil, nil
	}

	var (
		mu     sync.Mutex
		items  []model.EvidenceItem
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for _, job := range jobs {
		g.Go(func() error {
			found, err := s.search(gctx, projectID, job)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("collect: search failed",
					zap.String("competitor", job.competitor.Name),
					zap.String("query", job.query),
					zap.Error(err))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil // don't fail the group
			}
			mu.Lock()
			items = append(items, found...)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "collect: search")
	}
	if failed == len(jobs) {
		return nil, resilience.NewTransientError(ErrNoResults, 0)
	}

	out := evidence.Dedupe(items)
	log.Info("collect: evidence gathered",
		zap.Int("searches", len(jobs)),
		zap.Int("failed", failed),
		zap.Int("items", len(out)))
	return out, nil
}

func (s *JinaSource) search(ctx context.Context, projectID string, job searchJob) ([]model.EvidenceItem, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var opts []jina.SearchOption
	if job.site != "" {
		opts = append(opts, jina.WithSiteFilter(job.site))
	}
	resp, err := resilience.Call(ctx, s.breaker, func(ctx context.Context) (*jina.SearchResponse, error) {
		return s.client.Search(ctx, job.query, opts...)
	})
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var out []model.EvidenceItem
	for _, r := range resp.Data {
		if len(out) >= s.cfg.ResultsPerSearch {
			break
		}
		if r.URL == "" {
			continue
		}
		content := r.Content
		if content == "" {
			content = r.Description
		}
		if strings.TrimSpace(content) == "" {
			continue
		}
		out = append(out, model.EvidenceItem{
			ProjectID:    projectID,
			CompetitorID: job.competitor.ID,
			URL:          evidence.CanonicalURL(r.URL),
			Domain:       evidence.Domain(r.URL),
			SourceType:   ClassifySource(r.URL),
			Title:        r.Title,
			Content:      content,
			ExtractedAt:  now,
		})
	}
	return out, nil
}
