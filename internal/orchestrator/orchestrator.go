// Package orchestrator runs the analysis pipeline for a project: it claims
// each step through the run state machine, gates it on the prior step's
// artifact and records its output as a new artifact.
package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/artifact"
	"github.com/sells-group/opportunity-cli/internal/competitor"
	"github.com/sells-group/opportunity-cli/internal/config"
	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/fluff"
	"github.com/sells-group/opportunity-cli/internal/generate"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/nextaction"
	"github.com/sells-group/opportunity-cli/internal/opportunity"
	"github.com/sells-group/opportunity-cli/internal/resilience"
	"github.com/sells-group/opportunity-cli/internal/runstate"
	"github.com/sells-group/opportunity-cli/internal/store"
)

var (
	// ErrStepInProgress is returned when another caller holds a step.
	ErrStepInProgress = eris.New("orchestrator: step in progress")
	// ErrProjectNotFound is returned for an unknown project id.
	ErrProjectNotFound = eris.New("orchestrator: project not found")
	// ErrRunNotFound is returned for an unknown run, or a run of another
	// project.
	ErrRunNotFound = eris.New("orchestrator: run not found")
	// ErrStepGated is returned when the prior step's artifact is missing.
	ErrStepGated = eris.New("orchestrator: prior step output missing")
	// ErrNoGenerator is returned when generation is reached without a
	// configured generator.
	ErrNoGenerator = eris.New("orchestrator: no opportunity generator configured")
	// ErrNoDiscoverer is returned by DiscoverCompetitors without a
	// configured discoverer.
	ErrNoDiscoverer = eris.New("orchestrator: no competitor discoverer configured")
)

// EvidenceSource collects evidence for a project's competitors.
type EvidenceSource interface {
	Collect(ctx context.Context, projectID string, competitors []model.Competitor) ([]model.EvidenceItem, error)
}

// Generator drafts candidate opportunities from evidence.
type Generator interface {
	Generate(ctx context.Context, req generate.Request) ([]model.Opportunity, error)
}

// Discoverer finds competitor candidates for a free-text query.
type Discoverer interface {
	Discover(ctx context.Context, query string) ([]model.CompetitorCandidate, error)
}

// Orchestrator wires the state machine, artifact selector, evidence engine
// and ranking into the analysis pipeline.
type Orchestrator struct {
	cfg        config.AnalysisConfig
	store      store.Store
	machine    *runstate.Machine
	selector   *artifact.Selector
	source     EvidenceSource
	generator  Generator
	discoverer Discoverer
	similarity opportunity.SimilarityFunc
	retry      resilience.RetryConfig
	now        func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEvidenceSource sets the source used by the collect-evidence step.
// Without one the step uses the evidence already stored for the project.
func WithEvidenceSource(src EvidenceSource) Option {
	return func(o *Orchestrator) { o.source = src }
}

// WithGenerator sets the opportunity generator.
func WithGenerator(g Generator) Option {
	return func(o *Orchestrator) { o.generator = g }
}

// WithDiscoverer sets the competitor discoverer.
func WithDiscoverer(d Discoverer) Option {
	return func(o *Orchestrator) { o.discoverer = d }
}

// WithSimilarity overrides the title similarity used for merging.
func WithSimilarity(fn opportunity.SimilarityFunc) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.similarity = fn
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithRetry sets the backoff used for transient transition and storage
// failures.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(o *Orchestrator) { o.retry = cfg }
}

// New creates an Orchestrator. cfg replaces any process-wide flags.
func New(cfg config.AnalysisConfig, st store.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:        cfg,
		store:      st,
		machine:    runstate.New(st, runstate.WithMaxConflicts(cfg.MaxConflicts)),
		selector:   artifact.NewSelector(st),
		similarity: opportunity.TitleSimilarity,
		retry:      resilience.DefaultRetryConfig(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartRun creates a run for projectID with every step pending.
func (o *Orchestrator) StartRun(ctx context.Context, projectID string) (*model.Run, error) {
	if _, err := o.project(ctx, projectID); err != nil {
		return nil, err
	}
	run, err := o.store.CreateRun(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: create run")
	}
	zap.L().Info("orchestrator: run created", zap.String("project_id", projectID), zap.String("run_id", run.ID))
	return run, nil
}

// TryMarkStepRunning claims step of runID for the caller.
func (o *Orchestrator) TryMarkStepRunning(ctx context.Context, runID string, step model.Step) runstate.Result {
	return o.machine.TryMarkStepRunning(ctx, runID, step, o.now())
}

// MarkStepCompleted moves a running step to completed.
func (o *Orchestrator) MarkStepCompleted(ctx context.Context, runID string, step model.Step) runstate.Result {
	return o.machine.MarkStepCompleted(ctx, runID, step, o.now())
}

// MarkStepFailed moves a running step to failed.
func (o *Orchestrator) MarkStepFailed(ctx context.Context, runID string, step model.Step, cause string) runstate.Result {
	return o.machine.MarkStepFailed(ctx, runID, step, o.now(), cause)
}

// LatestArtifact returns the authoritative artifact of typ for one run.
func (o *Orchestrator) LatestArtifact(ctx context.Context, projectID, runID string, typ model.ArtifactType) (*model.Artifact, bool) {
	return o.selector.Latest(ctx, projectID, runID, typ)
}

// ComputeCoverage evaluates the stored evidence of a project.
func (o *Orchestrator) ComputeCoverage(ctx context.Context, projectID string) (evidence.Coverage, error) {
	competitors, items, err := o.projectEvidence(ctx, projectID)
	if err != nil {
		return evidence.Coverage{}, err
	}
	return evidence.ComputeCoverage(competitors, items, o.cfg.Coverage), nil
}

// RankOpportunities merges and ranks candidates against cov.
func (o *Orchestrator) RankOpportunities(candidates []model.Opportunity, cov evidence.Coverage) []model.Opportunity {
	return opportunity.RankOpportunities(candidates, cov, o.cfg.Rank, o.similarity, o.now())
}

// RankCompetitorCandidates scores and dedupes raw competitor candidates.
func (o *Orchestrator) RankCompetitorCandidates(raw []model.CompetitorCandidate) []model.CompetitorCandidate {
	return competitor.Rank(raw)
}

// IsFluffy reports whether statement is too vague to be useful.
func (o *Orchestrator) IsFluffy(statement string) bool {
	return fluff.IsFluffy(statement)
}

// DiscoverCompetitors searches for competitor candidates.
func (o *Orchestrator) DiscoverCompetitors(ctx context.Context, query string) ([]model.CompetitorCandidate, error) {
	if o.discoverer == nil {
		return nil, ErrNoDiscoverer
	}
	return o.discoverer.Discover(ctx, query)
}

// NextBestAction recommends what to do next for a project.
func (o *Orchestrator) NextBestAction(ctx context.Context, projectID string) (nextaction.Action, error) {
	competitors, items, err := o.projectEvidence(ctx, projectID)
	if err != nil {
		return nextaction.Action{}, err
	}
	published, err := o.store.ListArtifacts(ctx, store.ArtifactFilter{ProjectID: projectID, Type: model.ArtifactOpportunities})
	if err != nil {
		return nextaction.Action{}, eris.Wrap(err, "orchestrator: list opportunities")
	}
	return nextaction.Resolve(nextaction.State{
		CompetitorCount:  len(competitors),
		MinCompetitors:   o.cfg.Coverage.MinCompetitors,
		Coverage:         evidence.ComputeCoverage(competitors, items, o.cfg.Coverage),
		HasOpportunities: len(published) > 0,
	}), nil
}

// LatestOpportunities returns the published opportunities of the newest run
// of projectID that has any. Runs are checked one at a time through the
// selector so output of one run never stands in for another.
func (o *Orchestrator) LatestOpportunities(ctx context.Context, projectID string) (*OpportunitiesPayload, bool, error) {
	runs, err := o.store.ListRuns(ctx, store.RunFilter{ProjectID: projectID})
	if err != nil {
		return nil, false, eris.Wrap(err, "orchestrator: list runs")
	}
	for _, r := range runs {
		a, ok := o.selector.Latest(ctx, projectID, r.ID, model.ArtifactOpportunities)
		if !ok {
			continue
		}
		var p OpportunitiesPayload
		if err := a.Decode(&p); err != nil {
			return nil, false, eris.Wrapf(err, "orchestrator: decode opportunities of run %s", r.ID)
		}
		return &p, true, nil
	}
	return nil, false, nil
}

func (o *Orchestrator) project(ctx context.Context, projectID string) (*model.Project, error) {
	p, err := o.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: get project")
	}
	if p == nil {
		return nil, eris.Wrapf(ErrProjectNotFound, "project %s", projectID)
	}
	return p, nil
}

func (o *Orchestrator) projectEvidence(ctx context.Context, projectID string) ([]model.Competitor, []model.EvidenceItem, error) {
	if _, err := o.project(ctx, projectID); err != nil {
		return nil, nil, err
	}
	competitors, err := o.store.ListCompetitors(ctx, projectID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "orchestrator: list competitors")
	}
	items, err := o.store.ListEvidence(ctx, projectID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "orchestrator: list evidence")
	}
	return competitors, items, nil
}
