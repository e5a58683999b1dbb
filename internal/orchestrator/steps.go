package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/generate"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/opportunity"
	"github.com/sells-group/opportunity-cli/internal/resilience"
)

// InputPayload is written by load-input.
type InputPayload struct {
	Project     model.Project      `json:"project"`
	Competitors []model.Competitor `json:"competitors"`
}

// EvidencePayload is written by collect-evidence.
type EvidencePayload struct {
	Items     []model.EvidenceItem `json:"items"`
	Collected int                  `json:"collected"`
	Added     int                  `json:"added"`
}

// QualityPayload is written by evidence-quality-check.
type QualityPayload struct {
	Coverage evidence.Coverage `json:"coverage"`
}

// DraftPayload is written by generate-opportunities.
type DraftPayload struct {
	Opportunities []model.Opportunity `json:"opportunities"`
}

// ValidationPayload is written by validate-opportunities.
type ValidationPayload struct {
	Accepted []model.Opportunity `json:"accepted"`
	Rejected []Rejection         `json:"rejected"`
}

// ScoresPayload is written by compute-scores.
type ScoresPayload struct {
	Opportunities []model.Opportunity `json:"opportunities"`
	ScoredAt      time.Time           `json:"scored_at"`
}

// OpportunitiesPayload is the published result of a run.
type OpportunitiesPayload struct {
	RunID         string              `json:"run_id"`
	Opportunities []model.Opportunity `json:"opportunities"`
	Coverage      evidence.Coverage   `json:"coverage"`
}

// RunSummary is written by finalize.
type RunSummary struct {
	Opportunities int       `json:"opportunities"`
	Rejected      int       `json:"rejected"`
	EvidenceItems int       `json:"evidence_items"`
	Competitors   int       `json:"competitors"`
	FinishedAt    time.Time `json:"finished_at"`
}

// pipelineContext carries decoded step outputs between steps of one
// Analyze call.
type pipelineContext struct {
	projectID string
	run       *model.Run

	input      InputPayload
	evidence   EvidencePayload
	quality    QualityPayload
	draft      DraftPayload
	validation ValidationPayload
	scores     ScoresPayload
	published  OpportunitiesPayload
}

// absorb decodes the artifact of step into pc.
func (pc *pipelineContext) absorb(step model.Step, a *model.Artifact) error {
	var target any
	switch step {
	case model.StepLoadInput:
		target = &pc.input
	case model.StepCollectEvidence:
		target = &pc.evidence
	case model.StepEvidenceQualityCheck:
		target = &pc.quality
	case model.StepGenerateOpportunities:
		target = &pc.draft
	case model.StepValidateOpportunities:
		target = &pc.validation
	case model.StepComputeScores:
		target = &pc.scores
	case model.StepPersistArtifacts:
		target = &pc.published
	default:
		return nil
	}
	if err := a.Decode(target); err != nil {
		return eris.Wrapf(err, "orchestrator: decode %s artifact", step)
	}
	return nil
}

func (o *Orchestrator) bodyFor(step model.Step) stepBody {
	switch step {
	case model.StepLoadInput:
		return o.loadInput
	case model.StepCollectEvidence:
		return o.collectEvidence
	case model.StepEvidenceQualityCheck:
		return o.qualityCheck
	case model.StepGenerateOpportunities:
		return o.generateOpportunities
	case model.StepValidateOpportunities:
		return o.validateOpportunities
	case model.StepComputeScores:
		return o.computeScores
	case model.StepPersistArtifacts:
		return o.persist
	default:
		return o.finalize
	}
}

func (o *Orchestrator) loadInput(ctx context.Context, pc *pipelineContext) (any, error) {
	p, err := o.project(ctx, pc.projectID)
	if err != nil {
		return nil, err
	}
	competitors, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) ([]model.Competitor, error) {
		return o.store.ListCompetitors(ctx, pc.projectID)
	})
	if err != nil {
		return nil, eris.Wrap(err, "list competitors")
	}
	return InputPayload{Project: *p, Competitors: competitors}, nil
}

// collectEvidence stores newly collected evidence and snapshots the
// project's evidence for the listed competitors. Evidence inserts skip
// duplicates, so re-running the step does not grow the store.
func (o *Orchestrator) collectEvidence(ctx context.Context, pc *pipelineContext) (any, error) {
	out := EvidencePayload{}
	if o.source != nil && len(pc.input.Competitors) > 0 {
		items, err := o.source.Collect(ctx, pc.projectID, pc.input.Competitors)
		if err != nil {
			return nil, eris.Wrap(err, "collect evidence")
		}
		out.Collected = len(items)
		for i := range items {
			items[i].ProjectID = pc.projectID
			items[i] = evidence.Normalize(items[i])
		}
		added, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) (int, error) {
			return o.store.AddEvidence(ctx, items)
		})
		if err != nil {
			return nil, eris.Wrap(err, "store evidence")
		}
		out.Added = added
	}

	all, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) ([]model.EvidenceItem, error) {
		return o.store.ListEvidence(ctx, pc.projectID)
	})
	if err != nil {
		return nil, eris.Wrap(err, "list evidence")
	}
	known := make(map[string]bool, len(pc.input.Competitors))
	for _, c := range pc.input.Competitors {
		known[c.ID] = true
	}
	kept := all[:0]
	for _, it := range all {
		if known[it.CompetitorID] {
			kept = append(kept, it)
		}
	}
	out.Items = evidence.Dedupe(kept)
	return out, nil
}

func (o *Orchestrator) qualityCheck(_ context.Context, pc *pipelineContext) (any, error) {
	cov := evidence.ComputeCoverage(pc.input.Competitors, pc.evidence.Items, o.cfg.Coverage)
	return QualityPayload{Coverage: cov}, nil
}

func (o *Orchestrator) generateOpportunities(ctx context.Context, pc *pipelineContext) (any, error) {
	if o.generator == nil {
		return nil, ErrNoGenerator
	}
	opps, err := o.generator.Generate(ctx, generate.Request{
		Project:     pc.input.Project,
		Competitors: pc.input.Competitors,
		Evidence:    pc.evidence.Items,
		Coverage:    pc.quality.Coverage,
	})
	if err != nil {
		return nil, err
	}
	return DraftPayload{Opportunities: opps}, nil
}

func (o *Orchestrator) validateOpportunities(_ context.Context, pc *pipelineContext) (any, error) {
	accepted, rejected := Validate(pc.draft.Opportunities, pc.evidence.Items, ValidateOptions{
		RequireKnownCitations: o.cfg.RequireKnownCitations,
		FilterFluff:           o.cfg.FilterFluff,
	})
	for _, r := range rejected {
		zap.L().Info("orchestrator: opportunity rejected",
			zap.String("run_id", pc.run.ID),
			zap.String("title", r.Title),
			zap.String("reason", string(r.Reason)),
			zap.String("detail", r.Detail))
	}
	return ValidationPayload{Accepted: accepted, Rejected: rejected}, nil
}

// computeScores ranks as of the run's creation so a re-executed step
// reproduces the same order.
func (o *Orchestrator) computeScores(_ context.Context, pc *pipelineContext) (any, error) {
	asOf := pc.run.CreatedAt
	if asOf.IsZero() {
		asOf = o.now()
	}
	ranked := opportunity.RankOpportunities(pc.validation.Accepted, pc.quality.Coverage, o.cfg.Rank, o.similarity, asOf)
	return ScoresPayload{Opportunities: ranked, ScoredAt: asOf.UTC()}, nil
}

func (o *Orchestrator) persist(_ context.Context, pc *pipelineContext) (any, error) {
	opps := pc.scores.Opportunities
	if opps == nil {
		opps = []model.Opportunity{}
	}
	return OpportunitiesPayload{
		RunID:         pc.run.ID,
		Opportunities: opps,
		Coverage:      pc.quality.Coverage,
	}, nil
}

func (o *Orchestrator) finalize(_ context.Context, pc *pipelineContext) (any, error) {
	return RunSummary{
		Opportunities: len(pc.published.Opportunities),
		Rejected:      len(pc.validation.Rejected),
		EvidenceItems: len(pc.evidence.Items),
		Competitors:   len(pc.input.Competitors),
		FinishedAt:    o.now().UTC(),
	}, nil
}
