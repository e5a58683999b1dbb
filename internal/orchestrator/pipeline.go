package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/evidence"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/nextaction"
	"github.com/sells-group/opportunity-cli/internal/resilience"
	"github.com/sells-group/opportunity-cli/internal/runstate"
)

// ReportStatus summarizes how an Analyze call ended.
type ReportStatus string

const (
	ReportCompleted            ReportStatus = "completed"
	ReportInsufficientEvidence ReportStatus = "insufficient_evidence"
	ReportIncomplete           ReportStatus = "incomplete"
)

// StepDisposition says what Analyze did with a step.
type StepDisposition string

const (
	StepRan     StepDisposition = "ran"
	StepReused  StepDisposition = "reused"  // artifact existed for this run
	StepSkipped StepDisposition = "skipped" // not reached
)

// StepOutcome records one step of an Analyze call.
type StepOutcome struct {
	Step        model.Step      `json:"step"`
	Disposition StepDisposition `json:"disposition"`
	ArtifactID  string          `json:"artifact_id,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
	Error       string          `json:"error,omitempty"`
}

// Report is the structured result of Analyze.
type Report struct {
	ProjectID     string              `json:"project_id"`
	RunID         string              `json:"run_id"`
	Status        ReportStatus        `json:"status"`
	Steps         []StepOutcome       `json:"steps"`
	Coverage      *evidence.Coverage  `json:"coverage,omitempty"`
	NextAction    *nextaction.Action  `json:"next_action,omitempty"`
	Opportunities []model.Opportunity `json:"opportunities,omitempty"`
	Rejected      []Rejection         `json:"rejected,omitempty"`
}

// stepBody computes the payload for one step. It must be safe to run more
// than once for the same run.
type stepBody func(ctx context.Context, pc *pipelineContext) (any, error)

// Analyze executes the pipeline for runID. Steps already completed for the
// run are reused; a step held by another caller stops the call with
// ErrStepInProgress. Insufficient evidence stops the run after the quality
// check and is reported, not returned as an error.
func (o *Orchestrator) Analyze(ctx context.Context, projectID, runID string) (*Report, error) {
	log := zap.L().With(zap.String("project_id", projectID), zap.String("run_id", runID))

	run, err := o.store.GetRun(ctx, runID)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: get run")
	}
	if run == nil || run.ProjectID != projectID {
		return nil, eris.Wrapf(ErrRunNotFound, "run %s", runID)
	}

	report := &Report{ProjectID: projectID, RunID: runID, Status: ReportIncomplete}
	pc := &pipelineContext{projectID: projectID, run: run}

	log.Info("orchestrator: analysis starting")
	for i, step := range model.Steps {
		if i > 0 {
			prev := model.StepArtifacts[model.Steps[i-1]]
			if _, ok := o.selector.Latest(ctx, projectID, runID, prev); !ok {
				report.Steps = append(report.Steps, skippedFrom(model.Steps[i:])...)
				return report, eris.Wrapf(ErrStepGated, "%s needs %s", step, prev)
			}
		}

		outcome, a, err := o.runStep(ctx, pc, step, o.bodyFor(step))
		report.Steps = append(report.Steps, outcome)
		if err != nil {
			report.Steps = append(report.Steps, skippedFrom(model.Steps[i+1:])...)
			return report, err
		}
		if err := pc.absorb(step, a); err != nil {
			report.Steps = append(report.Steps, skippedFrom(model.Steps[i+1:])...)
			return report, err
		}

		if step == model.StepEvidenceQualityCheck {
			cov := pc.quality.Coverage
			report.Coverage = &cov
			if !cov.Sufficient {
				action := nextaction.Resolve(nextaction.State{
					CompetitorCount: len(pc.input.Competitors),
					MinCompetitors:  o.cfg.Coverage.MinCompetitors,
					Coverage:        cov,
				})
				report.Status = ReportInsufficientEvidence
				report.NextAction = &action
				report.Steps = append(report.Steps, skippedFrom(model.Steps[i+1:])...)
				log.Info("orchestrator: insufficient evidence, stopping",
					zap.Int("covered", cov.CoveredCompetitors),
					zap.Int("total", cov.TotalCompetitors))
				return report, nil
			}
		}
	}

	report.Status = ReportCompleted
	report.Opportunities = pc.published.Opportunities
	report.Rejected = pc.validation.Rejected
	log.Info("orchestrator: analysis complete", zap.Int("opportunities", len(report.Opportunities)))
	return report, nil
}

func skippedFrom(steps []model.Step) []StepOutcome {
	out := make([]StepOutcome, 0, len(steps))
	for _, s := range steps {
		out = append(out, StepOutcome{Step: s, Disposition: StepSkipped})
	}
	return out
}

// runStep claims step, runs body unless the run already has the step's
// artifact, writes the artifact and marks the step completed.
func (o *Orchestrator) runStep(ctx context.Context, pc *pipelineContext, step model.Step, body stepBody) (StepOutcome, *model.Artifact, error) {
	log := zap.L().With(zap.String("run_id", pc.run.ID), zap.String("step", string(step)))
	typ := model.StepArtifacts[step]
	outcome := StepOutcome{Step: step}
	start := time.Now()

	claim := o.transition(ctx, func(ctx context.Context) runstate.Result {
		return o.machine.TryMarkStepRunning(ctx, pc.run.ID, step, o.now())
	})
	if claim.Run != nil {
		pc.run = claim.Run
	}

	switch {
	case claim.OK():
	case claim.Reason == runstate.ReasonAlreadyCompleted:
		a, err := o.requireArtifact(ctx, pc, typ)
		if err != nil {
			return o.finish(outcome, start, err), nil, err
		}
		outcome.Disposition = StepReused
		outcome.ArtifactID = a.ID
		return o.finish(outcome, start, nil), a, nil
	case claim.Reason == runstate.ReasonAlreadyRunning:
		// The holder may have written its output already.
		if a, ok := o.selector.Latest(ctx, pc.projectID, pc.run.ID, typ); ok {
			o.completeReused(ctx, pc, step)
			outcome.Disposition = StepReused
			outcome.ArtifactID = a.ID
			return o.finish(outcome, start, nil), a, nil
		}
		err := eris.Wrapf(ErrStepInProgress, "%s", step)
		return o.finish(outcome, start, err), nil, err
	default:
		err := eris.Wrapf(claimError(claim), "orchestrator: claim %s", step)
		return o.finish(outcome, start, err), nil, err
	}

	// A previous holder may have written the artifact and crashed before
	// marking the step completed.
	a, reused := o.selector.Latest(ctx, pc.projectID, pc.run.ID, typ)
	if !reused {
		var err error
		a, err = o.execute(ctx, pc, step, typ, body)
		if err != nil {
			log.Error("orchestrator: step failed", zap.Error(err))
			o.markFailed(ctx, pc, step, err)
			return o.finish(outcome, start, err), nil, err
		}
	}

	done := o.transition(ctx, func(ctx context.Context) runstate.Result {
		return o.machine.MarkStepCompleted(ctx, pc.run.ID, step, o.now())
	})
	if done.Run != nil {
		pc.run = done.Run
	}
	switch {
	case done.OK(), done.Reason == runstate.ReasonAlreadyCompleted:
	case done.Reason.Transient():
		err := eris.Wrapf(claimError(done), "orchestrator: complete %s", step)
		return o.finish(outcome, start, err), nil, err
	default:
		// The artifact is written and authoritative for this run even if
		// the status entry was moved by someone else.
		log.Warn("orchestrator: step completed out of band", zap.String("reason", string(done.Reason)))
	}

	outcome.Disposition = StepRan
	if reused {
		outcome.Disposition = StepReused
	}
	outcome.ArtifactID = a.ID
	log.Info("orchestrator: step complete",
		zap.String("disposition", string(outcome.Disposition)),
		zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	return o.finish(outcome, start, nil), a, nil
}

// completeReused marks a step completed on behalf of a holder whose
// artifact is already written. Losing the race to the holder is fine.
func (o *Orchestrator) completeReused(ctx context.Context, pc *pipelineContext, step model.Step) {
	done := o.transition(ctx, func(ctx context.Context) runstate.Result {
		return o.machine.MarkStepCompleted(ctx, pc.run.ID, step, o.now())
	})
	if done.Run != nil {
		pc.run = done.Run
	}
	if !done.OK() && !done.Reason.Race() {
		zap.L().Warn("orchestrator: could not complete reused step",
			zap.String("run_id", pc.run.ID),
			zap.String("step", string(step)),
			zap.String("reason", string(done.Reason)),
			zap.Error(done.Err))
	}
}

func (o *Orchestrator) execute(ctx context.Context, pc *pipelineContext, step model.Step, typ model.ArtifactType, body stepBody) (*model.Artifact, error) {
	stepCtx := ctx
	if o.cfg.StepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, o.cfg.StepTimeout)
		defer cancel()
	}

	payload, err := body(stepCtx, pc)
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: %s", step)
	}
	a, err := resilience.DoVal(ctx, o.retry, func(ctx context.Context) (*model.Artifact, error) {
		return o.selector.Put(ctx, pc.projectID, pc.run.ID, typ, payload)
	})
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: write %s", typ)
	}
	return a, nil
}

func (o *Orchestrator) markFailed(ctx context.Context, pc *pipelineContext, step model.Step, cause error) {
	res := o.transition(ctx, func(ctx context.Context) runstate.Result {
		return o.machine.MarkStepFailed(ctx, pc.run.ID, step, o.now(), cause.Error())
	})
	if res.Run != nil {
		pc.run = res.Run
	}
	if !res.OK() {
		zap.L().Warn("orchestrator: could not mark step failed",
			zap.String("run_id", pc.run.ID),
			zap.String("step", string(step)),
			zap.String("reason", string(res.Reason)),
			zap.Error(res.Err))
	}
}

// requireArtifact loads the artifact of a completed step. Completion is
// written after the artifact, so a miss is a lagging or failing read and is
// retried.
func (o *Orchestrator) requireArtifact(ctx context.Context, pc *pipelineContext, typ model.ArtifactType) (*model.Artifact, error) {
	a, err := resilience.DoVal(ctx, o.retry, func(context.Context) (*model.Artifact, error) {
		a, ok := o.selector.Latest(ctx, pc.projectID, pc.run.ID, typ)
		if !ok {
			return nil, resilience.NewTransientError(eris.Errorf("orchestrator: %s artifact not visible", typ), 0)
		}
		return a, nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "orchestrator: load %s", typ)
	}
	return a, nil
}

// transition runs a state machine call, retrying fetch_failed and
// update_failed with backoff.
func (o *Orchestrator) transition(ctx context.Context, fn func(ctx context.Context) runstate.Result) runstate.Result {
	var last runstate.Result
	cfg := o.retry
	cfg.OnRetry = resilience.RetryLogger("runstate", "transition")
	_ = resilience.Do(ctx, cfg, func(ctx context.Context) error {
		last = fn(ctx)
		if last.Reason.Transient() {
			return resilience.NewTransientError(claimError(last), 0)
		}
		return nil
	})
	return last
}

func (o *Orchestrator) finish(outcome StepOutcome, start time.Time, err error) StepOutcome {
	outcome.DurationMs = time.Since(start).Milliseconds()
	if err != nil {
		outcome.Error = err.Error()
	}
	return outcome
}

// claimError turns a rejected transition into an error.
func claimError(r runstate.Result) error {
	if r.Err != nil {
		return eris.Wrapf(r.Err, "%s", r.Reason)
	}
	return eris.New(string(r.Reason))
}
