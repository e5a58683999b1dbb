// Package runstate implements the run step state machine. Every transition
// is a read-modify-write against the run's step-status map and is safe to
// call from concurrent processes.
package runstate

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// Reason tags a transition that did not happen.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonAlreadyRunning   Reason = "already_running"
	ReasonAlreadyCompleted Reason = "already_completed"
	ReasonAlreadyFailed    Reason = "already_failed"
	ReasonNotRunning       Reason = "not_running"
	ReasonFetchFailed      Reason = "fetch_failed"
	ReasonUpdateFailed     Reason = "update_failed"
	ReasonInvalidStep      Reason = "invalid_step"
)

// Transient reports whether the caller should retry with backoff.
func (r Reason) Transient() bool {
	return r == ReasonFetchFailed || r == ReasonUpdateFailed
}

// Race reports whether another caller already moved the step. Races are not
// errors: the caller proceeds as if it had performed the transition itself.
func (r Reason) Race() bool {
	return r == ReasonAlreadyRunning || r == ReasonAlreadyCompleted
}

// Result is the outcome of a transition. Run is the state observed after the
// attempt and may be nil when the run could not be read. Err carries the
// underlying storage error for logging only.
type Result struct {
	Run    *model.Run
	Reason Reason
	Err    error
}

// OK reports whether the transition was performed by this caller.
func (r Result) OK() bool { return r.Reason == ReasonNone }

// Store is the storage collaborator. GetRun returns (nil, nil) when the run
// does not exist.
type Store interface {
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	UpdateRunStepStatus(ctx context.Context, runID string, steps model.StepStatusMap) error
}

// VersionedStore is implemented by stores that can write the step map only
// when the run's version is unchanged since it was read. The write bumps the
// version. ok is false when another writer got there first.
type VersionedStore interface {
	UpdateRunStepStatusIfVersion(ctx context.Context, runID string, steps model.StepStatusMap, version int64) (ok bool, err error)
}

// DefaultMaxConflicts bounds how often a version conflict caused by a write
// to another step is retried before giving up with update_failed.
const DefaultMaxConflicts = 8

// Machine performs step transitions against a Store.
type Machine struct {
	store        Store
	versioned    VersionedStore
	maxConflicts int
	newClaimID   func() string
}

// Option configures a Machine.
type Option func(*Machine)

// WithMaxConflicts overrides DefaultMaxConflicts.
func WithMaxConflicts(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxConflicts = n
		}
	}
}

// WithoutVersioning forces the write-then-verify path even when the store
// supports conditional updates.
func WithoutVersioning() Option {
	return func(m *Machine) { m.versioned = nil }
}

// New creates a Machine. Conditional updates are used when st implements
// VersionedStore.
func New(st Store, opts ...Option) *Machine {
	m := &Machine{
		store:        st,
		maxConflicts: DefaultMaxConflicts,
		newClaimID:   uuid.NewString,
	}
	if vs, ok := st.(VersionedStore); ok {
		m.versioned = vs
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// transition decides the new entry for a step given its current entry. It
// returns a non-empty Reason to abort without writing.
type transition func(cur model.StepStatusEntry, claimID string) (model.StepStatusEntry, Reason)

// TryMarkStepRunning claims step for the caller. A pending or failed step can
// be claimed; a running or completed one cannot.
func (m *Machine) TryMarkStepRunning(ctx context.Context, runID string, step model.Step, startedAt time.Time) Result {
	started := startedAt.UTC()
	return m.apply(ctx, "running", runID, step, func(cur model.StepStatusEntry, claimID string) (model.StepStatusEntry, Reason) {
		switch cur.Status {
		case model.StepStatusRunning:
			return cur, ReasonAlreadyRunning
		case model.StepStatusCompleted:
			return cur, ReasonAlreadyCompleted
		}
		return model.StepStatusEntry{
			Status:    model.StepStatusRunning,
			StartedAt: &started,
			ClaimID:   claimID,
		}, ReasonNone
	})
}

// MarkStepCompleted moves a running step to completed.
func (m *Machine) MarkStepCompleted(ctx context.Context, runID string, step model.Step, completedAt time.Time) Result {
	done := completedAt.UTC()
	return m.apply(ctx, "completed", runID, step, func(cur model.StepStatusEntry, claimID string) (model.StepStatusEntry, Reason) {
		if r := finishable(cur); r != ReasonNone {
			return cur, r
		}
		cur.Status = model.StepStatusCompleted
		cur.CompletedAt = &done
		cur.Error = ""
		cur.ClaimID = claimID
		return cur, ReasonNone
	})
}

// MarkStepFailed moves a running step to failed and records cause. A failed
// step may later be claimed again.
func (m *Machine) MarkStepFailed(ctx context.Context, runID string, step model.Step, completedAt time.Time, cause string) Result {
	done := completedAt.UTC()
	return m.apply(ctx, "failed", runID, step, func(cur model.StepStatusEntry, claimID string) (model.StepStatusEntry, Reason) {
		if r := finishable(cur); r != ReasonNone {
			return cur, r
		}
		cur.Status = model.StepStatusFailed
		cur.CompletedAt = &done
		cur.Error = cause
		cur.ClaimID = claimID
		return cur, ReasonNone
	})
}

func finishable(cur model.StepStatusEntry) Reason {
	switch cur.Status {
	case model.StepStatusRunning:
		return ReasonNone
	case model.StepStatusCompleted:
		return ReasonAlreadyCompleted
	case model.StepStatusFailed:
		return ReasonAlreadyFailed
	default:
		return ReasonNotRunning
	}
}

func (m *Machine) apply(ctx context.Context, target, runID string, step model.Step, fn transition) Result {
	log := zap.L().With(
		zap.String("run_id", runID),
		zap.String("step", string(step)),
		zap.String("target", target),
	)
	if !step.Valid() {
		log.Warn("runstate: invalid step")
		return Result{Reason: ReasonInvalidStep, Err: eris.Errorf("runstate: unknown step %q", step)}
	}

	for attempt := 0; attempt <= m.maxConflicts; attempt++ {
		run, err := m.store.GetRun(ctx, runID)
		if err != nil {
			log.Warn("runstate: fetch run failed", zap.Error(err))
			return Result{Reason: ReasonFetchFailed, Err: eris.Wrap(err, "runstate: get run")}
		}
		if run == nil {
			log.Warn("runstate: run not found")
			return Result{Reason: ReasonFetchFailed, Err: eris.Errorf("runstate: run %s not found", runID)}
		}

		claimID := m.newClaimID()
		next, reason := fn(run.Steps.Entry(step), claimID)
		if reason != ReasonNone {
			log.Debug("runstate: transition rejected", zap.String("reason", string(reason)))
			return Result{Run: run, Reason: reason}
		}

		steps := run.Steps.Clone()
		steps[step] = next

		if m.versioned != nil {
			ok, err := m.versioned.UpdateRunStepStatusIfVersion(ctx, runID, steps, run.Version)
			if err != nil {
				log.Warn("runstate: conditional update failed", zap.Error(err))
				return Result{Run: run, Reason: ReasonUpdateFailed, Err: eris.Wrap(err, "runstate: update step status")}
			}
			if !ok {
				// Someone else wrote the run since we read it. Re-read: if it was
				// this step the next pass reports the race, otherwise retry.
				log.Debug("runstate: version conflict", zap.Int("attempt", attempt+1))
				continue
			}
			updated := *run
			updated.Steps = steps
			updated.Version = run.Version + 1
			log.Debug("runstate: transition applied")
			return Result{Run: &updated}
		}

		if err := m.store.UpdateRunStepStatus(ctx, runID, steps); err != nil {
			log.Warn("runstate: update failed", zap.Error(err))
			return Result{Run: run, Reason: ReasonUpdateFailed, Err: eris.Wrap(err, "runstate: update step status")}
		}
		return m.verify(ctx, log, runID, step, next)
	}

	log.Warn("runstate: too many version conflicts", zap.Int("max", m.maxConflicts))
	return Result{Reason: ReasonUpdateFailed, Err: eris.Errorf("runstate: %d version conflicts on run %s", m.maxConflicts+1, runID)}
}

// verify re-reads the run after an unconditional write and checks that the
// entry still carries this caller's claim. A concurrent writer that won the
// last write surfaces as a race reason.
func (m *Machine) verify(ctx context.Context, log *zap.Logger, runID string, step model.Step, want model.StepStatusEntry) Result {
	run, err := m.store.GetRun(ctx, runID)
	if err != nil || run == nil {
		if err == nil {
			err = eris.Errorf("runstate: run %s vanished", runID)
		}
		log.Warn("runstate: verify read failed", zap.Error(err))
		return Result{Reason: ReasonFetchFailed, Err: eris.Wrap(err, "runstate: verify")}
	}

	got := run.Steps.Entry(step)
	if got.ClaimID == want.ClaimID && got.Status == want.Status {
		log.Debug("runstate: transition applied")
		return Result{Run: run}
	}

	reason := ReasonAlreadyRunning
	switch got.Status {
	case model.StepStatusCompleted:
		reason = ReasonAlreadyCompleted
	case model.StepStatusFailed:
		reason = ReasonAlreadyFailed
	case model.StepStatusPending:
		reason = ReasonUpdateFailed
	}
	log.Info("runstate: lost race", zap.String("reason", string(reason)))
	return Result{Run: run, Reason: reason}
}
