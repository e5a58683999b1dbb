package runstate

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/store"
)

var t0 = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func newSQLiteRun(t *testing.T) (*store.SQLiteStore, *model.Run) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	p, err := st.CreateProject(ctx, "acme")
	require.NoError(t, err)
	run, err := st.CreateRun(ctx, p.ID)
	require.NoError(t, err)
	return st, run
}

// mockStore is a testify mock of Store without conditional updates.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	args := m.Called(ctx, runID)
	r, _ := args.Get(0).(*model.Run)
	return r, args.Error(1)
}

func (m *mockStore) UpdateRunStepStatus(ctx context.Context, runID string, steps model.StepStatusMap) error {
	return m.Called(ctx, runID, steps).Error(0)
}

// mockVersionedStore adds conditional updates.
type mockVersionedStore struct {
	mockStore
}

func (m *mockVersionedStore) UpdateRunStepStatusIfVersion(ctx context.Context, runID string, steps model.StepStatusMap, version int64) (bool, error) {
	args := m.Called(ctx, runID, steps, version)
	return args.Bool(0), args.Error(1)
}

func pendingRun() *model.Run {
	return &model.Run{ID: "run-1", ProjectID: "p", Steps: model.NewStepStatusMap()}
}

func TestMachine_Lifecycle(t *testing.T) {
	for _, tc := range []struct {
		name string
		opts []Option
	}{
		{"versioned", nil},
		{"verify", []Option{WithoutVersioning()}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			st, run := newSQLiteRun(t)
			m := New(st, tc.opts...)
			ctx := context.Background()
			step := model.StepCollectEvidence

			res := m.TryMarkStepRunning(ctx, run.ID, step, t0)
			require.True(t, res.OK(), res.Reason)
			entry := res.Run.Steps[step]
			assert.Equal(t, model.StepStatusRunning, entry.Status)
			require.NotNil(t, entry.StartedAt)
			assert.True(t, t0.Equal(*entry.StartedAt))
			assert.NotEmpty(t, entry.ClaimID)

			res = m.TryMarkStepRunning(ctx, run.ID, step, t0)
			assert.Equal(t, ReasonAlreadyRunning, res.Reason)
			assert.True(t, res.Reason.Race())

			res = m.MarkStepCompleted(ctx, run.ID, step, t0.Add(time.Minute))
			require.True(t, res.OK(), res.Reason)
			entry = res.Run.Steps[step]
			assert.Equal(t, model.StepStatusCompleted, entry.Status)
			require.NotNil(t, entry.CompletedAt)
			assert.True(t, t0.Add(time.Minute).Equal(*entry.CompletedAt))
			assert.True(t, t0.Equal(*entry.StartedAt), "started-at survives completion")

			assert.Equal(t, ReasonAlreadyCompleted, m.TryMarkStepRunning(ctx, run.ID, step, t0).Reason)
			assert.Equal(t, ReasonAlreadyCompleted, m.MarkStepCompleted(ctx, run.ID, step, t0).Reason)
			assert.Equal(t, ReasonAlreadyCompleted, m.MarkStepFailed(ctx, run.ID, step, t0, "x").Reason)

			// Other steps are untouched.
			got, err := st.GetRun(ctx, run.ID)
			require.NoError(t, err)
			assert.Equal(t, model.StepStatusPending, got.Steps.Status(model.StepLoadInput))
		})
	}
}

func TestMachine_FailedStepCanBeReclaimed(t *testing.T) {
	st, run := newSQLiteRun(t)
	m := New(st)
	ctx := context.Background()
	step := model.StepGenerateOpportunities

	require.True(t, m.TryMarkStepRunning(ctx, run.ID, step, t0).OK())

	res := m.MarkStepFailed(ctx, run.ID, step, t0.Add(time.Second), "generator timeout")
	require.True(t, res.OK())
	assert.Equal(t, model.StepStatusFailed, res.Run.Steps[step].Status)
	assert.Equal(t, "generator timeout", res.Run.Steps[step].Error)

	assert.Equal(t, ReasonAlreadyFailed, m.MarkStepCompleted(ctx, run.ID, step, t0).Reason)
	assert.Equal(t, ReasonAlreadyFailed, m.MarkStepFailed(ctx, run.ID, step, t0, "again").Reason)

	res = m.TryMarkStepRunning(ctx, run.ID, step, t0.Add(time.Hour))
	require.True(t, res.OK())
	assert.Empty(t, res.Run.Steps[step].Error)
	assert.Nil(t, res.Run.Steps[step].CompletedAt)
}

func TestMachine_FinishRequiresRunning(t *testing.T) {
	st, run := newSQLiteRun(t)
	m := New(st)
	ctx := context.Background()

	assert.Equal(t, ReasonNotRunning, m.MarkStepCompleted(ctx, run.ID, model.StepFinalize, t0).Reason)
	assert.Equal(t, ReasonNotRunning, m.MarkStepFailed(ctx, run.ID, model.StepFinalize, t0, "x").Reason)
}

func TestMachine_InvalidStepNeverTouchesStore(t *testing.T) {
	ms := &mockStore{}
	m := New(ms)

	res := m.TryMarkStepRunning(context.Background(), "run-1", model.Step("bogus"), t0)
	assert.Equal(t, ReasonInvalidStep, res.Reason)
	assert.Error(t, res.Err)
	assert.Equal(t, ReasonInvalidStep, m.MarkStepCompleted(context.Background(), "run-1", "", t0).Reason)
	ms.AssertNotCalled(t, "GetRun", mock.Anything, mock.Anything)
}

func TestMachine_FetchFailures(t *testing.T) {
	ms := &mockStore{}
	ms.On("GetRun", mock.Anything, "broken").Return(nil, errors.New("connection refused"))
	ms.On("GetRun", mock.Anything, "missing").Return(nil, nil)
	m := New(ms)

	res := m.TryMarkStepRunning(context.Background(), "broken", model.StepLoadInput, t0)
	assert.Equal(t, ReasonFetchFailed, res.Reason)
	assert.True(t, res.Reason.Transient())
	assert.Contains(t, res.Err.Error(), "connection refused")

	res = m.TryMarkStepRunning(context.Background(), "missing", model.StepLoadInput, t0)
	assert.Equal(t, ReasonFetchFailed, res.Reason)
	ms.AssertNotCalled(t, "UpdateRunStepStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestMachine_UpdateFailure(t *testing.T) {
	ms := &mockStore{}
	ms.On("GetRun", mock.Anything, "run-1").Return(pendingRun(), nil)
	ms.On("UpdateRunStepStatus", mock.Anything, "run-1", mock.Anything).Return(errors.New("disk full"))
	m := New(ms)

	res := m.TryMarkStepRunning(context.Background(), "run-1", model.StepLoadInput, t0)
	assert.Equal(t, ReasonUpdateFailed, res.Reason)
	assert.True(t, res.Reason.Transient())
	ms.AssertExpectations(t)
}

func TestMachine_VerifyDetectsLostRace(t *testing.T) {
	ms := &mockStore{}
	before := pendingRun()
	after := pendingRun()
	after.Steps[model.StepLoadInput] = model.StepStatusEntry{Status: model.StepStatusRunning, ClaimID: "someone-else"}

	ms.On("GetRun", mock.Anything, "run-1").Return(before, nil).Once()
	ms.On("UpdateRunStepStatus", mock.Anything, "run-1", mock.Anything).Return(nil).Once()
	ms.On("GetRun", mock.Anything, "run-1").Return(after, nil).Once()

	m := New(ms)
	m.newClaimID = func() string { return "mine" }

	res := m.TryMarkStepRunning(context.Background(), "run-1", model.StepLoadInput, t0)
	assert.Equal(t, ReasonAlreadyRunning, res.Reason)
	ms.AssertExpectations(t)
}

func TestMachine_VerifyReadFailure(t *testing.T) {
	ms := &mockStore{}
	ms.On("GetRun", mock.Anything, "run-1").Return(pendingRun(), nil).Once()
	ms.On("UpdateRunStepStatus", mock.Anything, "run-1", mock.Anything).Return(nil).Once()
	ms.On("GetRun", mock.Anything, "run-1").Return(nil, errors.New("timeout")).Once()

	res := New(ms).TryMarkStepRunning(context.Background(), "run-1", model.StepLoadInput, t0)
	assert.Equal(t, ReasonFetchFailed, res.Reason)
	ms.AssertExpectations(t)
}

func TestMachine_VersionConflictOnOtherStepIsRetried(t *testing.T) {
	ms := &mockVersionedStore{}
	first := pendingRun()
	first.Version = 1
	second := pendingRun()
	second.Version = 2
	second.Steps[model.StepFinalize] = model.StepStatusEntry{Status: model.StepStatusRunning, ClaimID: "other"}

	ms.On("GetRun", mock.Anything, "run-1").Return(first, nil).Once()
	ms.On("UpdateRunStepStatusIfVersion", mock.Anything, "run-1", mock.Anything, int64(1)).Return(false, nil).Once()
	ms.On("GetRun", mock.Anything, "run-1").Return(second, nil).Once()
	ms.On("UpdateRunStepStatusIfVersion", mock.Anything, "run-1", mock.Anything, int64(2)).Return(true, nil).Once()

	res := New(ms).TryMarkStepRunning(context.Background(), "run-1", model.StepLoadInput, t0)
	require.True(t, res.OK(), res.Reason)
	assert.Equal(t, int64(3), res.Run.Version)
	assert.Equal(t, model.StepStatusRunning, res.Run.Steps.Status(model.StepFinalize), "concurrent write is preserved")
	ms.AssertExpectations(t)
	ms.AssertNotCalled(t, "UpdateRunStepStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestMachine_VersionConflictsExhausted(t *testing.T) {
	ms := &mockVersionedStore{}
	ms.On("GetRun", mock.Anything, "run-1").Return(pendingRun(), nil)
	ms.On("UpdateRunStepStatusIfVersion", mock.Anything, "run-1", mock.Anything, int64(0)).Return(false, nil)

	res := New(ms, WithMaxConflicts(2)).TryMarkStepRunning(context.Background(), "run-1", model.StepLoadInput, t0)
	assert.Equal(t, ReasonUpdateFailed, res.Reason)
	ms.AssertNumberOfCalls(t, "UpdateRunStepStatusIfVersion", 3)
}

func TestMachine_ConcurrentClaimsYieldOneWinner(t *testing.T) {
	st, run := newSQLiteRun(t)
	m := New(st)
	ctx := context.Background()

	const callers = 8
	results := make([]Result, callers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = m.TryMarkStepRunning(ctx, run.ID, model.StepLoadInput, t0)
		}(i)
	}
	close(start)
	wg.Wait()

	wins := 0
	for _, r := range results {
		if r.OK() {
			wins++
			continue
		}
		assert.True(t, r.Reason.Race(), "unexpected reason %q", r.Reason)
	}
	assert.Equal(t, 1, wins)
}

func TestMachine_ConcurrentClaimsOnDifferentStepsAllSucceed(t *testing.T) {
	st, run := newSQLiteRun(t)
	m := New(st)
	ctx := context.Background()

	results := make([]Result, len(model.Steps))
	var wg sync.WaitGroup
	for i, step := range model.Steps {
		wg.Add(1)
		go func(i int, step model.Step) {
			defer wg.Done()
			results[i] = m.TryMarkStepRunning(ctx, run.ID, step, t0)
		}(i, step)
	}
	wg.Wait()

	for i, r := range results {
		assert.True(t, r.OK(), "step %s: %s", model.Steps[i], r.Reason)
	}
	got, err := st.GetRun(ctx, run.ID)
	require.NoError(t, err)
	for _, step := range model.Steps {
		assert.Equal(t, model.StepStatusRunning, got.Steps.Status(step), step)
	}
}
