package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/store"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) CreateArtifact(ctx context.Context, a model.Artifact) (*model.Artifact, error) {
	args := m.Called(ctx, a)
	r, _ := args.Get(0).(*model.Artifact)
	return r, args.Error(1)
}

func (m *mockStore) ListArtifacts(ctx context.Context, filter store.ArtifactFilter) ([]model.Artifact, error) {
	args := m.Called(ctx, filter)
	r, _ := args.Get(0).([]model.Artifact)
	return r, args.Error(1)
}

var base = time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)

func art(t *testing.T, id, projectID, runID string, typ model.ArtifactType, at time.Time) model.Artifact {
	t.Helper()
	content, err := model.EncodeArtifactContent(runID, map[string]string{"id": id})
	require.NoError(t, err)
	return model.Artifact{ID: id, ProjectID: projectID, RunID: runID, Type: typ, Content: content, CreatedAt: at}
}

func TestLatest_PicksNewestForRun(t *testing.T) {
	ms := &mockStore{}
	filter := store.ArtifactFilter{ProjectID: "p1", Type: model.ArtifactScores}
	ms.On("ListArtifacts", mock.Anything, filter).Return([]model.Artifact{
		art(t, "a-old", "p1", "run-1", model.ArtifactScores, base),
		art(t, "a-other-run", "p1", "run-2", model.ArtifactScores, base.Add(time.Hour)),
		art(t, "a-new", "p1", "run-1", model.ArtifactScores, base.Add(time.Minute)),
	}, nil)

	got, ok := NewSelector(ms).Latest(context.Background(), "p1", "run-1", model.ArtifactScores)
	require.True(t, ok)
	assert.Equal(t, "a-new", got.ID)
}

func TestLatest_NeverReturnsOtherRun(t *testing.T) {
	ms := &mockStore{}
	ms.On("ListArtifacts", mock.Anything, mock.Anything).Return([]model.Artifact{
		art(t, "only", "p1", "run-2", model.ArtifactOpportunities, base),
	}, nil)

	got, ok := NewSelector(ms).Latest(context.Background(), "p1", "run-1", model.ArtifactOpportunities)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestLatest_UsesEmbeddedRunNotColumn(t *testing.T) {
	a := art(t, "mislabeled", "p1", "run-2", model.ArtifactScores, base)
	a.RunID = "run-1"

	ms := &mockStore{}
	ms.On("ListArtifacts", mock.Anything, mock.Anything).Return([]model.Artifact{a}, nil)

	_, ok := NewSelector(ms).Latest(context.Background(), "p1", "run-1", model.ArtifactScores)
	assert.False(t, ok)
}

func TestLatest_FiltersProjectAndType(t *testing.T) {
	ms := &mockStore{}
	ms.On("ListArtifacts", mock.Anything, mock.Anything).Return([]model.Artifact{
		art(t, "wrong-project", "p2", "run-1", model.ArtifactScores, base.Add(time.Hour)),
		art(t, "wrong-type", "p1", "run-1", model.ArtifactInput, base.Add(time.Hour)),
		art(t, "right", "p1", "run-1", model.ArtifactScores, base),
	}, nil)

	got, ok := NewSelector(ms).Latest(context.Background(), "p1", "run-1", model.ArtifactScores)
	require.True(t, ok)
	assert.Equal(t, "right", got.ID)
}

func TestLatest_TimestampTieBrokenByID(t *testing.T) {
	ms := &mockStore{}
	ms.On("ListArtifacts", mock.Anything, mock.Anything).Return([]model.Artifact{
		art(t, "a", "p1", "run-1", model.ArtifactScores, base),
		art(t, "b", "p1", "run-1", model.ArtifactScores, base),
	}, nil)

	got, ok := NewSelector(ms).Latest(context.Background(), "p1", "run-1", model.ArtifactScores)
	require.True(t, ok)
	assert.Equal(t, "b", got.ID)
}

func TestLatest_StorageErrorIsNone(t *testing.T) {
	ms := &mockStore{}
	ms.On("ListArtifacts", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	got, ok := NewSelector(ms).Latest(context.Background(), "p1", "run-1", model.ArtifactScores)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestLatest_MalformedContentIgnored(t *testing.T) {
	ms := &mockStore{}
	ms.On("ListArtifacts", mock.Anything, mock.Anything).Return([]model.Artifact{
		{ID: "junk", ProjectID: "p1", RunID: "run-1", Type: model.ArtifactScores, Content: json.RawMessage(`[1,2]`), CreatedAt: base},
	}, nil)

	_, ok := NewSelector(ms).Latest(context.Background(), "p1", "run-1", model.ArtifactScores)
	assert.False(t, ok)
}

func TestPut_EmbedsRunID(t *testing.T) {
	ms := &mockStore{}
	ms.On("CreateArtifact", mock.Anything, mock.MatchedBy(func(a model.Artifact) bool {
		return a.ProjectID == "p1" && a.RunID == "run-1" && a.Type == model.ArtifactInput &&
			a.EmbeddedRunID() == "run-1" && a.CreatedAt.Equal(base)
	})).Return(&model.Artifact{ID: "new"}, nil)

	sel := NewSelector(ms)
	sel.now = func() time.Time { return base }

	got, err := sel.Put(context.Background(), "p1", "run-1", model.ArtifactInput, map[string]int{"competitors": 3})
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)
	ms.AssertExpectations(t)
}

func TestPut_StoreError(t *testing.T) {
	ms := &mockStore{}
	ms.On("CreateArtifact", mock.Anything, mock.Anything).Return(nil, errors.New("disk full"))

	_, err := NewSelector(ms).Put(context.Background(), "p1", "run-1", model.ArtifactInput, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "artifact: create input")
}

func TestLatest_EmptyRunIDMatchesNothing(t *testing.T) {
	ms := &mockStore{}
	ms.On("ListArtifacts", mock.Anything, mock.Anything).Return([]model.Artifact{
		{ID: "junk", ProjectID: "p1", Type: model.ArtifactScores, Content: json.RawMessage(`[1,2]`), CreatedAt: base},
		{ID: "bare", ProjectID: "p1", Type: model.ArtifactScores, Content: json.RawMessage(`{"data":{}}`), CreatedAt: base},
	}, nil).Maybe()

	got, ok := NewSelector(ms).Latest(context.Background(), "p1", "", model.ArtifactScores)
	assert.False(t, ok)
	assert.Nil(t, got)
	ms.AssertNotCalled(t, "ListArtifacts", mock.Anything, mock.Anything)
}
