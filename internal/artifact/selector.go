// Package artifact finds and writes step outputs scoped to a single run.
package artifact

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/store"
)

// Store is the storage collaborator used by the selector.
type Store interface {
	CreateArtifact(ctx context.Context, a model.Artifact) (*model.Artifact, error)
	ListArtifacts(ctx context.Context, filter store.ArtifactFilter) ([]model.Artifact, error)
}

// Selector reads and writes run-scoped artifacts.
type Selector struct {
	store Store
	now   func() time.Time
}

// NewSelector creates a Selector over st.
func NewSelector(st Store) *Selector {
	return &Selector{store: st, now: time.Now}
}

// Latest returns the newest artifact of typ produced by runID in projectID.
// The run is matched against the id embedded in the artifact content, so an
// artifact from another run is never returned, and an empty runID matches
// nothing. A storage error is logged
// and reported as not found; re-running the step is safe.
func (s *Selector) Latest(ctx context.Context, projectID, runID string, typ model.ArtifactType) (*model.Artifact, bool) {
	if runID == "" {
		return nil, false
	}
	all, err := s.store.ListArtifacts(ctx, store.ArtifactFilter{ProjectID: projectID, Type: typ})
	if err != nil {
		zap.L().Warn("artifact: list failed, treating as missing",
			zap.String("project_id", projectID),
			zap.String("run_id", runID),
			zap.String("type", string(typ)),
			zap.Error(err),
		)
		return nil, false
	}

	var matches []model.Artifact
	for _, a := range all {
		if a.ProjectID != projectID || a.Type != typ {
			continue
		}
		if a.EmbeddedRunID() != runID {
			continue
		}
		matches = append(matches, a)
	}
	if len(matches) == 0 {
		return nil, false
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.After(matches[j].CreatedAt)
		}
		return matches[i].ID > matches[j].ID
	})
	a := matches[0]
	return &a, true
}

// Put writes a new immutable artifact with runID embedded in its content.
// Earlier artifacts of the same type are left in place; Latest prefers the
// newest.
func (s *Selector) Put(ctx context.Context, projectID, runID string, typ model.ArtifactType, payload any) (*model.Artifact, error) {
	content, err := model.EncodeArtifactContent(runID, payload)
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: encode %s", typ)
	}
	a, err := s.store.CreateArtifact(ctx, model.Artifact{
		ProjectID: projectID,
		RunID:     runID,
		Type:      typ,
		Content:   content,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "artifact: create %s", typ)
	}
	return a, nil
}
