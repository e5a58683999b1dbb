package store

import (
	"context"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	ProjectID string `json:"project_id,omitempty"`
	Limit     int    `json:"limit,omitempty"`
	Offset    int    `json:"offset,omitempty"`
}

// ArtifactFilter specifies criteria for listing artifacts. The run an
// artifact belongs to is read from its content, not filtered here.
type ArtifactFilter struct {
	ProjectID string             `json:"project_id"`
	Type      model.ArtifactType `json:"type,omitempty"`
}

// Store defines the persistence interface for projects, evidence, runs and
// artifacts. Get methods return (nil, nil) when the row does not exist.
type Store interface {
	// Projects
	CreateProject(ctx context.Context, name string) (*model.Project, error)
	GetProject(ctx context.Context, id string) (*model.Project, error)
	ListProjects(ctx context.Context) ([]model.Project, error)

	// Competitors. AddCompetitor upserts on (project, domain).
	AddCompetitor(ctx context.Context, c model.Competitor) (*model.Competitor, error)
	ListCompetitors(ctx context.Context, projectID string) ([]model.Competitor, error)

	// Evidence is immutable once stored; duplicates of (project, competitor,
	// url) are skipped. Returns the number of new rows.
	AddEvidence(ctx context.Context, items []model.EvidenceItem) (int, error)
	ListEvidence(ctx context.Context, projectID string) ([]model.EvidenceItem, error)

	// Runs
	CreateRun(ctx context.Context, projectID string) (*model.Run, error)
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	UpdateRunStepStatus(ctx context.Context, runID string, steps model.StepStatusMap) error
	UpdateRunStepStatusIfVersion(ctx context.Context, runID string, steps model.StepStatusMap, version int64) (bool, error)

	// Artifacts
	CreateArtifact(ctx context.Context, a model.Artifact) (*model.Artifact, error)
	ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.Artifact, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
