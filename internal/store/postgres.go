package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/opportunity-cli/internal/db"
	"github.com/sells-group/opportunity-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS competitors (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name       TEXT NOT NULL,
	website    TEXT NOT NULL DEFAULT '',
	domain     TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (project_id, domain)
);

CREATE TABLE IF NOT EXISTS evidence_items (
	id            TEXT PRIMARY KEY,
	project_id    TEXT NOT NULL REFERENCES projects(id),
	competitor_id TEXT NOT NULL,
	url           TEXT NOT NULL,
	domain        TEXT NOT NULL DEFAULT '',
	source_type   TEXT NOT NULL DEFAULT 'other',
	title         TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL DEFAULT '',
	extracted_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (project_id, competitor_id, url)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	steps      JSONB NOT NULL,
	version    BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	run_id     TEXT NOT NULL,
	type       TEXT NOT NULL,
	content    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_competitors_project ON competitors(project_id);
CREATE INDEX IF NOT EXISTS idx_evidence_project ON evidence_items(project_id);
CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_artifacts_project_type ON artifacts(project_id, type, created_at DESC);
`

// evidenceColumns is the column order used for bulk evidence inserts.
var evidenceColumns = []string{
	"id", "project_id", "competitor_id", "url", "domain",
	"source_type", "title", "content", "extracted_at",
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, name string) (*model.Project, error) {
	p := model.Project{ID: uuid.New().String(), Name: name, CreatedAt: time.Now().UTC()}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO projects (id, name, created_at) VALUES ($1, $2, $3)`,
		p.ID, p.Name, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert project")
	}
	return &p, nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, created_at FROM projects WHERE id = $1`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get project %s", id)
	}
	return &p, nil
}

func (s *PostgresStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list projects")
	}
	defer rows.Close()

	var out []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan project")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list projects iterate")
}

// --- Competitors ---

func (s *PostgresStore) AddCompetitor(ctx context.Context, c model.Competitor) (*model.Competitor, error) {
	if c.Domain == "" {
		return nil, eris.New("postgres: competitor domain is required")
	}
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()
	err := s.pool.QueryRow(ctx,
		`INSERT INTO competitors (id, project_id, name, website, domain, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (project_id, domain) DO UPDATE SET name = EXCLUDED.name, website = EXCLUDED.website
		 RETURNING id, created_at`,
		c.ID, c.ProjectID, c.Name, c.Website, c.Domain, c.CreatedAt,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: upsert competitor")
	}
	return &c, nil
}

func (s *PostgresStore) ListCompetitors(ctx context.Context, projectID string) ([]model.Competitor, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, name, website, domain, created_at FROM competitors
		 WHERE project_id = $1 ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list competitors")
	}
	defer rows.Close()

	var out []model.Competitor
	for rows.Next() {
		var c model.Competitor
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Website, &c.Domain, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan competitor")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list competitors iterate")
}

// --- Evidence ---

func (s *PostgresStore) AddEvidence(ctx context.Context, items []model.EvidenceItem) (int, error) {
	rows := make([][]any, 0, len(items))
	for _, it := range items {
		id := it.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{
			id, it.ProjectID, it.CompetitorID, it.URL, it.Domain,
			string(it.SourceType), it.Title, it.Content, it.ExtractedAt.UTC(),
		})
	}
	n, err := db.BulkInsert(ctx, s.pool, db.InsertConfig{
		Table:        "evidence_items",
		Columns:      evidenceColumns,
		ConflictKeys: []string{"project_id", "competitor_id", "url"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: add evidence")
	}
	return int(n), nil
}

func (s *PostgresStore) ListEvidence(ctx context.Context, projectID string) ([]model.EvidenceItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, project_id, competitor_id, url, domain, source_type, title, content, extracted_at
		 FROM evidence_items WHERE project_id = $1 ORDER BY url, competitor_id`, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list evidence")
	}
	defer rows.Close()

	var out []model.EvidenceItem
	for rows.Next() {
		var it model.EvidenceItem
		var st string
		if err := rows.Scan(&it.ID, &it.ProjectID, &it.CompetitorID, &it.URL, &it.Domain,
			&st, &it.Title, &it.Content, &it.ExtractedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan evidence")
		}
		it.SourceType = model.SourceType(st)
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list evidence iterate")
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, projectID string) (*model.Run, error) {
	now := time.Now().UTC()
	r := model.Run{
		ID:        uuid.New().String(),
		ProjectID: projectID,
		Steps:     model.NewStepStatusMap(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	stepsJSON, err := json.Marshal(r.Steps)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal steps")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO runs (id, project_id, steps, version, created_at, updated_at) VALUES ($1, $2, $3, 0, $4, $5)`,
		r.ID, r.ProjectID, stepsJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var stepsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT id, project_id, steps, version, created_at, updated_at FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &r.ProjectID, &stepsJSON, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	if err := json.Unmarshal(stepsJSON, &r.Steps); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal steps")
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, project_id, steps, version, created_at, updated_at FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ProjectID != "" {
		query += fmt.Sprintf(` AND project_id = $%d`, argIdx)
		args = append(args, filter.ProjectID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var stepsJSON []byte
		if err := rows.Scan(&r.ID, &r.ProjectID, &stepsJSON, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		if err := json.Unmarshal(stepsJSON, &r.Steps); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal steps")
		}
		runs = append(runs, r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) UpdateRunStepStatus(ctx context.Context, runID string, steps model.StepStatusMap) error {
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal steps")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET steps = $1, version = version + 1, updated_at = $2 WHERE id = $3`,
		stepsJSON, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update run steps %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) UpdateRunStepStatusIfVersion(ctx context.Context, runID string, steps model.StepStatusMap, version int64) (bool, error) {
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal steps")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET steps = $1, version = version + 1, updated_at = $2 WHERE id = $3 AND version = $4`,
		stepsJSON, time.Now().UTC(), runID, version,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: conditional update run steps %s", runID)
	}
	return tag.RowsAffected() == 1, nil
}

// --- Artifacts ---

func (s *PostgresStore) CreateArtifact(ctx context.Context, a model.Artifact) (*model.Artifact, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO artifacts (id, project_id, run_id, type, content, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.ProjectID, a.RunID, string(a.Type), []byte(a.Content), a.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert artifact")
	}
	return &a, nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.Artifact, error) {
	query := `SELECT id, project_id, run_id, type, content, created_at FROM artifacts WHERE project_id = $1`
	args := []any{filter.ProjectID}
	if filter.Type != "" {
		query += ` AND type = $2`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list artifacts")
	}
	defer rows.Close()

	var out []model.Artifact
	for rows.Next() {
		var a model.Artifact
		var typ string
		var content []byte
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.RunID, &typ, &content, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan artifact")
		}
		a.Type = model.ArtifactType(typ)
		a.Content = content
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list artifacts iterate")
}
