package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/opportunity-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// Pragmas are per connection and SQLite has a single writer; one pooled
	// connection keeps busy_timeout in effect and serializes writes.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS projects (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS competitors (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name       TEXT NOT NULL,
	website    TEXT NOT NULL DEFAULT '',
	domain     TEXT NOT NULL,
	created_at DATETIME NOT NULL,
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
	extracted_at  DATETIME NOT NULL,
	UNIQUE (project_id, competitor_id, url)
);

CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	steps      TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS artifacts (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	run_id     TEXT NOT NULL,
	type       TEXT NOT NULL,
	content    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_competitors_project ON competitors(project_id);
CREATE INDEX IF NOT EXISTS idx_evidence_project ON evidence_items(project_id);
CREATE INDEX IF NOT EXISTS idx_runs_project ON runs(project_id, created_at);
CREATE INDEX IF NOT EXISTS idx_artifacts_project_type ON artifacts(project_id, type, created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Projects ---

func (s *SQLiteStore) CreateProject(ctx context.Context, name string) (*model.Project, error) {
	p := model.Project{ID: uuid.New().String(), Name: name, CreatedAt: time.Now().UTC()}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert project")
	}
	return &p, nil
}

func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*model.Project, error) {
	var p model.Project
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get project %s", id)
	}
	return &p, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]model.Project, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, created_at FROM projects ORDER BY created_at, id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list projects")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Project
	for rows.Next() {
		var p model.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan project")
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list projects iterate")
}

// --- Competitors ---

func (s *SQLiteStore) AddCompetitor(ctx context.Context, c model.Competitor) (*model.Competitor, error) {
	if c.Domain == "" {
		return nil, eris.New("sqlite: competitor domain is required")
	}
	c.ID = uuid.New().String()
	c.CreatedAt = time.Now().UTC()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO competitors (id, project_id, name, website, domain, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, domain) DO UPDATE SET name = excluded.name, website = excluded.website
		 RETURNING id, created_at`,
		c.ID, c.ProjectID, c.Name, c.Website, c.Domain, c.CreatedAt,
	).Scan(&c.ID, &c.CreatedAt)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: upsert competitor")
	}
	return &c, nil
}

func (s *SQLiteStore) ListCompetitors(ctx context.Context, projectID string) ([]model.Competitor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, name, website, domain, created_at FROM competitors
		 WHERE project_id = ? ORDER BY created_at, id`, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list competitors")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Competitor
	for rows.Next() {
		var c model.Competitor
		if err := rows.Scan(&c.ID, &c.ProjectID, &c.Name, &c.Website, &c.Domain, &c.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan competitor")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list competitors iterate")
}

// --- Evidence ---

func (s *SQLiteStore) AddEvidence(ctx context.Context, items []model.EvidenceItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin evidence tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO evidence_items (id, project_id, competitor_id, url, domain, source_type, title, content, extracted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (project_id, competitor_id, url) DO NOTHING`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare evidence insert")
	}
	defer stmt.Close() //nolint:errcheck

	inserted := 0
	for _, it := range items {
		if it.ID == "" {
			it.ID = uuid.New().String()
		}
		res, err := stmt.ExecContext(ctx,
			it.ID, it.ProjectID, it.CompetitorID, it.URL, it.Domain,
			string(it.SourceType), it.Title, it.Content, it.ExtractedAt.UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert evidence %s", it.URL)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: rows affected")
		}
		inserted += int(n)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit evidence")
	}
	return inserted, nil
}

func (s *SQLiteStore) ListEvidence(ctx context.Context, projectID string) ([]model.EvidenceItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, project_id, competitor_id, url, domain, source_type, title, content, extracted_at
		 FROM evidence_items WHERE project_id = ? ORDER BY url, competitor_id`, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list evidence")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.EvidenceItem
	for rows.Next() {
		var it model.EvidenceItem
		var st string
		if err := rows.Scan(&it.ID, &it.ProjectID, &it.CompetitorID, &it.URL, &it.Domain,
			&st, &it.Title, &it.Content, &it.ExtractedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan evidence")
		}
		it.SourceType = model.SourceType(st)
		out = append(out, it)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list evidence iterate")
}

// --- Runs ---

func (s *SQLiteStore) CreateRun(ctx context.Context, projectID string) (*model.Run, error) {
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
		return nil, eris.Wrap(err, "sqlite: marshal steps")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, project_id, steps, version, created_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
		r.ID, r.ProjectID, string(stepsJSON), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert run")
	}
	return &r, nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, steps, version, created_at, updated_at FROM runs WHERE id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, project_id, steps, version, created_at, updated_at FROM runs WHERE 1=1`
	var args []any

	if filter.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, filter.ProjectID)
	}
	query += ` ORDER BY created_at DESC, id DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close() //nolint:errcheck

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) UpdateRunStepStatus(ctx context.Context, runID string, steps model.StepStatusMap) error {
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal steps")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET steps = ?, version = version + 1, updated_at = ? WHERE id = ?`,
		string(stepsJSON), time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update run steps %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) UpdateRunStepStatusIfVersion(ctx context.Context, runID string, steps model.StepStatusMap, version int64) (bool, error) {
	stepsJSON, err := json.Marshal(steps)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal steps")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET steps = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		string(stepsJSON), time.Now().UTC(), runID, version,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: conditional update run steps %s", runID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

// --- Artifacts ---

func (s *SQLiteStore) CreateArtifact(ctx context.Context, a model.Artifact) (*model.Artifact, error) {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, project_id, run_id, type, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.ProjectID, a.RunID, string(a.Type), string(a.Content), a.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert artifact")
	}
	return &a, nil
}

func (s *SQLiteStore) ListArtifacts(ctx context.Context, filter ArtifactFilter) ([]model.Artifact, error) {
	query := `SELECT id, project_id, run_id, type, content, created_at FROM artifacts WHERE project_id = ?`
	args := []any{filter.ProjectID}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, string(filter.Type))
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list artifacts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Artifact
	for rows.Next() {
		var a model.Artifact
		var typ, content string
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.RunID, &typ, &content, &a.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan artifact")
		}
		a.Type = model.ArtifactType(typ)
		a.Content = []byte(content)
		out = append(out, a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list artifacts iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var stepsJSON string
	if err := row.Scan(&r.ID, &r.ProjectID, &stepsJSON, &r.Version, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(stepsJSON), &r.Steps); err != nil {
		return nil, eris.Wrap(err, "unmarshal steps")
	}
	return &r, nil
}
