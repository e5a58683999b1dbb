package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/opportunity-cli/internal/config"
	"github.com/sells-group/opportunity-cli/internal/generate"
	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/nextaction"
	"github.com/sells-group/opportunity-cli/internal/orchestrator"
	"github.com/sells-group/opportunity-cli/internal/store"
)

type stubGenerator struct{}

func (stubGenerator) Generate(_ context.Context, req generate.Request) ([]model.Opportunity, error) {
	cites := make([]model.Citation, 0, len(req.Evidence))
	for _, it := range req.Evidence {
		cites = append(cites, model.Citation{URL: it.URL})
	}
	return []model.Opportunity{{
		ID:        "opp-1",
		Title:     "Bundle SSO into the Team plan",
		Claims:    []string{"Every competitor gates SSO behind Enterprise pricing"},
		Citations: cites,
	}}, nil
}

type testEnv struct {
	st        *store.SQLiteStore
	handler   http.Handler
	projectID string
}

func newTestEnv(t *testing.T, competitors int, opts ...orchestrator.Option) *testEnv {
	t.Helper()
	ctx := context.Background()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))

	p, err := st.CreateProject(ctx, "Status pages")
	require.NoError(t, err)
	var items []model.EvidenceItem
	for i := 0; i < competitors; i++ {
		domain := string(rune('a'+i)) + "corp.com"
		c, err := st.AddCompetitor(ctx, model.Competitor{ProjectID: p.ID, Name: domain, Domain: domain})
		require.NoError(t, err)
		items = append(items, model.EvidenceItem{
			ProjectID:    p.ID,
			CompetitorID: c.ID,
			URL:          "https://" + domain + "/pricing",
			Domain:       domain,
			SourceType:   model.SourcePricing,
			Content:      "SSO: Enterprise only",
			ExtractedAt:  time.Now().AddDate(0, 0, -3),
		})
	}
	if len(items) > 0 {
		_, err = st.AddEvidence(ctx, items)
		require.NoError(t, err)
	}

	orch := orchestrator.New(config.DefaultAnalysisConfig(), st, opts...)
	srv := New(ctx, orch, st)
	return &testEnv{st: st, handler: srv.Routes([]string{"https://app.example.com"}), projectID: p.ID}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 0)
	rr := env.do(t, http.MethodGet, "/health", nil)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "application/json")
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestStartRunAndAnalyze(t *testing.T) {
	env := newTestEnv(t, 3, orchestrator.WithGenerator(stubGenerator{}))

	rr := env.do(t, http.MethodPost, "/projects/"+env.projectID+"/runs", nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var run model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.Equal(t, model.StepStatusPending, run.Steps.Status(model.StepLoadInput))

	rr = env.do(t, http.MethodPost, "/runs/"+run.ID+"/analyze", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var report orchestrator.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, orchestrator.ReportCompleted, report.Status)
	require.Len(t, report.Opportunities, 1)
	assert.Len(t, report.Opportunities[0].Citations, 3)

	rr = env.do(t, http.MethodGet, "/projects/"+env.projectID+"/runs/"+run.ID+"/artifacts/opportunities", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var a model.Artifact
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &a))
	assert.Equal(t, run.ID, a.EmbeddedRunID())

	rr = env.do(t, http.MethodGet, "/projects/"+env.projectID+"/opportunities", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var published orchestrator.OpportunitiesPayload
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &published))
	assert.Equal(t, run.ID, published.RunID)

	rr = env.do(t, http.MethodGet, "/runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))
	assert.True(t, run.Finished())

	rr = env.do(t, http.MethodGet, "/projects/"+env.projectID+"/runs", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &runs))
	assert.Len(t, runs, 1)
}

func TestAnalyze_InsufficientEvidence(t *testing.T) {
	env := newTestEnv(t, 1, orchestrator.WithGenerator(stubGenerator{}))

	rr := env.do(t, http.MethodPost, "/projects/"+env.projectID+"/runs", nil)
	require.Equal(t, http.StatusCreated, rr.Code)
	var run model.Run
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &run))

	rr = env.do(t, http.MethodPost, "/runs/"+run.ID+"/analyze", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var report orchestrator.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, orchestrator.ReportInsufficientEvidence, report.Status)
	require.NotNil(t, report.NextAction)
	assert.Equal(t, nextaction.AddCompetitors, report.NextAction.Kind)
}

func TestAnalyze_StepInProgressIsConflict(t *testing.T) {
	env := newTestEnv(t, 3, orchestrator.WithGenerator(stubGenerator{}))
	ctx := context.Background()

	run, err := env.st.CreateRun(ctx, env.projectID)
	require.NoError(t, err)
	steps := run.Steps.Clone()
	steps[model.StepLoadInput] = model.StepStatusEntry{Status: model.StepStatusRunning, ClaimID: "other"}
	require.NoError(t, env.st.UpdateRunStepStatus(ctx, run.ID, steps))

	rr := env.do(t, http.MethodPost, "/runs/"+run.ID+"/analyze", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)
	var report orchestrator.Report
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Equal(t, orchestrator.ReportIncomplete, report.Status)
}

func TestNotFound(t *testing.T) {
	env := newTestEnv(t, 0)

	cases := []struct {
		method, path string
	}{
		{http.MethodPost, "/projects/missing/runs"},
		{http.MethodGet, "/projects/missing/coverage"},
		{http.MethodGet, "/projects/missing/next-action"},
		{http.MethodPost, "/runs/missing/analyze"},
		{http.MethodGet, "/runs/missing"},
		{http.MethodGet, "/projects/" + env.projectID + "/opportunities"},
		{http.MethodGet, "/projects/" + env.projectID + "/runs/missing/artifacts/scores"},
	}
	for _, tc := range cases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			rr := env.do(t, tc.method, tc.path, nil)
			assert.Equal(t, http.StatusNotFound, rr.Code, rr.Body.String())
		})
	}
}

func TestArtifact_UnknownType(t *testing.T) {
	env := newTestEnv(t, 0)
	rr := env.do(t, http.MethodGet, "/projects/"+env.projectID+"/runs/r1/artifacts/report", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCoverageAndNextAction(t *testing.T) {
	env := newTestEnv(t, 3)

	rr := env.do(t, http.MethodGet, "/projects/"+env.projectID+"/coverage", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var cov struct {
		Sufficient         bool `json:"sufficient"`
		CoveredCompetitors int  `json:"covered_competitors"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &cov))
	assert.True(t, cov.Sufficient)
	assert.Equal(t, 3, cov.CoveredCompetitors)

	rr = env.do(t, http.MethodGet, "/projects/"+env.projectID+"/next-action", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var action nextaction.Action
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &action))
	assert.Equal(t, nextaction.GenerateOpportunities, action.Kind)
}

func TestFluff(t *testing.T) {
	env := newTestEnv(t, 0)

	rr := env.do(t, http.MethodPost, "/fluff", map[string]string{"statement": "Huge opportunity to grow"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"fluffy":true}`, rr.Body.String())

	rr = env.do(t, http.MethodPost, "/fluff", map[string]string{"statement": "Acme raised Team pricing 25% in March per its pricing page"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"fluffy":false}`, rr.Body.String())

	req := httptest.NewRequest(http.MethodPost, "/fluff", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid request body")
}

func TestRankCompetitors(t *testing.T) {
	env := newTestEnv(t, 0)

	rr := env.do(t, http.MethodPost, "/competitors/rank", map[string]any{
		"candidates": []model.CompetitorCandidate{
			{Name: "Statuspage", URL: "https://www.statuspage.io/pricing"},
			{Name: "Statuspage", URL: "https://www.statuspage.io"},
			{Name: "Top 10 status page tools", URL: "https://www.g2.com/categories/status-page"},
		},
	})
	require.Equal(t, http.StatusOK, rr.Code)
	var ranked []model.CompetitorCandidate
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &ranked))
	require.NotEmpty(t, ranked)
	assert.Equal(t, "https://www.statuspage.io", ranked[0].URL)
}

func TestDiscover_NoDiscoverer(t *testing.T) {
	env := newTestEnv(t, 0)

	rr := env.do(t, http.MethodPost, "/competitors/discover", map[string]string{"query": "status page"})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = env.do(t, http.MethodPost, "/competitors/discover", map[string]string{"query": " "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, 0)

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)

	assert.Equal(t, "https://app.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
}
