// Package api exposes the orchestrator over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-cli/internal/model"
	"github.com/sells-group/opportunity-cli/internal/orchestrator"
	"github.com/sells-group/opportunity-cli/internal/store"
)

// Server serves the orchestrator's operations.
type Server struct {
	orch  *orchestrator.Orchestrator
	store store.Store
	// base outlives requests; asynchronous analyses run under it.
	base context.Context
}

// New creates a Server. Analyses started with ?async=true run under ctx.
func New(ctx context.Context, orch *orchestrator.Orchestrator, st store.Store) *Server {
	return &Server{orch: orch, store: st, base: ctx}
}

// Routes builds the router. An empty allowedOrigins disables CORS.
func (s *Server) Routes(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/projects/{projectID}", func(r chi.Router) {
		r.Post("/runs", s.startRun)
		r.Get("/runs", s.listRuns)
		r.Get("/coverage", s.coverage)
		r.Get("/next-action", s.nextAction)
		r.Get("/opportunities", s.latestOpportunities)
		r.Get("/runs/{runID}/artifacts/{type}", s.artifact)
	})
	r.Get("/runs/{runID}", s.getRun)
	r.Post("/runs/{runID}/analyze", s.analyze)
	r.Post("/fluff", s.fluff)
	r.Post("/competitors/rank", s.rankCompetitors)
	r.Post("/competitors/discover", s.discoverCompetitors)
	return r
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.orch.StartRun(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{ProjectID: chi.URLParam(r, "projectID"), Limit: 50})
	if err != nil {
		writeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if run == nil {
		writeError(w, orchestrator.ErrRunNotFound)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// analyze runs the pipeline for a run. The analysis is detached from the
// request so a disconnecting client does not fail the step it was in.
func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	run, err := s.store.GetRun(r.Context(), runID)
	if err != nil {
		writeError(w, err)
		return
	}
	if run == nil {
		writeError(w, orchestrator.ErrRunNotFound)
		return
	}

	if r.URL.Query().Get("async") == "true" {
		go func() {
			report, err := s.orch.Analyze(s.base, run.ProjectID, run.ID)
			if err != nil {
				zap.L().Error("api: async analysis failed", zap.String("run_id", run.ID), zap.Error(err))
				return
			}
			zap.L().Info("api: async analysis finished",
				zap.String("run_id", run.ID),
				zap.String("status", string(report.Status)))
		}()
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "run_id": run.ID})
		return
	}

	report, err := s.orch.Analyze(context.WithoutCancel(r.Context()), run.ProjectID, run.ID)
	if err != nil {
		if report != nil && errors.Is(err, orchestrator.ErrStepInProgress) {
			writeJSON(w, http.StatusConflict, report)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) coverage(w http.ResponseWriter, r *http.Request) {
	cov, err := s.orch.ComputeCoverage(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cov)
}

func (s *Server) nextAction(w http.ResponseWriter, r *http.Request) {
	action, err := s.orch.NextBestAction(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (s *Server) latestOpportunities(w http.ResponseWriter, r *http.Request) {
	published, ok, err := s.orch.LatestOpportunities(r.Context(), chi.URLParam(r, "projectID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no opportunities published yet"})
		return
	}
	writeJSON(w, http.StatusOK, published)
}

func (s *Server) artifact(w http.ResponseWriter, r *http.Request) {
	typ := model.ArtifactType(chi.URLParam(r, "type"))
	if !typ.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown artifact type"})
		return
	}
	a, ok := s.orch.LatestArtifact(r.Context(), chi.URLParam(r, "projectID"), chi.URLParam(r, "runID"), typ)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "artifact not found"})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) fluff(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Statement string `json:"statement"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"fluffy": s.orch.IsFluffy(req.Statement)})
}

func (s *Server) rankCompetitors(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidates []model.CompetitorCandidate `json:"candidates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	writeJSON(w, http.StatusOK, s.orch.RankCompetitorCandidates(req.Candidates))
}

func (s *Server) discoverCompetitors(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	candidates, err := s.orch.DiscoverCompetitors(r.Context(), req.Query)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, candidates)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}

// statusFor maps orchestrator sentinels to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrProjectNotFound), errors.Is(err, orchestrator.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrStepInProgress), errors.Is(err, orchestrator.ErrStepGated):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNoGenerator), errors.Is(err, orchestrator.ErrNoDiscoverer):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("api: request failed", zap.Error(err))
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Duration("duration", time.Since(start)))
	})
}
