package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mirkored-07/tenderpilot/internal/model"
	"github.com/mirkored-07/tenderpilot/internal/pipeline"
	"github.com/mirkored-07/tenderpilot/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pipeline HTTP server",
	Long:  "Serves the advance endpoint the upload frontend invokes after creating a job, plus read-only job and result endpoints for the review UI.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		s, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		runner, cleanup, err := buildRunner(ctx, s)
		if err != nil {
			return err
		}
		defer cleanup()

		srv := &apiServer{store: s, runner: runner}
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		zap.L().Info("http server listening", zap.String("addr", addr))

		httpSrv := &http.Server{
			Addr:              addr,
			Handler:           srv.routes(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

type apiServer struct {
	store  store.Store
	runner *pipeline.Runner
}

func (s *apiServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Post("/pipeline/advance", s.handleAdvance)
	r.Get("/jobs/{jobID}", s.handleGetJob)
	r.Get("/jobs/{jobID}/result", s.handleGetResult)
	r.Get("/jobs/{jobID}/events", s.handleGetEvents)
	return r
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type advanceRequest struct {
	JobID string `json:"job_id"`
}

type advanceResponse struct {
	JobID  string           `json:"job_id"`
	Status model.StepStatus `json:"status"`
}

// handleAdvance performs exactly one pipeline step. Callers poll this
// endpoint; it never blocks on the structuring service finishing.
func (s *apiServer) handleAdvance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.JobID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "job_id is required"})
		return
	}

	step, err := s.runner.Advance(r.Context(), req.JobID)
	if err != nil {
		if errors.Is(err, pipeline.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		if step == "" {
			zap.L().Error("advance failed", zap.String("job_id", req.JobID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "advance failed"})
			return
		}
		// A spent attempt still yields a step token for the caller.
		zap.L().Warn("advance attempt errored", zap.String("job_id", req.JobID), zap.Error(err))
	}

	writeJSON(w, http.StatusOK, advanceResponse{JobID: req.JobID, Status: step})
}

func (s *apiServer) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	if job == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *apiServer) handleGetResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.store.GetResult(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	if result == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no result yet"})
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *apiServer) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.store.ListEvents(r.Context(), chi.URLParam(r, "jobID"), 200)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
