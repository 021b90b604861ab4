package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirkored-07/tenderpilot/internal/config"
	"github.com/mirkored-07/tenderpilot/internal/cost"
	"github.com/mirkored-07/tenderpilot/internal/evidence"
	"github.com/mirkored-07/tenderpilot/internal/model"
	"github.com/mirkored-07/tenderpilot/internal/pipeline"
	"github.com/mirkored-07/tenderpilot/internal/store"
	"github.com/mirkored-07/tenderpilot/pkg/docstruct"
)

// newTestServer runs the API against an in-memory sqlite store with the mock
// extraction and reasoning paths enabled, so a job can be driven to done
// without any external service.
func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()

	cfg = &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"*"}},
		Pipeline: config.PipelineConfig{
			MockExtraction:       true,
			MockAI:               true,
			MaxInputChars:        180000,
			MaxOutputTokens:      8192,
			MaxUSDPerJob:         0.90,
			MaxReasoningAttempts: 3,
			CooldownSecs:         0,
			LockTTLSecs:          300,
		},
		Pricing:   config.PricingConfig{Anthropic: config.DefaultPricing()},
		Anthropic: config.AnthropicConfig{Model: "claude-sonnet-4-5-20250929"},
	}

	s, err := store.NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(t.Context()))
	t.Cleanup(func() { s.Close() })

	runner := pipeline.NewRunner(
		s, nil, docstruct.NewClient(""), nil,
		cost.NewGuard(cfg.Pricing, cfg.Pipeline),
		evidence.NewBuilder(cfg.Evidence),
		cfg.Pipeline, cfg.Anthropic.Model,
	)

	srv := httptest.NewServer((&apiServer{store: s, runner: runner}).routes())
	t.Cleanup(srv.Close)
	return srv, s
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdvanceEndpointDrivesJobToDone(t *testing.T) {
	srv, s := newTestServer(t)

	job, err := s.CreateJob(t.Context(), store.NewJob{
		UserID:         "user-1",
		Filename:       "tender.pdf",
		StoragePointer: "tender.pdf",
		SourceType:     model.SourcePDF,
	})
	require.NoError(t, err)

	advance := func() advanceResponse {
		resp, err := http.Post(srv.URL+"/pipeline/advance", "application/json",
			strings.NewReader(`{"job_id": "`+job.ID+`"}`))
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var out advanceResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	assert.Equal(t, model.StepExtractedScheduled, advance().Status)
	assert.Equal(t, model.StepDone, advance().Status)
	// Terminal jobs keep answering done.
	assert.Equal(t, model.StepDone, advance().Status)

	resp, err := http.Get(srv.URL + "/jobs/" + job.ID + "/result")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result model.JobResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.True(t, result.Finalized())
	assert.NotEmpty(t, result.Evidence)
}

func TestAdvanceEndpointUnknownJobIs404(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/pipeline/advance", "application/json",
		strings.NewReader(`{"job_id": "nope"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdvanceEndpointRejectsMissingJobID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/pipeline/advance", "application/json",
		strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJobEndpoints(t *testing.T) {
	srv, s := newTestServer(t)

	t.Run("unknown job is 404", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/jobs/nope")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("job and events round-trip", func(t *testing.T) {
		job, err := s.CreateJob(t.Context(), store.NewJob{
			UserID: "u", Filename: "t.pdf", StoragePointer: "t.pdf", SourceType: model.SourcePDF,
		})
		require.NoError(t, err)

		resp, err := http.Get(srv.URL + "/jobs/" + job.ID)
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got model.Job
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, model.JobStatusQueued, got.Status)
	})
}
