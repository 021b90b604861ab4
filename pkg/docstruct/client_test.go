package docstruct

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/jobs", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("files")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "tender.pdf", header.Filename)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"job_id": "ext-123", "file_id": "file-9"}`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	resp, err := client.Submit(context.Background(), SubmitRequest{
		Filename:    "tender.pdf",
		ContentType: "application/pdf",
		Data:        []byte("%PDF-1.4 fake"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ext-123", resp.JobID)
	assert.Equal(t, "file-9", resp.FileID)
}

func TestPoll(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		body       string
		wantStatus string
		wantErr    bool
	}{
		{
			name:       "running",
			statusCode: http.StatusOK,
			body:       `{"job_id": "ext-123", "status": "running"}`,
			wantStatus: JobRunning,
		},
		{
			name:       "completed",
			statusCode: http.StatusOK,
			body:       `{"job_id": "ext-123", "status": "completed"}`,
			wantStatus: JobCompleted,
		},
		{
			name:       "failed with message",
			statusCode: http.StatusOK,
			body:       `{"job_id": "ext-123", "status": "failed", "error": "corrupt file"}`,
			wantStatus: JobFailed,
		},
		{
			name:       "server error",
			statusCode: http.StatusInternalServerError,
			body:       `{"error": "boom"}`,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/jobs/ext-123", r.URL.Path)
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient("test-key", WithBaseURL(server.URL))
			status, err := client.Poll(context.Background(), "ext-123")
			if tt.wantErr {
				require.Error(t, err)
				var apiErr *APIError
				require.ErrorAs(t, err, &apiErr)
				assert.Equal(t, tt.statusCode, apiErr.StatusCode)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, status.Status)
		})
	}
}

func TestPollRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"job_id": "ext-1", "status": "running"}`))
	}))
	defer server.Close()

	// 60/min = 1/sec with burst 1; the second poll must wait ~1s.
	client := NewClient("test-key", WithBaseURL(server.URL), WithPollRate(60))

	start := time.Now()
	_, err := client.Poll(context.Background(), "ext-1")
	require.NoError(t, err)
	_, err = client.Poll(context.Background(), "ext-1")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
	assert.EqualValues(t, 2, calls.Load())
}

func TestElements(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jobs/ext-123/elements", r.URL.Path)
		w.Write([]byte(`[
			{"type": "Title", "text": "5. Award criteria", "metadata": {"page_number": 12}},
			{"type": "NarrativeText", "text": "Bids must be submitted by 14/05/2026.", "metadata": {"page_number": 12}}
		]`))
	}))
	defer server.Close()

	client := NewClient("test-key", WithBaseURL(server.URL))
	elements, err := client.Elements(context.Background(), "ext-123")
	require.NoError(t, err)
	require.Len(t, elements, 2)
	assert.Equal(t, "Title", elements[0].Type)
	assert.Equal(t, 12, elements[1].Metadata.PageNumber)
}
