// Package docstruct wraps the hosted document structuring API that turns
// uploaded PDFs and DOCX files into ordered layout elements. Structuring is
// asynchronous: Submit returns a job id, Poll reports progress, and Elements
// fetches the finished output.
package docstruct

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://api.unstructuredapp.io/general/v1"

// Job states reported by the structuring service.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// Client defines the structuring API operations the pipeline needs.
type Client interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error)
	Poll(ctx context.Context, jobID string) (*JobStatus, error)
	Elements(ctx context.Context, jobID string) ([]Element, error)
}

// SubmitRequest carries one document upload.
type SubmitRequest struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SubmitResponse is the acknowledgement for a submitted document.
type SubmitResponse struct {
	JobID  string `json:"job_id"`
	FileID string `json:"file_id"`
}

// JobStatus is one poll's view of a structuring job.
type JobStatus struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Element is one layout element of the structured document, in reading order.
type Element struct {
	Type     string          `json:"type"`
	Text     string          `json:"text"`
	Metadata ElementMetadata `json:"metadata"`
}

// ElementMetadata carries positional context for an element.
type ElementMetadata struct {
	PageNumber int `json:"page_number"`
}

// APIError is returned when the service responds with a non-2xx status.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("docstruct: HTTP %d: %s", e.StatusCode, e.Body)
}

// Option configures the httpClient.
type Option func(*httpClient)

// WithBaseURL overrides the default base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = url
	}
}

// WithHTTPClient sets a custom *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPollRate limits status polls to n per minute across the process.
func WithPollRate(perMinute float64) Option {
	return func(c *httpClient) {
		if perMinute > 0 {
			c.pollLimiter = rate.NewLimiter(rate.Limit(perMinute/60.0), 1)
		}
	}
}

// httpClient implements Client using net/http.
type httpClient struct {
	apiKey      string
	baseURL     string
	http        *http.Client
	pollLimiter *rate.Limiter
}

// NewClient creates a structuring API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *httpClient) Submit(ctx context.Context, req SubmitRequest) (*SubmitResponse, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("files", req.Filename)
	if err != nil {
		return nil, eris.Wrap(err, "docstruct: create form file")
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, eris.Wrap(err, "docstruct: write form file")
	}
	if req.ContentType != "" {
		if err := mw.WriteField("content_type", req.ContentType); err != nil {
			return nil, eris.Wrap(err, "docstruct: write content type")
		}
	}
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "docstruct: close multipart writer")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jobs", &body)
	if err != nil {
		return nil, eris.Wrap(err, "docstruct: create submit request")
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	var resp SubmitResponse
	if err := c.do(httpReq, &resp); err != nil {
		return nil, eris.Wrap(err, "docstruct: submit")
	}
	return &resp, nil
}

// Poll performs exactly one status check. Callers own the retry cadence; the
// limiter only protects the service from a stampede of concurrent pollers.
func (c *httpClient) Poll(ctx context.Context, jobID string) (*JobStatus, error) {
	if c.pollLimiter != nil {
		if err := c.pollLimiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "docstruct: poll rate wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/jobs/%s", c.baseURL, jobID), nil)
	if err != nil {
		return nil, eris.Wrap(err, "docstruct: create poll request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var status JobStatus
	if err := c.do(req, &status); err != nil {
		return nil, eris.Wrapf(err, "docstruct: poll job %s", jobID)
	}
	return &status, nil
}

func (c *httpClient) Elements(ctx context.Context, jobID string) ([]Element, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/jobs/%s/elements", c.baseURL, jobID), nil)
	if err != nil {
		return nil, eris.Wrap(err, "docstruct: create elements request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var elements []Element
	if err := c.do(req, &elements); err != nil {
		return nil, eris.Wrapf(err, "docstruct: download elements %s", jobID)
	}
	return elements, nil
}

func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "execute request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{
			StatusCode: resp.StatusCode,
			Body:       string(data),
		}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return eris.Wrap(err, "decode response")
	}

	return nil
}
