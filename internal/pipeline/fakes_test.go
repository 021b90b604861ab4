package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/mirkored-07/tenderpilot/internal/model"
	"github.com/mirkored-07/tenderpilot/internal/store"
	"github.com/mirkored-07/tenderpilot/pkg/anthropic"
	"github.com/mirkored-07/tenderpilot/pkg/docstruct"
)

// fakeStore is an in-memory store.Store for pipeline tests.
type fakeStore struct {
	mu      sync.Mutex
	jobs    map[string]*model.Job
	results map[string]*model.JobResult
	events  []model.JobEvent

	claimHook func(jobID string) (bool, bool) // override, claimed
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		jobs:    make(map[string]*model.Job),
		results: make(map[string]*model.JobResult),
	}
}

func (s *fakeStore) put(job *model.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ID] = &cp
}

func (s *fakeStore) CreateJob(_ context.Context, in store.NewJob) (*model.Job, error) {
	job := &model.Job{
		ID:             "job-" + in.Filename,
		UserID:         in.UserID,
		Filename:       in.Filename,
		StoragePointer: in.StoragePointer,
		SourceType:     in.SourceType,
		Status:         model.JobStatusQueued,
	}
	s.put(job)
	return job, nil
}

func (s *fakeStore) GetJob(_ context.Context, jobID string) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (s *fakeStore) ListJobs(_ context.Context, _ store.JobFilter) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Job
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	return out, nil
}

func (s *fakeStore) ClaimJob(_ context.Context, jobID string) (bool, error) {
	if s.claimHook != nil {
		if override, claimed := s.claimHook(jobID); override {
			return claimed, nil
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return false, eris.Errorf("no job %s", jobID)
	}
	if job.Status != model.JobStatusQueued {
		return false, nil
	}
	job.Status = model.JobStatusProcessing
	return true, nil
}

func (s *fakeStore) UpdateJobStatus(_ context.Context, jobID string, status model.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return eris.Errorf("no job %s", jobID)
	}
	job.Status = status
	return nil
}

func (s *fakeStore) UpdateJobPipeline(_ context.Context, jobID string, meta model.PipelineMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return eris.Errorf("no job %s", jobID)
	}
	job.Pipeline = meta
	return nil
}

func (s *fakeStore) UpsertResult(_ context.Context, result *model.JobResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *result
	s.results[result.JobID] = &cp
	return nil
}

func (s *fakeStore) GetResult(_ context.Context, jobID string) (*model.JobResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[jobID]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) AppendEvent(_ context.Context, event model.JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *fakeStore) ListEvents(_ context.Context, jobID string, _ int) ([]model.JobEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.JobEvent
	for _, e := range s.events {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *fakeStore) Migrate(context.Context) error { return nil }
func (s *fakeStore) Close() error                  { return nil }

// fakeObjstore serves fixed bytes and counts downloads.
type fakeObjstore struct {
	data      []byte
	downloads int
	err       error
}

func (f *fakeObjstore) Download(context.Context, string) ([]byte, error) {
	f.downloads++
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func (f *fakeObjstore) Close() error { return nil }

// fakeDocstruct scripts the structuring service and counts calls.
type fakeDocstruct struct {
	submits  int
	polls    int
	statuses []string // consumed per poll; last value repeats
	elements []docstruct.Element
	pollErr  error
}

func (f *fakeDocstruct) Submit(context.Context, docstruct.SubmitRequest) (*docstruct.SubmitResponse, error) {
	f.submits++
	return &docstruct.SubmitResponse{JobID: "ext-1", FileID: "file-1"}, nil
}

func (f *fakeDocstruct) Poll(context.Context, string) (*docstruct.JobStatus, error) {
	f.polls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	idx := f.polls - 1
	if idx >= len(f.statuses) {
		idx = len(f.statuses) - 1
	}
	return &docstruct.JobStatus{JobID: "ext-1", Status: f.statuses[idx]}, nil
}

func (f *fakeDocstruct) Elements(context.Context, string) ([]docstruct.Element, error) {
	return f.elements, nil
}

// fakeLLM returns a fixed payload and counts calls.
type fakeLLM struct {
	calls   int
	payload string
	err     error
}

func (f *fakeLLM) CreateMessage(context.Context, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: f.payload}},
		Usage:   anthropic.TokenUsage{InputTokens: 1000, OutputTokens: 500},
	}, nil
}
