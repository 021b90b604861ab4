package model

import "time"

// JobStatus represents the lifecycle state of a review job. Transitions are
// monotonic: queued -> processing -> {done, failed}. A claimed job never
// returns to queued.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusDone       JobStatus = "done"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusDone || s == JobStatusFailed
}

// SourceType is the declared format of the uploaded document.
type SourceType string

const (
	SourcePDF  SourceType = "pdf"
	SourceDOCX SourceType = "docx"
)

// ContentType returns the MIME type for the declared source type.
func (t SourceType) ContentType() string {
	if t == SourceDOCX {
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/pdf"
}

// Job is one tender review request. Created by the upload collaborator,
// mutated exclusively by pipeline invocations.
type Job struct {
	ID             string       `json:"id"`
	UserID         string       `json:"user_id"`
	Filename       string       `json:"filename"`
	StoragePointer string       `json:"storage_pointer"`
	SourceType     SourceType   `json:"source_type"`
	Status         JobStatus    `json:"status"`
	Pipeline       PipelineMeta `json:"pipeline"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// PipelineMeta carries the soft-lock and attempt bookkeeping for the
// reasoning stage. All safety comes from these persisted fields; there is no
// in-memory coordination between invocations.
type PipelineMeta struct {
	Attempts      int        `json:"attempts"`
	InProgress    bool       `json:"in_progress"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
}

// StepStatus is the token returned by one pipeline invocation, used by
// callers to decide whether to re-invoke later.
type StepStatus string

const (
	StepUnstructuredSubmitted StepStatus = "unstructured_submitted"
	StepUnstructuredPolling   StepStatus = "unstructured_polling"
	StepExtractedScheduled    StepStatus = "extracted_scheduled"
	StepReasoningInProgress   StepStatus = "reasoning_in_progress"
	StepCooldown              StepStatus = "cooldown"
	StepAlreadyClaimed        StepStatus = "already_claimed"
	StepDone                  StepStatus = "done"
	StepFailed                StepStatus = "failed"
)

// Terminal reports whether the step status means the job needs no further
// invocations.
func (s StepStatus) Terminal() bool {
	return s == StepDone || s == StepFailed
}

// JobEvent is one append-only entry in a job's pipeline event log.
type JobEvent struct {
	ID        string         `json:"id"`
	JobID     string         `json:"job_id"`
	Stage     string         `json:"stage"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
