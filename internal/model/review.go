package model

// Severity classes for checklist items.
const (
	ClassMust   = "MUST"
	ClassShould = "SHOULD"
	ClassInfo   = "INFO"
)

// Risk severities.
const (
	RiskHigh   = "high"
	RiskMedium = "medium"
	RiskLow    = "low"
)

// SourceNotFound is the sentinel stored in place of a source excerpt when a
// claim could not be grounded. The UI shows it instead of hiding the item.
const SourceNotFound = "not found in document"

// EvidenceKind classifies how an evidence candidate was detected.
type EvidenceKind string

const (
	EvidenceClause   EvidenceKind = "clause"
	EvidenceBullet   EvidenceKind = "bullet"
	EvidenceTableRow EvidenceKind = "table_row"
	EvidenceLine     EvidenceKind = "line"
)

// EvidenceCandidate is a scored, addressable excerpt eligible for citation.
// IDs are assigned sequentially (E001, E002, ...) in final ranked order and
// are unique within a job's candidate set.
type EvidenceCandidate struct {
	ID      string       `json:"id"`
	Excerpt string       `json:"excerpt"`
	Page    int          `json:"page,omitempty"`
	Anchor  string       `json:"anchor,omitempty"`
	Kind    EvidenceKind `json:"kind"`
	Score   int          `json:"score"`
}

// ChecklistItem is a single submission requirement finding.
type ChecklistItem struct {
	Class       string   `json:"class"`
	Text        string   `json:"text"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
	Source      string   `json:"source"`
}

// Risk is a single disqualification or execution risk finding.
type Risk struct {
	Title       string   `json:"title"`
	Severity    string   `json:"severity"`
	Detail      string   `json:"detail"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
	Source      string   `json:"source"`
}

// JobResult is the persisted output bundle, owned 1:1 by a Job, created and
// updated only by the pipeline, read-only to the UI. ExtractedText holds an
// ExtractionState while extraction is in flight and the final anchored text
// once ready.
type JobResult struct {
	JobID          string              `json:"job_id"`
	ExtractedText  string              `json:"extracted_text"`
	Summary        string              `json:"summary,omitempty"`
	TopRisks       []string            `json:"top_risks,omitempty"`
	Checklist      []ChecklistItem     `json:"checklist,omitempty"`
	Risks          []Risk              `json:"risks,omitempty"`
	BuyerQuestions []string            `json:"buyer_questions,omitempty"`
	DraftOutline   []string            `json:"draft_outline,omitempty"`
	Evidence       []EvidenceCandidate `json:"evidence,omitempty"`
	Cost           *CostReport         `json:"cost,omitempty"`
}

// Finalized reports whether the reasoning stage has produced the full bundle.
func (r *JobResult) Finalized() bool {
	return r != nil && r.Summary != "" && len(r.Checklist) > 0
}

// CostReport records the estimated and actual spend for the reasoning call.
type CostReport struct {
	Model        string  `json:"model"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	EstimatedUSD float64 `json:"estimated_usd"`
	ActualUSD    float64 `json:"actual_usd"`
}
