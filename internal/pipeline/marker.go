package pipeline

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// PendingExtraction is the persisted marker for an extraction job still
// running at the structuring service. It lives in the result's extracted-text
// slot until the anchored text replaces it, so a later invocation can resume
// polling with no other state.
type PendingExtraction struct {
	ExternalJobID  string    `json:"external_job_id"`
	ExternalFileID string    `json:"external_file_id,omitempty"`
	PollCount      int       `json:"poll_count"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

type pendingEnvelope struct {
	Pending PendingExtraction `json:"pending_extraction"`
}

const pendingPrefix = `{"pending_extraction":`

// legacyPendingPrefix is the delimited form written by earlier deployments:
// PENDING_EXTRACTION::<external_job_id>::<external_file_id>::<poll_count>::<unix_ts>
const legacyPendingPrefix = "PENDING_EXTRACTION::"

// EncodePending serializes the marker for storage in the extracted-text slot.
func EncodePending(p PendingExtraction) string {
	data, _ := json.Marshal(pendingEnvelope{Pending: p})
	return string(data)
}

// DecodeExtraction interprets the extracted-text slot. It returns the pending
// marker when extraction is still in flight, or the ready text otherwise. An
// empty slot means extraction has not been submitted yet.
func DecodeExtraction(text string) (*PendingExtraction, string, error) {
	trimmed := strings.TrimSpace(text)
	switch {
	case trimmed == "":
		return nil, "", nil
	case strings.HasPrefix(trimmed, pendingPrefix):
		var env pendingEnvelope
		if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
			return nil, "", eris.Wrap(err, "pipeline: decode pending marker")
		}
		return &env.Pending, "", nil
	case strings.HasPrefix(trimmed, legacyPendingPrefix):
		p, err := decodeLegacyPending(trimmed)
		if err != nil {
			return nil, "", err
		}
		return p, "", nil
	default:
		return nil, text, nil
	}
}

func decodeLegacyPending(marker string) (*PendingExtraction, error) {
	parts := strings.Split(strings.TrimPrefix(marker, legacyPendingPrefix), "::")
	if len(parts) < 1 || parts[0] == "" {
		return nil, eris.Errorf("pipeline: malformed legacy pending marker %q", marker)
	}
	p := &PendingExtraction{ExternalJobID: parts[0]}
	if len(parts) > 1 {
		p.ExternalFileID = parts[1]
	}
	if len(parts) > 2 {
		if n, err := strconv.Atoi(parts[2]); err == nil {
			p.PollCount = n
		}
	}
	if len(parts) > 3 {
		if ts, err := strconv.ParseInt(parts[3], 10, 64); err == nil {
			p.SubmittedAt = time.Unix(ts, 0).UTC()
		}
	}
	return p, nil
}
