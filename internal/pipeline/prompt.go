package pipeline

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/mirkored-07/tenderpilot/internal/model"
)

const reviewSystemPrompt = `You are a tender review analyst. You read public procurement documents and produce a structured review for a bidder deciding whether and how to respond.

Rules:
- Work only from the document text provided. Never use outside knowledge about the buyer or market.
- Every checklist item and risk MUST cite evidence ids from the provided candidate list. Cite only ids that appear in the list.
- A MUST checklist item is a requirement whose violation disqualifies the bid. SHOULD items are scored or expected. INFO items are context.
- Quote deadlines, amounts and thresholds exactly as written, including their section numbers.
- Respond with a single JSON object and nothing else. No markdown fences, no commentary.`

// reviewSchema validates the shape of the model's JSON output before any
// field is trusted. Grounding rules run after this structural check.
const reviewSchema = `{
	"type": "object",
	"required": ["summary", "checklist"],
	"properties": {
		"summary": {"type": "string", "minLength": 1},
		"top_risks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["title"],
				"properties": {
					"title": {"type": "string"},
					"evidence_ids": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"checklist": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["class", "text"],
				"properties": {
					"class": {"type": "string"},
					"text": {"type": "string"},
					"evidence_ids": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"risks": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["title", "severity"],
				"properties": {
					"title": {"type": "string"},
					"severity": {"type": "string"},
					"detail": {"type": "string"},
					"evidence_ids": {"type": "array", "items": {"type": "string"}}
				}
			}
		},
		"buyer_questions": {"type": "array", "items": {"type": "string"}},
		"draft_outline": {"type": "array", "items": {"type": "string"}}
	}
}`

var compiledReviewSchema = jsonschema.MustCompileString("review.json", reviewSchema)

// buildUserPrompt assembles the reasoning input: candidate excerpts first so
// the model cites by id, then the clipped anchored document text.
func buildUserPrompt(filename, text string, candidates []model.EvidenceCandidate) string {
	var sb strings.Builder

	sb.WriteString("Document: ")
	sb.WriteString(filename)
	sb.WriteString("\n\nEvidence candidates (cite by id):\n")
	for _, c := range candidates {
		sb.WriteString(c.ID)
		if c.Anchor != "" {
			fmt.Fprintf(&sb, " [%s]", c.Anchor)
		}
		if c.Page > 0 {
			fmt.Fprintf(&sb, " (page %d)", c.Page)
		}
		sb.WriteString(": ")
		sb.WriteString(c.Excerpt)
		sb.WriteString("\n")
	}

	sb.WriteString("\nReturn JSON with keys: summary, top_risks, checklist, risks, buyer_questions, draft_outline.\n")
	sb.WriteString("\n--- DOCUMENT TEXT ---\n")
	sb.WriteString(text)

	return sb.String()
}

// cleanJSON strips markdown code fences that models sometimes wrap around
// JSON output, despite instructions.
func cleanJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	return s
}

// validateReviewJSON checks raw model output against the review schema.
func validateReviewJSON(doc any) error {
	if err := compiledReviewSchema.Validate(doc); err != nil {
		return eris.Wrap(err, "pipeline: review output failed schema validation")
	}
	return nil
}
