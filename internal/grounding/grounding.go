// Package grounding enforces the citation contract on raw language-model
// output: no disqualifying claim reaches the user without a literal source
// excerpt, and every claim that fails that bar is demoted visibly rather
// than dropped silently.
package grounding

import (
	"strings"

	"go.uber.org/zap"

	"github.com/mirkored-07/tenderpilot/internal/model"
)

// ManualCheckPrefix flags items downgraded for missing evidence.
const ManualCheckPrefix = "Manual check: "

// RawReview is the model's structured output before grounding. Every MUST
// item, risk and top-risk entry declares zero or more evidence ids; none of
// them are trusted until resolved.
type RawReview struct {
	Summary        string         `json:"summary"`
	TopRisks       []RawTopRisk   `json:"top_risks"`
	Checklist      []RawChecklist `json:"checklist"`
	Risks          []RawRisk      `json:"risks"`
	BuyerQuestions []string       `json:"buyer_questions"`
	DraftOutline   []string       `json:"draft_outline"`
}

// RawChecklist is one checklist finding as emitted by the model.
type RawChecklist struct {
	Class       string   `json:"class"`
	Text        string   `json:"text"`
	EvidenceIDs []string `json:"evidence_ids"`
}

// RawRisk is one risk finding as emitted by the model.
type RawRisk struct {
	Title       string   `json:"title"`
	Severity    string   `json:"severity"`
	Detail      string   `json:"detail"`
	EvidenceIDs []string `json:"evidence_ids"`
}

// RawTopRisk is one executive-summary risk pointer.
type RawTopRisk struct {
	Title       string   `json:"title"`
	EvidenceIDs []string `json:"evidence_ids"`
}

// Result is the finalized, UI-safe bundle.
type Result struct {
	Summary        string
	TopRisks       []string
	Checklist      []model.ChecklistItem
	Risks          []model.Risk
	BuyerQuestions []string
	DraftOutline   []string
}

// Validate applies the grounding rules against the candidate set that built
// the prompt. Unknown cited ids are discarded; a MUST item with no resolved
// evidence is downgraded to INFO with a "not found" source; a risk with no
// resolved evidence becomes a buyer question.
func Validate(jobID string, raw RawReview, candidates []model.EvidenceCandidate) Result {
	byID := make(map[string]model.EvidenceCandidate, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	res := Result{
		Summary:        raw.Summary,
		BuyerQuestions: append([]string(nil), raw.BuyerQuestions...),
		DraftOutline:   append([]string(nil), raw.DraftOutline...),
	}

	downgraded, converted := 0, 0

	for _, item := range raw.Checklist {
		resolved := resolve(item.EvidenceIDs, byID)
		out := model.ChecklistItem{
			Class:       normalizeClass(item.Class),
			Text:        item.Text,
			EvidenceIDs: ids(resolved),
		}
		if len(resolved) > 0 {
			out.Source = resolved[0].Excerpt
		} else if out.Class == model.ClassMust {
			out.Class = model.ClassInfo
			out.Text = ManualCheckPrefix + item.Text
			out.Source = model.SourceNotFound
			downgraded++
		} else {
			out.Source = model.SourceNotFound
		}
		res.Checklist = append(res.Checklist, out)
	}

	for _, risk := range raw.Risks {
		resolved := resolve(risk.EvidenceIDs, byID)
		if len(resolved) == 0 {
			q := ManualCheckPrefix + risk.Title
			if risk.Detail != "" {
				q += " - " + risk.Detail
			}
			res.BuyerQuestions = append(res.BuyerQuestions, q)
			converted++
			continue
		}
		res.Risks = append(res.Risks, model.Risk{
			Title:       risk.Title,
			Severity:    normalizeSeverity(risk.Severity),
			Detail:      risk.Detail,
			EvidenceIDs: ids(resolved),
			Source:      resolved[0].Excerpt,
		})
	}

	for _, tr := range raw.TopRisks {
		if len(resolve(tr.EvidenceIDs, byID)) > 0 {
			res.TopRisks = append(res.TopRisks, tr.Title)
		}
	}

	if downgraded > 0 || converted > 0 {
		zap.L().Info("grounding: demoted unsupported claims",
			zap.String("job_id", jobID),
			zap.Int("must_downgraded", downgraded),
			zap.Int("risks_converted", converted),
		)
	}

	return res
}

// resolve filters declared ids down to candidates that actually exist. The
// model must not be trusted to cite only valid ids.
func resolve(declared []string, byID map[string]model.EvidenceCandidate) []model.EvidenceCandidate {
	var out []model.EvidenceCandidate
	for _, id := range declared {
		if c, ok := byID[strings.TrimSpace(id)]; ok {
			out = append(out, c)
		}
	}
	return out
}

func ids(cs []model.EvidenceCandidate) []string {
	if len(cs) == 0 {
		return nil
	}
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func normalizeClass(class string) string {
	switch strings.ToUpper(strings.TrimSpace(class)) {
	case model.ClassMust:
		return model.ClassMust
	case model.ClassShould:
		return model.ClassShould
	default:
		return model.ClassInfo
	}
}

func normalizeSeverity(sev string) string {
	switch strings.ToLower(strings.TrimSpace(sev)) {
	case model.RiskHigh:
		return model.RiskHigh
	case model.RiskLow:
		return model.RiskLow
	default:
		return model.RiskMedium
	}
}
