package evidence

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/mirkored-07/tenderpilot/internal/model"
)

// LineScorer rates a single normalized line for citation worthiness and
// classifies how it was detected.
type LineScorer interface {
	Score(line string) (int, model.EvidenceKind)
}

var (
	dateRe     = regexp.MustCompile(`\b\d{1,2}[./-]\d{1,2}[./-]\d{2,4}\b|\b\d{4}-\d{2}-\d{2}\b`)
	timeRe     = regexp.MustCompile(`\b\d{1,2}:\d{2}\b`)
	moneyRe    = regexp.MustCompile(`(?i)(€|\$|\bEUR\b|\bUSD\b|\bGBP\b)\s?\d[\d.,]*|\b\d[\d.,]*\s?(€|\bEUR\b|\bUSD\b)`)
	clauseNoRe = regexp.MustCompile(`^\d{1,2}(\.\d{1,2})+\b`)
	bulletRe   = regexp.MustCompile(`^[-•*]\s+`)
)

// Vocabulary groups for the default scorer. Normative modals weigh highest:
// a missed deadline line costs less than a fabricated obligation.
var (
	normativeWords = []string{
		"must", "shall", "required", "mandatory", "obliged",
		"rejected", "disqualif", "excluded", "not be considered",
	}
	deadlineWords = []string{
		"deadline", "submission", "submit", "closing date",
		"no later than", "at the latest", "expiry", "due date",
	}
	depositWords = []string{
		"security deposit", "bid security", "tender security",
		"bank guarantee", "performance bond", "retention",
	}
)

// DefaultScorer implements the conservative high-precision heuristic: false
// negatives are acceptable, false positives are not, because downstream
// grounding treats an unresolvable citation as unsupported.
type DefaultScorer struct{}

// Score rates one line on a ~15-point scale.
func (DefaultScorer) Score(line string) (int, model.EvidenceKind) {
	lower := strings.ToLower(line)
	score := 0

	if containsAny(lower, normativeWords) {
		score += 5
	}
	if containsAny(lower, deadlineWords) {
		score += 3
	}
	if dateRe.MatchString(line) || timeRe.MatchString(line) {
		score += 3
	}
	if moneyRe.MatchString(line) {
		score += 2
	}
	if containsAny(lower, depositWords) {
		score += 2
	}

	return score, classify(line)
}

func classify(line string) model.EvidenceKind {
	switch {
	case bulletRe.MatchString(line):
		return model.EvidenceBullet
	case strings.Count(line, "|") >= 2 || strings.Count(line, "\t") >= 2:
		return model.EvidenceTableRow
	case clauseNoRe.MatchString(line):
		return model.EvidenceClause
	default:
		return model.EvidenceLine
	}
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// normalizeKey folds case and strips combining marks so "Sécurité" and
// "securite" dedup to the same excerpt.
func normalizeKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}
