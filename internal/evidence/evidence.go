// Package evidence scans anchored tender text for normative, dated or
// monetary language and produces the ranked, deduplicated, size-capped list
// of citable excerpts offered to the language model.
package evidence

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mirkored-07/tenderpilot/internal/config"
	"github.com/mirkored-07/tenderpilot/internal/model"
)

var (
	pageMarkerRe    = regexp.MustCompile(`^\[PAGE (\d+)\]$`)
	sectionMarkerRe = regexp.MustCompile(`^\[(SECTION|ANNEX)[^\]]*\]$`)
	tocRe           = regexp.MustCompile(`(?i)table of contents|inhaltsverzeichnis|inhoudsopgave|sommaire`)
)

// AnchorDetector resolves the nearest preceding section or annex marker for
// a line, within a bounded lookback window.
type AnchorDetector interface {
	Anchor(lines []string, idx int) string
}

// BackwardScanDetector walks backward from the scored line until it hits a
// marker line or exhausts the lookback window.
type BackwardScanDetector struct {
	Lookback int
}

// Anchor returns the marker label without brackets, or "".
func (d BackwardScanDetector) Anchor(lines []string, idx int) string {
	lookback := d.Lookback
	if lookback <= 0 {
		lookback = 30
	}
	for i := idx; i >= 0 && idx-i <= lookback; i-- {
		if line := strings.TrimSpace(lines[i]); sectionMarkerRe.MatchString(line) {
			return strings.Trim(line, "[]")
		}
	}
	return ""
}

// Builder extracts evidence candidates from anchored text.
type Builder struct {
	cfg      config.EvidenceConfig
	scorer   LineScorer
	detector AnchorDetector
}

// NewBuilder creates a Builder with the default scorer and anchor detector.
func NewBuilder(cfg config.EvidenceConfig) *Builder {
	return &Builder{
		cfg:      cfg,
		scorer:   DefaultScorer{},
		detector: BackwardScanDetector{Lookback: cfg.AnchorLookback},
	}
}

// NewBuilderWith creates a Builder with explicit strategies, for tests and
// for swapping heuristics without touching orchestration.
func NewBuilderWith(cfg config.EvidenceConfig, scorer LineScorer, detector AnchorDetector) *Builder {
	return &Builder{cfg: cfg, scorer: scorer, detector: detector}
}

type scoredLine struct {
	idx     int
	excerpt string
	page    int
	anchor  string
	kind    model.EvidenceKind
	score   int
}

// Build scans the anchored text and returns the final ranked candidate set.
// IDs are assigned sequentially in ranked order: score descending, then
// shorter excerpts first to favor highlightability. Excerpts keep the source
// text byte for byte so the UI can highlight them by substring match.
func (b *Builder) Build(text string) []model.EvidenceCandidate {
	lines := strings.Split(text, "\n")
	pages := pagePerLine(lines)
	start := b.contentStart(lines)

	var scored []scoredLine
	for i := start; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" || pageMarkerRe.MatchString(line) || sectionMarkerRe.MatchString(line) {
			continue
		}
		score, kind := b.scorer.Score(line)
		if score < b.minScore() {
			continue
		}
		scored = append(scored, scoredLine{
			idx:     i,
			excerpt: b.excerpt(lines, i),
			page:    pages[i],
			anchor:  b.detector.Anchor(lines, i),
			kind:    kind,
			score:   score,
		})
	}

	// Dedup by normalized excerpt, keeping the higher-scored occurrence.
	seen := make(map[string]int, len(scored))
	deduped := scored[:0]
	for _, s := range scored {
		key := normalizeKey(s.excerpt)
		if key == "" {
			continue
		}
		if j, ok := seen[key]; ok {
			if s.score > deduped[j].score {
				deduped[j] = s
			}
			continue
		}
		seen[key] = len(deduped)
		deduped = append(deduped, s)
	}

	sort.SliceStable(deduped, func(i, j int) bool {
		if deduped[i].score != deduped[j].score {
			return deduped[i].score > deduped[j].score
		}
		return len(deduped[i].excerpt) < len(deduped[j].excerpt)
	})

	maxN := b.cfg.MaxCandidates
	if maxN <= 0 {
		maxN = 220
	}
	if len(deduped) > maxN {
		deduped = deduped[:maxN]
	}

	out := make([]model.EvidenceCandidate, len(deduped))
	for i, s := range deduped {
		out[i] = model.EvidenceCandidate{
			ID:      fmt.Sprintf("E%03d", i+1),
			Excerpt: s.excerpt,
			Page:    s.page,
			Anchor:  s.anchor,
			Kind:    s.kind,
			Score:   s.score,
		}
	}
	return out
}

func (b *Builder) minScore() int {
	if b.cfg.MinScore > 0 {
		return b.cfg.MinScore
	}
	return 5
}

// contentStart skips the heuristically detected title/ToC block: scan the
// opening lines for a table-of-contents marker or an early section header
// and begin scoring after it. Defaults to the start of the document.
func (b *Builder) contentStart(lines []string) int {
	scan := b.cfg.TitleScanLines
	if scan <= 0 {
		scan = 80
	}
	if scan > len(lines) {
		scan = len(lines)
	}
	for i := 0; i < scan; i++ {
		if tocRe.MatchString(lines[i]) {
			// Content begins at the first section marker after the ToC.
			for j := i + 1; j < len(lines); j++ {
				if sectionMarkerRe.MatchString(strings.TrimSpace(lines[j])) {
					return j
				}
			}
			return i + 1
		}
		if sectionMarkerRe.MatchString(strings.TrimSpace(lines[i])) {
			return i
		}
	}
	return 0
}

// excerpt builds the citation window: the line plus one non-marker neighbor
// on each side, capped at the configured excerpt length. Window lines are
// joined with the original newline so the result stays a verbatim substring
// of the anchored text.
func (b *Builder) excerpt(lines []string, idx int) string {
	parts := []string{lines[idx]}
	if prev := neighbor(lines, idx, -1); prev != "" {
		parts = append([]string{prev}, parts...)
	}
	if next := neighbor(lines, idx, +1); next != "" {
		parts = append(parts, next)
	}
	excerpt := strings.Join(parts, "\n")

	maxChars := b.cfg.MaxExcerptChars
	if maxChars <= 0 {
		maxChars = 420
	}
	if len(excerpt) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(excerpt[cut]) {
			cut--
		}
		excerpt = excerpt[:cut]
		if i := strings.LastIndexAny(excerpt, " \n"); i > maxChars/2 {
			excerpt = excerpt[:i]
		}
	}
	return strings.TrimSpace(excerpt)
}

func neighbor(lines []string, idx, dir int) string {
	i := idx + dir
	if i < 0 || i >= len(lines) {
		return ""
	}
	trimmed := strings.TrimSpace(lines[i])
	if trimmed == "" || pageMarkerRe.MatchString(trimmed) || sectionMarkerRe.MatchString(trimmed) {
		return ""
	}
	return lines[i]
}

// pagePerLine computes the page number in effect at each line from the
// [PAGE n] markers, 0 before the first marker.
func pagePerLine(lines []string) []int {
	pages := make([]int, len(lines))
	page := 0
	for i, l := range lines {
		if m := pageMarkerRe.FindStringSubmatch(strings.TrimSpace(l)); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				page = n
			}
		}
		pages[i] = page
	}
	return pages
}
