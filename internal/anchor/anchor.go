// Package anchor converts the ordered element output of the document
// structuring service into a single text blob interleaved with [PAGE n],
// SECTION and ANNEX markers. Downstream evidence scoring and "jump to
// source" navigation address the document through these markers instead of
// layout coordinates.
package anchor

import (
	"fmt"
	"regexp"
	"strings"
)

// Element is one extracted unit from the structuring service, in document
// order. Page is 0 when the service did not report one.
type Element struct {
	Text     string
	Page     int
	Category string
}

var (
	annexRe        = regexp.MustCompile(`(?i)^\s*(annex|appendix|anlage|bijlage|annexe)\b`)
	majorHeadingRe = regexp.MustCompile(`^\s*(\d{1,2})[.)]\s+(\S.*)$`)
	clauseRe       = regexp.MustCompile(`^\s*(\d{1,2})\.(\d{1,2}(?:\.\d{1,2})*)[.)]?\s+(\S.*)$`)
	multiBlankRe   = regexp.MustCompile(`\n{3,}`)
)

// sectionKeywords are common tender section names treated as headings even
// without a numeric prefix.
var sectionKeywords = []string{
	"scope of work", "instructions to tenderers", "instructions to bidders",
	"award criteria", "evaluation criteria", "submission requirements",
	"eligibility", "qualification criteria", "terms and conditions",
	"technical specifications", "general conditions", "special conditions",
	"bid security", "tender security", "price schedule", "bill of quantities",
}

// section tracks the most recent numbered major heading so sub-clauses can
// inherit its title.
type section struct {
	number string
	title  string
}

// Build renders the element list as anchored text. A page marker is emitted
// only when the page number changes; annex and appendix headings always get
// their own marker line.
func Build(elements []Element) string {
	var b strings.Builder
	lastPage := 0
	var current section

	for _, el := range elements {
		text := strings.TrimSpace(el.Text)
		if text == "" {
			continue
		}

		if el.Page > 0 && el.Page != lastPage {
			fmt.Fprintf(&b, "\n[PAGE %d]\n", el.Page)
			lastPage = el.Page
		}

		switch {
		case annexRe.MatchString(text):
			fmt.Fprintf(&b, "\n[ANNEX: %s]\n", text)

		case clauseRe.MatchString(text):
			m := clauseRe.FindStringSubmatch(text)
			number := m[1] + "." + m[2]
			label := "[SECTION " + number + "]"
			if current.number == m[1] && current.title != "" {
				label = fmt.Sprintf("[SECTION %s – %s]", number, current.title)
			}
			fmt.Fprintf(&b, "\n%s\n%s %s\n", label, number, m[3])

		case majorHeadingRe.MatchString(text) && looksLikeHeading(text):
			m := majorHeadingRe.FindStringSubmatch(text)
			current = section{number: m[1], title: m[2]}
			fmt.Fprintf(&b, "\n[SECTION %s – %s]\n", m[1], m[2])

		case isHeadingLike(text, el.Category):
			fmt.Fprintf(&b, "\n[SECTION – %s]\n", text)

		default:
			b.WriteString(text)
			b.WriteString("\n")
		}
	}

	out := multiBlankRe.ReplaceAllString(b.String(), "\n\n")
	return strings.TrimSpace(out) + "\n"
}

// looksLikeHeading rejects numbered lines that read like body text: a real
// heading is short and does not end mid-sentence.
func looksLikeHeading(text string) bool {
	if len(text) > 90 {
		return false
	}
	return !strings.HasSuffix(text, ".") || strings.Count(text, " ") < 10
}

// isHeadingLike detects unnumbered headings: the structuring service's own
// Title category, short all-caps lines, or known tender section names.
func isHeadingLike(text, category string) bool {
	if strings.EqualFold(category, "Title") || strings.EqualFold(category, "Header") {
		return len(text) <= 120
	}
	if len(text) <= 60 && text == strings.ToUpper(text) && strings.ContainsAny(text, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		return true
	}
	lower := strings.ToLower(text)
	if len(text) <= 80 {
		for _, kw := range sectionKeywords {
			if strings.HasPrefix(lower, kw) {
				return true
			}
		}
	}
	return false
}
