// Package cost estimates language-model spend before any call is made and
// rejects jobs whose estimate exceeds the per-job ceiling.
package cost

import (
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/mirkored-07/tenderpilot/internal/config"
)

// ErrCostCapExceeded is returned when the pre-flight estimate exceeds the
// configured per-job budget. The job fails without touching the model API.
var ErrCostCapExceeded = eris.New("cost: estimated cost exceeds per-job cap")

// charsPerToken is the fixed ratio used to estimate input tokens from
// clipped character length.
const charsPerToken = 4.0

// SkipMarker is inserted where input clamping removed the middle of the
// document.
const SkipMarker = "\n\n[... content skipped to fit model budget ...]\n\n"

// Guard holds the pricing table and budget limits for one process.
type Guard struct {
	pricing         map[string]config.ModelPricing
	maxInputChars   int
	maxOutputTokens int
	maxUSDPerJob    float64
}

// NewGuard creates a Guard from configuration.
func NewGuard(pricing config.PricingConfig, pipe config.PipelineConfig) *Guard {
	return &Guard{
		pricing:         pricing.Anthropic,
		maxInputChars:   pipe.MaxInputChars,
		maxOutputTokens: pipe.MaxOutputTokens,
		maxUSDPerJob:    pipe.MaxUSDPerJob,
	}
}

// Estimate is the pre-flight cost projection for one reasoning call.
type Estimate struct {
	InputTokens     int
	MaxOutputTokens int
	USD             float64
}

// Clip bounds the source text to the configured character budget, keeping
// the first ~70% and last ~30% of the budget. Tenders front-load scope
// language and trail annex/signature content that carries submission
// mechanics; the middle is the safest part to drop.
func (g *Guard) Clip(text string) string {
	budget := g.maxInputChars
	if budget <= 0 || len(text) <= budget {
		return text
	}
	// Both cuts back off to rune boundaries so the clip never leaves a
	// broken UTF-8 sequence at the seam.
	head := budget * 7 / 10
	for head > 0 && !utf8.RuneStart(text[head]) {
		head--
	}
	tail := len(text) - (budget - head)
	for tail < len(text) && !utf8.RuneStart(text[tail]) {
		tail++
	}
	return text[:head] + SkipMarker + text[tail:]
}

// Check estimates the call cost from the clipped input length and returns
// ErrCostCapExceeded when it breaches the per-job ceiling.
func (g *Guard) Check(model string, inputChars int) (Estimate, error) {
	rate, ok := g.pricing[model]
	if !ok {
		return Estimate{}, eris.Errorf("cost: no pricing for model %s", model)
	}

	inputTokens := int(float64(inputChars) / charsPerToken)
	est := Estimate{
		InputTokens:     inputTokens,
		MaxOutputTokens: g.maxOutputTokens,
	}
	est.USD = (float64(inputTokens)/1e6)*rate.Input +
		(float64(g.maxOutputTokens)/1e6)*rate.Output

	if g.maxUSDPerJob > 0 && est.USD > g.maxUSDPerJob {
		return est, eris.Wrapf(ErrCostCapExceeded,
			"estimated $%.4f > cap $%.4f for model %s", est.USD, g.maxUSDPerJob, model)
	}
	return est, nil
}

// Actual computes the realized cost from reported token usage.
func (g *Guard) Actual(model string, inputTokens, outputTokens int64) float64 {
	rate, ok := g.pricing[model]
	if !ok {
		return 0
	}
	return (float64(inputTokens)/1e6)*rate.Input + (float64(outputTokens)/1e6)*rate.Output
}
