package cost

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mirkored-07/tenderpilot/internal/config"
)

func testGuard(maxChars int, maxUSD float64) *Guard {
	return NewGuard(
		config.PricingConfig{Anthropic: config.DefaultPricing()},
		config.PipelineConfig{
			MaxInputChars:   maxChars,
			MaxOutputTokens: 8192,
			MaxUSDPerJob:    maxUSD,
		},
	)
}

func TestClip(t *testing.T) {
	g := testGuard(100, 1.0)

	t.Run("under budget untouched", func(t *testing.T) {
		text := strings.Repeat("a", 100)
		assert.Equal(t, text, g.Clip(text))
	})

	t.Run("over budget keeps head and tail", func(t *testing.T) {
		text := strings.Repeat("H", 70) + strings.Repeat("M", 200) + strings.Repeat("T", 30)
		clipped := g.Clip(text)

		assert.True(t, strings.HasPrefix(clipped, strings.Repeat("H", 70)))
		assert.True(t, strings.HasSuffix(clipped, strings.Repeat("T", 30)))
		assert.Contains(t, clipped, SkipMarker)
		assert.NotContains(t, clipped, "MMMMM"+strings.Repeat("M", 100))
	})

	t.Run("cuts on rune boundaries", func(t *testing.T) {
		g := testGuard(1000, 1.0)
		text := strings.Repeat("日", 1000)
		clipped := g.Clip(text)

		require.True(t, utf8.ValidString(clipped))
		head, tail, found := strings.Cut(clipped, SkipMarker)
		require.True(t, found)
		assert.True(t, strings.HasPrefix(text, head))
		assert.True(t, strings.HasSuffix(text, tail))
	})

	t.Run("zero budget disables clipping", func(t *testing.T) {
		g := testGuard(0, 1.0)
		text := strings.Repeat("x", 10000)
		assert.Equal(t, text, g.Clip(text))
	})
}

func TestCheck(t *testing.T) {
	const model = "claude-sonnet-4-5-20250929"

	t.Run("within cap", func(t *testing.T) {
		g := testGuard(180000, 0.90)
		est, err := g.Check(model, 100000)
		require.NoError(t, err)
		assert.Equal(t, 25000, est.InputTokens)
		assert.Equal(t, 8192, est.MaxOutputTokens)
		// 25k input at $3/MTok + 8192 output at $15/MTok.
		assert.InDelta(t, 0.075+0.12288, est.USD, 1e-9)
	})

	t.Run("over cap", func(t *testing.T) {
		g := testGuard(180000, 0.01)
		est, err := g.Check(model, 100000)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCostCapExceeded)
		assert.Greater(t, est.USD, 0.01)
	})

	t.Run("unknown model", func(t *testing.T) {
		g := testGuard(180000, 0.90)
		_, err := g.Check("unknown-model", 1000)
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCostCapExceeded)
	})
}

func TestActual(t *testing.T) {
	g := testGuard(180000, 0.90)
	usd := g.Actual("claude-sonnet-4-5-20250929", 1_000_000, 100_000)
	assert.InDelta(t, 3.0+1.5, usd, 1e-9)

	assert.Zero(t, g.Actual("unknown-model", 1000, 1000))
}
