package budget

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPricing_FirstMatchWins(t *testing.T) {
	p := DefaultPricing()

	tier, err := p.Lookup("gemini-3-pro-preview", 150_000)
	require.NoError(t, err)
	assert.Equal(t, 2.0, tier.InputRate)

	tier, err = p.Lookup("GEMINI-3-PRO-PREVIEW", 250_000)
	require.NoError(t, err)
	assert.Equal(t, 4.0, tier.InputRate)
	assert.Equal(t, 18.0, tier.OutputRate)
}

func TestTier_Cost(t *testing.T) {
	tier := Tier{InputRate: 4.0, OutputRate: 18.0}
	assert.InDelta(t, 22.0, tier.Cost(1_000_000, 1_000_000), 1e-9)
	assert.Equal(t, 0.0, tier.Cost(0, 0))
}

func TestParsePricing(t *testing.T) {
	src := `
My-Model:
  - max_input_tokens: 1000
    input_rate: 1
    output_rate: 2
  - max_input_tokens: null
    input_rate: 3
    output_rate: 4
`
	p, err := ParsePricing(strings.NewReader(src))
	require.NoError(t, err)

	tiers := p["my-model"]
	require.Len(t, tiers, 2)
	require.NotNil(t, tiers[0].MaxInputTokens)
	assert.Equal(t, int64(1000), *tiers[0].MaxInputTokens)
	assert.Nil(t, tiers[1].MaxInputTokens)
	assert.Equal(t, 4.0, tiers[1].OutputRate)
}

func TestParsePricing_Empty(t *testing.T) {
	p, err := ParsePricing(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestLoadPricingFile_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pricing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("gemini-2.5-flash:\n  - input_rate: 0.1\n    output_rate: 0.4\n"), 0o600))

	p, err := LoadPricingFile(path)
	require.NoError(t, err)

	flash, err := p.Lookup("gemini-2.5-flash", 1)
	require.NoError(t, err)
	assert.Equal(t, 0.1, flash.InputRate)

	_, err = p.Lookup("gemini-2.5-pro", 1)
	assert.NoError(t, err, "默认模型保留")
}
