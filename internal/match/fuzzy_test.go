package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractStormName(t *testing.T) {
	cases := map[string]string{
		"Hurricane Ian":                    "Ian",
		"HU - Ida":                         "Ida",
		"TS Elsa":                          "Elsa",
		"PCS CAT 2044 Isaias":              "Isaias",
		"6-Jul-21; Tropical Storm Elsa":    "Elsa",
		"Winter Storm Uri, Texas":          "Uri",
		"Ian (Florida landfall)":           "Ian",
		"Sandy 10/29/2012 coastal surge":   "Sandy",
		"Harvey 2017 flooding":             "Harvey",
		"storm":                            "",
		"hurricane ian":                    "ian",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExtractStormName(in), "input %q", in)
	}
}

func TestPartialRatioFindsEmbeddedName(t *testing.T) {
	assert.Equal(t, 100, partialRatio("ian", "hurricane ian florida"))
	assert.Equal(t, 100, partialRatio("uri", "uri"))
	assert.Zero(t, partialRatio("", "hurricane"))
}

func TestTokenRatiosIgnoreOrderAndExtras(t *testing.T) {
	assert.Equal(t, 100, tokenSortRatio("ian hurricane", "hurricane ian"))
	assert.Equal(t, 100, tokenSetRatio("hurricane ian", "hurricane ian florida landfall"))
}

func TestFuzzyScoreIdenticalNames(t *testing.T) {
	score, reasons := FuzzyScore("hurricane ian", "hurricane ian")
	assert.Equal(t, 40, score, "maximum tier plus cleaned token set bonus")
	assert.Len(t, reasons, 2)
}

func TestFuzzyScoreUnrelatedNames(t *testing.T) {
	score, reasons := FuzzyScore("aaaa", "zzzz")
	assert.Zero(t, score)
	assert.Empty(t, reasons)
}

func TestFuzzyScoreCleanedPairBeatsRawPair(t *testing.T) {
	// The raw strings differ a lot but both reduce to the same core name.
	score, _ := FuzzyScore("pcs cat 2044 isaias", "8/1/20; Hurricane Isaias")
	assert.GreaterOrEqual(t, score, 35, "cleaned pair should reach the top tier")
}
