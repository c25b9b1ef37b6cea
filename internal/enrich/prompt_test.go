package enrich_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

func int64p(v int64) *int64 { return &v }

func TestBuildUserPrompt(t *testing.T) {
	item := enrich.Item{
		ProductName:        "Duracell AA Batteries",
		ProductDescription: "Pack of 12 long-lasting alkaline batteries",
		Manufacturer:       "Duracell",
	}

	got := enrich.BuildUserPrompt(item)
	want := "Analyze the following product data:\n" +
		"   'product_name': 'Duracell AA Batteries'\n" +
		"   'product_description': 'Pack of 12 long-lasting alkaline batteries'\n" +
		"   'manufacturer': 'Duracell'\n" +
		"Return a JSON object describing its attributes based on your schema.\n"
	assert.Equal(t, want, got)
}

func TestBuildUserPrompt_FixedOrderAndBlanksOmitted(t *testing.T) {
	item := enrich.Item{
		UserDefinedTags: "power",
		SKU:             "  ",
		ID:              int64p(7),
		ProductName:     "Cable",
		TargetMarket:    "US",
	}

	got := enrich.BuildUserPrompt(item)
	assert.NotContains(t, got, "'sku'")
	assert.NotContains(t, got, "'manufacturer'")

	idx := func(s string) int { return strings.Index(got, s) }
	require.NotEqual(t, -1, idx("'id': '7'"))
	assert.Less(t, idx("'id'"), idx("'product_name'"))
	assert.Less(t, idx("'product_name'"), idx("'target_market'"))
	assert.Less(t, idx("'target_market'"), idx("'user_defined_tags'"))
	assert.Equal(t, 1, strings.Count(got, "'product_name'"))
}

func TestBuildRequest_Deterministic(t *testing.T) {
	s, err := schema.Defaults(schema.ProfileFull)
	require.NoError(t, err)
	item := enrich.Item{ProductName: "Anker USB-C Cable", SKU: "ANK-1"}

	a := enrich.BuildRequest(item, s, enrich.DefaultSampling())
	b := enrich.BuildRequest(item, s, enrich.DefaultSampling())
	assert.Equal(t, a, b)
	assert.Equal(t, float32(0), a.Sampling.Temperature)
	assert.Equal(t, 300, a.Sampling.MaxOutputTokens)
}

func TestBuildSystemInstruction(t *testing.T) {
	full, err := schema.Defaults(schema.ProfileFull)
	require.NoError(t, err)

	got := enrich.BuildSystemInstruction(full)
	for _, f := range full.ModelFields() {
		assert.Contains(t, got, "- "+f.Name+" (")
	}
	assert.NotContains(t, got, "- identifier")
	assert.Contains(t, got, "quality_score (integer 1-5)")
	assert.Contains(t, got, "price (number or null)")
	assert.Contains(t, got, "ISO 4217")
	assert.Contains(t, got, "bare JSON numbers")

	custom, err := schema.Custom([]schema.FieldSpec{{Name: "color", Description: "Primary color"}})
	require.NoError(t, err)
	got = enrich.BuildSystemInstruction(custom)
	assert.Contains(t, got, "- color (string or null): Primary color")
	assert.NotContains(t, got, "ISO 4217")
	assert.NotContains(t, got, "bare JSON numbers")
}
