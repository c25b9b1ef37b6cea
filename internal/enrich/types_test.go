package enrich_test

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

func TestItemKey(t *testing.T) {
	tests := []struct {
		name string
		item enrich.Item
		want any
	}{
		{name: "id wins", item: enrich.Item{ID: int64p(3), SKU: "S", ProductName: "P"}, want: int64(3)},
		{name: "sku next", item: enrich.Item{SKU: " S-1 ", ProductName: "P"}, want: "S-1"},
		{name: "blank sku falls through", item: enrich.Item{SKU: "  ", ProductName: "P"}, want: "P"},
		{name: "zero id still an id", item: enrich.Item{ID: int64p(0), ProductName: "P"}, want: int64(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.item.Key())
		})
	}
}

func TestItemValidate(t *testing.T) {
	require.NoError(t, enrich.Item{ProductName: "x"}.Validate())

	err := enrich.Item{ProductName: "   ", SKU: "S"}.Validate()
	var invalid *enrich.InvalidItemError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "S", invalid.Identifier)
}

func TestItemUnmarshal_DescriptionAlias(t *testing.T) {
	var items []enrich.Item
	err := json.Unmarshal([]byte(`[
		{"id": 1, "product_name": "A", "description": "from alias", "unknown": true},
		{"product_name": "B", "product_description": "canonical", "description": "ignored"}
	]`), &items)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, int64(1), *items[0].ID)
	assert.Equal(t, "from alias", items[0].ProductDescription)
	assert.Equal(t, "canonical", items[1].ProductDescription)
	assert.Nil(t, items[1].ID)
}

func TestReconcile_OverwritesIdentifier(t *testing.T) {
	rec := enrich.Record{"identifier": "model-made", "brand": "Duracell"}
	item := enrich.Item{ProductName: "Duracell AA", SKU: "DUR-AA"}

	got := enrich.Reconcile(rec, item)
	assert.Equal(t, "DUR-AA", got[schema.IdentifierField])
	assert.Equal(t, "Duracell", got["brand"])
	assert.Equal(t, "model-made", rec["identifier"], "input record must not be mutated")
}

func TestFailureFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind enrich.FailureKind
		raw  string
	}{
		{name: "invalid", err: &enrich.InvalidItemError{Identifier: "x", Reason: "product_name is required"}, kind: enrich.FailureInvalidItem},
		{name: "backend", err: &enrich.BackendInvocationError{Identifier: "x", Backend: "openai", Err: errors.New("503")}, kind: enrich.FailureBackend},
		{name: "validation", err: &enrich.OutputValidationError{Identifier: "x", RawOutput: "nope", Reason: "not a JSON object"}, kind: enrich.FailureValidation, raw: "nope"},
		{name: "other", err: errors.New("boom"), kind: enrich.FailureInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := enrich.FailureFromError("x", tt.err)
			assert.Equal(t, tt.kind, f.Kind)
			assert.Equal(t, tt.raw, f.RawOutput)
			assert.Equal(t, "x", f.Identifier)
			assert.NotEmpty(t, f.Reason)
		})
	}
}
