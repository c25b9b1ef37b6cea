package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
	"github.com/shpitdev/product-enrichment-pipeline/internal/pipeline"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite://"+filepath.Join(t.TempDir(), "results.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func idp(v int64) *int64 { return &v }

func catalogOutcome(t *testing.T) *pipeline.Outcome {
	t.Helper()
	s, err := schema.Defaults(schema.ProfileCatalog)
	require.NoError(t, err)
	return &pipeline.Outcome{
		RunID:  "run-1",
		Schema: s,
		Policy: pipeline.PolicyComplete,
		Slots: []pipeline.Slot{
			{
				Item: enrich.Item{ID: idp(1), ProductName: "Duracell AA", SKU: "D-1"},
				Record: enrich.Record{
					schema.IdentifierField: int64(1),
					"product_type":         "AA batteries",
					"brand":                "Duracell",
					"size_quantity":        "12 pack",
				},
			},
			{
				Item:    enrich.Item{ID: idp(2), ProductName: "Mystery"},
				Failure: &enrich.Failure{Identifier: int64(2), Reason: "output is not a JSON object", Kind: enrich.FailureValidation},
			},
		},
	}
}

func TestFromOutcome(t *testing.T) {
	rows, err := FromOutcome(catalogOutcome(t))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, StatusOK, rows[0].Status)
	assert.Equal(t, []string{"identifier", "product_type", "brand", "size_quantity"}, rows[0].FieldNames())
	vals, err := rows[0].Values()
	require.NoError(t, err)
	assert.Equal(t, "Duracell", vals["brand"])
	assert.Equal(t, json.Number("1"), vals["identifier"])

	assert.Equal(t, StatusError, rows[1].Status)
	assert.Equal(t, "output is not a JSON object", rows[1].Error)
	vals, err = rows[1].Values()
	require.NoError(t, err)
	assert.Nil(t, vals["brand"])
	assert.Contains(t, vals, "brand")
}

func TestFromOutcome_RequiresIDs(t *testing.T) {
	out := catalogOutcome(t)
	out.Slots[1].Item.ID = nil
	_, err := FromOutcome(out)
	assert.Error(t, err)
}

func TestReplaceUpsertListGet(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	rows, err := FromOutcome(catalogOutcome(t))
	require.NoError(t, err)
	require.NoError(t, s.Replace(ctx, rows))

	got, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, "Duracell AA", got[0].ProductName)

	fixed := rows[1]
	fixed.Status = StatusOK
	fixed.Error = ""
	fixed.Attributes = []byte(`{"identifier":2,"product_type":"gift","brand":"Unknown","size_quantity":"1 box"}`)
	require.NoError(t, s.Upsert(ctx, []Result{fixed}))

	one, err := s.Get(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, one.Status)
	assert.Empty(t, one.Error)
	vals, err := one.Values()
	require.NoError(t, err)
	assert.Equal(t, "gift", vals["product_type"])

	got, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2, "upsert by id must not duplicate rows")

	require.NoError(t, s.Replace(ctx, rows[:1]))
	got, err = s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = s.Get(ctx, 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreImplementsReplace(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	rows, err := FromOutcome(catalogOutcome(t))
	require.NoError(t, err)
	require.NoError(t, s.Store(ctx, rows))
	require.NoError(t, s.Store(ctx, rows))

	got, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestOpen_RejectsUnknownScheme(t *testing.T) {
	for _, dsn := range []string{"", "mysql://root@localhost/db", "sqlite://"} {
		_, err := Open(dsn, nil)
		assert.Error(t, err, dsn)
	}
}

func TestHeaderAndRecords(t *testing.T) {
	rows, err := FromOutcome(catalogOutcome(t))
	require.NoError(t, err)

	header := Header(rows)
	assert.Equal(t, []string{
		"id", "product_name", "product_description", "manufacturer", "sku", "target_market", "user_defined_tags",
		"identifier", "product_type", "brand", "size_quantity",
		"status", "error",
	}, header)

	recs, err := Records(header, rows)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, []string{"1", "Duracell AA", "", "", "D-1", "", "", "1", "AA batteries", "Duracell", "12 pack", "ok", ""}, recs[0])
	assert.Equal(t, []string{"2", "Mystery", "", "", "", "", "", "2", "", "", "", "error", "output is not a JSON object"}, recs[1])
}

func TestFromOutcome_RejectsColumnCollision(t *testing.T) {
	out := catalogOutcome(t)
	out.Schema = &schema.Schema{
		Name:    "colliding",
		Variant: schema.VariantCustom,
		Fields: []schema.Field{
			{Name: schema.IdentifierField, Type: schema.TypeString, Identity: true},
			{Name: "manufacturer", Type: schema.TypeString, Nullable: true},
			{Name: "status", Type: schema.TypeString, Nullable: true},
		},
	}
	_, err := FromOutcome(out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "manufacturer")
}

func TestHeader_StatusColumnsAppearOnce(t *testing.T) {
	rows := []Result{{
		ID:         1,
		Status:     StatusOK,
		Fields:     []byte(`["identifier","status","error","color"]`),
		Attributes: []byte(`{"identifier":1,"status":"discontinued","error":"x","color":"red"}`),
	}}
	header := Header(rows)
	assert.Equal(t, []string{
		"id", "product_name", "product_description", "manufacturer", "sku", "target_market", "user_defined_tags",
		"identifier", "color",
		"status", "error",
	}, header)
}

func TestMerged(t *testing.T) {
	rows, err := FromOutcome(catalogOutcome(t))
	require.NoError(t, err)

	m, err := rows[0].Merged()
	require.NoError(t, err)
	assert.Equal(t, int64(1), m["id"])
	assert.Equal(t, "Duracell", m["brand"])
	assert.Equal(t, "Duracell AA", m["product_name"])
	assert.Equal(t, "ok", m["status"])
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := openTemp(t)

	rows, err := FromOutcome(catalogOutcome(t))
	require.NoError(t, err)
	require.NoError(t, s.Replace(ctx, rows))

	got, err := s.Update(ctx, 2, map[string]any{
		"id":      float64(99),
		"brand":   "Acme",
		"status":  "ok",
		"error":   nil,
		"sku":     "M-2",
		"comment": nil,
	})
	assert.ErrorIs(t, err, ErrInvalidPatch, "unknown columns are rejected")
	assert.Nil(t, got)

	got, err = s.Update(ctx, 2, map[string]any{"id": float64(99), "brand": "Acme", "status": "ok", "error": nil, "sku": "M-2"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ID)
	assert.Equal(t, "M-2", got.SKU)
	assert.Equal(t, StatusOK, got.Status)

	stored, err := s.Get(ctx, 2)
	require.NoError(t, err)
	vals, err := stored.Values()
	require.NoError(t, err)
	assert.Equal(t, "Acme", vals["brand"])
	assert.Empty(t, stored.Error)

	_, err = s.Update(ctx, 2, map[string]any{"status": "maybe"})
	assert.ErrorIs(t, err, ErrInvalidPatch)
	_, err = s.Update(ctx, 2, map[string]any{"identifier": "x"})
	assert.ErrorIs(t, err, ErrInvalidPatch)
	_, err = s.Update(ctx, 404, map[string]any{"brand": "x"})
	assert.ErrorIs(t, err, ErrNotFound)
}
