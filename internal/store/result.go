package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/datatypes"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
	"github.com/shpitdev/product-enrichment-pipeline/internal/pipeline"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Result is one merged row: the submitted item, its enriched attributes and the
// outcome of the enrichment.
type Result struct {
	ID                 int64  `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ProductName        string `json:"product_name"`
	ProductDescription string `json:"product_description"`
	Manufacturer       string `json:"manufacturer"`
	SKU                string `json:"sku"`
	TargetMarket       string `json:"target_market"`
	UserDefinedTags    string `json:"user_defined_tags"`

	// Attributes holds the schema field values; Fields their names in schema order.
	Attributes datatypes.JSON `json:"attributes"`
	Fields     datatypes.JSON `json:"fields"`

	Status            string    `gorm:"size:16;index" json:"status"`
	Error             string    `json:"error"`
	SchemaFingerprint string    `gorm:"size:32" json:"schema_fingerprint"`
	RunID             string    `gorm:"size:64" json:"run_id"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (Result) TableName() string { return "enrichment_results" }

// FromOutcome converts every slot of a run into a merged row. Items must carry ids.
func FromOutcome(out *pipeline.Outcome) ([]Result, error) {
	for _, f := range out.Schema.ModelFields() {
		if schema.Reserved(f.Name) {
			return nil, fmt.Errorf("schema field %q collides with a row column", f.Name)
		}
	}
	fields, err := json.Marshal(out.Schema.Names())
	if err != nil {
		return nil, err
	}
	fingerprint := out.Schema.Fingerprint()

	rows := make([]Result, 0, len(out.Slots))
	for i, slot := range out.Slots {
		if slot.Item.ID == nil {
			return nil, fmt.Errorf("item %d has no id", i)
		}
		r := resultFromItem(slot.Item)
		r.Fields = fields
		r.SchemaFingerprint = fingerprint
		r.RunID = out.RunID

		attrs := make(map[string]any, len(out.Schema.Fields))
		if slot.OK() {
			r.Status = StatusOK
			for _, f := range out.Schema.Fields {
				attrs[f.Name] = slot.Record[f.Name]
			}
		} else {
			r.Status = StatusError
			for _, f := range out.Schema.Fields {
				attrs[f.Name] = nil
			}
			attrs[schema.IdentifierField] = slot.Item.Key()
			if slot.Failure != nil {
				r.Error = slot.Failure.Reason
			}
		}
		b, err := json.Marshal(attrs)
		if err != nil {
			return nil, fmt.Errorf("encode attributes for item %d: %w", *slot.Item.ID, err)
		}
		r.Attributes = b
		rows = append(rows, r)
	}
	return rows, nil
}

func resultFromItem(it enrich.Item) Result {
	var id int64
	if it.ID != nil {
		id = *it.ID
	}
	return Result{
		ID:                 id,
		ProductName:        it.ProductName,
		ProductDescription: it.ProductDescription,
		Manufacturer:       it.Manufacturer,
		SKU:                it.SKU,
		TargetMarket:       it.TargetMarket,
		UserDefinedTags:    it.UserDefinedTags,
	}
}

// Item returns the submitted item.
func (r Result) Item() enrich.Item {
	id := r.ID
	return enrich.Item{
		ID:                 &id,
		ProductName:        r.ProductName,
		ProductDescription: r.ProductDescription,
		Manufacturer:       r.Manufacturer,
		SKU:                r.SKU,
		TargetMarket:       r.TargetMarket,
		UserDefinedTags:    r.UserDefinedTags,
	}
}

// FieldNames returns the schema field names the row was enriched with.
func (r Result) FieldNames() []string {
	var names []string
	if len(r.Fields) == 0 {
		return nil
	}
	_ = json.Unmarshal(r.Fields, &names)
	return names
}

// Values decodes the stored attributes. Numbers come back as json.Number.
func (r Result) Values() (map[string]any, error) {
	out := map[string]any{}
	if len(r.Attributes) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(bytes.NewReader(r.Attributes))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode attributes of row %d: %w", r.ID, err)
	}
	return out, nil
}

func (r Result) input() map[string]string {
	return map[string]string{
		"id":                  strconv.FormatInt(r.ID, 10),
		"product_name":        r.ProductName,
		"product_description": r.ProductDescription,
		"manufacturer":        r.Manufacturer,
		"sku":                 r.SKU,
		"target_market":       r.TargetMarket,
		"user_defined_tags":   r.UserDefinedTags,
	}
}

// Merged flattens the row into the shape returned by the API: input columns,
// schema fields, status and error side by side.
func (r Result) Merged() (map[string]any, error) {
	values, err := r.Values()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(values)+len(enrich.InputColumns)+2)
	for k, v := range values {
		out[k] = v
	}
	for k, v := range r.input() {
		out[k] = v
	}
	out["id"] = r.ID
	out["status"] = r.Status
	out["error"] = r.Error
	return out, nil
}

// Header returns the CSV header for rows: input columns, then the union of schema
// fields in first-seen order, then status and error.
func Header(rows []Result) []string {
	header := append([]string(nil), enrich.InputColumns...)
	seen := map[string]bool{}
	for _, c := range header {
		seen[c] = true
	}
	seen["status"] = true
	seen["error"] = true
	for _, r := range rows {
		for _, f := range r.FieldNames() {
			if seen[f] {
				continue
			}
			seen[f] = true
			header = append(header, f)
		}
	}
	return append(header, "status", "error")
}

// Records renders rows as CSV records aligned with header.
func Records(header []string, rows []Result) ([][]string, error) {
	out := make([][]string, 0, len(rows))
	for _, r := range rows {
		values, err := r.Values()
		if err != nil {
			return nil, err
		}
		input := r.input()
		rec := make([]string, len(header))
		for i, col := range header {
			switch col {
			case "status":
				rec[i] = r.Status
			case "error":
				rec[i] = r.Error
			default:
				if v, ok := input[col]; ok {
					rec[i] = v
					continue
				}
				rec[i] = cell(values[col])
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// ErrInvalidPatch is returned when an edit names an unknown column or carries a
// value of the wrong shape.
var ErrInvalidPatch = errors.New("invalid row patch")

// Apply edits the row in place. Input columns, status and error take strings (or
// null for the input columns); any other key must be one of the row's schema fields
// and takes a scalar value. The id cannot be changed.
func (r *Result) Apply(patch map[string]any) error {
	values, err := r.Values()
	if err != nil {
		return err
	}
	fields := map[string]bool{}
	for _, f := range r.FieldNames() {
		fields[f] = true
	}

	text := func(key string, v any) (string, error) {
		switch t := v.(type) {
		case nil:
			return "", nil
		case string:
			return t, nil
		default:
			return "", fmt.Errorf("%w: %s must be a string", ErrInvalidPatch, key)
		}
	}

	for key, v := range patch {
		var err error
		switch key {
		case "id":
			continue
		case "product_name":
			r.ProductName, err = text(key, v)
		case "product_description":
			r.ProductDescription, err = text(key, v)
		case "manufacturer":
			r.Manufacturer, err = text(key, v)
		case "sku":
			r.SKU, err = text(key, v)
		case "target_market":
			r.TargetMarket, err = text(key, v)
		case "user_defined_tags":
			r.UserDefinedTags, err = text(key, v)
		case "status":
			r.Status, err = text(key, v)
			if err == nil && r.Status != StatusOK && r.Status != StatusError {
				err = fmt.Errorf("%w: status must be %q or %q", ErrInvalidPatch, StatusOK, StatusError)
			}
		case "error":
			r.Error, err = text(key, v)
		default:
			if !fields[key] || key == schema.IdentifierField {
				return fmt.Errorf("%w: unknown column %q", ErrInvalidPatch, key)
			}
			switch v.(type) {
			case nil, string, float64, json.Number, int, int64, bool:
				values[key] = v
			default:
				return fmt.Errorf("%w: %s must be a scalar", ErrInvalidPatch, key)
			}
		}
		if err != nil {
			return err
		}
	}

	b, err := json.Marshal(values)
	if err != nil {
		return err
	}
	r.Attributes = b
	return nil
}
