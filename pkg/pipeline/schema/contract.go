package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// Variant captures which family of output contract a schema belongs to.
type Variant string

const (
	VariantDefaults Variant = "defaults"
	VariantCustom   Variant = "custom"
)

// FieldType is the declared value type of an output field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
)

// IdentifierField is the reserved join-key field present on every schema.
//
// It is never requested from the model; the pipeline always fills it from the
// originating input item.
const IdentifierField = "identifier"

// reservedFieldNames are the columns a merged result row already carries: the
// identifier, the input item columns and the row status.
var reservedFieldNames = map[string]struct{}{
	IdentifierField:       {},
	"id":                  {},
	"product_name":        {},
	"product_description": {},
	"description":         {},
	"manufacturer":        {},
	"sku":                 {},
	"target_market":       {},
	"user_defined_tags":   {},
	"status":              {},
	"error":               {},
}

// Reserved reports whether name (case-insensitive) is unavailable for a schema field.
func Reserved(name string) bool {
	_, ok := reservedFieldNames[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Field describes one attribute an enrichment result must carry.
type Field struct {
	Name        string
	Type        FieldType
	Description string
	Nullable    bool

	// Min and Max bound integer fields. Nil means unbounded.
	Min *int64
	Max *int64

	// Identity marks the reserved identifier field.
	Identity bool
}

// Schema is the output contract shared by prompt construction and validation.
type Schema struct {
	Name    string
	Variant Variant
	Fields  []Field
}

func identifierField() Field {
	return Field{
		Name:        IdentifierField,
		Type:        TypeString,
		Description: "The stable identifier of the input row (id, else SKU, else product name).",
		Identity:    true,
	}
}

// ModelFields returns the fields the model is asked to produce, in declaration order.
func (s *Schema) ModelFields() []Field {
	if s == nil {
		return nil
	}
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Identity {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Field looks up a field by name.
func (s *Schema) Field(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Names returns every field name including the identifier, in declaration order.
func (s *Schema) Names() []string {
	if s == nil {
		return nil
	}
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		out = append(out, f.Name)
	}
	return out
}

// Strict reports whether presence and declared types are enforced on every field.
// Custom schemas only enforce object shape.
func (s *Schema) Strict() bool {
	return s != nil && s.Variant == VariantDefaults
}

// Fingerprint is a short stable hash of the field set, stored alongside results so
// rows enriched under different schemas can be told apart.
func (s *Schema) Fingerprint() string {
	if s == nil {
		return ""
	}
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s|%s\n", s.Variant, s.Name)
	for _, f := range s.Fields {
		_, _ = fmt.Fprintf(h, "%s|%s|%t|%s\n", f.Name, f.Type, f.Nullable, f.Description)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// JSONSchema renders the model-facing JSON Schema used as a structural hint by
// backends that support constrained decoding. The identifier field is excluded.
func (s *Schema) JSONSchema() (json.RawMessage, error) {
	props := make(map[string]any)
	required := make([]string, 0, len(s.Fields))
	for _, f := range s.ModelFields() {
		prop := map[string]any{
			"description": f.Description,
		}
		if f.Nullable {
			prop["type"] = []string{string(f.Type), "null"}
		} else {
			prop["type"] = string(f.Type)
		}
		if f.Min != nil {
			prop["minimum"] = *f.Min
		}
		if f.Max != nil {
			prop["maximum"] = *f.Max
		}
		props[f.Name] = prop
		required = append(required, f.Name)
	}
	doc := map[string]any{
		"title":                s.Name,
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal json schema: %w", err)
	}
	return json.RawMessage(b), nil
}

// NormalizeMode maps a caller-supplied mode selector to a Variant.
// An empty selector means the default attribute set.
func NormalizeMode(raw string) (Variant, error) {
	s := strings.TrimSpace(strings.ToLower(raw))
	switch s {
	case "", "default", "defaults":
		return VariantDefaults, nil
	case "custom":
		return VariantCustom, nil
	default:
		return "", &ConfigurationError{Reason: fmt.Sprintf("unknown schema mode %q", raw)}
	}
}
