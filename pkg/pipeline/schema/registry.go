package schema

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ProfileCatalog = "catalog"
	ProfileFull    = "full"
)

// MaxCustomFields caps how many attributes a custom schema may request.
const MaxCustomFields = 3

var fieldNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,63}$`)

// FieldSpec is one caller-defined attribute of a custom schema.
type FieldSpec struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// Selection is the schema-selection configuration accepted from requests, config
// files and CLI flags.
type Selection struct {
	Mode    string      `json:"mode" yaml:"mode" env:"ENRICHER_SCHEMA_MODE"`
	Profile string      `json:"profile,omitempty" yaml:"profile,omitempty" env:"ENRICHER_SCHEMA_PROFILE"`
	Fields  []FieldSpec `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Select resolves a selection into a Schema, or a *ConfigurationError.
func Select(sel Selection) (*Schema, error) {
	variant, err := NormalizeMode(sel.Mode)
	if err != nil {
		return nil, err
	}
	switch variant {
	case VariantCustom:
		return Custom(sel.Fields)
	default:
		if len(sel.Fields) > 0 {
			return nil, &ConfigurationError{Reason: "fields are only accepted in custom mode"}
		}
		return Defaults(sel.Profile)
	}
}

// LoadSelectionYAML decodes a schema selection document. Unknown keys are rejected.
func LoadSelectionYAML(r io.Reader) (Selection, error) {
	var sel Selection
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&sel); err != nil {
		if err == io.EOF {
			return Selection{}, &ConfigurationError{Reason: "empty schema document"}
		}
		return Selection{}, &ConfigurationError{Reason: fmt.Sprintf("decode schema yaml: %v", err)}
	}
	return sel, nil
}

func int64Ptr(v int64) *int64 { return &v }

var catalogFields = []Field{
	{
		Name:        "product_type",
		Type:        TypeString,
		Description: "The generic kind of product, e.g. 'AA batteries', 'laptop sleeve'.",
	},
	{
		Name:        "brand",
		Type:        TypeString,
		Description: "The brand name as it would appear on the packaging.",
	},
	{
		Name: "size_quantity",
		Type: TypeString,
		Description: "A single, concise string for size or quantity, e.g. '100g', '12 pack', " +
			"'Small', '1 box'. No sentences, under 5 words.",
	},
}

var fullExtraFields = []Field{
	{
		Name:        "price",
		Type:        TypeNumber,
		Description: "The retail price as a bare number, or null if unknown.",
		Nullable:    true,
	},
	{
		Name:        "currency",
		Type:        TypeString,
		Description: "The 3-letter ISO 4217 currency code of the price, or null if unknown.",
		Nullable:    true,
	},
	{
		Name:        "availability",
		Type:        TypeString,
		Description: "Stock availability, e.g. 'in stock', 'discontinued', or null if unknown.",
		Nullable:    true,
	},
	{
		Name:        "insight",
		Type:        TypeString,
		Description: "One short observation about the product listing.",
	},
	{
		Name:        "quality_score",
		Type:        TypeInteger,
		Description: "Completeness of the listing data from 1 (poor) to 5 (excellent).",
		Min:         int64Ptr(1),
		Max:         int64Ptr(5),
	},
	{
		Name:        "anomaly_flag",
		Type:        TypeString,
		Description: "A short note when the listing looks inconsistent, or null.",
		Nullable:    true,
	},
}

// Defaults returns one of the hard-coded default profiles. An empty profile selects
// the catalog profile.
func Defaults(profile string) (*Schema, error) {
	p := strings.TrimSpace(strings.ToLower(profile))
	if p == "" {
		p = ProfileCatalog
	}
	fields := []Field{identifierField()}
	switch p {
	case ProfileCatalog:
		fields = append(fields, catalogFields...)
	case ProfileFull:
		fields = append(fields, catalogFields...)
		fields = append(fields, fullExtraFields...)
	default:
		return nil, &ConfigurationError{Reason: fmt.Sprintf("unknown default profile %q", profile)}
	}
	return &Schema{
		Name:    "product_attributes_" + p,
		Variant: VariantDefaults,
		Fields:  fields,
	}, nil
}

// Custom builds a schema from caller-defined fields. Every custom field is a
// nullable free-text string. Duplicate names (case-insensitive) are rejected.
func Custom(specs []FieldSpec) (*Schema, error) {
	if len(specs) == 0 {
		return nil, &ConfigurationError{Reason: "custom mode requires at least one field"}
	}
	if len(specs) > MaxCustomFields {
		return nil, &ConfigurationError{
			Reason: fmt.Sprintf("custom mode accepts at most %d fields, got %d", MaxCustomFields, len(specs)),
		}
	}

	fields := []Field{identifierField()}
	seen := make(map[string]struct{}, len(specs))
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return nil, &ConfigurationError{Reason: "custom field name must not be blank"}
		}
		if !fieldNameRe.MatchString(name) {
			return nil, &ConfigurationError{Field: name, Reason: "custom field name must be identifier-like"}
		}
		folded := strings.ToLower(name)
		if Reserved(folded) {
			return nil, &ConfigurationError{Field: name, Reason: "name is reserved for an input or row column"}
		}
		if _, dup := seen[folded]; dup {
			return nil, &ConfigurationError{Field: name, Reason: "duplicate custom field name"}
		}
		seen[folded] = struct{}{}

		desc := strings.TrimSpace(spec.Description)
		if desc == "" {
			desc = "Free-text value for " + name + "."
		}
		fields = append(fields, Field{
			Name:        name,
			Type:        TypeString,
			Description: desc,
			Nullable:    true,
		})
	}
	return &Schema{
		Name:    "custom_attributes",
		Variant: VariantCustom,
		Fields:  fields,
	}, nil
}
