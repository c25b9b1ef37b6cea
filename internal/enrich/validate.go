package enrich

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

// Validate checks raw model text against s and returns the coerced record. The record
// carries key under the identifier field; any identifier echoed by the model is
// ignored, as are keys the schema does not declare.
func Validate(key any, raw string, s *schema.Schema) (Record, *OutputValidationError) {
	fail := func(field, reason string) *OutputValidationError {
		return &OutputValidationError{Identifier: key, RawOutput: raw, Field: field, Reason: reason}
	}
	if s == nil {
		return nil, fail("", "no schema")
	}

	obj, reason := decodeObject(raw)
	if reason != "" {
		return nil, fail("", reason)
	}

	rec := make(Record, len(s.Fields))
	for _, f := range s.ModelFields() {
		v, present := obj[f.Name]
		if !s.Strict() {
			text, ok := freeText(v)
			if !ok {
				return nil, fail(f.Name, "expected text")
			}
			rec[f.Name] = text
			continue
		}
		if !present {
			return nil, fail(f.Name, "missing required field")
		}
		coerced, reason := coerceStrict(f, v)
		if reason != "" {
			return nil, fail(f.Name, reason)
		}
		rec[f.Name] = coerced
	}
	rec[schema.IdentifierField] = key
	return rec, nil
}

func decodeObject(raw string) (map[string]any, string) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, "empty output"
		}
		return nil, fmt.Sprintf("not a JSON object: %v", err)
	}
	if obj == nil {
		return nil, "not a JSON object: null"
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, "unexpected trailing data after JSON object"
	}
	return obj, ""
}

func coerceStrict(f schema.Field, v any) (any, string) {
	if v == nil {
		if f.Nullable {
			return nil, ""
		}
		return nil, "must not be null"
	}
	switch f.Type {
	case schema.TypeString:
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Sprintf("expected string, got %s", jsonKind(v))
		}
		return strings.TrimSpace(s), ""
	case schema.TypeNumber:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Sprintf("expected number, got %s", jsonKind(v))
		}
		x, err := n.Float64()
		if err != nil || math.IsInf(x, 0) {
			return nil, fmt.Sprintf("number %s out of range", n)
		}
		return x, ""
	case schema.TypeInteger:
		n, ok := v.(json.Number)
		if !ok {
			return nil, fmt.Sprintf("expected integer, got %s", jsonKind(v))
		}
		i, err := n.Int64()
		if err != nil {
			x, ferr := n.Float64()
			if ferr != nil || x != math.Trunc(x) || math.Abs(x) > 1<<53 {
				return nil, fmt.Sprintf("expected integer, got %s", n)
			}
			i = int64(x)
		}
		if f.Min != nil && i < *f.Min {
			return nil, fmt.Sprintf("%d below minimum %d", i, *f.Min)
		}
		if f.Max != nil && i > *f.Max {
			return nil, fmt.Sprintf("%d above maximum %d", i, *f.Max)
		}
		return i, ""
	default:
		return nil, fmt.Sprintf("unsupported field type %q", f.Type)
	}
}

// freeText renders a custom-schema value. Missing and null values become nil.
func freeText(v any) (any, bool) {
	switch x := v.(type) {
	case nil:
		return nil, true
	case string:
		return strings.TrimSpace(x), true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return nil, false
	}
}

func jsonKind(v any) string {
	switch v.(type) {
	case string:
		return "string"
	case json.Number:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
