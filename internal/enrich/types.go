package enrich

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Item is one product record submitted for enrichment.
type Item struct {
	ID                 *int64 `json:"id,omitempty"`
	ProductName        string `json:"product_name"`
	ProductDescription string `json:"product_description,omitempty"`
	Manufacturer       string `json:"manufacturer,omitempty"`
	SKU                string `json:"sku,omitempty"`
	TargetMarket       string `json:"target_market,omitempty"`
	UserDefinedTags    string `json:"user_defined_tags,omitempty"`
}

// InputColumns lists the recognised input attributes in prompt order.
var InputColumns = []string{
	"id",
	"product_name",
	"product_description",
	"manufacturer",
	"sku",
	"target_market",
	"user_defined_tags",
}

// UnmarshalJSON accepts "description" as an alias for "product_description".
func (it *Item) UnmarshalJSON(b []byte) error {
	type plain Item
	var aux struct {
		plain
		Description string `json:"description"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	*it = Item(aux.plain)
	if strings.TrimSpace(it.ProductDescription) == "" && aux.Description != "" {
		it.ProductDescription = aux.Description
	}
	return nil
}

// Key returns the join key for the item: the id when present, else a non-blank SKU,
// else the product name. The result is an int64 or a string.
func (it Item) Key() any {
	if it.ID != nil {
		return *it.ID
	}
	if sku := strings.TrimSpace(it.SKU); sku != "" {
		return sku
	}
	return strings.TrimSpace(it.ProductName)
}

// KeyString renders Key for logs and map lookups.
func (it Item) KeyString() string {
	return KeyString(it.Key())
}

// KeyString renders an identifier value as text.
func KeyString(key any) string {
	switch v := key.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(v, 10)
	case string:
		return v
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Validate reports an *InvalidItemError when the item cannot be enriched.
func (it Item) Validate() error {
	if strings.TrimSpace(it.ProductName) == "" {
		return &InvalidItemError{Identifier: it.Key(), Reason: "product_name is required"}
	}
	return nil
}

// Attribute is one non-blank input value.
type Attribute struct {
	Name  string
	Value string
}

// Attributes returns the item's non-blank values in InputColumns order.
func (it Item) Attributes() []Attribute {
	var out []Attribute
	add := func(name, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		out = append(out, Attribute{Name: name, Value: value})
	}
	if it.ID != nil {
		add("id", strconv.FormatInt(*it.ID, 10))
	}
	add("product_name", it.ProductName)
	add("product_description", it.ProductDescription)
	add("manufacturer", it.Manufacturer)
	add("sku", it.SKU)
	add("target_market", it.TargetMarket)
	add("user_defined_tags", it.UserDefinedTags)
	return out
}

// ItemFromValues builds an item from column values keyed by InputColumns names.
func ItemFromValues(id *int64, values map[string]string) Item {
	return Item{
		ID:                 id,
		ProductName:        values["product_name"],
		ProductDescription: values["product_description"],
		Manufacturer:       values["manufacturer"],
		SKU:                values["sku"],
		TargetMarket:       values["target_market"],
		UserDefinedTags:    values["user_defined_tags"],
	}
}

// Record maps every schema field name to its validated value: string, float64, int64
// or nil.
type Record map[string]any

// FailureKind classifies why an item produced no record.
type FailureKind string

const (
	FailureInvalidItem FailureKind = "invalid_item"
	FailureBackend     FailureKind = "backend"
	FailureValidation  FailureKind = "validation"
	FailureInternal    FailureKind = "internal"
)

// Failure describes an item that produced no record.
type Failure struct {
	Identifier any         `json:"identifier"`
	RawOutput  string      `json:"raw_model_output"`
	Reason     string      `json:"reason"`
	Kind       FailureKind `json:"kind"`

	Err error `json:"-"`
}
