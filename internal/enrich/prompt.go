package enrich

import (
	"fmt"
	"strings"

	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

const (
	promptHeader = "Analyze the following product data:\n"
	promptFooter = "Return a JSON object describing its attributes based on your schema.\n"
)

// BuildUserPrompt renders the per-item prompt. Blank attributes are omitted.
func BuildUserPrompt(item Item) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	for _, attr := range item.Attributes() {
		fmt.Fprintf(&b, "   '%s': '%s'\n", attr.Name, attr.Value)
	}
	b.WriteString(promptFooter)
	return b.String()
}

// BuildSystemInstruction renders the schema-specific instruction sent with every
// request for s.
func BuildSystemInstruction(s *schema.Schema) string {
	fields := s.ModelFields()

	var b strings.Builder
	b.WriteString("You are an ultra-concise data formatting AI. Do not converse, explain or apologize.\n")
	b.WriteString("Read the product data and respond with exactly one JSON object and nothing else.\n\n")
	b.WriteString("The object must have exactly these keys:\n")

	var hasNumber, hasInteger, hasCurrency, hasNullable, hasRequiredText bool
	for _, f := range fields {
		fmt.Fprintf(&b, "- %s (%s): %s\n", f.Name, describeType(f), f.Description)
		switch f.Type {
		case schema.TypeNumber:
			hasNumber = true
		case schema.TypeInteger:
			hasInteger = true
		case schema.TypeString:
			if !f.Nullable {
				hasRequiredText = true
			}
		}
		if f.Nullable {
			hasNullable = true
		}
		if strings.Contains(strings.ToLower(f.Name), "currency") {
			hasCurrency = true
		}
	}

	b.WriteString("\nRules:\n")
	b.WriteString("- Do not add keys that are not listed above.\n")
	if hasNumber {
		b.WriteString("- Number fields are bare JSON numbers with no currency symbols, units or quotes.\n")
	}
	if hasInteger {
		b.WriteString("- Integer fields are whole JSON numbers inside the stated range.\n")
	}
	if hasCurrency {
		b.WriteString("- Currency fields are 3-letter ISO 4217 codes such as \"USD\".\n")
	}
	b.WriteString("- Text values are short phrases under 10 words, never full sentences.\n")
	if hasNullable {
		b.WriteString("- Use null for a nullable field whose value cannot be determined.\n")
	}
	if hasRequiredText {
		b.WriteString("- Use an empty string for a text field whose value cannot be determined.\n")
	}
	return b.String()
}

func describeType(f schema.Field) string {
	t := string(f.Type)
	if f.Type == schema.TypeInteger && f.Min != nil && f.Max != nil {
		t = fmt.Sprintf("integer %d-%d", *f.Min, *f.Max)
	}
	if f.Nullable {
		t += " or null"
	}
	return t
}

// BuildRequest assembles the backend request for one item.
func BuildRequest(item Item, s *schema.Schema, sampling Sampling) Request {
	return Request{
		System:   BuildSystemInstruction(s),
		Prompt:   BuildUserPrompt(item),
		Schema:   s,
		Sampling: sampling,
	}
}
