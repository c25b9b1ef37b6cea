package enrich

import "github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"

// Reconcile returns a copy of rec whose identifier is the item's join key.
func Reconcile(rec Record, item Item) Record {
	out := make(Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	out[schema.IdentifierField] = item.Key()
	return out
}
