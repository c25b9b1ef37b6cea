package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

// Policy selects which view of a batch is returned to the caller.
type Policy string

const (
	// PolicyCompact returns successful records only, in submission order.
	PolicyCompact Policy = "compact"
	// PolicyComplete returns one entry per item, nil where the item failed.
	PolicyComplete Policy = "complete"
)

// ParsePolicy accepts "compact" or "complete". Empty means compact.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyCompact:
		return PolicyCompact, nil
	case PolicyComplete:
		return PolicyComplete, nil
	default:
		return "", fmt.Errorf("unknown result policy %q", s)
	}
}

// Slot is the terminal state of one submitted item. Exactly one of Record and
// Failure is set.
type Slot struct {
	Item    enrich.Item
	Chunk   int
	Record  enrich.Record
	Failure *enrich.Failure
}

func (s Slot) OK() bool { return s.Failure == nil && s.Record != nil }

// Stats summarises a batch.
type Stats struct {
	Total     int
	Succeeded int
	Failed    int
	Chunks    int
	Duration  time.Duration
}

// Outcome is the result of one Run. Slots are in submission order.
type Outcome struct {
	RunID  string
	Schema *schema.Schema
	Policy Policy
	Slots  []Slot

	chunks   int
	duration time.Duration
}

// Compact returns the successful records only.
func (o *Outcome) Compact() []enrich.Record {
	out := make([]enrich.Record, 0, len(o.Slots))
	for _, s := range o.Slots {
		if s.OK() {
			out = append(out, s.Record)
		}
	}
	return out
}

// Complete returns one entry per item, nil for failures.
func (o *Outcome) Complete() []enrich.Record {
	out := make([]enrich.Record, len(o.Slots))
	for i, s := range o.Slots {
		if s.OK() {
			out[i] = s.Record
		}
	}
	return out
}

// Results returns the view selected by the run's policy.
func (o *Outcome) Results() []enrich.Record {
	if o.Policy == PolicyComplete {
		return o.Complete()
	}
	return o.Compact()
}

// Failures lists the failed items in submission order.
func (o *Outcome) Failures() []enrich.Failure {
	var out []enrich.Failure
	for _, s := range o.Slots {
		if s.Failure != nil {
			out = append(out, *s.Failure)
		}
	}
	return out
}

func (o *Outcome) Stats() Stats {
	st := Stats{Total: len(o.Slots), Chunks: o.chunks, Duration: o.duration}
	for _, s := range o.Slots {
		if s.OK() {
			st.Succeeded++
		} else {
			st.Failed++
		}
	}
	return st
}

// Join looks up the record for each item by join key. The result is aligned with
// items; entries are nil where no successful record carries the item's key.
func (o *Outcome) Join(items []enrich.Item) []enrich.Record {
	byKey := make(map[string]enrich.Record, len(o.Slots))
	for _, s := range o.Slots {
		if !s.OK() {
			continue
		}
		k := enrich.KeyString(s.Record[schema.IdentifierField])
		if _, dup := byKey[k]; !dup {
			byKey[k] = s.Record
		}
	}
	out := make([]enrich.Record, len(items))
	for i, it := range items {
		out[i] = byKey[it.KeyString()]
	}
	return out
}
