package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
	"github.com/shpitdev/product-enrichment-pipeline/internal/pipeline"
	"github.com/shpitdev/product-enrichment-pipeline/internal/store"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

// ResultLister supplies previously stored rows for incremental runs.
type ResultLister interface {
	List(ctx context.Context) ([]store.Result, error)
}

type LocalOptions struct {
	Selection schema.Selection
	Pipeline  pipeline.Options

	// Previous, when set, lets rows that were already enriched successfully with the
	// same schema and unchanged input skip the backend.
	Previous ResultLister
}

// Summary reports what a local run did.
type Summary struct {
	Total     int
	Cached    int
	Succeeded int
	Failed    int
}

// RunLocal loads items from src, enriches them with the complete policy and hands the
// merged rows, one per item in input order, to dst.
func RunLocal(
	ctx context.Context,
	e *pipeline.Enricher,
	src core.InputAdapter[enrich.Item],
	dst core.OutputAdapter[store.Result],
	opts LocalOptions,
	logger *zap.Logger,
) (Summary, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("local")
	runStart := time.Now()

	s, err := schema.Select(opts.Selection)
	if err != nil {
		return Summary{}, err
	}

	items, err := src.Load(ctx)
	if err != nil {
		return Summary{}, err
	}
	logger.Info("loaded items", zap.Int("items", len(items)), zap.String("schema", s.Name))

	var previous []store.Result
	if opts.Previous != nil {
		previous, err = opts.Previous.List(ctx)
		if err != nil {
			return Summary{}, fmt.Errorf("load previous results: %w", err)
		}
	}
	plan := buildIncrementalPlan(items, previous, s.Fingerprint())
	logger.Info("incremental plan",
		zap.Int("input_rows", len(items)),
		zap.Int("cached_rows", plan.cachedRows),
		zap.Int("rows_to_enrich", len(plan.pending)),
	)

	if len(plan.pending) > 0 {
		popts := opts.Pipeline
		popts.Policy = pipeline.PolicyComplete
		out, err := e.RunSchema(ctx, plan.pending, s, popts)
		if err != nil {
			return Summary{}, err
		}
		fresh, err := store.FromOutcome(out)
		if err != nil {
			return Summary{}, err
		}
		if err := plan.apply(fresh); err != nil {
			return Summary{}, err
		}
	}

	sum := Summary{Total: len(plan.rows), Cached: plan.cachedRows}
	for _, r := range plan.rows {
		if r.Status == store.StatusOK {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}

	writeStart := time.Now()
	if err := dst.Store(ctx, plan.rows); err != nil {
		return sum, err
	}
	logger.Info("local run complete",
		zap.Int("rows", sum.Total),
		zap.Int("ok", sum.Succeeded),
		zap.Int("error", sum.Failed),
		zap.Duration("write_duration", time.Since(writeStart).Round(time.Millisecond)),
		zap.Duration("total_duration", time.Since(runStart).Round(time.Millisecond)),
	)
	return sum, nil
}

type incrementalPlan struct {
	rows       []store.Result
	pending    []enrich.Item
	pendingIdx []int
	cachedRows int
}

func buildIncrementalPlan(items []enrich.Item, previous []store.Result, fingerprint string) incrementalPlan {
	byID := make(map[int64]store.Result, len(previous))
	for _, r := range previous {
		if r.Status == store.StatusOK && r.SchemaFingerprint == fingerprint {
			byID[r.ID] = r
		}
	}

	plan := incrementalPlan{rows: make([]store.Result, len(items))}
	for i, it := range items {
		if it.ID != nil {
			if prev, ok := byID[*it.ID]; ok && sameInput(prev.Item(), it) {
				plan.rows[i] = prev
				plan.cachedRows++
				continue
			}
		}
		plan.pending = append(plan.pending, it)
		plan.pendingIdx = append(plan.pendingIdx, i)
	}
	return plan
}

func (p *incrementalPlan) apply(fresh []store.Result) error {
	if len(fresh) != len(p.pending) {
		return fmt.Errorf("incremental enrichment mismatch: got %d rows for %d pending items", len(fresh), len(p.pending))
	}
	for i, idx := range p.pendingIdx {
		p.rows[idx] = fresh[i]
	}
	return nil
}

func sameInput(a, b enrich.Item) bool {
	return a.ProductName == b.ProductName &&
		a.ProductDescription == b.ProductDescription &&
		a.Manufacturer == b.Manufacturer &&
		a.SKU == b.SKU &&
		a.TargetMarket == b.TargetMarket &&
		a.UserDefinedTags == b.UserDefinedTags
}
