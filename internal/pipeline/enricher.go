package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/redact"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/worker"
)

// DefaultChunkSize is the configured chunk size unless overridden.
const DefaultChunkSize = 30

const rawOutputLogLimit = 1024

type Options struct {
	// ChunkSize bounds in-flight items. <=0 dispatches the whole batch as one chunk.
	ChunkSize int
	// Workers caps concurrency inside a chunk. <=0 dispatches the whole chunk at once.
	Workers      int
	RateLimitRPS float64
	Policy       Policy
}

// Enricher runs batches of items through prompt construction, one backend call per
// item, validation and identity reconciliation.
type Enricher struct {
	invoker  *enrich.Invoker
	sampling enrich.Sampling
	logger   *zap.Logger
}

func NewEnricher(invoker *enrich.Invoker, sampling enrich.Sampling, logger *zap.Logger) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		invoker:  invoker,
		sampling: sampling,
		logger:   logger.Named("pipeline"),
	}
}

// Run resolves sel and enriches items. A schema configuration error is returned
// before any backend call. Item failures never fail the run.
func (e *Enricher) Run(ctx context.Context, items []enrich.Item, sel schema.Selection, opts Options) (*Outcome, error) {
	s, err := schema.Select(sel)
	if err != nil {
		return nil, err
	}
	return e.RunSchema(ctx, items, s, opts)
}

// RunSchema enriches items against an already resolved schema. When the run is
// stopped early, for example by ctx, the partial Outcome is returned together with
// the error; items that never ran are failures carrying that error.
func (e *Enricher) RunSchema(ctx context.Context, items []enrich.Item, s *schema.Schema, opts Options) (*Outcome, error) {
	if s == nil {
		return nil, &schema.ConfigurationError{Reason: "no schema"}
	}
	if opts.Policy == "" {
		opts.Policy = PolicyCompact
	}
	chunkSize := opts.ChunkSize
	if chunkSize < 0 {
		chunkSize = 0
	}

	runID := uuid.NewString()
	logger := e.logger.With(zap.String("run_id", runID))
	chunks := len(worker.Chunks(len(items), chunkSize))
	logger.Info("enrichment run start",
		zap.Int("items", len(items)),
		zap.Int("chunks", chunks),
		zap.Int("chunk_size", chunkSize),
		zap.String("schema", s.Name),
		zap.String("backend", e.invoker.BackendName()),
		zap.String("policy", string(opts.Policy)),
	)
	start := time.Now()

	process := func(ctx context.Context, item enrich.Item) (enrich.Record, error) {
		if err := item.Validate(); err != nil {
			return nil, err
		}
		key := item.Key()
		raw, err := e.invoker.Invoke(ctx, key, enrich.BuildRequest(item, s, e.sampling))
		if err != nil {
			return nil, err
		}
		rec, verr := enrich.Validate(key, raw, s)
		if verr != nil {
			return nil, verr
		}
		return enrich.Reconcile(rec, item), nil
	}

	onResult := func(res worker.Result[enrich.Item, enrich.Record]) error {
		if res.Err == nil {
			logger.Debug("item enriched",
				zap.String("identifier", res.Input.KeyString()),
				zap.Int("chunk", res.Chunk),
			)
			return nil
		}
		f := enrich.FailureFromError(res.Input.Key(), res.Err)
		logger.Warn("item enrichment failed",
			zap.String("identifier", res.Input.KeyString()),
			zap.String("kind", string(f.Kind)),
			zap.String("reason", redact.Secrets(f.Reason)),
			zap.String("raw_output", redact.Truncate(f.RawOutput, rawOutputLogLimit)),
			zap.Int("chunk", res.Chunk),
		)
		return nil
	}

	results, err := worker.ProcessAllWithCallback(ctx, items, process, onResult, worker.Options{
		ChunkSize:    chunkSize,
		Workers:      opts.Workers,
		RateLimitRPS: opts.RateLimitRPS,
	})
	out := &Outcome{
		RunID:    runID,
		Schema:   s,
		Policy:   opts.Policy,
		Slots:    make([]Slot, len(results)),
		chunks:   chunks,
		duration: time.Since(start),
	}
	for i, r := range results {
		slot := Slot{Item: r.Input, Chunk: r.Chunk}
		if r.Err != nil {
			f := enrich.FailureFromError(r.Input.Key(), r.Err)
			f.Reason = redact.Secrets(f.Reason)
			slot.Failure = f
		} else {
			slot.Record = r.Output
		}
		out.Slots[i] = slot
	}

	st := out.Stats()
	if err != nil {
		logger.Warn("enrichment run stopped",
			zap.Int("succeeded", st.Succeeded),
			zap.Int("failed", st.Failed),
			zap.Error(err),
		)
		return out, fmt.Errorf("enrichment run %s: %w", runID, err)
	}
	logger.Info("enrichment run complete",
		zap.Int("succeeded", st.Succeeded),
		zap.Int("failed", st.Failed),
		zap.Duration("duration", st.Duration.Round(time.Millisecond)),
	)
	return out, nil
}
