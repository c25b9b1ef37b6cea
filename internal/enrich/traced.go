package enrich

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/redact"
)

const traceBodyLimit = 512

// TracedBackend logs each request and response of the wrapped backend at debug level.
type TracedBackend struct {
	next   Backend
	logger *zap.Logger
}

// NewTracedBackend decorates next. A nil logger disables tracing.
func NewTracedBackend(next Backend, logger *zap.Logger) *TracedBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TracedBackend{next: next, logger: logger.Named("backend")}
}

func (t *TracedBackend) Name() string { return t.next.Name() }

func (t *TracedBackend) Complete(ctx context.Context, req Request) (string, error) {
	deadlineIn := "none"
	if d, ok := ctx.Deadline(); ok {
		deadlineIn = time.Until(d).Round(time.Millisecond).String()
	}
	schemaName := ""
	if req.Schema != nil {
		schemaName = req.Schema.Name
	}
	t.logger.Debug("completion request",
		zap.String("backend", t.next.Name()),
		zap.String("schema", schemaName),
		zap.String("deadline_in", deadlineIn),
		zap.String("prompt", redact.Truncate(req.Prompt, traceBodyLimit)),
	)

	start := time.Now()
	out, err := t.next.Complete(ctx, req)
	elapsed := time.Since(start).Round(time.Millisecond)
	if err != nil {
		t.logger.Debug("completion response",
			zap.String("backend", t.next.Name()),
			zap.Duration("duration", elapsed),
			zap.String("status", "error"),
			zap.String("error", redact.Secrets(err.Error())),
		)
		return out, err
	}
	t.logger.Debug("completion response",
		zap.String("backend", t.next.Name()),
		zap.Duration("duration", elapsed),
		zap.String("status", "ok"),
		zap.String("response", redact.Truncate(out, traceBodyLimit)),
	)
	return out, nil
}
