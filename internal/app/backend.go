package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/shpitdev/product-enrichment-pipeline/internal/config"
	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich/anthropic"
	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich/gemini"
	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich/openai"
	"github.com/shpitdev/product-enrichment-pipeline/internal/pipeline"
)

// NewBackend builds the configured model transport wrapped in request tracing.
func NewBackend(ctx context.Context, cfg config.BackendConfig, logger *zap.Logger) (enrich.Backend, error) {
	var (
		b   enrich.Backend
		err error
	)
	switch cfg.Kind {
	case config.BackendOpenAI:
		b, err = openai.New(openai.Config{
			BaseURL:    cfg.BaseURL,
			Model:      cfg.Model,
			APIKey:     cfg.APIKey,
			JSONSchema: cfg.JSONSchema,
		})
	case config.BackendGemini:
		b, err = gemini.New(ctx, gemini.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case config.BackendAnthropic:
		b, err = anthropic.New(anthropic.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return enrich.NewTracedBackend(b, logger), nil
}

// NewEnricher wires the configured backend into a batch enricher.
func NewEnricher(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*pipeline.Enricher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	b, err := NewBackend(ctx, cfg.Backend, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("backend configured",
		zap.String("backend", b.Name()),
		zap.String("model", cfg.Backend.Model),
		zap.String("base_url", cfg.Backend.BaseURL),
		zap.Duration("request_timeout", cfg.Backend.RequestTimeout),
	)
	inv := enrich.NewInvoker(b, cfg.Backend.RequestTimeout)
	return pipeline.NewEnricher(inv, cfg.SamplingOptions(), logger), nil
}
