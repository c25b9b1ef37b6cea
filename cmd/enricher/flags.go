package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/shpitdev/product-enrichment-pipeline/internal/config"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

// commonFlags are shared by local and serve. Most bind straight into the loaded
// config, so their defaults show the effective configuration.
type commonFlags struct {
	backend       string
	loadedKind    string
	schemaFile    string
	schemaMode    string
	schemaProfile string
}

func bindCommonFlags(fs *flag.FlagSet, cfg *config.Config) *commonFlags {
	f := &commonFlags{
		backend:       cfg.Backend.Kind,
		loadedKind:    cfg.Backend.Kind,
		schemaMode:    cfg.Schema.Mode,
		schemaProfile: cfg.Schema.Profile,
	}
	fs.StringVar(&f.backend, "backend", f.backend, "Backend: openai, gemini or anthropic (env: ENRICHER_BACKEND)")
	fs.StringVar(&cfg.Backend.Model, "model", cfg.Backend.Model, "Model name (env: ENRICHER_MODEL)")
	fs.StringVar(&cfg.Backend.BaseURL, "base-url", cfg.Backend.BaseURL, "Backend API root (env: ENRICHER_BASE_URL)")
	fs.BoolVar(&cfg.Backend.JSONSchema, "json-schema", cfg.Backend.JSONSchema, "Send the output schema as a json_schema response format (openai backend)")
	fs.DurationVar(&cfg.Backend.RequestTimeout, "request-timeout", cfg.Backend.RequestTimeout, "Per-item request timeout (env: ENRICHER_REQUEST_TIMEOUT)")

	fs.IntVar(&cfg.Pipeline.ChunkSize, "chunk-size", cfg.Pipeline.ChunkSize, "Items dispatched per chunk, 0 dispatches the whole batch at once (env: ENRICHER_CHUNK_SIZE)")
	fs.StringVar(&cfg.Pipeline.Dispatch, "dispatch", cfg.Pipeline.Dispatch, "Dispatch policy: chunked or all (the whole batch at once) (env: ENRICHER_DISPATCH)")
	fs.IntVar(&cfg.Pipeline.Workers, "workers", cfg.Pipeline.Workers, "Max concurrent calls inside a chunk, 0 means the whole chunk (env: ENRICHER_WORKERS)")
	fs.Float64Var(&cfg.Pipeline.RateLimitRPS, "rate-limit-rps", cfg.Pipeline.RateLimitRPS, "Global request rate limit (RPS), 0 disables (env: ENRICHER_RATE_LIMIT_RPS)")

	fs.StringVar(&f.schemaMode, "schema-mode", f.schemaMode, "Schema mode: defaults or custom (env: ENRICHER_SCHEMA_MODE)")
	fs.StringVar(&f.schemaProfile, "schema-profile", f.schemaProfile, "Default schema profile: catalog or full (env: ENRICHER_SCHEMA_PROFILE)")
	fs.StringVar(&f.schemaFile, "schema-file", "", "YAML schema selection file {mode, profile, fields}; overrides --schema-mode/--schema-profile")

	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level (env: ENRICHER_LOG_LEVEL)")
	return f
}

// apply folds the parsed flags into cfg and re-validates it.
func (f *commonFlags) apply(cfg *config.Config) error {
	kind := strings.ToLower(strings.TrimSpace(f.backend))
	if kind != f.loadedKind {
		// Defaults resolved for the configured backend do not carry over.
		cfg.Backend.Kind = kind
		if cfg.Backend.Model == modelDefault(f.loadedKind) {
			cfg.Backend.Model = ""
		}
		if cfg.Backend.BaseURL == baseURLDefault(f.loadedKind) {
			cfg.Backend.BaseURL = ""
		}
		cfg.Backend.APIKey = ""
		cfg.ApplyBackendDefaults()
	}

	if f.schemaFile != "" {
		file, err := os.Open(f.schemaFile)
		if err != nil {
			return err
		}
		defer func() {
			_ = file.Close()
		}()
		sel, err := schema.LoadSelectionYAML(file)
		if err != nil {
			return fmt.Errorf("%s: %w", f.schemaFile, err)
		}
		cfg.Schema = sel
	} else {
		cfg.Schema.Mode = f.schemaMode
		cfg.Schema.Profile = f.schemaProfile
	}
	return cfg.Validate()
}

func modelDefault(kind string) string {
	probe := config.Config{Backend: config.BackendConfig{Kind: kind}}
	probe.ApplyBackendDefaults()
	return probe.Backend.Model
}

func baseURLDefault(kind string) string {
	probe := config.Config{Backend: config.BackendConfig{Kind: kind}}
	probe.ApplyBackendDefaults()
	return probe.Backend.BaseURL
}
