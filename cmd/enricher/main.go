package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/shpitdev/product-enrichment-pipeline/internal/app"
	"github.com/shpitdev/product-enrichment-pipeline/internal/config"
	"github.com/shpitdev/product-enrichment-pipeline/internal/logging"
	"github.com/shpitdev/product-enrichment-pipeline/internal/server"
	"github.com/shpitdev/product-enrichment-pipeline/internal/store"
	"github.com/shpitdev/product-enrichment-pipeline/internal/version"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/core"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/redact"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := 0
	switch os.Args[1] {
	case "help", "-h", "--help":
		usage(os.Stdout)
	case "version":
		_, _ = fmt.Fprintln(os.Stdout, version.Current)
	case "local":
		code = runLocal(ctx, os.Args[2:])
	case "serve":
		code = runServe(ctx, os.Args[2:])
	default:
		_, _ = fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		usage(os.Stderr)
		code = 2
	}
	stop()
	os.Exit(code)
}

func configError(err error) int {
	_, _ = fmt.Fprintf(os.Stderr, "config error: %s\n", redact.Secrets(err.Error()))
	return 2
}

func runLocal(ctx context.Context, args []string) int {
	cfg, err := config.Load("")
	if err != nil {
		return configError(err)
	}

	fs := flag.NewFlagSet("local", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	var inputPath, outputPath, storeDSN string
	var incremental bool
	fs.StringVar(&inputPath, "input", "", "Input CSV file path (must include a 'product_name' column)")
	fs.StringVar(&outputPath, "output", "", "Output CSV file path")
	fs.StringVar(&storeDSN, "store", "", "Also replace the result store at this DSN (sqlite://<path> or postgres://...)")
	fs.BoolVar(&incremental, "incremental", false, "Reuse rows already enriched successfully in --store with the same schema")
	common := bindCommonFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if inputPath == "" || outputPath == "" {
		_, _ = fmt.Fprintln(os.Stderr, "local requires --input and --output")
		return 2
	}
	if incremental && strings.TrimSpace(storeDSN) == "" {
		_, _ = fmt.Fprintln(os.Stderr, "--incremental requires --store")
		return 2
	}
	if err := common.apply(cfg); err != nil {
		return configError(err)
	}

	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return configError(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	e, err := app.NewEnricher(ctx, cfg, logger)
	if err != nil {
		return configError(err)
	}

	var sinks core.MultiOutput[store.Result]
	sinks = append(sinks, app.CSVSink{Path: outputPath})
	opts := app.LocalOptions{
		Selection: cfg.Schema,
		Pipeline:  cfg.PipelineOptions(),
	}
	if dsn := strings.TrimSpace(storeDSN); dsn != "" {
		st, err := store.Open(dsn, logger)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "store error: %s\n", redact.Secrets(err.Error()))
			return 1
		}
		defer func() {
			_ = st.Close()
		}()
		sinks = append(sinks, st)
		if incremental {
			opts.Previous = st
		}
	}

	src := &app.CSVSource{Path: inputPath}
	sum, err := app.RunLocal(ctx, e, src, sinks, opts, logger)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "local run failed: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	logger.Info("done",
		zap.String("output", outputPath),
		zap.Int("rows", sum.Total),
		zap.Int("cached", sum.Cached),
		zap.Int("ok", sum.Succeeded),
		zap.Int("error", sum.Failed),
		zap.Int("skipped_input_rows", src.Skipped),
	)
	return 0
}

func runServe(ctx context.Context, args []string) int {
	cfg, err := config.Load("")
	if err != nil {
		return configError(err)
	}

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	fs.StringVar(&cfg.Server.Addr, "addr", cfg.Server.Addr, "Listen address (env: ENRICHER_ADDR)")
	fs.StringVar(&cfg.Store.DSN, "store", cfg.Store.DSN, "Result store DSN, empty disables persistence (env: ENRICHER_STORE_DSN)")
	fs.DurationVar(&cfg.Server.ShutdownTimeout, "shutdown-timeout", cfg.Server.ShutdownTimeout, "Graceful shutdown timeout (env: ENRICHER_SHUTDOWN_TIMEOUT)")
	common := bindCommonFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := common.apply(cfg); err != nil {
		return configError(err)
	}

	logger, err := logging.New(cfg.Log.Mode, cfg.Log.Level)
	if err != nil {
		return configError(err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	if !strings.HasPrefix(strings.ToLower(cfg.Log.Mode), "dev") {
		gin.SetMode(gin.ReleaseMode)
	}

	e, err := app.NewEnricher(ctx, cfg, logger)
	if err != nil {
		return configError(err)
	}

	scfg := server.Config{
		Enricher:       e,
		Schema:         cfg.Schema,
		Pipeline:       cfg.PipelineOptions(),
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger,
	}
	if dsn := strings.TrimSpace(cfg.Store.DSN); dsn != "" {
		st, err := store.Open(dsn, logger)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "store error: %s\n", redact.Secrets(err.Error()))
			return 1
		}
		defer func() {
			_ = st.Close()
		}()
		scfg.Store = st
	}

	logger.Info("enricher starting", zap.String("version", version.Current))
	if err := server.New(scfg).Run(ctx, cfg.Server.Addr, cfg.Server.ShutdownTimeout); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "server error: %s\n", redact.Secrets(err.Error()))
		return 1
	}
	return 0
}

func usage(w *os.File) {
	_, _ = fmt.Fprintf(w, `enricher: product attribute enrichment with an LLM backend

Usage:
  enricher <command> [flags]

Commands:
  local    Enrich a local product CSV into an output CSV (optionally also a result store)
  serve    Run the HTTP service
  version  Print the version

Examples:
  enricher local --input products.csv --output enriched.csv
  enricher local --input products.csv --output enriched.csv --store sqlite://enrichment.db --incremental
  enricher serve --addr :8080

Configuration:
  ENRICHER_CONFIG       Optional YAML config file (default ./config.yaml when present)
  A .env file in the working directory is loaded first.

Environment (backend):
  ENRICHER_BACKEND      openai (any OpenAI-compatible server), gemini or anthropic
  ENRICHER_MODEL        Model name (defaults: phi3, gemini-2.5-flash, claude-sonnet-4-5)
  ENRICHER_BASE_URL     API root (openai default http://localhost:11434/v1)
  ENRICHER_API_KEY      API key; falls back to OPENAI_API_KEY, GEMINI_API_KEY or ANTHROPIC_API_KEY

Environment (pipeline):
  ENRICHER_CHUNK_SIZE, ENRICHER_DISPATCH (chunked|all), ENRICHER_WORKERS, ENRICHER_RATE_LIMIT_RPS, ENRICHER_REQUEST_TIMEOUT
  ENRICHER_SCHEMA_MODE (defaults|custom), ENRICHER_SCHEMA_PROFILE (catalog|full)
  ENRICHER_LOG_MODE (dev|prod), ENRICHER_LOG_LEVEL

`)
}
