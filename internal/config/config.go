package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/shpitdev/product-enrichment-pipeline/internal/enrich"
	"github.com/shpitdev/product-enrichment-pipeline/internal/pipeline"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

// ConfigPathEnv names the environment variable that points at a YAML config file.
const ConfigPathEnv = "ENRICHER_CONFIG"

const (
	BackendOpenAI    = "openai"
	BackendGemini    = "gemini"
	BackendAnthropic = "anthropic"
)

const (
	DispatchChunked = "chunked"
	DispatchAll     = "all"
)

// Config holds all configuration for the enricher.
// Values come from an optional YAML file with environment variable overrides.
// API keys only come from the environment.
type Config struct {
	Backend  BackendConfig    `yaml:"backend"`
	Sampling SamplingConfig   `yaml:"sampling"`
	Pipeline PipelineConfig   `yaml:"pipeline"`
	Schema   schema.Selection `yaml:"schema"`
	Store    StoreConfig      `yaml:"store"`
	Server   ServerConfig     `yaml:"server"`
	Log      LogConfig        `yaml:"log"`
}

type BackendConfig struct {
	// Kind is one of openai, gemini or anthropic. "openai" covers any
	// OpenAI-compatible server such as Ollama or vLLM.
	Kind    string `yaml:"kind" env:"ENRICHER_BACKEND" env-default:"openai"`
	Model   string `yaml:"model" env:"ENRICHER_MODEL"`
	BaseURL string `yaml:"base_url" env:"ENRICHER_BASE_URL"`
	APIKey  string `yaml:"-" env:"ENRICHER_API_KEY"` // Secret - not in YAML

	// JSONSchema enables schema-constrained decoding on OpenAI-compatible servers.
	JSONSchema     bool          `yaml:"json_schema" env:"ENRICHER_JSON_SCHEMA" env-default:"true"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"ENRICHER_REQUEST_TIMEOUT" env-default:"60s"`
}

type SamplingConfig struct {
	Temperature     float32 `yaml:"temperature" env:"ENRICHER_TEMPERATURE" env-default:"0"`
	MaxOutputTokens int     `yaml:"max_output_tokens" env:"ENRICHER_MAX_OUTPUT_TOKENS" env-default:"300"`
	ContextTokens   int     `yaml:"context_tokens" env:"ENRICHER_CONTEXT_TOKENS" env-default:"1000"`
}

type PipelineConfig struct {
	// Dispatch is "chunked" (ChunkSize items at a time) or "all" (the whole batch in
	// one chunk). A chunk_size of 0 set through env or flags also means all; a zero in
	// YAML is replaced by the default.
	Dispatch     string  `yaml:"dispatch" env:"ENRICHER_DISPATCH" env-default:"chunked"`
	ChunkSize    int     `yaml:"chunk_size" env:"ENRICHER_CHUNK_SIZE" env-default:"30"`
	Workers      int     `yaml:"workers" env:"ENRICHER_WORKERS" env-default:"0"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"ENRICHER_RATE_LIMIT_RPS" env-default:"0"`
	Policy       string  `yaml:"policy" env:"ENRICHER_POLICY" env-default:"compact"`
}

type StoreConfig struct {
	// DSN is sqlite://<path> or a postgres:// URL. Empty disables persistence.
	DSN string `yaml:"dsn" env:"ENRICHER_STORE_DSN" env-default:"sqlite://enrichment.db"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"ENRICHER_ADDR" env-default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"ENRICHER_SHUTDOWN_TIMEOUT" env-default:"10s"`
	// MaxUploadBytes caps multipart CSV uploads.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"ENRICHER_MAX_UPLOAD_BYTES" env-default:"33554432"`
}

type LogConfig struct {
	Mode  string `yaml:"mode" env:"ENRICHER_LOG_MODE" env-default:"dev"`
	Level string `yaml:"level" env:"ENRICHER_LOG_LEVEL" env-default:"info"`
}

// Load reads path (or $ENRICHER_CONFIG, or ./config.yaml when present) with
// environment overrides. With no file, configuration comes from the environment
// and defaults only.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	path = strings.TrimSpace(path)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(ConfigPathEnv))
	}
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}

	if path != "" {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.ApplyBackendDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyBackendDefaults fills per-backend model, base URL and API key fallbacks for
// whatever is still empty.
func (c *Config) ApplyBackendDefaults() {
	c.Backend.Kind = strings.ToLower(strings.TrimSpace(c.Backend.Kind))
	if c.Backend.APIKey == "" {
		c.Backend.APIKey = os.Getenv("ENRICHER_API_KEY")
	}
	switch c.Backend.Kind {
	case BackendOpenAI:
		if c.Backend.BaseURL == "" {
			c.Backend.BaseURL = "http://localhost:11434/v1"
		}
		if c.Backend.Model == "" {
			c.Backend.Model = "phi3"
		}
		if c.Backend.APIKey == "" {
			c.Backend.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	case BackendGemini:
		if c.Backend.Model == "" {
			c.Backend.Model = "gemini-2.5-flash"
		}
		if c.Backend.APIKey == "" {
			c.Backend.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	case BackendAnthropic:
		if c.Backend.Model == "" {
			c.Backend.Model = "claude-sonnet-4-5"
		}
		if c.Backend.APIKey == "" {
			c.Backend.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
}

// Validate checks the values that cannot be expressed as struct tags.
func (c *Config) Validate() error {
	var errs []error
	switch c.Backend.Kind {
	case BackendOpenAI, BackendGemini, BackendAnthropic:
	default:
		errs = append(errs, fmt.Errorf("backend.kind must be one of openai, gemini, anthropic (got %q)", c.Backend.Kind))
	}
	if c.Backend.RequestTimeout < 0 {
		errs = append(errs, errors.New("backend.request_timeout must be >= 0"))
	}
	if c.Sampling.Temperature < 0 || c.Sampling.Temperature > 2 {
		errs = append(errs, fmt.Errorf("sampling.temperature must be within [0, 2] (got %g)", c.Sampling.Temperature))
	}
	if c.Sampling.MaxOutputTokens < 0 {
		errs = append(errs, errors.New("sampling.max_output_tokens must be >= 0"))
	}
	if c.Pipeline.ChunkSize < 0 {
		errs = append(errs, errors.New("pipeline.chunk_size must be >= 0 (0 dispatches the whole batch at once)"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Pipeline.Dispatch)) {
	case DispatchChunked, DispatchAll:
	default:
		errs = append(errs, fmt.Errorf("pipeline.dispatch must be chunked or all (got %q)", c.Pipeline.Dispatch))
	}
	if c.Pipeline.RateLimitRPS < 0 {
		errs = append(errs, errors.New("pipeline.rate_limit_rps must be >= 0"))
	}
	if _, err := pipeline.ParsePolicy(c.Pipeline.Policy); err != nil {
		errs = append(errs, fmt.Errorf("pipeline.policy: %w", err))
	}
	if _, err := schema.Select(c.Schema); err != nil {
		errs = append(errs, fmt.Errorf("schema: %w", err))
	}
	return errors.Join(errs...)
}

// SamplingOptions converts the sampling section.
func (c *Config) SamplingOptions() enrich.Sampling {
	return enrich.Sampling{
		Temperature:     c.Sampling.Temperature,
		MaxOutputTokens: c.Sampling.MaxOutputTokens,
		ContextTokens:   c.Sampling.ContextTokens,
	}
}

// PipelineOptions converts the pipeline section. An unparsable policy falls back to
// compact; Validate reports it.
func (c *Config) PipelineOptions() pipeline.Options {
	policy, err := pipeline.ParsePolicy(c.Pipeline.Policy)
	if err != nil {
		policy = pipeline.PolicyCompact
	}
	chunkSize := c.Pipeline.ChunkSize
	if strings.EqualFold(strings.TrimSpace(c.Pipeline.Dispatch), DispatchAll) {
		chunkSize = 0
	}
	return pipeline.Options{
		ChunkSize:    chunkSize,
		Workers:      c.Pipeline.Workers,
		RateLimitRPS: c.Pipeline.RateLimitRPS,
		Policy:       policy,
	}
}
