package main

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/product-enrichment-pipeline/internal/config"
	"github.com/shpitdev/product-enrichment-pipeline/pkg/pipeline/schema"
)

func loadedConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv(config.ConfigPathEnv, "")
	t.Setenv("ENRICHER_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("ANTHROPIC_API_KEY", "a-key")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func parse(t *testing.T, cfg *config.Config, args ...string) error {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	f := bindCommonFlags(fs, cfg)
	require.NoError(t, fs.Parse(args))
	return f.apply(cfg)
}

func TestCommonFlags_BackendSwitchResetsDefaults(t *testing.T) {
	cfg := loadedConfig(t)
	require.NoError(t, parse(t, cfg, "--backend", "anthropic", "--chunk-size", "20"))

	assert.Equal(t, config.BackendAnthropic, cfg.Backend.Kind)
	assert.Equal(t, "claude-sonnet-4-5", cfg.Backend.Model)
	assert.Empty(t, cfg.Backend.BaseURL)
	assert.Equal(t, "a-key", cfg.Backend.APIKey)
	assert.Equal(t, 20, cfg.Pipeline.ChunkSize)
}

func TestCommonFlags_ExplicitModelSurvivesSwitch(t *testing.T) {
	cfg := loadedConfig(t)
	require.NoError(t, parse(t, cfg, "--backend", "anthropic", "--model", "claude-haiku-4-5"))
	assert.Equal(t, "claude-haiku-4-5", cfg.Backend.Model)
}

func TestCommonFlags_SchemaFile(t *testing.T) {
	cfg := loadedConfig(t)
	path := filepath.Join(t.TempDir(), "schema.yaml")
	require.NoError(t, os.WriteFile(path, []byte("mode: custom\nfields:\n  - name: eco_score\n    description: Sustainability 1-10\n"), 0o600))

	require.NoError(t, parse(t, cfg, "--schema-file", path))
	assert.Equal(t, schema.Selection{
		Mode:   "custom",
		Fields: []schema.FieldSpec{{Name: "eco_score", Description: "Sustainability 1-10"}},
	}, cfg.Schema)
}

func TestCommonFlags_InvalidValuesFailValidation(t *testing.T) {
	cfg := loadedConfig(t)
	assert.ErrorIs(t, parse(t, cfg, "--schema-mode", "custom"), schema.ErrConfiguration)

	cfg = loadedConfig(t)
	assert.Error(t, parse(t, cfg, "--backend", "bedrock"))
}
