package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "resolve.db", cfg.Store.DatabaseURL)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 0.85, cfg.Matcher.FuzzyThreshold)
	assert.Equal(t, 0.6, cfg.Matcher.OverlapThreshold)
	assert.Equal(t, 0.03, cfg.Matcher.AmbiguityMargin)
	assert.Equal(t, 8, cfg.Pipeline.Workers)
	assert.Equal(t, 0.95, cfg.Pipeline.AutoAliasThreshold)
	assert.False(t, cfg.Pipeline.AutoCreateCanonical)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("RESOLVE_STORE_DRIVER", "postgres")
	t.Setenv("RESOLVE_STORE_DATABASE_URL", "postgres://localhost/resolve")
	t.Setenv("RESOLVE_PIPELINE_WORKERS", "16")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/resolve", cfg.Store.DatabaseURL)
	assert.Equal(t, 16, cfg.Pipeline.Workers)
}

func TestInitLogger_BadLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "verbose", Format: "json"})
	assert.Error(t, err)
}
