package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polygraph/engine/internal/scan"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, scan.DependencySmart, cfg.DependencyMode)
	assert.Equal(t, int64(10<<20), cfg.MaxFileBytes)
	assert.Equal(t, int64(50<<20), cfg.CacheMaxBytes)
	assert.Equal(t, 600, cfg.DefaultCacheTTLSeconds)
	assert.Equal(t, 3600, cfg.PerToolTTLSeconds["trace_inheritance"])
	assert.Equal(t, 300, cfg.PerToolTTLSeconds["search_symbols"])
	assert.Equal(t, 32, cfg.TraversalMaxDepth)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesMergeOverDefaults(t *testing.T) {
	dir := t.TempDir()
	yml := `
dependencyMode: Exclude
maxFileBytes: 1048576
perToolTtlSeconds:
  search_symbols: 60
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "polygraph.yml"), []byte(yml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, scan.DependencyExclude, cfg.DependencyMode)
	assert.Equal(t, int64(1<<20), cfg.MaxFileBytes)
	assert.Equal(t, 60, cfg.PerToolTTLSeconds["search_symbols"])
	// Unset fields keep their defaults.
	assert.Equal(t, int64(50<<20), cfg.CacheMaxBytes)
	assert.Equal(t, 3600, cfg.PerToolTTLSeconds["trace_inheritance"])
}

func TestLoad_PrefersYmlOverYaml(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "polygraph.yml"), []byte("traversalMaxDepth: 16\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "polygraph.yaml"), []byte("traversalMaxDepth: 8\n"), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.TraversalMaxDepth)
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "polygraph.yml"), []byte("{not yaml"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}
