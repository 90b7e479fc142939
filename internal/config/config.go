// Package config loads engine configuration from polygraph.yml or
// polygraph.yaml: try each candidate filename in dir, return a defaulted
// config (not an error) when none exists.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/polygraph/engine/internal/scan"
)

// Config holds every enumerated engine option.
type Config struct {
	DependencyMode         scan.DependencyMode `yaml:"dependencyMode,omitempty"`
	MaxFileBytes           int64               `yaml:"maxFileBytes,omitempty"`
	CacheMaxBytes          int64               `yaml:"cacheMaxBytes,omitempty"`
	DefaultCacheTTLSeconds int                 `yaml:"defaultCacheTtlSeconds,omitempty"`
	PerToolTTLSeconds      map[string]int      `yaml:"perToolTtlSeconds,omitempty"`
	TraversalMaxDepth      int                 `yaml:"traversalMaxDepth,omitempty"`
	ScanParallelism        int                 `yaml:"scanParallelism,omitempty"`
	StorageRoot            string              `yaml:"storageRoot,omitempty"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		DependencyMode:         scan.DependencySmart,
		MaxFileBytes:           10 << 20,
		CacheMaxBytes:          50 << 20,
		DefaultCacheTTLSeconds: 600,
		PerToolTTLSeconds: map[string]int{
			"trace_inheritance": 3600,
			"search_symbols":    300,
		},
		TraversalMaxDepth: 32,
		ScanParallelism:   0,
		StorageRoot:       ".polygraph",
	}
}

// Load tries polygraph.yml then polygraph.yaml in dir, applying any set
// field over the defaults. A missing config file is not an error.
func Load(dir string) (Config, error) {
	cfg := Default()
	for _, name := range []string{"polygraph.yml", "polygraph.yaml"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		var override Config
		if err := yaml.Unmarshal(data, &override); err != nil {
			return Config{}, err
		}
		mergeInto(&cfg, override)
		return cfg, nil
	}
	return cfg, nil
}

func mergeInto(base *Config, override Config) {
	if override.DependencyMode != "" {
		base.DependencyMode = override.DependencyMode
	}
	if override.MaxFileBytes != 0 {
		base.MaxFileBytes = override.MaxFileBytes
	}
	if override.CacheMaxBytes != 0 {
		base.CacheMaxBytes = override.CacheMaxBytes
	}
	if override.DefaultCacheTTLSeconds != 0 {
		base.DefaultCacheTTLSeconds = override.DefaultCacheTTLSeconds
	}
	for k, v := range override.PerToolTTLSeconds {
		base.PerToolTTLSeconds[k] = v
	}
	if override.TraversalMaxDepth != 0 {
		base.TraversalMaxDepth = override.TraversalMaxDepth
	}
	if override.ScanParallelism != 0 {
		base.ScanParallelism = override.ScanParallelism
	}
	if override.StorageRoot != "" {
		base.StorageRoot = override.StorageRoot
	}
}
