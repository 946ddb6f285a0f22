package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/ada52/SyConn/errors"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.5, cfg.Agglo.MinAffinity)
	assert.Equal(t, PolarityPolicyEvidence, cfg.Connectivity.PolarityPolicy)
	assert.Equal(t, StorageModeMemory, cfg.Storage.Mode)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"affinity above one", func(c *Config) { c.Agglo.MinAffinity = 1.2 }},
		{"negative contact area", func(c *Config) { c.Agglo.MinContactArea = -1 }},
		{"negative max object size", func(c *Config) { c.Agglo.MaxObjectSize = -5 }},
		{"negative smoothing sweeps", func(c *Config) { c.Classify.SmoothingSweeps = -1 }},
		{"glia low above high", func(c *Config) { c.Glia.LowThreshold = 0.8 }},
		{"zero min fraction", func(c *Config) { c.Glia.MinFraction = 0 }},
		{"min fraction above half", func(c *Config) { c.Glia.MinFraction = 0.6 }},
		{"split delta out of range", func(c *Config) { c.Glia.SplitEdgeDelta = 1.5 }},
		{"zero split iterations", func(c *Config) { c.Glia.MaxSplitIterations = 0 }},
		{"unknown polarity policy", func(c *Config) { c.Connectivity.PolarityPolicy = "coinflip" }},
		{"negative workers", func(c *Config) { c.Workers.ClassifyWorkers = -1 }},
		{"kv mode without url", func(c *Config) { c.Storage.Mode = StorageModeKV; c.Storage.URL = "" }},
		{"unknown storage mode", func(c *Config) { c.Storage.Mode = "postgres" }},
		{"metrics port out of range", func(c *Config) { c.Metrics.Port = 70000 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, pkgerrors.IsInvalid(err), "expected invalid classification, got %v", err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()

	t.Run("overrides merge onto defaults", func(t *testing.T) {
		path := filepath.Join(dir, "config.json")
		content := `{
			"agglomeration": {"min_affinity": 0.8, "min_contact_area": 25},
			"glia": {
				"glia_high_threshold": 0.9,
				"glia_low_threshold": 0.1,
				"glia_min_fraction": 0.25,
				"split_edge_delta": 0.15,
				"max_split_iterations": 5
			},
			"connectivity": {"polarity_policy": "compartment"}
		}`
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, 0.8, cfg.Agglo.MinAffinity)
		assert.Equal(t, 25.0, cfg.Agglo.MinContactArea)
		assert.Equal(t, 0.9, cfg.Glia.HighThreshold)
		assert.Equal(t, PolarityPolicyCompartment, cfg.Connectivity.PolarityPolicy)
		// Untouched sections keep defaults
		assert.Equal(t, 2, cfg.Classify.SmoothingSweeps)
		assert.Equal(t, StorageModeMemory, cfg.Storage.Mode)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "missing.json"))
		require.Error(t, err)
		assert.True(t, pkgerrors.IsInvalid(err))
	})

	t.Run("malformed json", func(t *testing.T) {
		path := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, pkgerrors.IsInvalid(err))
	})

	t.Run("invalid values rejected at load", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.json")
		require.NoError(t, os.WriteFile(path, []byte(`{"glia": {"glia_min_fraction": 0.9,
			"glia_high_threshold": 0.7, "glia_low_threshold": 0.3,
			"split_edge_delta": 0.2, "max_split_iterations": 10}}`), 0o600))
		_, err := Load(path)
		require.Error(t, err)
	})
}
