package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Parallel()
	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "nope.yaml")).Load()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig(), cfg)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "memflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
isolation:
  session_timeout: 10m
pattern:
  min_support: 5
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, 10*time.Minute, cfg.Isolation.SessionTimeout)
	require.Equal(t, 5, cfg.Pattern.MinSupport)
	// Untouched sections keep their defaults.
	require.Equal(t, DefaultEpisodicConfig(), cfg.Episodic)
}

func TestLoadEnvBeatsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))
	t.Setenv("MEMFLOW_TEST_LOG_LEVEL", "error")
	t.Setenv("MEMFLOW_TEST_DATABASE_DSN", "host=db user=memflow")
	t.Setenv("MEMFLOW_TEST_EVOLUTION_INTERVAL", "30m")

	cfg, err := NewLoader().WithConfigPath(path).WithEnvPrefix("MEMFLOW_TEST").Load()
	require.NoError(t, err)
	require.Equal(t, "error", cfg.Log.Level)
	require.Equal(t, "host=db user=memflow", cfg.Database.DSN)
	require.Equal(t, 30*time.Minute, cfg.Evolution.Interval)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config file")
}

func TestValidateRejections(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"risk threshold", func(c *Config) { c.Isolation.ContaminationRiskThreshold = 1.5 }, "contamination_risk_threshold"},
		{"promotion threshold", func(c *Config) { c.Episodic.PromotionThreshold = -0.1 }, "promotion_threshold"},
		{"confidence threshold", func(c *Config) { c.Pattern.ConfidenceThreshold = 2 }, "confidence_threshold"},
		{"min support", func(c *Config) { c.Pattern.MinSupport = 0 }, "min_support"},
		{"mutation rate", func(c *Config) { c.Evolution.MutationRate = 1 }, "mutation_rate"},
		{"driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}

	require.NoError(t, DefaultConfig().Validate())
}
