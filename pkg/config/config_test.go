package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mritract/pkg/estimation"
	"mritract/pkg/interpolation"
	"mritract/pkg/parcellation"
	"mritract/pkg/tracking"
	"mritract/pkg/tractography"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Positive(t, cfg.Tracking.Threads)
	assert.Equal(t, 45.0, cfg.Tracking.Angle)
	assert.Equal(t, "Nearest", cfg.Estimation.Interp)
	assert.Equal(t, "scpt", cfg.Parcellation.Rep)
	assert.Equal(t, "gzip", cfg.Output.Compression)
}

func TestDefaultsRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Tracking.Threads = 3

	p, err := cfg.TractographyParams()
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(tractography.DefaultParams(), p))

	pp, err := cfg.ParcellationParams()
	require.NoError(t, err)
	want := parcellation.DefaultParams()
	want.Tracking = p
	assert.Empty(t, cmp.Diff(want, pp))
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mritract.yaml")
	cfg := DefaultConfig()
	cfg.Tracking.Prob = true
	cfg.Tracking.Seed = 42
	cfg.Hybrid.Enabled = true
	hmin := 0.2
	cfg.Hybrid.Min = &hmin
	cfg.Estimation.Noddi = "WeightedScatter"
	cfg.Parcellation.Rep = "dist"
	cfg.Output.Compression = "zstd"

	require.NoError(t, SaveConfig(cfg, path))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(cfg, loaded))

	p, err := loaded.TractographyParams()
	require.NoError(t, err)
	assert.True(t, p.Tracking.Prob)
	assert.True(t, p.Hybrid.Enabled)
	require.NotNil(t, p.Hybrid.Min)
	assert.Equal(t, 0.2, *p.Hybrid.Min)
	assert.Equal(t, estimation.NoddiScatter, p.Estimation.Noddi.Method)
	assert.True(t, p.Estimation.Noddi.WeightICVF)
	assert.Equal(t, uint64(42), p.Estimation.Fibers.Seed)
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracking:\n  step: 0.5\nestimation:\n  interp: gaussian\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0.5, cfg.Tracking.Step)
	assert.Equal(t, 45.0, cfg.Tracking.Angle)

	p, err := cfg.TractographyParams()
	require.NoError(t, err)
	assert.Equal(t, interpolation.Gaussian, p.Kernel.Interp)
}

func TestCreateDefaultConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "tracking:")
	assert.Contains(t, string(data), "parcellation:")
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tracking: [1, 2"), 0644))
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	for name, edit := range map[string]func(*Config){
		"step":        func(c *Config) { c.Tracking.Step = 0 },
		"interp":      func(c *Config) { c.Estimation.Interp = "cubic" },
		"fibers":      func(c *Config) { c.Estimation.Fibers = "Vote" },
		"selection":   func(c *Config) { c.Estimation.Selection = "Some" },
		"noddi":       func(c *Config) { c.Estimation.Noddi = "Mean" },
		"hybrid":      func(c *Config) { c.Hybrid.Interp = "spline" },
		"rep":         func(c *Config) { c.Parcellation.Rep = "voxels" },
		"segments":    func(c *Config) { c.Parcellation.Segments = 0 },
		"compression": func(c *Config) { c.Output.Compression = "bz2" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			edit(cfg)
			assert.ErrorIs(t, cfg.Validate(), tracking.ErrInvalidConfiguration)
		})
	}
}
