package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"acq-upperT", "acq-lowerT", "acq-LSE"}, cfg.Grid.Acquisitions)
	assert.Equal(t, []string{"rec-navigated", "rec-standard"}, cfg.Grid.Reconstructions)
	assert.Equal(t, 5, cfg.Processing.Precision)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, err = LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "T2starw", cfg.Contrast)
}

func TestSaveAndLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "cordmetrics.yaml")

	cfg := DefaultConfig()
	cfg.Grid.Acquisitions = []string{"acq-cervical"}
	cfg.Processing.NumWorkers = 3
	cfg.Ghosting.Enabled = true
	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadConfigPartialOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("contrast: T2w\nprocessing:\n  numWorkers: 2\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "T2w", cfg.Contrast)
	assert.Equal(t, 2, cfg.Processing.NumWorkers)
	assert.Equal(t, 5, cfg.Processing.Precision, "untouched fields keep defaults")
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("grid: [unclosed"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvData:    "/study/data",
		EnvResults: "/study/results",
		EnvQC:      "",
	}
	cfg := DefaultConfig()
	cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "/study/data", cfg.Paths.Data)
	assert.Equal(t, "/study/results", cfg.Paths.Results)
	assert.Equal(t, "qc", cfg.Paths.QC, "empty values are ignored")
	assert.Equal(t, "data_processed", cfg.Paths.Processed)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty grid", func(c *Config) { c.Grid.Acquisitions = nil }},
		{"unknown store", func(c *Config) { c.Segmentation.Store = "s3" }},
		{"gcs without bucket", func(c *Config) { c.Segmentation.Store = "gcs" }},
		{"badger without dir", func(c *Config) { c.Segmentation.Store = "badger" }},
		{"ghosting without script", func(c *Config) { c.Ghosting.Enabled = true; c.Ghosting.Script = "" }},
		{"zero workers", func(c *Config) { c.Processing.NumWorkers = 0 }},
		{"bad log level", func(c *Config) { c.Output.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
