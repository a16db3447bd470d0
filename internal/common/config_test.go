package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Equal(t, "openai", cfg.LLM.DefaultProvider)
	assert.InDelta(t, 0.70, cfg.Extraction.ConfidenceThreshold, 1e-9)
	assert.Equal(t, 2, cfg.Extraction.DefaultPasses)
	assert.Equal(t, 5, cfg.Extraction.MaxPasses)
	assert.Equal(t, 4, cfg.Queue.Workers)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("EXTRACTIOND_SERVER_HTTP_ADDR", ":9999")
	t.Setenv("EXTRACTIOND_EXTRACTION_CONFIDENCE_THRESHOLD", "0.85")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.HTTPAddr)
	assert.InDelta(t, 0.85, cfg.Extraction.ConfidenceThreshold, 1e-9)
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "missing dsn", mutate: func(c *Config) { c.Database.DSN = "" }},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "oracle" }},
		{name: "missing addr", mutate: func(c *Config) { c.Server.HTTPAddr = "" }},
		{name: "threshold too high", mutate: func(c *Config) { c.Extraction.ConfidenceThreshold = 1.5 }},
		{name: "threshold zero", mutate: func(c *Config) { c.Extraction.ConfidenceThreshold = 0 }},
		{name: "default passes above max", mutate: func(c *Config) { c.Extraction.DefaultPasses = 9 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
