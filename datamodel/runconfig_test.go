package datamodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RunConfig)
		wantErr bool
	}{
		{"defaults valid", func(c *RunConfig) {}, false},
		{"missing model", func(c *RunConfig) { c.ModelName = "" }, true},
		{"missing provider", func(c *RunConfig) { c.ProviderName = "" }, true},
		{"top_p above range", func(c *RunConfig) { c.TopP = 1.5 }, true},
		{"top_p below range", func(c *RunConfig) { c.TopP = -0.1 }, true},
		{"temperature above range", func(c *RunConfig) { c.Temperature = 2.1 }, true},
		{"temperature below range", func(c *RunConfig) { c.Temperature = -1 }, true},
		{"boundary values", func(c *RunConfig) { c.TopP = 0; c.Temperature = 2 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRunConfig("openai", "gpt-4o")
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTokenEstimator_EncodingSelection(t *testing.T) {
	assert.Equal(t, "o200k_base", NewTokenEstimator("gpt-4o").Encoding())
	assert.Equal(t, "o200k_base", NewTokenEstimator("gpt-4.1-mini").Encoding())
	assert.Equal(t, "o200k_base", NewTokenEstimator("o3-mini").Encoding())
	assert.Equal(t, "cl100k_base", NewTokenEstimator("gpt-4").Encoding())
	assert.Equal(t, "cl100k_base", NewTokenEstimator("llama-3.1-8b").Encoding())
}
