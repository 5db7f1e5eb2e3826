package datamodel

import "github.com/dataforge-ai/dataforge/types"

// RunConfig carries everything needed to call a model for one generation
// request, except the topic itself. Running the same config against the same
// topic makes identical calls (outputs vary, models are non-deterministic).
type RunConfig struct {
	ModelName    string  `json:"model_name"`
	ProviderName string  `json:"provider_name"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
}

// DefaultRunConfig returns a config with neutral sampling parameters.
func DefaultRunConfig(provider, model string) RunConfig {
	return RunConfig{
		ModelName:    model,
		ProviderName: provider,
		Temperature:  1.0,
		TopP:         1.0,
	}
}

// Validate checks the sampling parameter ranges.
func (c RunConfig) Validate() error {
	if c.ModelName == "" {
		return types.NewError(types.ErrPrecondition, "model_name is required")
	}
	if c.ProviderName == "" {
		return types.NewError(types.ErrPrecondition, "provider_name is required")
	}
	if c.TopP < 0 || c.TopP > 1 {
		return types.NewError(types.ErrPrecondition, "top_p must be between 0 and 1")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return types.NewError(types.ErrPrecondition, "temperature must be between 0 and 2")
	}
	return nil
}
