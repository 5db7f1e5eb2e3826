package datamodel

import (
	"strings"

	"github.com/dataforge-ai/dataforge/types"
)

// GenerationKind selects what the generated samples are intended for.
type GenerationKind string

const (
	// KindTraining generates samples destined for a training dataset.
	KindTraining GenerationKind = "training"
	// KindEval generates samples destined for an eval set.
	KindEval GenerationKind = "eval"
)

// Valid reports whether the kind is one of the supported values.
func (k GenerationKind) Valid() bool {
	switch k {
	case KindTraining, KindEval:
		return true
	default:
		return false
	}
}

// Sample is one generated input example for a topic, attributed to the model
// and provider that produced it. SavedID is nil until the sample has been
// persisted to the dataset store.
type Sample struct {
	Content    string  `json:"content"`
	ModelName  string  `json:"model_name"`
	Provider   string  `json:"provider"`
	TokenCount int     `json:"token_count,omitempty"`
	SavedID    *string `json:"saved_id,omitempty"`
}

// Saved reports whether the sample has a persisted-record identifier.
func (s *Sample) Saved() bool {
	return s.SavedID != nil && *s.SavedID != ""
}

// ParseModelID splits a model identifier of the form "provider/model-name"
// into its parts. Both parts must be non-empty; the model name may itself
// contain slashes (e.g. "openrouter/meta-llama/llama-3.1-8b").
func ParseModelID(id string) (provider, model string, err error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", types.NewError(types.ErrPrecondition, "model identifier is required")
	}
	parts := strings.SplitN(id, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", types.NewError(types.ErrPrecondition,
			"model identifier must be of the form provider/model-name")
	}
	return parts[0], parts[1], nil
}

// NormalizeGuidance trims the optional free-text guidance; an empty string is
// normalized to absent (empty).
func NormalizeGuidance(guidance string) string {
	return strings.TrimSpace(guidance)
}
