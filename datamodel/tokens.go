package datamodel

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator counts tokens in sample content for display and budgeting.
// The tiktoken encoding is initialized lazily (the first use may download
// encoding data) and shared across goroutines.
type TokenEstimator struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// encodingForModel maps a model name to its tiktoken encoding. Non-OpenAI
// models fall back to cl100k_base, which is close enough for display counts.
func encodingForModel(model string) string {
	switch {
	case strings.HasPrefix(model, "gpt-4o"), strings.HasPrefix(model, "gpt-4.1"),
		strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
		return "o200k_base"
	default:
		return "cl100k_base"
	}
}

// NewTokenEstimator creates an estimator for the given model name.
func NewTokenEstimator(model string) *TokenEstimator {
	return &TokenEstimator{encoding: encodingForModel(model)}
}

// Encoding returns the tiktoken encoding name the estimator uses.
func (t *TokenEstimator) Encoding() string {
	return t.encoding
}

func (t *TokenEstimator) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = err
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// Count returns the token count of text. On encoding init failure it returns
// 0 and the error; callers treat the count as best-effort.
func (t *TokenEstimator) Count(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}
