package taskrunner

import (
	"bytes"
	"encoding/json"

	"github.com/dataforge-ai/dataforge/types"
)

// generateEnvelope is the outer shape of a generation response: an object
// whose output.output field is a string containing JSON text.
type generateEnvelope struct {
	Output struct {
		Output string `json:"output"`
	} `json:"output"`
}

// generatedPayload is the decoded inner JSON text.
type generatedPayload struct {
	GeneratedSamples []json.RawMessage `json:"generated_samples"`
}

// ParseGenerateResponse decodes a generation response body into the list of
// generated items. It is an explicit parse step with a discriminated result:
// either the non-empty item list, or a SHAPE error describing which level of
// the envelope failed. Any shape failure is a topic-level error for the
// caller, same class as a transport error.
func ParseGenerateResponse(data []byte) ([]json.RawMessage, error) {
	var env generateEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, types.NewError(types.ErrShape, "response is not a valid generation envelope").WithCause(err)
	}
	if env.Output.Output == "" {
		return nil, types.NewError(types.ErrShape, "response envelope has no output.output text")
	}

	var payload generatedPayload
	if err := json.Unmarshal([]byte(env.Output.Output), &payload); err != nil {
		return nil, types.NewError(types.ErrShape, "output text is not valid JSON").WithCause(err)
	}
	if len(payload.GeneratedSamples) == 0 {
		return nil, types.NewError(types.ErrShape, "response contains no generated_samples")
	}
	return payload.GeneratedSamples, nil
}

// ItemContent converts one generated item into sample content. A JSON string
// is used verbatim; an object or list is re-serialized to compact JSON text.
// Null and empty items yield ok=false and are skipped by the caller.
func ItemContent(raw json.RawMessage) (content string, ok bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}

	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		if s == "" {
			return "", false
		}
		return s, true
	}

	// Structured value: normalize to compact JSON text.
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", false
	}
	return buf.String(), true
}
