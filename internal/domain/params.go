package domain

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// GenerationParams holds the recognized `parameters` knobs (§6). Zero value
// is not valid for use — callers should start from DefaultGenerationParams
// and override.
type GenerationParams struct {
	MaxTokens        int
	Temperature      float64
	TopK             int
	TopP             float64
	MinP             float64
	TypicalP         float64
	RepeatPenalty    float64
	RepeatLastN      int
	FrequencyPenalty float64
	PresencePenalty  float64
	Mirostat         int // 0 off, 1 v1, 2 v2
	MirostatTau      float64
	MirostatEta      float64
	Grammar          string
	JSONMode         bool
	JSONSchema       string // optional: validates structured output (§11 domain stack)
	Seed             int64
	InferenceTimeoutMs int64
}

// DefaultGenerationParams returns the §6 defaults.
func DefaultGenerationParams() GenerationParams {
	return GenerationParams{
		MaxTokens:          128,
		Temperature:        0.8,
		TopK:               40,
		TopP:               0.95,
		MinP:               0.05,
		TypicalP:           1.0,
		RepeatPenalty:      1.1,
		RepeatLastN:        64,
		FrequencyPenalty:   0.0,
		PresencePenalty:    0.0,
		Mirostat:           0,
		MirostatTau:        5.0,
		MirostatEta:        0.1,
		Seed:               -1,
		InferenceTimeoutMs: 120_000,
	}
}

// paramsSchema rejects any key the request-validation layer does not
// recognize (§6/§7) via additionalProperties:false, and constrains the few
// fields with a fixed domain (mirostat's mode enum, max_tokens' sign).
var paramsSchema = gojsonschema.NewStringLoader(`{
	"type": "object",
	"additionalProperties": false,
	"properties": {
		"prompt": {},
		"max_tokens": {"type": "number", "minimum": 0},
		"temperature": {"type": "number"},
		"top_k": {"type": "number"},
		"top_p": {"type": "number"},
		"min_p": {"type": "number"},
		"typical_p": {"type": "number"},
		"repeat_penalty": {"type": "number"},
		"repeat_last_n": {"type": "number"},
		"frequency_penalty": {"type": "number"},
		"presence_penalty": {"type": "number"},
		"mirostat": {"type": "number", "enum": [0, 1, 2]},
		"mirostat_tau": {"type": "number"},
		"mirostat_eta": {"type": "number"},
		"grammar": {"type": "string"},
		"json_mode": {"type": "boolean"},
		"json_schema": {"type": "string"},
		"stop": {},
		"seed": {"type": "number"},
		"stream": {"type": "boolean"},
		"inference_timeout_ms": {"type": "number"}
	}
}`)

// ParamsFromMap parses a loosely-typed parameter map (as would arrive from a
// transport layer) into GenerationParams, applying defaults for absent keys.
// raw is checked against paramsSchema first; an unrecognized key or a value
// outside a constrained field's domain fails BAD_REQUEST before any
// coercion is attempted.
func ParamsFromMap(raw map[string]any) (GenerationParams, error) {
	p := DefaultGenerationParams()
	if raw == nil {
		raw = map[string]any{}
	}

	result, err := gojsonschema.Validate(paramsSchema, gojsonschema.NewGoLoader(raw))
	if err != nil {
		return p, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	if !result.Valid() {
		return p, fmt.Errorf("%w: %s", ErrBadRequest, result.Errors()[0])
	}

	if v, ok := asInt(raw["max_tokens"]); ok {
		p.MaxTokens = v
	}
	if v, ok := asFloat(raw["temperature"]); ok {
		p.Temperature = v
	}
	if v, ok := asInt(raw["top_k"]); ok {
		p.TopK = v
	}
	if v, ok := asFloat(raw["top_p"]); ok {
		p.TopP = v
	}
	if v, ok := asFloat(raw["min_p"]); ok {
		p.MinP = v
	}
	if v, ok := asFloat(raw["typical_p"]); ok {
		p.TypicalP = v
	}
	if v, ok := asFloat(raw["repeat_penalty"]); ok {
		p.RepeatPenalty = v
	}
	if v, ok := asInt(raw["repeat_last_n"]); ok {
		p.RepeatLastN = v
	}
	if v, ok := asFloat(raw["frequency_penalty"]); ok {
		p.FrequencyPenalty = v
	}
	if v, ok := asFloat(raw["presence_penalty"]); ok {
		p.PresencePenalty = v
	}
	if v, ok := asInt(raw["mirostat"]); ok {
		p.Mirostat = v
	}
	if v, ok := asFloat(raw["mirostat_tau"]); ok {
		p.MirostatTau = v
	}
	if v, ok := asFloat(raw["mirostat_eta"]); ok {
		p.MirostatEta = v
	}
	if v, ok := raw["grammar"].(string); ok {
		p.Grammar = v
	}
	if v, ok := raw["json_mode"].(bool); ok {
		p.JSONMode = v
	}
	if v, ok := raw["json_schema"].(string); ok {
		p.JSONSchema = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		p.Seed = v
	}
	if v, ok := asInt64(raw["inference_timeout_ms"]); ok {
		p.InferenceTimeoutMs = v
	}

	return p, nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
