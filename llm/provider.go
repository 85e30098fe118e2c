// Package llm abstracts model execution across heterogeneous backends: an
// OpenAI-compatible endpoint (hosted or LM Studio), the Anthropic messages
// API, and a deterministic mock. The Manager wraps providers so that
// transport failures are captured in the result rather than raised.
package llm

import (
	"context"

	"github.com/lexcodex/edgeprompt/metrics"
)

// Params tunes one generation call. Zero values fall back to provider
// defaults.
type Params struct {
	Temperature      float64
	MaxTokens        int
	TopP             float64
	FrequencyPenalty float64
	PresencePenalty  float64
	Stop             []string
	JSONResponse     bool
}

// DefaultParams mirrors the conservative defaults used for generation calls.
func DefaultParams() Params {
	return Params{Temperature: 0.7, MaxTokens: 2048, TopP: 0.95}
}

// LowTempJSONParams is used for validation and evaluation stages, where the
// output must be a small JSON verdict.
func LowTempJSONParams() Params {
	return Params{Temperature: 0.1, MaxTokens: 512, JSONResponse: true}
}

// Response is a provider's successful reply.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider executes a single-turn prompt against one backend.
type Provider interface {
	Generate(ctx context.Context, prompt string, params Params) (*Response, error)
	Name() string
}

// ExecutionResult is the uniform record of one model call. Err holds a
// captured failure; the other fields are zero-valued when it is set.
type ExecutionResult struct {
	Text         string          `json:"text,omitempty"`
	InputTokens  int             `json:"input_tokens"`
	OutputTokens int             `json:"output_tokens"`
	Metrics      metrics.Metrics `json:"metrics"`
	Err          string          `json:"error,omitempty"`
}

// Failed reports whether the call failed.
func (r ExecutionResult) Failed() bool { return r.Err != "" }
