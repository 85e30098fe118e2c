package llm

import (
	"context"
	"strings"

	"github.com/lexcodex/edgeprompt/telemetry"
)

// Instrumented wraps a Provider and emits telemetry for every prompt and
// response.
type Instrumented struct {
	Inner   Provider
	Emitter *telemetry.Emitter
	RunID   string
	CaseID  string
}

// NewInstrumented decorates a provider with telemetry.
func NewInstrumented(inner Provider, emitter *telemetry.Emitter) *Instrumented {
	return &Instrumented{Inner: inner, Emitter: emitter}
}

// Name reports the inner provider's name.
func (m *Instrumented) Name() string { return m.Inner.Name() }

// Generate forwards to the inner provider, emitting call and response events.
func (m *Instrumented) Generate(ctx context.Context, prompt string, params Params) (*Response, error) {
	m.Emitter.Emit(telemetry.EventLLMCall, m.RunID, m.CaseID, "llm prompt", map[string]any{
		"model":          m.Inner.Name(),
		"prompt_chars":   len(prompt),
		"prompt_preview": clip(prompt, 1024),
		"json_response":  params.JSONResponse,
	})
	resp, err := m.Inner.Generate(ctx, prompt, params)

	metadata := map[string]any{"model": m.Inner.Name()}
	if resp != nil {
		metadata["text_preview"] = clip(resp.Text, 1024)
		metadata["input_tokens"] = resp.InputTokens
		metadata["output_tokens"] = resp.OutputTokens
	}
	if err != nil {
		metadata["error"] = err.Error()
	}
	m.Emitter.Emit(telemetry.EventLLMResponse, m.RunID, m.CaseID, "llm response", metadata)
	return resp, err
}

func clip(s string, max int) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	if max <= 0 {
		return ""
	}
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
