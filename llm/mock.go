package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// MockModel is a deterministic stand-in that exercises the full pipeline
// without network calls. Validation-shaped prompts get a synthetic JSON
// verdict; everything else gets plain text. Token counts derive from word
// counts and the artificial delay grows with prompt length.
type MockModel struct {
	Model string
	sleep func(time.Duration)
}

// NewMockModel builds a mock backend for the given model id.
func NewMockModel(model string) *MockModel {
	return &MockModel{Model: model, sleep: time.Sleep}
}

// Name identifies the backend for handles and telemetry.
func (m *MockModel) Name() string { return "mock:" + m.Model }

// Generate produces a deterministic reply.
func (m *MockModel) Generate(ctx context.Context, prompt string, params Params) (*Response, error) {
	delay := time.Duration(len(prompt)) * time.Millisecond
	if delay > 2*time.Second {
		delay = 2 * time.Second
	}
	m.sleep(delay)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := m.mockText(prompt, params)
	return &Response{
		Text:         text,
		InputTokens:  len(strings.Fields(prompt)),
		OutputTokens: len(strings.Fields(text)),
	}, nil
}

func (m *MockModel) mockText(prompt string, params Params) string {
	if wantsTeacherRequest(prompt) {
		topic := extractLabel(prompt, "topic")
		if topic == "" {
			topic = "General Knowledge"
		}
		objective := extractLabel(prompt, "learning objective")
		if objective == "" {
			objective = "explain the concept clearly"
		}
		return fmt.Sprintf(`{"topic": %q, "learning_objective": %q, "content_type": "short_answer_question", "constraints": {"minWords": 30, "maxWords": 150}, "question_template_id": ""}`,
			topic, objective)
	}
	if wantsVerdict(prompt, params) {
		return `{"passed": true, "score": 0.8, "feedback": "Mock validation: answer meets the stated criteria."}`
	}
	return fmt.Sprintf("MOCK OUTPUT from model %s: response to prompt of length %d", m.Model, len(prompt))
}

// wantsTeacherRequest detects persona prompts that ask for a structured task
// specification rather than a verdict.
func wantsTeacherRequest(prompt string) bool {
	lower := strings.ToLower(prompt)
	return strings.Contains(lower, "question_template_id") ||
		(strings.Contains(lower, "teacher") && strings.Contains(lower, `"topic"`))
}

// extractLabel pulls the value of a "Label: value" line out of the prompt so
// mock replies stay consistent with the rendered context.
func extractLabel(prompt, label string) string {
	lower := strings.ToLower(prompt)
	idx := strings.Index(lower, label+":")
	if idx < 0 {
		return ""
	}
	rest := prompt[idx+len(label)+1:]
	if end := strings.IndexAny(rest, "\n.;"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest)
}

// wantsVerdict detects prompts that expect the {passed, score, feedback}
// shape, so downstream parsing is exercised realistically.
func wantsVerdict(prompt string, params Params) bool {
	if params.JSONResponse {
		return true
	}
	lower := strings.ToLower(prompt)
	return strings.Contains(lower, "validation criteria:") ||
		(strings.Contains(lower, `"passed"`) && strings.Contains(lower, `"score"`))
}
