package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexcodex/edgeprompt/config"
	"github.com/lexcodex/edgeprompt/errs"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func stubResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func TestOpenAIGenerate(t *testing.T) {
	var captured map[string]any
	client := NewOpenAIClient("http://stub/v1", "key", "gpt-4o", nil)
	client.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "http://stub/v1/chat/completions", r.URL.String())
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &captured))
		return stubResponse(200, `{
			"choices": [{"message": {"content": "a question"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5}
		}`), nil
	})}

	resp, err := client.Generate(context.Background(), "ask something", Params{
		Temperature:  0.1,
		MaxTokens:    512,
		JSONResponse: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "a question", resp.Text)
	assert.Equal(t, 12, resp.InputTokens)
	assert.Equal(t, 5, resp.OutputTokens)

	assert.Equal(t, "gpt-4o", captured["model"])
	assert.Equal(t, 0.1, captured["temperature"])
	assert.Equal(t, map[string]any{"type": "json_object"}, captured["response_format"])
}

func TestOpenAIErrorStatus(t *testing.T) {
	client := NewOpenAIClient("http://stub/v1", "key", "gpt-4o", nil)
	client.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return stubResponse(500, `model exploded`), nil
	})}
	_, err := client.Generate(context.Background(), "prompt", DefaultParams())
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindTransport))
	assert.Contains(t, err.Error(), "model exploded")
}

func TestOpenAINoChoices(t *testing.T) {
	_, err := decodeOpenAIResponse([]byte(`{"choices": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestAnthropicGenerate(t *testing.T) {
	client := NewAnthropicClient("secret", "claude-3-haiku-20240307", nil)
	client.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		assert.Equal(t, "https://api.anthropic.com/v1/messages", r.URL.String())
		assert.Equal(t, "secret", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		return stubResponse(200, `{
			"content": [{"type": "text", "text": "review feedback"}],
			"usage": {"input_tokens": 20, "output_tokens": 8}
		}`), nil
	})}

	resp, err := client.Generate(context.Background(), "review this", Params{Temperature: 0.2})
	require.NoError(t, err)
	assert.Equal(t, "review feedback", resp.Text)
	assert.Equal(t, 20, resp.InputTokens)
	assert.Equal(t, 8, resp.OutputTokens)
}

func TestMockVerdictShape(t *testing.T) {
	mock := NewMockModel("test-model")
	mock.sleep = func(time.Duration) {}

	resp, err := mock.Generate(context.Background(), "VALIDATION CRITERIA:\n- must be safe", Params{})
	require.NoError(t, err)

	var verdict map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Text), &verdict))
	assert.Contains(t, verdict, "passed")
	assert.Contains(t, verdict, "score")
	assert.Contains(t, verdict, "feedback")
	assert.Equal(t, len(strings.Fields(resp.Text)), resp.OutputTokens)
}

func TestMockTeacherRequestShape(t *testing.T) {
	mock := NewMockModel("test-model")
	mock.sleep = func(time.Duration) {}

	prompt := "You are a teacher. Topic: Water Cycle\nLearning objective: explain evaporation\n" +
		`Reply as JSON with keys "topic", "learning_objective", "constraints", "question_template_id".`
	resp, err := mock.Generate(context.Background(), prompt, Params{JSONResponse: true})
	require.NoError(t, err)

	var request map[string]any
	require.NoError(t, json.Unmarshal([]byte(resp.Text), &request))
	assert.Equal(t, "Water Cycle", request["topic"])
	assert.Contains(t, request, "constraints")
}

func TestMockPlainText(t *testing.T) {
	mock := NewMockModel("test-model")
	mock.sleep = func(time.Duration) {}

	resp, err := mock.Generate(context.Background(), "Write a question about rivers.", Params{Temperature: 0.7})
	require.NoError(t, err)
	assert.Contains(t, resp.Text, "MOCK OUTPUT from model test-model")
	assert.Equal(t, 5, resp.InputTokens)
}

func testCatalog() *config.ModelCatalog {
	return &config.ModelCatalog{
		CloudModels: []config.ModelSpec{
			{ModelID: "gpt-4o", Provider: "openai", APIIdentifier: "gpt-4o-2024-08-06"},
		},
		EdgeModels: []config.ModelSpec{
			{ModelID: "llama-3-8b", Provider: "lm_studio", APIIdentifier: "meta-llama-3-8b"},
		},
	}
}

func TestManagerHandleCache(t *testing.T) {
	m := NewManager(testCatalog(), ManagerOptions{LMStudioURL: "http://localhost:1234"}, nil, nil)

	first, err := m.Initialize(ModelTypeEdge, "llama-3-8b", true)
	require.NoError(t, err)
	second, err := m.Initialize(ModelTypeEdge, "llama-3-8b", true)
	require.NoError(t, err)
	assert.Same(t, first, second)

	// flipping the mock flag replaces the cached entry
	real, err := m.Initialize(ModelTypeEdge, "llama-3-8b", false)
	require.NoError(t, err)
	assert.NotSame(t, first, real)
	assert.False(t, real.Mock)
}

func TestManagerUnknownModel(t *testing.T) {
	m := NewManager(testCatalog(), ManagerOptions{}, nil, nil)
	_, err := m.Initialize(ModelTypeCloud, "missing-model", false)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConfig))
}

func TestManagerExecuteCapturesErrors(t *testing.T) {
	m := NewManager(testCatalog(), ManagerOptions{LMStudioURL: "http://stub"}, nil, nil)
	handle, err := m.Initialize(ModelTypeEdge, "llama-3-8b", false)
	require.NoError(t, err)

	// real handle pointed at an unreachable stub host fails in transport,
	// and the failure is captured rather than raised
	inner := handle.provider.(*OpenAIClient)
	inner.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return stubResponse(503, "backend busy"), nil
	})}

	result := m.Execute(context.Background(), handle, "prompt", DefaultParams())
	assert.True(t, result.Failed())
	assert.Contains(t, result.Err, "backend busy")
	assert.Empty(t, result.Text)
}

func TestManagerExecuteRecordsMetrics(t *testing.T) {
	m := NewManager(testCatalog(), ManagerOptions{}, nil, nil)
	handle, err := m.Initialize(ModelTypeEdge, "llama-3-8b", true)
	require.NoError(t, err)
	handle.provider.(*MockModel).sleep = func(time.Duration) {}

	result := m.Execute(context.Background(), handle, "Write a question about rivers.", DefaultParams())
	require.False(t, result.Failed())
	assert.Equal(t, result.InputTokens, result.Metrics.InputTokens)
	assert.Equal(t, result.InputTokens+result.OutputTokens, result.Metrics.TotalTokens)
}

func TestManagerExecuteEmptyPrompt(t *testing.T) {
	m := NewManager(testCatalog(), ManagerOptions{}, nil, nil)
	handle, err := m.Initialize(ModelTypeEdge, "llama-3-8b", true)
	require.NoError(t, err)
	result := m.Execute(context.Background(), handle, "", DefaultParams())
	assert.True(t, result.Failed())
}
