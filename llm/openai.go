package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lexcodex/edgeprompt/errs"
)

// OpenAIClient speaks the OpenAI chat-completions wire format. It serves both
// hosted endpoints and LM Studio, which exposes the same API on localhost.
type OpenAIClient struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
	logger  *zap.Logger
}

type openAIChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   map[string]int `json:"usage"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAIClient builds a client for an OpenAI-compatible endpoint. LM
// Studio ignores the API key but requires one to be present.
func NewOpenAIClient(baseURL, apiKey, model string, logger *zap.Logger) *OpenAIClient {
	if baseURL == "" {
		baseURL = "http://localhost:1234/v1"
	}
	if apiKey == "" {
		apiKey = "lm-studio"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		client:  &http.Client{Timeout: 3 * time.Minute},
		logger:  logger.Named("openai"),
	}
}

// Name identifies the backend for handles and telemetry.
func (c *OpenAIClient) Name() string { return "openai:" + c.Model }

// Generate runs one chat completion.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, params Params) (*Response, error) {
	payload := map[string]any{
		"model": c.Model,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
		"stream": false,
	}
	applyParams(payload, params)
	return c.doRequest(ctx, "/chat/completions", payload)
}

func applyParams(payload map[string]any, params Params) {
	if params.Temperature != 0 {
		payload["temperature"] = params.Temperature
	}
	if params.MaxTokens != 0 {
		payload["max_tokens"] = params.MaxTokens
	}
	if params.TopP != 0 {
		payload["top_p"] = params.TopP
	}
	if params.FrequencyPenalty != 0 {
		payload["frequency_penalty"] = params.FrequencyPenalty
	}
	if params.PresencePenalty != 0 {
		payload["presence_penalty"] = params.PresencePenalty
	}
	if params.Stop != nil {
		payload["stop"] = params.Stop
	}
	if params.JSONResponse {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}
}

func (c *OpenAIClient) doRequest(ctx context.Context, path string, payload any) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("request", zap.String("path", path), zap.String("payload", truncate(string(body), 2048)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "calling %s", c.BaseURL+path)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(msg))
		if detail != "" {
			return nil, errs.Transport("openai error: %s: %s", resp.Status, detail)
		}
		return nil, errs.Transport("openai error: %s", resp.Status)
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "reading response")
	}
	c.logger.Debug("response", zap.String("path", path), zap.String("payload", truncate(string(responseBody), 2048)))
	return decodeOpenAIResponse(responseBody)
}

func decodeOpenAIResponse(body []byte) (*Response, error) {
	var raw openAIResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "decoding response")
	}
	if raw.Error != nil {
		return nil, errs.Transport("openai error: %s", raw.Error.Message)
	}
	if len(raw.Choices) == 0 {
		return nil, errs.Transport("openai response contained no choices")
	}
	return &Response{
		Text:         raw.Choices[0].Message.Content,
		InputTokens:  raw.Usage["prompt_tokens"],
		OutputTokens: raw.Usage["completion_tokens"],
	}, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
