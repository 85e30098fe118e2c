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

// AnthropicClient speaks the Anthropic messages API.
type AnthropicClient struct {
	BaseURL string
	APIKey  string
	Model   string
	client  *http.Client
	logger  *zap.Logger
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropicClient builds a messages-API client.
func NewAnthropicClient(apiKey, model string, logger *zap.Logger) *AnthropicClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnthropicClient{
		BaseURL: "https://api.anthropic.com/v1",
		APIKey:  apiKey,
		Model:   model,
		client:  &http.Client{Timeout: 3 * time.Minute},
		logger:  logger.Named("anthropic"),
	}
}

// Name identifies the backend for handles and telemetry.
func (c *AnthropicClient) Name() string { return "anthropic:" + c.Model }

// Generate runs one messages call. The API has no JSON response mode, so
// JSONResponse becomes an instruction appended to the prompt.
func (c *AnthropicClient) Generate(ctx context.Context, prompt string, params Params) (*Response, error) {
	if params.JSONResponse {
		prompt += "\n\nRespond with a single valid JSON object and nothing else."
	}
	maxTokens := params.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	payload := map[string]any{
		"model":      c.Model,
		"max_tokens": maxTokens,
		"messages": []map[string]any{
			{"role": "user", "content": prompt},
		},
	}
	if params.Temperature != 0 {
		payload["temperature"] = params.Temperature
	}
	if params.TopP != 0 {
		payload["top_p"] = params.TopP
	}
	if params.Stop != nil {
		payload["stop_sequences"] = params.Stop
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("request", zap.String("payload", truncate(string(body), 2048)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.APIKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "calling anthropic")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		detail := strings.TrimSpace(string(msg))
		if detail != "" {
			return nil, errs.Transport("anthropic error: %s: %s", resp.Status, detail)
		}
		return nil, errs.Transport("anthropic error: %s", resp.Status)
	}

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "reading response")
	}
	c.logger.Debug("response", zap.String("payload", truncate(string(responseBody), 2048)))

	var raw anthropicResponse
	if err := json.Unmarshal(responseBody, &raw); err != nil {
		return nil, errs.Wrap(errs.KindTransport, err, "decoding response")
	}
	if raw.Error != nil {
		return nil, errs.Transport("anthropic error: %s", raw.Error.Message)
	}
	var text strings.Builder
	for _, block := range raw.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errs.Transport("anthropic response contained no text blocks")
	}
	return &Response{
		Text:         text.String(),
		InputTokens:  raw.Usage.InputTokens,
		OutputTokens: raw.Usage.OutputTokens,
	}, nil
}
