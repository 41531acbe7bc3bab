package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/polyagents/polyagents/pkg/config"
	"github.com/polyagents/polyagents/pkg/fault"
)

// GeminiClient is a Gateway over the Gemini REST API.
type GeminiClient struct {
	baseURL      string
	apiKey       string
	defaultModel string
	httpClient   *http.Client
}

// NewGeminiClient creates a Gemini client from configuration. The configured
// timeout bounds every completion call.
func NewGeminiClient(cfg config.GeminiConfig) *GeminiClient {
	return &GeminiClient{
		baseURL:      strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:       cfg.APIKey,
		defaultModel: cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiErrorBody struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Complete sends a generateContent request and returns the first candidate's
// text, parts joined in order.
func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	const op = "llm.complete"

	model := req.Model
	if model == "" {
		model = c.defaultModel
	}

	body := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fault.Wrap(fault.KindValidation, op, err)
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return "", fault.Wrap(fault.KindValidation, op, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fault.Wrap(fault.KindCancelled, op, ctxErr)
		}
		// Connection failures and client timeouts are retryable.
		return "", fault.Wrap(fault.KindDependency, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(op, resp.StatusCode, resp.Body)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fault.Wrap(fault.KindDependency, op, err)
	}

	if len(out.Candidates) == 0 {
		msg := "no candidates returned"
		if out.PromptFeedback.BlockReason != "" {
			msg = "prompt blocked: " + out.PromptFeedback.BlockReason
		}
		return "", &fault.Error{Kind: fault.KindDependency, Op: op, Message: msg}
	}

	var text strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return text.String(), nil
}

// Ping verifies the API is reachable with the configured key.
func (c *GeminiClient) Ping(ctx context.Context) error {
	const op = "llm.ping"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1beta/models?pageSize=1", nil)
	if err != nil {
		return fault.Wrap(fault.KindValidation, op, err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fault.Wrap(fault.KindDependency, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(op, resp.StatusCode, resp.Body)
	}
	return nil
}

// classifyStatus maps an API error response onto the fault taxonomy:
// 401/403 are Authentication, 429 and 5xx are retryable Dependency
// failures, every other 4xx is Validation.
func classifyStatus(op string, status int, body io.Reader) error {
	msg := fmt.Sprintf("API error %d", status)

	raw, _ := io.ReadAll(io.LimitReader(body, 8<<10))
	var apiErr geminiErrorBody
	if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
		msg = fmt.Sprintf("API error %d: %s", status, apiErr.Error.Message)
	} else if len(raw) > 0 {
		msg = fmt.Sprintf("API error %d: %s", status, string(raw))
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &fault.Error{Kind: fault.KindAuthentication, Op: op, Message: msg}
	case status == http.StatusTooManyRequests || status >= 500:
		return &fault.Error{Kind: fault.KindDependency, Op: op, Message: msg}
	default:
		return &fault.Error{Kind: fault.KindValidation, Op: op, Message: msg}
	}
}
