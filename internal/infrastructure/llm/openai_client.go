package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vtcode/vtcode/internal/domain/entity"
	"github.com/vtcode/vtcode/internal/domain/service"
	"go.uber.org/zap"
)

func init() {
	RegisterFactory("openai", func(cfg ProviderConfig, logger *zap.Logger) Provider {
		return NewOpenAIClient(cfg, logger)
	})
}

// OpenAIClient is an OpenAI-compatible chat-completions HTTP adapter.
// Compatible with OpenAI, Anthropic-compatible proxies, Ollama, and most
// gateway endpoints.
type OpenAIClient struct {
	name    string
	baseURL string
	apiKey  string
	models  []string
	client  *http.Client
	logger  *zap.Logger
}

// NewOpenAIClient creates the adapter.
func NewOpenAIClient(cfg ProviderConfig, logger *zap.Logger) *OpenAIClient {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	// Transport-level timeouts; no total client timeout so long inferences
	// are bounded by context cancellation, not a wall clock.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &OpenAIClient{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		models:  cfg.Models,
		client:  &http.Client{Transport: transport},
		logger:  logger.With(zap.String("provider", cfg.Name)),
	}
}

var _ Provider = (*OpenAIClient)(nil)

// Name implements Provider.
func (c *OpenAIClient) Name() string { return c.name }

// SupportsModel implements Provider; an empty model list accepts any model.
func (c *OpenAIClient) SupportsModel(model string) bool {
	if len(c.models) == 0 {
		return true
	}
	for _, m := range c.models {
		if m == model {
			return true
		}
	}
	return false
}

// IsAvailable implements Provider.
func (c *OpenAIClient) IsAvailable(_ context.Context) bool {
	return c.apiKey != ""
}

type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type apiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type apiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string                 `json:"name"`
		Description string                 `json:"description"`
		Parameters  map[string]interface{} `json:"parameters"`
	} `json:"function"`
}

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Tools       []apiTool    `json:"tools,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature float64      `json:"temperature,omitempty"`
}

type apiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content          string        `json:"content"`
			ReasoningContent string        `json:"reasoning_content"`
			ToolCalls        []apiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate implements service.LLMClient.
func (c *OpenAIClient) Generate(ctx context.Context, req *service.LLMRequest) (*service.LLMResponse, error) {
	apiReq := c.buildAPIRequest(req)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("rate limit: HTTP 429 from %s", c.name)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d from %s: %s", resp.StatusCode, c.name, truncateBody(raw))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("%s error: %s", c.name, apiResp.Error.Message)
	}
	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", c.name)
	}

	choice := apiResp.Choices[0]
	out := &service.LLMResponse{
		Content:    choice.Message.Content,
		Reasoning:  choice.Message.ReasoningContent,
		ModelUsed:  apiResp.Model,
		TokensUsed: apiResp.Usage.TotalTokens,
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, entity.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (c *OpenAIClient) buildAPIRequest(req *service.LLMRequest) apiRequest {
	apiReq := apiRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	for _, msg := range req.Messages {
		converted := apiMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			Name:       msg.ToolName,
		}
		for _, tc := range msg.ToolCalls {
			call := apiToolCall{ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.Arguments
			converted.ToolCalls = append(converted.ToolCalls, call)
		}
		apiReq.Messages = append(apiReq.Messages, converted)
	}

	for _, def := range req.Tools {
		tool := apiTool{Type: "function"}
		tool.Function.Name = def.Name
		tool.Function.Description = def.Description
		tool.Function.Parameters = def.Parameters
		apiReq.Tools = append(apiReq.Tools, tool)
	}
	return apiReq
}

func truncateBody(raw []byte) string {
	const limit = 512
	text := strings.TrimSpace(string(raw))
	if len(text) > limit {
		return text[:limit] + "..."
	}
	return text
}
