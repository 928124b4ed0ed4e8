package service

import (
	"context"

	"github.com/vtcode/vtcode/internal/domain/entity"
	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
)

// LLMClient is the interface the run loop uses to talk to language models.
// It decouples the loop from provider wire formats; adapters live in the
// infrastructure layer.
type LLMClient interface {
	// Generate sends the working history with tool definitions and returns
	// a full response.
	Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is the request sent to the language model.
type LLMRequest struct {
	Messages    []entity.Message        `json:"messages"`
	Tools       []domaintool.Definition `json:"tools,omitempty"`
	Model       string                  `json:"model"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Temperature float64                 `json:"temperature"`
}

// LLMResponse is the provider-normalized model response.
type LLMResponse struct {
	Content    string            `json:"content"`
	Reasoning  string            `json:"reasoning,omitempty"`
	ToolCalls  []entity.ToolCall `json:"tool_calls,omitempty"`
	ModelUsed  string            `json:"model_used"`
	TokensUsed int               `json:"tokens_used"`
}

// TextualToolDetector recognizes tool calls embedded in plain text by
// models that failed to use the structured tool-call channel. The concrete
// patterns are detector-specific; a nil detector disables the translation.
type TextualToolDetector interface {
	// Detect returns a tool call parsed from text, or nil when the text is
	// an ordinary answer.
	Detect(text string) *entity.ToolCall
}
