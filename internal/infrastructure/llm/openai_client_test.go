package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vtcode/vtcode/internal/domain/entity"
	"github.com/vtcode/vtcode/internal/domain/service"
	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewOpenAIClient(ProviderConfig{
		Name:    "test",
		BaseURL: server.URL,
		APIKey:  "test-key",
	}, zap.NewNop())
}

func TestGenerate_TextResponse(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("auth = %q", auth)
		}
		var req apiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "test-model" || len(req.Messages) != 2 {
			t.Errorf("request = %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "test-model",
			"choices": [{"message": {"content": "hi there"}, "finish_reason": "stop"}],
			"usage": {"total_tokens": 12}
		}`))
	})

	resp, err := client.Generate(context.Background(), &service.LLMRequest{
		Messages: []entity.Message{
			entity.SystemMessage("be brief"),
			entity.UserMessage("hello"),
		},
		Model: "test-model",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if resp.Content != "hi there" || resp.TokensUsed != 12 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestGenerate_ToolCallsKeepRawArguments(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "test-model",
			"choices": [{"message": {"content": "", "tool_calls": [
				{"id": "call_1", "type": "function",
				 "function": {"name": "read_file", "arguments": "{\"path\":\"a.go\"}"}}
			]}, "finish_reason": "tool_calls"}],
			"usage": {"total_tokens": 30}
		}`))
	})

	resp, err := client.Generate(context.Background(), &service.LLMRequest{
		Messages: []entity.Message{entity.UserMessage("read it")},
		Tools:    []domaintool.Definition{{Name: "read_file", Parameters: map[string]interface{}{"type": "object"}}},
		Model:    "test-model",
	})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_1" || call.Name != "read_file" {
		t.Errorf("call = %+v", call)
	}
	// Arguments stay provider-native; parsing is the caller's fallible step.
	if call.Arguments != `{"path":"a.go"}` {
		t.Errorf("arguments = %q", call.Arguments)
	}
	args, err := call.ParseArguments()
	if err != nil || args["path"] != "a.go" {
		t.Errorf("parsed = %v err %v", args, err)
	}
}

func TestGenerate_RateLimitSurfaces(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Generate(context.Background(), &service.LLMRequest{Model: "m"})
	if err == nil || !strings.Contains(strings.ToLower(err.Error()), "rate limit") {
		t.Fatalf("err = %v", err)
	}
	if kind := service.Classify(err).Kind; kind != service.KindRateLimited {
		t.Errorf("classified as %v", kind)
	}
}

func TestGenerate_APIErrorBody(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": {"message": "model overloaded", "type": "server_error"}}`))
	})

	_, err := client.Generate(context.Background(), &service.LLMRequest{Model: "m"})
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Fatalf("err = %v", err)
	}
}
