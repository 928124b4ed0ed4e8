package service

import (
	"strings"
	"testing"

	"github.com/vtcode/vtcode/internal/domain/entity"
)

func TestSanitizeMessages_StripsOrphanToolCalls(t *testing.T) {
	messages := []entity.Message{
		entity.UserMessage("hi"),
		entity.AssistantToolCalls("", []entity.ToolCall{{ID: "c1", Name: "bash"}}),
	}

	sanitized := sanitizeMessages(messages)
	if len(sanitized[1].ToolCalls) != 0 {
		t.Error("orphan tool calls not stripped")
	}
	// Original slice untouched.
	if len(messages[1].ToolCalls) != 1 {
		t.Error("input mutated")
	}
}

func TestSanitizeMessages_KeepsPairedToolCalls(t *testing.T) {
	messages := []entity.Message{
		entity.UserMessage("hi"),
		entity.AssistantToolCalls("", []entity.ToolCall{{ID: "c1", Name: "bash"}}),
		entity.ToolResponse("c1", "bash", `{"output":"ok"}`),
	}

	sanitized := sanitizeMessages(messages)
	if len(sanitized[1].ToolCalls) != 1 {
		t.Error("paired tool calls stripped")
	}
}

func TestTruncateOutput(t *testing.T) {
	if got := truncateOutput("short", 100); got != "short" {
		t.Errorf("short output modified: %q", got)
	}

	long := strings.Repeat("line\n", 1000)
	got := truncateOutput(long, 200)
	if len(got) >= len(long) {
		t.Error("not truncated")
	}
	if !strings.Contains(got, "truncated") {
		t.Error("no truncation notice")
	}
}

func TestStripReasoningTags(t *testing.T) {
	cases := []struct{ in, want string }{
		{"<think>hmm</think>answer", "answer"},
		{"answer", "answer"},
		{"<thinking>a</thinking>b<thinking>c</thinking>d", "bd"},
		{"<think>unterminated", ""},
	}
	for _, tc := range cases {
		if got := stripReasoningTags(tc.in); got != tc.want {
			t.Errorf("stripReasoningTags(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestValidateHistory(t *testing.T) {
	good := []entity.Message{
		entity.AssistantToolCalls("", []entity.ToolCall{{ID: "c1", Name: "bash"}}),
		entity.ToolResponse("c1", "bash", "{}"),
	}
	if err := entity.ValidateHistory(good); err != nil {
		t.Errorf("valid history rejected: %v", err)
	}

	bad := []entity.Message{
		entity.ToolResponse("ghost", "bash", "{}"),
	}
	if err := entity.ValidateHistory(bad); err == nil {
		t.Error("orphan response accepted")
	}
}
