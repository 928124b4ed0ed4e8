package service

import (
	"fmt"
	"strings"

	"github.com/vtcode/vtcode/internal/domain/entity"
)

// sanitizeMessages fixes orphan tool-call blocks in the message history. An
// orphan is an assistant message with ToolCalls but no subsequent tool
// response; providers reject such histories. This can happen after
// compaction or error recovery.
func sanitizeMessages(messages []entity.Message) []entity.Message {
	if len(messages) == 0 {
		return messages
	}

	resultIDs := make(map[string]bool)
	for _, msg := range messages {
		if msg.IsToolResponse() {
			resultIDs[msg.ToolCallID] = true
		}
	}

	result := make([]entity.Message, len(messages))
	copy(result, messages)

	for i := len(result) - 1; i >= 0; i-- {
		if result[i].Role == entity.RoleAssistant && len(result[i].ToolCalls) > 0 {
			allHaveResults := true
			for _, tc := range result[i].ToolCalls {
				if !resultIDs[tc.ID] {
					allHaveResults = false
					break
				}
			}
			if !allHaveResults {
				result[i].ToolCalls = nil
			}
			break // only the last assistant message with tool calls can be orphaned
		}
	}

	return result
}

// truncateOutput trims inline tool output to maxChars, appending a notice.
// Spooled output never reaches this path; it is already a preview.
func truncateOutput(output string, maxChars int) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}

	breakAt := maxChars
	if lastNewline := strings.LastIndex(output[:maxChars], "\n"); lastNewline > maxChars*3/4 {
		breakAt = lastNewline
	}

	remaining := len(output) - breakAt
	return fmt.Sprintf(
		"%s\n\n[... truncated %d characters. Use read_file with line ranges for full content.]",
		output[:breakAt], remaining,
	)
}

// stripReasoningTags removes <think>...</think> style blocks some models
// leak into content, returning the cleaned text.
func stripReasoningTags(content string) string {
	for _, tag := range []string{"think", "thinking", "reasoning"} {
		openTag := "<" + tag + ">"
		closeTag := "</" + tag + ">"
		for {
			start := strings.Index(content, openTag)
			if start < 0 {
				break
			}
			end := strings.Index(content[start:], closeTag)
			if end < 0 {
				content = content[:start]
				break
			}
			content = content[:start] + content[start+end+len(closeTag):]
		}
	}
	return strings.TrimSpace(content)
}
