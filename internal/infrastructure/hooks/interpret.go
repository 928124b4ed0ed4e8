package hooks

import (
	"fmt"
	"strings"
)

// commonFields are the JSON fields interpreted uniformly across events.
type commonFields struct {
	continueSet    bool
	continueValue  bool
	stopReason     string
	suppressStdout bool
	decision       string
	decisionReason string
	hookSpecific   map[string]interface{}
}

func parseJSONOutput(stdout string) map[string]interface{} {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil
	}
	return decodeJSONObject(trimmed)
}

func stringField(obj map[string]interface{}, key string) string {
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

func extractCommonFields(json map[string]interface{}, messages *[]Message) commonFields {
	if sys := strings.TrimSpace(stringField(json, "systemMessage")); sys != "" {
		*messages = append(*messages, infoMessage(sys))
	}

	fields := commonFields{
		stopReason:     stringField(json, "stopReason"),
		decision:       stringField(json, "decision"),
		decisionReason: stringField(json, "reason"),
	}
	if v, ok := json["continue"].(bool); ok {
		fields.continueSet = true
		fields.continueValue = v
	}
	if v, ok := json["suppressOutput"].(bool); ok {
		fields.suppressStdout = v
	}
	if spec, ok := json["hookSpecificOutput"].(map[string]interface{}); ok {
		fields.hookSpecific = spec
	}
	return fields
}

// matchesHookEvent applies hookSpecificOutput only when its hookEventName
// matches the current event; a missing field matches by default.
func matchesHookEvent(spec map[string]interface{}, event EventName) bool {
	name := stringField(spec, "hookEventName")
	if name == "" {
		return true
	}
	return strings.EqualFold(name, string(event))
}

func handleTimeout(cfg CommandConfig, result commandResult, messages *[]Message) {
	if result.timedOut {
		*messages = append(*messages, errorMessage(fmt.Sprintf(
			"Hook `%s` timed out after %ds", cfg.Command, result.timeoutSeconds,
		)))
	}
}

func handleNonZeroExit(cfg CommandConfig, result commandResult, messages *[]Message, warn bool) {
	level := LevelError
	if warn {
		level = LevelWarning
	}
	text := fmt.Sprintf("Hook `%s` exited with status %d", cfg.Command, result.exitCode)
	if stderr := strings.TrimSpace(result.stderr); stderr != "" {
		text = fmt.Sprintf("Hook `%s` exited with status %d: %s", cfg.Command, result.exitCode, stderr)
	}
	*messages = append(*messages, Message{Level: level, Text: text})
}

func selectMessage(stderr, fallback string) string {
	if trimmed := strings.TrimSpace(stderr); trimmed != "" {
		return trimmed
	}
	return fallback
}

func collectAdditionalContext(json map[string]interface{}, fields commonFields, event EventName, out *[]string) {
	if fields.hookSpecific != nil && matchesHookEvent(fields.hookSpecific, event) {
		if additional := strings.TrimSpace(stringField(fields.hookSpecific, "additionalContext")); additional != "" {
			*out = append(*out, additional)
		}
	}
	if !fields.suppressStdout {
		if text := strings.TrimSpace(stringField(json, "additional_context")); text != "" {
			*out = append(*out, text)
		}
	}
}

func interpretSessionStart(cfg CommandConfig, result commandResult, outcome *SessionOutcome) {
	handleTimeout(cfg, result, &outcome.Messages)
	if result.timedOut {
		return
	}

	if result.exited && result.exitCode != 0 {
		handleNonZeroExit(cfg, result, &outcome.Messages, false)
	}
	if stderr := strings.TrimSpace(result.stderr); stderr != "" {
		outcome.Messages = append(outcome.Messages, errorMessage(fmt.Sprintf(
			"SessionStart hook `%s` stderr: %s", cfg.Command, stderr,
		)))
	}

	if json := parseJSONOutput(result.stdout); json != nil {
		fields := extractCommonFields(json, &outcome.Messages)
		collectAdditionalContext(json, fields, EventSessionStart, &outcome.AdditionalContext)
	} else if stdout := strings.TrimSpace(result.stdout); stdout != "" {
		outcome.AdditionalContext = append(outcome.AdditionalContext, stdout)
	}
}

func interpretSessionEnd(cfg CommandConfig, result commandResult, outcome *SessionOutcome) {
	handleTimeout(cfg, result, &outcome.Messages)
	if result.timedOut {
		return
	}

	if result.exited && result.exitCode != 0 {
		handleNonZeroExit(cfg, result, &outcome.Messages, false)
	}
	if stderr := strings.TrimSpace(result.stderr); stderr != "" {
		outcome.Messages = append(outcome.Messages, errorMessage(fmt.Sprintf(
			"SessionEnd hook `%s` stderr: %s", cfg.Command, stderr,
		)))
	}

	if json := parseJSONOutput(result.stdout); json != nil {
		_ = extractCommonFields(json, &outcome.Messages)
	} else if stdout := strings.TrimSpace(result.stdout); stdout != "" {
		outcome.Messages = append(outcome.Messages, infoMessage(stdout))
	}
}

const defaultPromptBlockReason = "Prompt blocked by lifecycle hook."

func interpretUserPrompt(cfg CommandConfig, result commandResult, outcome *UserPromptOutcome) {
	handleTimeout(cfg, result, &outcome.Messages)
	if result.timedOut {
		return
	}

	if result.exited {
		if result.exitCode == 2 {
			outcome.AllowPrompt = false
			reason := selectMessage(result.stderr, defaultPromptBlockReason)
			outcome.BlockReason = reason
			outcome.Messages = append(outcome.Messages, errorMessage(reason))
			return
		}
		if result.exitCode != 0 {
			handleNonZeroExit(cfg, result, &outcome.Messages, true)
		}
	}
	if stderr := strings.TrimSpace(result.stderr); stderr != "" {
		outcome.Messages = append(outcome.Messages, warningMessage(fmt.Sprintf(
			"UserPromptSubmit hook `%s` stderr: %s", cfg.Command, stderr,
		)))
	}

	json := parseJSONOutput(result.stdout)
	if json == nil {
		if stdout := strings.TrimSpace(result.stdout); stdout != "" {
			outcome.AdditionalContext = append(outcome.AdditionalContext, stdout)
		}
		return
	}

	fields := extractCommonFields(json, &outcome.Messages)
	if fields.continueSet && !fields.continueValue {
		outcome.AllowPrompt = false
		switch {
		case fields.stopReason != "":
			outcome.BlockReason = fields.stopReason
		case fields.decisionReason != "":
			outcome.BlockReason = fields.decisionReason
		default:
			outcome.BlockReason = defaultPromptBlockReason
		}
	}
	if strings.EqualFold(fields.decision, "block") {
		outcome.AllowPrompt = false
		if fields.decisionReason != "" {
			outcome.BlockReason = fields.decisionReason
		} else if outcome.BlockReason == "" {
			outcome.BlockReason = defaultPromptBlockReason
		}
	}

	collectAdditionalContext(json, fields, EventUserPromptSubmit, &outcome.AdditionalContext)

	if !outcome.AllowPrompt && outcome.BlockReason != "" {
		outcome.Messages = append(outcome.Messages, errorMessage(outcome.BlockReason))
	}
}

const defaultToolBlockReason = "Tool call blocked by lifecycle hook."

func interpretPreTool(cfg CommandConfig, result commandResult, outcome *PreToolOutcome) {
	handleTimeout(cfg, result, &outcome.Messages)
	if result.timedOut {
		// A hook timing out always denies the call.
		outcome.Decision = DecisionDeny
		outcome.Messages = append(outcome.Messages, errorMessage(fmt.Sprintf(
			"Tool call blocked because hook `%s` timed out", cfg.Command,
		)))
		return
	}

	if result.exited {
		if result.exitCode == 2 {
			outcome.Decision = DecisionDeny
			outcome.Messages = append(outcome.Messages, errorMessage(
				selectMessage(result.stderr, defaultToolBlockReason),
			))
			return
		}
		if result.exitCode != 0 {
			handleNonZeroExit(cfg, result, &outcome.Messages, true)
		}
	}
	if stderr := strings.TrimSpace(result.stderr); stderr != "" {
		outcome.Messages = append(outcome.Messages, warningMessage(fmt.Sprintf(
			"PreToolUse hook `%s` stderr: %s", cfg.Command, stderr,
		)))
	}

	json := parseJSONOutput(result.stdout)
	if json == nil {
		if stdout := strings.TrimSpace(result.stdout); stdout != "" {
			outcome.Messages = append(outcome.Messages, infoMessage(stdout))
		}
		return
	}

	fields := extractCommonFields(json, &outcome.Messages)
	if fields.continueSet && !fields.continueValue {
		outcome.Decision = DecisionDeny
		if reason := firstNonEmpty(fields.stopReason, fields.decisionReason); reason != "" {
			outcome.Messages = append(outcome.Messages, errorMessage(reason))
		}
		return
	}

	if fields.hookSpecific != nil && matchesHookEvent(fields.hookSpecific, EventPreToolUse) {
		switch stringField(fields.hookSpecific, "permissionDecision") {
		case "allow":
			outcome.Decision = DecisionAllow
		case "deny":
			outcome.Decision = DecisionDeny
		case "ask":
			// Ask only upgrades from Continue; Allow/Deny take precedence.
			if outcome.Decision == DecisionContinue {
				outcome.Decision = DecisionAsk
			}
		}
		if reason := strings.TrimSpace(stringField(fields.hookSpecific, "permissionDecisionReason")); reason != "" {
			outcome.Messages = append(outcome.Messages, infoMessage(reason))
		}
	}

	if !fields.suppressStdout {
		if stdout := strings.TrimSpace(result.stdout); stdout != "" {
			outcome.Messages = append(outcome.Messages, infoMessage(stdout))
		}
	}
}

func interpretPostTool(cfg CommandConfig, result commandResult, outcome *PostToolOutcome) {
	handleTimeout(cfg, result, &outcome.Messages)
	if result.timedOut {
		return
	}

	if result.exited && result.exitCode != 0 {
		handleNonZeroExit(cfg, result, &outcome.Messages, true)
	}
	if stderr := strings.TrimSpace(result.stderr); stderr != "" {
		outcome.Messages = append(outcome.Messages, warningMessage(fmt.Sprintf(
			"PostToolUse hook `%s` stderr: %s", cfg.Command, stderr,
		)))
	}

	json := parseJSONOutput(result.stdout)
	if json == nil {
		if stdout := strings.TrimSpace(result.stdout); stdout != "" {
			outcome.Messages = append(outcome.Messages, infoMessage(stdout))
		}
		return
	}

	fields := extractCommonFields(json, &outcome.Messages)
	if strings.EqualFold(fields.decision, "block") {
		if fields.decisionReason != "" {
			outcome.BlockReason = fields.decisionReason
		} else {
			outcome.BlockReason = "Tool execution requires attention."
		}
	}

	collectAdditionalContext(json, fields, EventPostToolUse, &outcome.AdditionalContext)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
