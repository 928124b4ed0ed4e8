package hooks

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

func decodeJSONObject(text string) map[string]interface{} {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(text), &obj); err != nil {
		return nil
	}
	return obj
}

// Interpreter runs every configured hook for an event and folds the results
// into a single typed outcome. Hooks run sequentially in configuration order;
// later hooks see no output from earlier ones.
type Interpreter struct {
	runner    *Runner
	commands  []CommandConfig
	sessionID string
	workspace string
	logger    *zap.Logger
}

// NewInterpreter creates a hook interpreter over the configured commands.
func NewInterpreter(commands []CommandConfig, sessionID, workspace string, logger *zap.Logger) *Interpreter {
	return &Interpreter{
		runner:    NewRunner(logger),
		commands:  commands,
		sessionID: sessionID,
		workspace: workspace,
		logger:    logger,
	}
}

// HasHooks reports whether any command subscribes to the event.
func (i *Interpreter) HasHooks(event EventName) bool {
	for _, cfg := range i.commands {
		if cfg.AppliesTo(event) {
			return true
		}
	}
	return false
}

func (i *Interpreter) payload(event EventName) EventPayload {
	return EventPayload{
		HookEventName: event,
		SessionID:     i.sessionID,
		Workspace:     i.workspace,
		Timestamp:     time.Now().UTC(),
	}
}

// RunSessionStart invokes SessionStart hooks.
func (i *Interpreter) RunSessionStart(ctx context.Context) SessionOutcome {
	var outcome SessionOutcome
	for _, cfg := range i.commands {
		if !cfg.AppliesTo(EventSessionStart) {
			continue
		}
		result := i.runner.run(ctx, cfg, i.payload(EventSessionStart))
		interpretSessionStart(cfg, result, &outcome)
	}
	return outcome
}

// RunSessionEnd invokes SessionEnd hooks.
func (i *Interpreter) RunSessionEnd(ctx context.Context) SessionOutcome {
	var outcome SessionOutcome
	for _, cfg := range i.commands {
		if !cfg.AppliesTo(EventSessionEnd) {
			continue
		}
		result := i.runner.run(ctx, cfg, i.payload(EventSessionEnd))
		interpretSessionEnd(cfg, result, &outcome)
	}
	return outcome
}

// RunUserPrompt invokes UserPromptSubmit hooks for a pending prompt.
// A denial from any hook blocks the prompt; remaining hooks still run so
// their messages are surfaced.
func (i *Interpreter) RunUserPrompt(ctx context.Context, prompt string) UserPromptOutcome {
	outcome := UserPromptOutcome{AllowPrompt: true}
	for _, cfg := range i.commands {
		if !cfg.AppliesTo(EventUserPromptSubmit) {
			continue
		}
		payload := i.payload(EventUserPromptSubmit)
		payload.Prompt = prompt
		result := i.runner.run(ctx, cfg, payload)
		interpretUserPrompt(cfg, result, &outcome)
	}
	return outcome
}

// RunPreTool invokes PreToolUse hooks for a pending tool call.
// Deny from any hook is final; Allow persists unless a later hook denies.
func (i *Interpreter) RunPreTool(ctx context.Context, toolName string, args map[string]interface{}) PreToolOutcome {
	outcome := PreToolOutcome{Decision: DecisionContinue}
	for _, cfg := range i.commands {
		if !cfg.AppliesTo(EventPreToolUse) {
			continue
		}
		payload := i.payload(EventPreToolUse)
		payload.ToolName = toolName
		payload.ToolArgs = args
		result := i.runner.run(ctx, cfg, payload)
		interpretPreTool(cfg, result, &outcome)
		if outcome.Decision == DecisionDeny {
			return outcome
		}
	}
	return outcome
}

// RunPostTool invokes PostToolUse hooks after a tool call completes.
func (i *Interpreter) RunPostTool(ctx context.Context, toolName string, args map[string]interface{}, output string) PostToolOutcome {
	var outcome PostToolOutcome
	for _, cfg := range i.commands {
		if !cfg.AppliesTo(EventPostToolUse) {
			continue
		}
		payload := i.payload(EventPostToolUse)
		payload.ToolName = toolName
		payload.ToolArgs = args
		payload.ToolOutput = output
		result := i.runner.run(ctx, cfg, payload)
		interpretPostTool(cfg, result, &outcome)
	}
	return outcome
}
