package hooks

import (
	"context"

	"github.com/vtcode/vtcode/internal/domain/service"
)

// Gate adapts the hook interpreter to the run loop's LifecycleGate contract.
type Gate struct {
	interp *Interpreter
}

// NewGate wraps an interpreter.
func NewGate(interp *Interpreter) *Gate {
	return &Gate{interp: interp}
}

func messagesToText(messages []Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.Text)
	}
	return out
}

// PreTool implements LifecycleGate.
func (g *Gate) PreTool(ctx context.Context, toolName string, args map[string]interface{}) service.HookPreToolResult {
	outcome := g.interp.RunPreTool(ctx, toolName, args)

	result := service.HookPreToolResult{Messages: messagesToText(outcome.Messages)}
	switch outcome.Decision {
	case DecisionAllow:
		result.Decision = service.HookAllow
	case DecisionDeny:
		result.Decision = service.HookDeny
	case DecisionAsk:
		result.Decision = service.HookAsk
	default:
		result.Decision = service.HookContinue
	}
	if len(outcome.Messages) > 0 {
		result.Reason = outcome.Messages[len(outcome.Messages)-1].Text
	}
	return result
}

// PostTool implements LifecycleGate.
func (g *Gate) PostTool(ctx context.Context, toolName string, args map[string]interface{}, output string) service.HookPostToolResult {
	outcome := g.interp.RunPostTool(ctx, toolName, args, output)
	return service.HookPostToolResult{
		BlockReason:       outcome.BlockReason,
		AdditionalContext: outcome.AdditionalContext,
		Messages:          messagesToText(outcome.Messages),
	}
}

// UserPrompt implements LifecycleGate.
func (g *Gate) UserPrompt(ctx context.Context, prompt string) service.HookUserPromptResult {
	outcome := g.interp.RunUserPrompt(ctx, prompt)
	return service.HookUserPromptResult{
		Allow:             outcome.AllowPrompt,
		BlockReason:       outcome.BlockReason,
		AdditionalContext: outcome.AdditionalContext,
		Messages:          messagesToText(outcome.Messages),
	}
}

// SessionStart implements LifecycleGate.
func (g *Gate) SessionStart(ctx context.Context) []string {
	outcome := g.interp.RunSessionStart(ctx)
	return outcome.AdditionalContext
}

// SessionEnd implements LifecycleGate.
func (g *Gate) SessionEnd(ctx context.Context) {
	g.interp.RunSessionEnd(ctx)
}

var _ service.LifecycleGate = (*Gate)(nil)
