package service

import "context"

// PermissionResult is the verdict of the approval flow for one tool call.
type PermissionResult int

const (
	// PermApproved permits this single call.
	PermApproved PermissionResult = iota
	// PermApprovedSession permits identical calls for the session.
	PermApprovedSession
	// PermApprovedPermanent permits identical calls across sessions.
	PermApprovedPermanent
	// PermDenied blocks the call; a structured error body goes to the model.
	PermDenied
	// PermExit unwinds the turn loop (user chose to exit).
	PermExit
	// PermInterrupted unwinds the turn loop (cancellation).
	PermInterrupted
)

// String returns the permission label.
func (p PermissionResult) String() string {
	switch p {
	case PermApproved:
		return "approved"
	case PermApprovedSession:
		return "approved_session"
	case PermApprovedPermanent:
		return "approved_permanent"
	case PermDenied:
		return "denied"
	case PermExit:
		return "exit"
	case PermInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// ApprovalRequest describes a pending tool call shown to the user.
type ApprovalRequest struct {
	ToolName   string
	Args       map[string]interface{}
	ArgsDigest string
	// Reason carries hook-supplied context (an "ask" decision's rationale).
	Reason string
}

// Approver is the human-in-the-loop prompt. Implementations block until the
// user answers or the context is cancelled.
type Approver interface {
	RequestApproval(ctx context.Context, req ApprovalRequest) PermissionResult
}

// AutoApprover approves everything without prompting. NewPipeline uses it
// when no approver is supplied.
type AutoApprover struct{}

// RequestApproval implements Approver.
func (AutoApprover) RequestApproval(_ context.Context, _ ApprovalRequest) PermissionResult {
	return PermApproved
}

// HookDecision is the domain view of a PreToolUse hook verdict.
type HookDecision int

const (
	HookContinue HookDecision = iota
	HookAllow
	HookDeny
	HookAsk
)

// HookPreToolResult is the folded PreToolUse outcome the pipeline consumes.
type HookPreToolResult struct {
	Decision HookDecision
	Reason   string
	Messages []string
}

// HookPostToolResult is the folded PostToolUse outcome.
type HookPostToolResult struct {
	BlockReason       string
	AdditionalContext []string
	Messages          []string
}

// HookUserPromptResult is the folded UserPromptSubmit outcome.
type HookUserPromptResult struct {
	Allow             bool
	BlockReason       string
	AdditionalContext []string
	Messages          []string
}

// LifecycleGate is the run loop's view of the external hook interpreter.
// A nil gate means no hooks are configured.
type LifecycleGate interface {
	PreTool(ctx context.Context, toolName string, args map[string]interface{}) HookPreToolResult
	PostTool(ctx context.Context, toolName string, args map[string]interface{}, output string) HookPostToolResult
	UserPrompt(ctx context.Context, prompt string) HookUserPromptResult
	SessionStart(ctx context.Context) []string
	SessionEnd(ctx context.Context)
}
