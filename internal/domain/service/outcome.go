package service

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutcomeStatus tags the variants of a ToolPipelineOutcome.
type OutcomeStatus int

const (
	OutcomeSuccess OutcomeStatus = iota
	OutcomeFailure
	OutcomeTimeout
	OutcomeCancelled
)

// String returns the status label.
func (s OutcomeStatus) String() string {
	switch s {
	case OutcomeSuccess:
		return "success"
	case OutcomeFailure:
		return "failure"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ToolPipelineOutcome is the single result every tool execution produces.
type ToolPipelineOutcome struct {
	Status OutcomeStatus

	// Success fields
	Output         string   // serialized JSON payload for the model
	Stdout         string   // captured stdout for follow-up prompts
	ModifiedFiles  []string // workspace paths touched (set on failures too)
	CommandSuccess bool
	HasMore        bool

	// Failure / timeout fields
	Err       *ClassifiedError
	TimeoutMS int64

	// Bookkeeping
	ToolName string
	CallID   string
	Elapsed  time.Duration
	Cached   bool
	Spooled  bool
}

// DeniedByPolicyBody builds the exact structured error body returned to the
// model for a denied call. Callers match on the "error" key.
func DeniedByPolicyBody(toolName, reason string) string {
	body, err := json.Marshal(map[string]string{
		"error": fmt.Sprintf("Tool '%s' denied by policy: %s", toolName, reason),
	})
	if err != nil {
		return fmt.Sprintf(`{"error": "Tool '%s' denied by policy"}`, toolName)
	}
	return string(body)
}

// ErrorBody serializes an arbitrary error into the structured JSON body the
// model receives for failed calls.
func ErrorBody(message string) string {
	body, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return `{"error": "tool execution failed"}`
	}
	return string(body)
}

// ResponseBody returns the content recorded in the ToolResponse message for
// this outcome.
func (o *ToolPipelineOutcome) ResponseBody() string {
	switch o.Status {
	case OutcomeSuccess:
		return o.Output
	case OutcomeTimeout:
		return ErrorBody(fmt.Sprintf("Tool '%s' timed out after %d ms", o.ToolName, o.TimeoutMS))
	case OutcomeCancelled:
		return ErrorBody(fmt.Sprintf("Tool '%s' cancelled", o.ToolName))
	default:
		// Denials carry their exact structured body; callers match on the
		// "error" key and the "denied by policy" phrasing.
		if o.Output != "" {
			return o.Output
		}
		if o.Err != nil {
			return ErrorBody(o.Err.Error())
		}
		return ErrorBody("tool execution failed")
	}
}
