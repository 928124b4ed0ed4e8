package tool

import (
	"context"
	"encoding/json"
)

// Kind classifies what a tool does to the workspace. It drives readonly
// classification, caching, parallel execution, and approval policy.
type Kind string

const (
	KindRead    Kind = "read"    // read_file, list_files...
	KindEdit    Kind = "edit"    // write_file, edit_file, apply_patch...
	KindExecute Kind = "execute" // bash, run...
	KindDelete  Kind = "delete"  // delete operations
	KindSearch  Kind = "search"  // grep_file, glob...
	KindFetch   Kind = "fetch"   // network fetches
	KindThink   Kind = "think"   // update_plan, pure bookkeeping
)

// MutatorKinds are the kinds that require approval under HITL policy.
var MutatorKinds = map[Kind]bool{
	KindEdit:    true,
	KindDelete:  true,
	KindExecute: true,
}

// SafeKinds are auto-approved and eligible for caching and parallel execution.
var SafeKinds = map[Kind]bool{
	KindRead:   true,
	KindSearch: true,
	KindThink:  true,
}

// Capability tiers filter the active tool set at the session boundary.
type Capability int

const (
	CapBasic Capability = iota
	CapFileReading
	CapFileListing
	CapCodeSearch
	CapBash
	CapEditing
)

// String returns the capability tier label.
func (c Capability) String() string {
	switch c {
	case CapBasic:
		return "basic"
	case CapFileReading:
		return "file_reading"
	case CapFileListing:
		return "file_listing"
	case CapCodeSearch:
		return "code_search"
	case CapBash:
		return "bash"
	case CapEditing:
		return "editing"
	default:
		return "unknown"
	}
}

// InferCapability applies the session-boundary inference rule when no
// explicit tier is configured: an edit/write tool implies Editing, a
// bash/exec tool implies Bash, a search tool implies CodeSearch, else Basic.
func InferCapability(kinds []Kind) Capability {
	var hasSearch, hasEdit, hasExec bool
	for _, k := range kinds {
		switch k {
		case KindSearch:
			hasSearch = true
		case KindEdit, KindDelete:
			hasEdit = true
		case KindExecute:
			hasExec = true
		}
	}
	switch {
	case hasEdit:
		return CapEditing
	case hasExec:
		return CapBash
	case hasSearch:
		return CapCodeSearch
	}
	return CapBasic
}

// Tool is the abstraction all executable tools implement.
type Tool interface {
	// Name returns the canonical tool name.
	Name() string
	// Description returns the tool description shown to the model.
	Description() string
	// Kind returns the tool's operation kind.
	Kind() Kind
	// Schema returns the JSON Schema for the tool's parameters.
	Schema() map[string]interface{}
	// Execute runs the tool with normalized arguments.
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result is a tool execution result.
type Result struct {
	Output        string                 // serialized result for the model
	Success       bool                   // command-level success
	ModifiedFiles []string               // workspace paths the execution touched
	HasMore       bool                   // more output available (pagination)
	Stdout        string                 // captured stdout for follow-up prompts
	Metadata      map[string]interface{} // executor metadata (exit codes...)
	Error         string                 // error text when Success is false
}

// MarshalJSON serializes the result for history embedding.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"output":   r.Output,
		"success":  r.Success,
		"metadata": r.Metadata,
		"error":    r.Error,
	})
}

// Definition is a tool definition passed to the model.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registration binds a tool definition to its executor handle and metadata.
// The schema is immutable after load; executor handles are shared read-only
// views from the run loop's perspective.
type Registration struct {
	Tool            Tool
	Capability      Capability
	ReadOnlyHint    bool // static readonly hint; argument-dependent refinement in IsReadOnly
	PlanModeAllowed bool
}

// Definition returns the registration's model-facing definition.
func (r *Registration) Definition() Definition {
	return Definition{
		Name:        r.Tool.Name(),
		Description: r.Tool.Description(),
		Parameters:  r.Tool.Schema(),
	}
}
