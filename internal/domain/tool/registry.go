package tool

import (
	"fmt"
	"sort"
	"sync"
)

// PlanModeDeniedContext is the stable error context attached to every
// plan-mode denial so repeated calls yield an identical identifier.
const PlanModeDeniedContext = "PLAN_MODE_DENIED_CONTEXT"

// PlanModeDenialMessage builds the user-facing denial text for a tool call
// rejected because plan mode is active.
func PlanModeDenialMessage(toolName string) string {
	return fmt.Sprintf(
		"Tool '%s' denied by policy: plan mode is active and this tool is not in the plan-allowed set",
		toolName,
	)
}

// Registry owns tool registrations, capability tiers, and the plan-mode flag.
// Registrations are immutable after load; the registry itself is safe for
// concurrent readers with coarse write exclusion.
type Registry struct {
	mu            sync.RWMutex
	registrations map[string]*Registration
	planMode      bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		registrations: make(map[string]*Registration),
	}
}

// Register adds a tool registration keyed by its canonical name.
func (r *Registry) Register(reg *Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := CanonicalName(reg.Tool.Name())
	if _, exists := r.registrations[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.registrations[name] = reg
	return nil
}

// Resolve maps a model-emitted name to its registration. The second return
// is the resolved canonical name, valid even when no registration exists so
// downstream errors use a stable identifier.
func (r *Registry) Resolve(name string) (*Registration, string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	candidates := NameCandidates(name)
	for _, candidate := range candidates {
		if reg, ok := r.registrations[candidate]; ok {
			return reg, candidate
		}
		canonical := CanonicalName(candidate)
		if reg, ok := r.registrations[canonical]; ok {
			return reg, canonical
		}
	}
	if len(candidates) > 0 {
		return nil, CanonicalName(candidates[0])
	}
	return nil, CanonicalName(name)
}

// Get returns the registration for a canonical name.
func (r *Registry) Get(name string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.registrations[CanonicalName(name)]
	return reg, ok
}

// Has reports whether a tool is registered under any alias of name.
func (r *Registry) Has(name string) bool {
	reg, _ := r.Resolve(name)
	return reg != nil
}

// Definitions lists all registered tool definitions, filtered to the active
// capability tier and, when plan mode is on, to the plan-allowed subset.
// Output is sorted by name for deterministic request payloads.
func (r *Registry) Definitions(active Capability) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.registrations))
	for _, reg := range r.registrations {
		if reg.Capability > active {
			continue
		}
		if r.planMode && !reg.PlanModeAllowed {
			continue
		}
		defs = append(defs, reg.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ParameterSchema returns the parameter schema for a tool, nil if unknown.
func (r *Registry) ParameterSchema(name string) map[string]interface{} {
	reg, _ := r.Resolve(name)
	if reg == nil {
		return nil
	}
	return reg.Tool.Schema()
}

// IsReadOnly classifies a call as non-mutating. The static hint is refined
// by argument shape for tools whose mutating behavior is argument-dependent
// (a unified file tool in "read" action, for instance).
func (r *Registry) IsReadOnly(name string, args map[string]interface{}) bool {
	reg, _ := r.Resolve(name)
	if reg == nil {
		return false
	}
	if reg.ReadOnlyHint {
		return true
	}
	if action, ok := args["action"].(string); ok {
		switch action {
		case "read", "list", "grep", "glob":
			return true
		}
	}
	return SafeKinds[reg.Tool.Kind()]
}

// IsPlanModeAllowed reports whether a call may run while plan mode is active.
func (r *Registry) IsPlanModeAllowed(name string, args map[string]interface{}) bool {
	reg, _ := r.Resolve(name)
	if reg == nil {
		return false
	}
	if reg.PlanModeAllowed {
		return true
	}
	// Without the flag, only tools of a safe kind pass the gate; a read-shaped
	// "action" argument does not let a tool of any other kind through.
	return r.IsReadOnly(name, args) && SafeKinds[reg.Tool.Kind()]
}

// SetPlanMode toggles the registry-wide plan-mode flag.
func (r *Registry) SetPlanMode(on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planMode = on
}

// PlanMode reports whether plan mode is active.
func (r *Registry) PlanMode() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.planMode
}

// ActiveCapability infers the session capability tier from the registered
// tool kinds when no explicit tier is configured.
func (r *Registry) ActiveCapability() Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]Kind, 0, len(r.registrations))
	for _, reg := range r.registrations {
		kinds = append(kinds, reg.Tool.Kind())
	}
	return InferCapability(kinds)
}
