package tool

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/vtcode/vtcode/internal/domain/service"
	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
	"github.com/vtcode/vtcode/internal/infrastructure/sandbox"
	"go.uber.org/zap"
)

// UnifiedFileMaxPayloadBytes is the default serialized-argument ceiling for
// patch/edit actions.
const UnifiedFileMaxPayloadBytes = 1024 * 1024

// UnifiedFileMaxPayloadBytesEnv overrides the payload ceiling. Values below
// the 1024-byte floor are ignored.
const UnifiedFileMaxPayloadBytesEnv = "VTCODE_UNIFIED_FILE_MAX_PAYLOAD_BYTES"

// PlanModeError is the stable denial returned when plan mode rejects a call.
type PlanModeError struct {
	ToolName string
}

func (e *PlanModeError) Error() string {
	return fmt.Sprintf("%s: %s", domaintool.PlanModeDeniedContext, domaintool.PlanModeDenialMessage(e.ToolName))
}

// Preflight validates tool calls before any executor is invoked.
type Preflight struct {
	registry  *domaintool.Registry
	workspace string
	logger    *zap.Logger
}

// NewPreflight creates the preflight validator.
func NewPreflight(registry *domaintool.Registry, workspace string, logger *zap.Logger) *Preflight {
	return &Preflight{registry: registry, workspace: workspace, logger: logger}
}

func requiredArgsForTool(toolName string) []string {
	switch toolName {
	case "read_file":
		return []string{"path"}
	case "write_file":
		return []string{"path", "content"}
	case "edit_file":
		return []string{"path", "old_str", "new_str"}
	case "list_files":
		return []string{"path"}
	case "grep_file":
		return []string{"pattern", "path"}
	case "bash":
		return []string{"command"}
	case "apply_patch":
		return []string{"patch"}
	default:
		return nil
	}
}

// isMissingArgValue treats absent keys, nulls, and whitespace-only strings
// as missing.
func isMissingArgValue(args map[string]interface{}, key string) bool {
	v, ok := args[key]
	if !ok || v == nil {
		return true
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// isMissingRequiredArg applies the edit_file legacy-key fallback:
// old_str|old_string and new_str|new_string are interchangeable.
func isMissingRequiredArg(toolName string, args map[string]interface{}, key string) bool {
	if toolName == "edit_file" {
		switch key {
		case "old_str":
			return isMissingArgValue(args, "old_str") && isMissingArgValue(args, "old_string")
		case "new_str":
			return isMissingArgValue(args, "new_str") && isMissingArgValue(args, "new_string")
		}
	}
	return isMissingArgValue(args, key)
}

func parsePayloadCeiling(raw string) (int, bool) {
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || value < 1024 {
		return 0, false
	}
	return value, true
}

func configuredPayloadCeiling() int {
	if raw, ok := os.LookupEnv(UnifiedFileMaxPayloadBytesEnv); ok {
		if value, valid := parsePayloadCeiling(raw); valid {
			return value
		}
	}
	return UnifiedFileMaxPayloadBytes
}

func serializedPayloadSize(args map[string]interface{}) int {
	raw, err := json.Marshal(args)
	if err != nil {
		return len(fmt.Sprint(args))
	}
	return len(raw)
}

// payloadActionForLimit identifies patch/edit-shaped calls subject to the
// payload ceiling.
func payloadActionForLimit(toolName string, args map[string]interface{}) (string, bool) {
	switch toolName {
	case "apply_patch":
		return "patch", true
	case "edit_file":
		return "edit", true
	case "unified_file":
		if action, ok := args["action"].(string); ok {
			lowered := strings.ToLower(action)
			if lowered == "patch" || lowered == "edit" {
				return lowered, true
			}
		}
	}
	return "", false
}

func enforcePayloadLimit(toolName string, args map[string]interface{}, ceiling int, failures *[]string) {
	action, subject := payloadActionForLimit(toolName, args)
	if !subject {
		return
	}
	payloadBytes := serializedPayloadSize(args)
	if payloadBytes <= ceiling {
		return
	}
	*failures = append(*failures, fmt.Sprintf(
		"Patch/edit payload too large for '%s': action='%s', payload=%d bytes exceeds %d bytes. "+
			"Split the change into smaller patch/edit calls, or raise %s for intentional large edits.",
		toolName, action, payloadBytes, ceiling, UnifiedFileMaxPayloadBytesEnv,
	))
}

// normalizeSearchArgs infers the unified-search action from argument shape
// (a pattern implies grep) and folds case variants of known keys.
func normalizeSearchArgs(toolName string, args map[string]interface{}) map[string]interface{} {
	if toolName != "grep_file" && toolName != "unified_search" {
		return args
	}

	normalized := make(map[string]interface{}, len(args))
	for key, value := range args {
		switch strings.ToLower(key) {
		case "pattern", "path", "action", "glob":
			normalized[strings.ToLower(key)] = value
		default:
			normalized[key] = value
		}
	}
	if _, hasAction := normalized["action"]; !hasAction {
		if _, hasPattern := normalized["pattern"]; hasPattern {
			normalized["action"] = "grep"
		}
	}
	return normalized
}

var commandValidatedTools = map[string]bool{
	"bash":         true,
	"unified_exec": true,
	"shell":        true,
	"run_pty_cmd":  true,
}

// Validate runs the preflight checks for one tool call. All failures are
// collected into a single error; the returned outcome is valid only when the
// error is nil. Implements the pipeline's Preflighter contract.
func (p *Preflight) Validate(name string, args map[string]interface{}) (*service.PreflightResult, error) {
	if args == nil {
		args = map[string]interface{}{}
	}

	registration, normalizedName := p.registry.Resolve(name)
	args = normalizeSearchArgs(normalizedName, args)

	var failures []string
	for _, key := range requiredArgsForTool(normalizedName) {
		if isMissingRequiredArg(normalizedName, args, key) {
			failures = append(failures, fmt.Sprintf("Missing required argument: %s", key))
		}
	}

	if path, ok := args["path"].(string); ok {
		if err := sandbox.ValidatePath(path, p.workspace); err != nil {
			failures = append(failures, fmt.Sprintf("Path security check failed: %v", err))
		}
	}

	if commandValidatedTools[normalizedName] {
		if command, ok := args["command"].(string); ok {
			if err := sandbox.ValidateCommand(command); err != nil {
				failures = append(failures, fmt.Sprintf("Command security check failed: %v", err))
			}
		}
	}

	enforcePayloadLimit(normalizedName, args, configuredPayloadCeiling(), &failures)

	if len(failures) > 0 {
		p.logger.Warn("Tool preflight validation failed",
			zap.String("tool", normalizedName),
			zap.Int("failures", len(failures)),
		)
		return nil, fmt.Errorf(
			"Tool preflight validation failed for '%s': %s",
			normalizedName, strings.Join(failures, "; "),
		)
	}

	if registration != nil {
		if err := validateAgainstSchema(registration.Tool.Schema(), args); err != nil {
			return nil, fmt.Errorf("Invalid arguments for tool '%s': %v", normalizedName, err)
		}
	}

	if p.registry.PlanMode() && !p.registry.IsPlanModeAllowed(normalizedName, args) {
		return nil, &PlanModeError{ToolName: normalizedName}
	}

	return &service.PreflightResult{
		NormalizedToolName: normalizedName,
		ReadOnly:           p.registry.IsReadOnly(normalizedName, args),
		Args:               args,
	}, nil
}

var _ service.Preflighter = (*Preflight)(nil)

// validateAgainstSchema checks normalized arguments against the
// registration's parameter schema.
func validateAgainstSchema(schema map[string]interface{}, args map[string]interface{}) error {
	if schema == nil {
		return nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	compiled, err := jsonschema.CompileString("tool_schema.json", string(raw))
	if err != nil {
		// A malformed registration schema is a registry bug, not a call
		// failure; registrations are immutable after load.
		return nil
	}
	return compiled.Validate(toJSONValue(args))
}

// toJSONValue round-trips a Go map through JSON so validation sees the same
// shapes the decoder produces.
func toJSONValue(args map[string]interface{}) interface{} {
	raw, err := json.Marshal(args)
	if err != nil {
		return args
	}
	var value interface{}
	if err := json.Unmarshal(raw, &value); err != nil {
		return args
	}
	return value
}
