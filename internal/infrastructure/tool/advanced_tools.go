package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
	"github.com/vtcode/vtcode/internal/infrastructure/sandbox"
	"go.uber.org/zap"
)

// ApplyPatchTool applies a unified diff to the workspace via git apply.
type ApplyPatchTool struct {
	sandbox *sandbox.ProcessSandbox
	logger  *zap.Logger
}

// NewApplyPatchTool creates the apply_patch tool.
func NewApplyPatchTool(sb *sandbox.ProcessSandbox, logger *zap.Logger) *ApplyPatchTool {
	return &ApplyPatchTool{sandbox: sb, logger: logger}
}

func (t *ApplyPatchTool) Name() string          { return "apply_patch" }
func (t *ApplyPatchTool) Kind() domaintool.Kind { return domaintool.KindEdit }
func (t *ApplyPatchTool) Description() string {
	return "Apply a unified diff patch to files in the workspace. " +
		"Use for multi-file or multi-hunk changes; prefer edit_file for single snippets."
}

func (t *ApplyPatchTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"patch": map[string]interface{}{
				"type":        "string",
				"description": "The unified diff to apply",
			},
		},
		"required": []interface{}{"patch"},
	}
}

func (t *ApplyPatchTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	patch, ok := args["patch"].(string)
	if !ok || strings.TrimSpace(patch) == "" {
		return &Result{Success: false, Error: "patch is required"}, fmt.Errorf("patch is required")
	}

	tmp, err := os.CreateTemp("", "vtcode-patch-*.diff")
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(patch); err != nil {
		tmp.Close()
		return &Result{Success: false, Error: err.Error()}, nil
	}
	tmp.Close()

	result, err := t.sandbox.Execute(ctx, "git", []string{"apply", "--whitespace=nowarn", tmp.Name()})
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if result.ExitCode != 0 {
		return &Result{Success: false, Error: result.Stderr, Output: result.Stderr}, nil
	}

	return &Result{
		Output:        "Patch applied",
		Success:       true,
		ModifiedFiles: patchTargets(patch),
	}, nil
}

// patchTargets extracts the file paths named in a unified diff.
func patchTargets(patch string) []string {
	seen := make(map[string]bool)
	var files []string
	for _, line := range strings.Split(patch, "\n") {
		var path string
		switch {
		case strings.HasPrefix(line, "+++ b/"):
			path = strings.TrimPrefix(line, "+++ b/")
		case strings.HasPrefix(line, "+++ "):
			path = strings.TrimPrefix(line, "+++ ")
		}
		path = strings.TrimSpace(path)
		if path == "" || path == "/dev/null" || seen[path] {
			continue
		}
		seen[path] = true
		files = append(files, path)
	}
	return files
}

// PlanStatus represents the execution state of a plan step.
type PlanStatus string

const (
	PlanStatusPending    PlanStatus = "pending"
	PlanStatusInProgress PlanStatus = "in_progress"
	PlanStatusDone       PlanStatus = "done"
	PlanStatusSkipped    PlanStatus = "skipped"
)

// PlanStep is a single step in the execution plan.
type PlanStep struct {
	ID        int        `json:"id"`
	Title     string     `json:"title"`
	Status    PlanStatus `json:"status"`
	UpdatedAt string     `json:"updatedAt"`
}

// Plan is the full execution plan, stored per session.
type Plan struct {
	Goal      string     `json:"goal"`
	Steps     []PlanStep `json:"steps"`
	CreatedAt string     `json:"createdAt"`
	UpdatedAt string     `json:"updatedAt"`
}

// UpdatePlanTool lets the agent create and update execution plans. It is the
// one mutating-looking tool allowed in plan mode; it touches only the plan
// file, never the workspace.
type UpdatePlanTool struct {
	mu       sync.Mutex
	plansDir string
	session  string
	logger   *zap.Logger
}

// NewUpdatePlanTool creates the update_plan tool.
func NewUpdatePlanTool(plansDir, session string, logger *zap.Logger) *UpdatePlanTool {
	return &UpdatePlanTool{plansDir: plansDir, session: session, logger: logger}
}

func (t *UpdatePlanTool) Name() string          { return "update_plan" }
func (t *UpdatePlanTool) Kind() domaintool.Kind { return domaintool.KindThink }
func (t *UpdatePlanTool) Description() string {
	return "Create or update the execution plan. " +
		"Use action='create' with steps to start a new plan; " +
		"action='update' with step_id and status to mark progress."
}

func (t *UpdatePlanTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"action": map[string]interface{}{
				"type":        "string",
				"description": "Action: 'create' to create a new plan, 'update' to update a step status.",
				"enum":        []interface{}{"create", "update"},
			},
			"goal": map[string]interface{}{
				"type":        "string",
				"description": "Goal of the plan (required for 'create').",
			},
			"steps": map[string]interface{}{
				"type":        "array",
				"description": "List of step titles (required for 'create').",
				"items":       map[string]interface{}{"type": "string"},
			},
			"step_id": map[string]interface{}{
				"type":        "number",
				"description": "Step ID to update (required for 'update', 1-indexed).",
			},
			"status": map[string]interface{}{
				"type":        "string",
				"description": "New status for the step.",
				"enum":        []interface{}{"pending", "in_progress", "done", "skipped"},
			},
		},
		"required": []interface{}{"action"},
	}
}

func (t *UpdatePlanTool) planPath() string {
	return filepath.Join(t.plansDir, t.session+".json")
}

func (t *UpdatePlanTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	action, _ := args["action"].(string)
	now := time.Now().UTC().Format(time.RFC3339)

	switch action {
	case "create":
		goal, _ := args["goal"].(string)
		rawSteps, _ := args["steps"].([]interface{})
		plan := Plan{Goal: goal, CreatedAt: now, UpdatedAt: now}
		for i, s := range rawSteps {
			title, _ := s.(string)
			plan.Steps = append(plan.Steps, PlanStep{
				ID: i + 1, Title: title, Status: PlanStatusPending, UpdatedAt: now,
			})
		}
		if err := t.save(plan); err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
		return &Result{Output: fmt.Sprintf("Plan created with %d steps", len(plan.Steps)), Success: true}, nil

	case "update":
		plan, err := t.load()
		if err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
		stepID, ok := intArg(args, "step_id")
		if !ok || stepID < 1 || stepID > len(plan.Steps) {
			return &Result{Success: false, Error: fmt.Sprintf("invalid step_id %d", stepID)}, nil
		}
		status, _ := args["status"].(string)
		plan.Steps[stepID-1].Status = PlanStatus(status)
		plan.Steps[stepID-1].UpdatedAt = now
		plan.UpdatedAt = now
		if err := t.save(*plan); err != nil {
			return &Result{Success: false, Error: err.Error()}, nil
		}
		return &Result{Output: fmt.Sprintf("Step %d marked %s", stepID, status), Success: true}, nil

	default:
		return &Result{Success: false, Error: fmt.Sprintf("unknown action %q", action)}, nil
	}
}

func (t *UpdatePlanTool) load() (*Plan, error) {
	raw, err := os.ReadFile(t.planPath())
	if err != nil {
		return nil, fmt.Errorf("no plan exists; use action='create' first: %w", err)
	}
	var plan Plan
	if err := json.Unmarshal(raw, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (t *UpdatePlanTool) save(plan Plan) error {
	if err := os.MkdirAll(t.plansDir, 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(t.planPath(), raw, 0o644)
}
