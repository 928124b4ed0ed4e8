package tool

import (
	"path/filepath"

	domaintool "github.com/vtcode/vtcode/internal/domain/tool"
	"github.com/vtcode/vtcode/internal/infrastructure/sandbox"
	"go.uber.org/zap"
)

// Deps aggregates the external dependencies of the tool layer. This is the
// single configuration point for the entire tool subsystem.
type Deps struct {
	Registry  *domaintool.Registry
	Sandbox   *sandbox.ProcessSandbox
	Logger    *zap.Logger
	Workspace string // path-safety boundary and file-tool root
	PlansDir  string // per-session plan files
	SessionID string
}

// RegisterAllTools registers the built-in tool set. This is the ONLY tool
// registration entry point. Adding a new tool? Add it here.
func RegisterAllTools(deps Deps) int {
	workspace := deps.Workspace
	if workspace == "" {
		workspace = deps.Sandbox.WorkDir()
	}
	plansDir := deps.PlansDir
	if plansDir == "" {
		plansDir = filepath.Join(workspace, ".vtcode", "plans")
	}

	registrations := []*domaintool.Registration{
		{
			Tool:       NewBashTool(deps.Sandbox, deps.Logger),
			Capability: domaintool.CapBash,
		},
		{
			Tool:            NewReadFileTool(workspace, deps.Logger),
			Capability:      domaintool.CapFileReading,
			ReadOnlyHint:    true,
			PlanModeAllowed: true,
		},
		{
			Tool:       NewWriteFileTool(workspace, deps.Logger),
			Capability: domaintool.CapEditing,
		},
		{
			Tool:       NewEditFileTool(workspace, deps.Logger),
			Capability: domaintool.CapEditing,
		},
		{
			Tool:            NewListFilesTool(workspace, deps.Logger),
			Capability:      domaintool.CapFileListing,
			ReadOnlyHint:    true,
			PlanModeAllowed: true,
		},
		{
			Tool:            NewGrepFileTool(deps.Sandbox, deps.Logger),
			Capability:      domaintool.CapCodeSearch,
			ReadOnlyHint:    true,
			PlanModeAllowed: true,
		},
		{
			Tool:            NewGlobTool(workspace, deps.Logger),
			Capability:      domaintool.CapCodeSearch,
			ReadOnlyHint:    true,
			PlanModeAllowed: true,
		},
		{
			Tool:       NewApplyPatchTool(deps.Sandbox, deps.Logger),
			Capability: domaintool.CapEditing,
		},
		{
			Tool:            NewUpdatePlanTool(plansDir, deps.SessionID, deps.Logger),
			Capability:      domaintool.CapBasic,
			ReadOnlyHint:    false,
			PlanModeAllowed: true,
		},
	}

	registered := 0
	for _, reg := range registrations {
		if err := deps.Registry.Register(reg); err != nil {
			deps.Logger.Warn("Failed to register tool",
				zap.String("tool", reg.Tool.Name()),
				zap.Error(err),
			)
			continue
		}
		registered++
	}

	deps.Logger.Info("Tool layer initialized", zap.Int("registered", registered))
	return registered
}
