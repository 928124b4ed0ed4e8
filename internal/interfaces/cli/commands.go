package cli

import (
	"context"
	"fmt"
	"strings"
)

// MCPController is the surface the in-session /mcp commands route onto. The
// MCP client transport itself is an external collaborator.
type MCPController interface {
	Repair(ctx context.Context) (string, error)
	Status(ctx context.Context) (string, error)
	Diagnose(ctx context.Context) (string, error)
	Login(ctx context.Context, server string) (string, error)
	Logout(ctx context.Context, server string) (string, error)
}

// NoopMCPController reports MCP as disabled. Used when mcp.enabled is false.
type NoopMCPController struct{}

func (NoopMCPController) Repair(context.Context) (string, error) {
	return "MCP is disabled (set mcp.enabled: true)", nil
}
func (NoopMCPController) Status(context.Context) (string, error) {
	return "MCP is disabled (set mcp.enabled: true)", nil
}
func (NoopMCPController) Diagnose(context.Context) (string, error) {
	return "MCP is disabled (set mcp.enabled: true)", nil
}
func (NoopMCPController) Login(context.Context, string) (string, error) {
	return "MCP is disabled (set mcp.enabled: true)", nil
}
func (NoopMCPController) Logout(context.Context, string) (string, error) {
	return "MCP is disabled (set mcp.enabled: true)", nil
}

// commandResult tells the REPL what to do after a slash command.
type commandResult int

const (
	cmdHandled commandResult = iota
	cmdNotACommand
	cmdExit
)

// handleCommand dispatches in-session slash commands. Returns cmdNotACommand
// for ordinary prompts.
func (a *App) handleCommand(ctx context.Context, input string) commandResult {
	if !strings.HasPrefix(input, "/") {
		return cmdNotACommand
	}

	fields := strings.Fields(input)
	switch fields[0] {
	case "/exit", "/quit":
		return cmdExit

	case "/help":
		fmt.Println(a.renderer.RenderMarkdown(helpText))
		return cmdHandled

	case "/plan":
		if len(fields) > 1 && fields[1] == "on" {
			a.registry.SetPlanMode(true)
			fmt.Println("Plan mode on — only read-only and planning tools are available.")
		} else if len(fields) > 1 && fields[1] == "off" {
			a.registry.SetPlanMode(false)
			fmt.Println("Plan mode off.")
		} else {
			fmt.Printf("Plan mode: %v (use /plan on|off)\n", a.registry.PlanMode())
		}
		return cmdHandled

	case "/warnings":
		for _, w := range a.state.Warnings() {
			fmt.Println(a.renderer.RenderWarning(w))
		}
		return cmdHandled

	case "/mcp":
		a.handleMCPCommand(ctx, fields[1:])
		return cmdHandled

	default:
		fmt.Println(a.renderer.RenderError(fmt.Sprintf("unknown command %s (try /help)", fields[0])))
		return cmdHandled
	}
}

func (a *App) handleMCPCommand(ctx context.Context, args []string) {
	if len(args) == 0 {
		fmt.Println("usage: /mcp repair|status|diagnose|login|logout")
		return
	}

	var (
		out string
		err error
	)
	switch args[0] {
	case "repair":
		out, err = a.mcp.Repair(ctx)
	case "status":
		out, err = a.mcp.Status(ctx)
	case "diagnose":
		out, err = a.mcp.Diagnose(ctx)
	case "login":
		out, err = a.mcp.Login(ctx, argOr(args, 1))
	case "logout":
		out, err = a.mcp.Logout(ctx, argOr(args, 1))
	default:
		fmt.Println("usage: /mcp repair|status|diagnose|login|logout")
		return
	}

	if err != nil {
		fmt.Println(a.renderer.RenderError(err.Error()))
		return
	}
	fmt.Println(out)
}

func argOr(args []string, idx int) string {
	if idx < len(args) {
		return args[idx]
	}
	return ""
}

const helpText = `## Commands

- ` + "`/plan on|off`" + ` — restrict the tool set to the plan-allowed subset
- ` + "`/mcp repair|status|diagnose|login|logout`" + ` — MCP maintenance
- ` + "`/warnings`" + ` — show session warnings
- ` + "`/exit`" + ` — end the session

Press Ctrl-C to interrupt the current turn; press it again to exit.`
