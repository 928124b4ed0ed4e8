package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/vtcode/vtcode/internal/domain/entity"
)

var (
	colorCyan   = lipgloss.Color("#00D7D7")
	colorGreen  = lipgloss.Color("#5FD75F")
	colorYellow = lipgloss.Color("#D7D75F")
	colorRed    = lipgloss.Color("#FF5F5F")
	colorGray   = lipgloss.Color("#808080")
)

// Renderer handles terminal output: markdown, tool calls, warnings.
type Renderer struct {
	glamour *glamour.TermRenderer
	width   int
}

// NewRenderer creates a renderer for the given terminal width.
func NewRenderer(width int) *Renderer {
	if width <= 0 {
		width = 80
	}
	r, _ := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width-4),
	)
	return &Renderer{glamour: r, width: width}
}

// RenderMarkdown renders markdown to styled terminal output.
func (r *Renderer) RenderMarkdown(md string) string {
	if r.glamour == nil {
		return md
	}
	out, err := r.glamour.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimSpace(out)
}

// RenderToolCall renders a pending tool call line.
func (r *Renderer) RenderToolCall(tc *entity.ToolCallEvent) string {
	if tc == nil {
		return ""
	}
	name := lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Render(tc.Name)
	args := lipgloss.NewStyle().Foreground(colorGray).Render(summarizeArgs(tc.Args))
	return fmt.Sprintf("  %s %s %s", lipgloss.NewStyle().Foreground(colorYellow).Render("▸"), name, args)
}

// RenderToolResult renders a completed tool call line.
func (r *Renderer) RenderToolResult(tc *entity.ToolCallEvent) string {
	if tc == nil {
		return ""
	}
	var icon string
	if tc.Success {
		icon = lipgloss.NewStyle().Foreground(colorGreen).Render("✓")
	} else {
		icon = lipgloss.NewStyle().Foreground(colorRed).Render("✗")
	}
	name := lipgloss.NewStyle().Foreground(colorCyan).Render(tc.Name)
	duration := lipgloss.NewStyle().Foreground(colorGray).Render(tc.Duration.Round(1e6).String())
	return fmt.Sprintf("  %s %s %s", icon, name, duration)
}

// RenderWarning renders a session warning.
func (r *Renderer) RenderWarning(text string) string {
	return lipgloss.NewStyle().Foreground(colorYellow).Render("⚠ " + text)
}

// RenderError renders an error line.
func (r *Renderer) RenderError(text string) string {
	return lipgloss.NewStyle().Foreground(colorRed).Render("✗ " + text)
}

// summarizeArgs shortens the raw argument string for one-line display.
func summarizeArgs(args string) string {
	args = strings.Join(strings.Fields(args), " ")
	const limit = 72
	if len(args) > limit {
		return args[:limit-3] + "..."
	}
	return args
}
