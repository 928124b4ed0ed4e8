package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// BannerInfo carries the session facts shown at startup.
type BannerInfo struct {
	Model     string
	Workspace string
	SessionID string
	ToolCount int
}

// RenderBanner renders the startup banner.
func RenderBanner(info BannerInfo) string {
	title := lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Render("VT Code")
	dim := lipgloss.NewStyle().Foreground(colorGray)

	var lines []string
	lines = append(lines, title)
	if info.Model != "" {
		lines = append(lines, dim.Render(fmt.Sprintf("model      %s", info.Model)))
	}
	lines = append(lines, dim.Render(fmt.Sprintf("workspace  %s", info.Workspace)))
	if info.SessionID != "" {
		lines = append(lines, dim.Render(fmt.Sprintf("session    %s", info.SessionID)))
	}
	lines = append(lines, dim.Render(fmt.Sprintf("tools      %d registered", info.ToolCount)))

	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorGray).
		Padding(0, 2)
	return box.Render(strings.Join(lines, "\n"))
}
