package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/microsoft/wil-sub001/internal/changewatch"
)

var (
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#8A8A8A"})
	modifyStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#1E6FD9", Dark: "#54A0FF"})
	deleteStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#C0392B", Dark: "#FF8787"})
	pathStyle   = lipgloss.NewStyle()
	noteStyle   = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#8A8A8A"})
)

func kindLabel(kind changewatch.ChangeKind) string {
	label := fmt.Sprintf("%-6s", kind.String())
	if kind == changewatch.Delete {
		return deleteStyle.Render(label)
	}
	return modifyStyle.Render(label)
}

func formatChange(at time.Time, kind changewatch.ChangeKind, path string) string {
	return fmt.Sprintf("%s %s %s", timeStyle.Render(at.Format("15:04:05.000")), kindLabel(kind), pathStyle.Render(path))
}
