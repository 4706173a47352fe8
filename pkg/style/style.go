// Package style centralizes the lipgloss styles used in command output.
package style

import "github.com/charmbracelet/lipgloss"

var (
	entryName = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	filePath  = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
	dimmed    = lipgloss.NewStyle().Faint(true)
	warning   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
)

// EntryName renders an entry name for display.
func EntryName(name string) string {
	return entryName.Render(name)
}

// FilePath renders a file path for display.
func FilePath(path string) string {
	return filePath.Render(path)
}

// Dimmed renders secondary information.
func Dimmed(text string) string {
	return dimmed.Render(text)
}

// Warning renders attention-grabbing text.
func Warning(text string) string {
	return warning.Render(text)
}
