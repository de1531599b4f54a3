package main

import (
	"hash/fnv"

	"github.com/charmbracelet/lipgloss"
)

var (
	namePalette = []lipgloss.Color{
		lipgloss.Color("#7C3AED"), // Purple
		lipgloss.Color("#06B6D4"), // Cyan
		lipgloss.Color("#10B981"), // Emerald
		lipgloss.Color("#F59E0B"), // Amber
		lipgloss.Color("#EC4899"), // Pink
		lipgloss.Color("#3B82F6"), // Blue
	}
	textMuted = lipgloss.Color("#6B7280") // Gray
	textError = lipgloss.Color("#EF4444") // Red

	clockStyle  = lipgloss.NewStyle().Foreground(textMuted)
	noticeStyle = lipgloss.NewStyle().Foreground(textMuted).Italic(true)
	errorStyle  = lipgloss.NewStyle().Foreground(textError)
)

// nameStyle gives each username a stable colour.
func nameStyle(username string) lipgloss.Style {
	h := fnv.New32a()
	h.Write([]byte(username))
	color := namePalette[h.Sum32()%uint32(len(namePalette))]
	return lipgloss.NewStyle().Foreground(color).Bold(true)
}
