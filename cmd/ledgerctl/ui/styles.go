package ui

import "github.com/charmbracelet/lipgloss"

var (
	focusedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	blurredStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	statusMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#25A065")).
				Render

	errorMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FF0000")).
				Render

	statusColors = map[string]lipgloss.Color{
		"PENDING": lipgloss.Color("244"),
		"RUNNING": lipgloss.Color("33"),
		"SUCCESS": lipgloss.Color("34"),
		"FAILED":  lipgloss.Color("160"),
	}
)

func renderStatus(s string) string {
	c, ok := statusColors[s]
	if !ok {
		return s
	}
	return lipgloss.NewStyle().Foreground(c).Render(s)
}
