package ui

import (
	"github.com/charmbracelet/lipgloss"

	"casambi-go/internal/version"
)

// AppName is shown in the monitor header.
const AppName = "CASAMBI NETWORK MONITOR"

// AppVersion returns the application version from the centralized version package.
func AppVersion() string {
	return version.Version
}

// Color palette
var (
	PrimaryColor   = lipgloss.Color("#7D56F4") // Purple
	SecondaryColor = lipgloss.Color("#43BF6D") // Green
	WarningColor   = lipgloss.Color("#FFA500") // Orange
	ErrorColor     = lipgloss.Color("#FF0000") // Red

	TextColor   = lipgloss.Color("#FFFFFF") // White
	SubtleColor = lipgloss.Color("#626262") // Gray
	BorderColor = lipgloss.Color("#7D56F4") // Purple (same as primary)
)

// Common styles
var (
	TitleStyle = lipgloss.NewStyle().
			Foreground(PrimaryColor).
			Bold(true)

	HeaderStyle = lipgloss.NewStyle().
			Foreground(TextColor).
			Bold(true)

	HelpStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	OnlineStyle = lipgloss.NewStyle().
			Foreground(SecondaryColor)

	OfflineStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	EventStyle = lipgloss.NewStyle().
			Foreground(TextColor)

	EventTimeStyle = lipgloss.NewStyle().
			Foreground(SubtleColor)

	LogBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(BorderColor).
			Padding(0, 1)
)

// BuildHeaderContent creates the header line with app name and network name.
func BuildHeaderContent(networkName string) string {
	left := HeaderStyle.Render(AppName + " v" + AppVersion())
	if networkName == "" {
		return left
	}
	right := lipgloss.NewStyle().
		Foreground(SubtleColor).
		Render(" • " + networkName)
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}
