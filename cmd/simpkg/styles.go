// SPDX-License-Identifier: MPL-2.0

package cmd

import "github.com/charmbracelet/lipgloss"

// Palette shared by every command.
const (
	ColorPrimary   = lipgloss.Color("#0EA5E9")
	ColorMuted     = lipgloss.Color("#6B7280")
	ColorSuccess   = lipgloss.Color("#22C55E")
	ColorError     = lipgloss.Color("#EF4444")
	ColorWarning   = lipgloss.Color("#F59E0B")
	ColorHighlight = lipgloss.Color("#A78BFA")
)

var (
	// TitleStyle is for command titles and section headers.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(ColorPrimary)
	// SubtitleStyle is for secondary text.
	SubtitleStyle = lipgloss.NewStyle().Foreground(ColorMuted)
	SuccessStyle  = lipgloss.NewStyle().Foreground(ColorSuccess)
	ErrorStyle    = lipgloss.NewStyle().Bold(true).Foreground(ColorError)
	WarningStyle  = lipgloss.NewStyle().Foreground(ColorWarning)
	// ValueStyle highlights versions, paths and flags inside plain text.
	ValueStyle = lipgloss.NewStyle().Foreground(ColorHighlight)

	labelStyle = lipgloss.NewStyle().Foreground(ColorMuted).Width(20)
)

// field renders one "label  value" line of a detail listing.
func field(label, value string) string {
	return labelStyle.Render(label) + value
}
