package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Color palette, matching the fatih/color semantics used by Logger.
var (
	ColorSuccess = lipgloss.Color("#22c55e")
	ColorError   = lipgloss.Color("#ef4444")
	ColorWarning = lipgloss.Color("#eab308")
	ColorInfo    = lipgloss.Color("#06b6d4")
	ColorMuted   = lipgloss.Color("#6b7280")
)

var (
	badgeStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)

	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorInfo).
			Padding(0, 1)

	ErrorBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorError).
			Padding(0, 1)
)

// stateColors maps lifecycle and confirmation states to badge colors.
// Unknown states render muted.
var stateColors = map[string]lipgloss.Color{
	"fetching":   ColorInfo,
	"signing":    ColorWarning,
	"submitting": ColorInfo,
	"success":    ColorSuccess,
	"error":      ColorError,

	"pending":   ColorWarning,
	"confirmed": ColorInfo,
	"updated":   ColorSuccess,
	"failed":    ColorError,
	"expired":   ColorError,

	"submitted":  ColorInfo,
	"registered": ColorSuccess,
	"untracked":  ColorError,
}

// StateBadge renders state as a colored label.
func StateBadge(state string) string {
	c, ok := stateColors[state]
	if !ok {
		c = ColorMuted
	}
	return badgeStyle.Foreground(c).Render(strings.ToUpper(state))
}

// Box renders title and key/value rows inside a rounded border. Rows are
// printed in key order.
func Box(title string, rows map[string]string, failed bool) string {
	keys := sortedKeys(rows)
	width := 0
	for _, k := range keys {
		width = max(width, len(k))
	}

	var sb strings.Builder
	sb.WriteString(lipgloss.NewStyle().Bold(true).Render(title))
	for _, k := range keys {
		fmt.Fprintf(&sb, "\n%-*s  %s", width, k, rows[k])
	}

	style := BoxStyle
	if failed {
		style = ErrorBoxStyle
	}
	return style.Render(sb.String())
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
