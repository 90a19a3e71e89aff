package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/nhle/novel-notify/internal/theme"
)

const (
	headerRows    = 1
	statusBarRows = 1
)

// Layout splits the terminal into a header row, the content area and a
// status bar row.
type Layout struct {
	Width  int
	Height int
}

// NewLayout creates a Layout for a terminal of the given size.
func NewLayout(width, height int) Layout {
	return Layout{Width: width, Height: height}
}

// ContentWidth returns the width available to the active view.
func (l Layout) ContentWidth() int {
	return l.Width
}

// ContentHeight returns the rows left between the header and status bar.
func (l Layout) ContentHeight() int {
	return max(0, l.Height-headerRows-statusBarRows)
}

// Chrome is the text drawn around the content area.
type Chrome struct {
	Title string
	// Unread is appended to the title as a badge when positive.
	Unread int
	// Connection is shown right-aligned in the header; it may carry styling.
	Connection string
	Hints      string
}

// Render frames content with the header and status bar.
func (l Layout) Render(c Chrome, content string) string {
	title := c.Title
	if c.Unread > 0 {
		title = fmt.Sprintf("%s [%d unread]", title, c.Unread)
	}
	return lipgloss.JoinVertical(
		lipgloss.Left,
		l.bar(theme.HeaderStyle, title, c.Connection),
		content,
		l.bar(theme.StatusBarStyle, c.Hints, ""),
	)
}

// bar renders one full-width row with left and right aligned text. Left text
// is truncated first; right text is dropped when it cannot fit at all.
func (l Layout) bar(style lipgloss.Style, left, right string) string {
	inner := max(0, l.Width-style.GetHorizontalFrameSize())

	rightWidth := lipgloss.Width(right)
	if rightWidth > inner {
		right, rightWidth = "", 0
	}
	room := inner - rightWidth
	if rightWidth > 0 {
		room--
	}
	left = ansi.Truncate(left, max(0, room), "…")

	gap := max(0, inner-lipgloss.Width(left)-rightWidth)
	return style.Render(left + strings.Repeat(" ", gap) + right)
}

// Overlay draws popup over the bottom-right corner of content, replacing
// the content lines it covers. content is assumed to fill the content area.
func (l Layout) Overlay(content string, popup string) string {
	if popup == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	for len(lines) < l.ContentHeight() {
		lines = append(lines, "")
	}
	popupLines := strings.Split(popup, "\n")
	if len(popupLines) > len(lines) {
		return content
	}

	start := len(lines) - len(popupLines)
	for i, pl := range popupLines {
		lines[start+i] = lipgloss.PlaceHorizontal(l.Width, lipgloss.Right, pl)
	}
	return strings.Join(lines, "\n")
}
