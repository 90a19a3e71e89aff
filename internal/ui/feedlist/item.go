package feedlist

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"

	"github.com/nhle/novel-notify/internal/model"
	"github.com/nhle/novel-notify/internal/theme"
)

// Item wraps a model.Notification so it can be used in a bubbles/list.
type Item struct {
	Notification model.Notification
}

// FilterValue returns the string used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Notification.SafeTitle() }

// Title returns the sanitised headline.
func (i Item) Title() string { return i.Notification.SafeTitle() }

// Description returns the sanitised body.
func (i Item) Description() string { return i.Notification.SafeContent() }

// ItemDelegate implements list.ItemDelegate for notification rows. Each row
// is a headline line followed by a dimmed body line.
type ItemDelegate struct{}

// Height returns the number of lines each item takes.
func (d ItemDelegate) Height() int { return 2 }

// Spacing returns the number of blank lines between items.
func (d ItemDelegate) Spacing() int { return 0 }

// Update handles per-item messages (unused).
func (d ItemDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd {
	return nil
}

// Render draws a single notification.
func (d ItemDelegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	it, ok := item.(Item)
	if !ok {
		return
	}
	n := it.Notification
	isSelected := index == m.Index()
	width := m.Width() - 4
	if width < 20 {
		width = 20
	}

	marker := " "
	if !n.IsRead {
		marker = theme.UnreadMarkerStyle.Render("●")
	}

	typeBadge := ""
	if n.Type != "" {
		typeBadge = theme.TypeLabelStyle(n.Type).Render(model.Sanitize(n.Type)) + " "
	}

	when := lipgloss.NewStyle().
		Foreground(theme.ColorGray).
		Render(displayTime(n))

	head := fmt.Sprintf("%s %s%s", marker, typeBadge, it.Title())
	titleWidth := width - lipgloss.Width(when) - 2
	head = ansi.Truncate(head, titleWidth, "…") + "  " + when

	body := "  " + ansi.Truncate(it.Description(), width-2, "…")
	body = theme.DimmedStyle.Render(body)

	if n.IsRead {
		head = theme.DimmedStyle.Render(head)
	}

	block := head + "\n" + body
	if isSelected {
		block = theme.SelectedItemStyle.Render(block)
	} else {
		block = theme.ListItemStyle.Render(block)
	}

	fmt.Fprint(w, block)
}

// displayTime shows a relative time for parseable timestamps and the raw
// server string otherwise.
func displayTime(n model.Notification) string {
	t, ok := n.Time()
	if !ok {
		return model.Sanitize(n.CreatedAt)
	}
	return relativeTime(t)
}

// relativeTime returns a human-friendly relative time string.
func relativeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1m ago"
		}
		return fmt.Sprintf("%dm ago", mins)
	case d < 24*time.Hour:
		hrs := int(d.Hours())
		if hrs == 1 {
			return "1h ago"
		}
		return fmt.Sprintf("%dh ago", hrs)
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1d ago"
		}
		return fmt.Sprintf("%dd ago", days)
	default:
		weeks := int(d.Hours() / 24 / 7)
		if weeks == 1 {
			return "1w ago"
		}
		return fmt.Sprintf("%dw ago", weeks)
	}
}
