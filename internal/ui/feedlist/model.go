// Package feedlist renders the notification feed as a scrolling list and
// applies feed mutations incrementally rather than rebuilding the list.
package feedlist

import (
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/novel-notify/internal/keys"
	"github.com/nhle/novel-notify/internal/model"
	"github.com/nhle/novel-notify/internal/theme"
)

// SelectedMsg is sent when the user opens a notification.
type SelectedMsg struct {
	Notification model.Notification
}

// Footer describes the history state shown under the list.
type Footer int

const (
	FooterNone Footer = iota
	FooterLoading
	FooterFailed
	FooterEnd
	FooterFull
)

// Model is the notification list view component.
type Model struct {
	list   list.Model
	keys   *keys.KeyMap
	footer Footer
	width  int
	height int
}

// New creates an empty notification list.
func New(k *keys.KeyMap, width, height int) Model {
	l := list.New([]list.Item{}, ItemDelegate{}, width, height-1)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetShowHelp(false)
	l.SetShowPagination(false)
	l.SetFilteringEnabled(false)
	l.DisableQuitKeybindings()

	return Model{
		list:   l,
		keys:   k,
		width:  width,
		height: height,
	}
}

// Init returns the initial command.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles navigation keys and selection.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(msg, m.keys.Open):
			n, ok := m.Selected()
			if !ok {
				return m, nil
			}
			return m, func() tea.Msg {
				return SelectedMsg{Notification: n}
			}

		case key.Matches(msg, m.keys.Top):
			m.Top()
			return m, nil
		}
	}

	// Delegate to the list for navigation keys (up/down/pgup/pgdn)
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

// Prepend inserts n at the head. When evicted is true the tail row is
// removed as well. The cursor stays on the same notification unless it was
// at the top, in which case it follows the newest.
func (m *Model) Prepend(n model.Notification, evicted bool) tea.Cmd {
	wasEmpty := len(m.list.Items()) == 0
	idx := m.list.Index()

	cmd := m.list.InsertItem(0, Item{Notification: n})
	if evicted {
		m.list.RemoveItem(len(m.list.Items()) - 1)
	}

	if !wasEmpty && idx > 0 {
		m.list.Select(idx + 1)
	}
	m.clampCursor()
	return cmd
}

// Append adds older notifications to the tail.
func (m *Model) Append(ns []model.Notification) tea.Cmd {
	var cmds []tea.Cmd
	for _, n := range ns {
		cmds = append(cmds, m.list.InsertItem(len(m.list.Items()), Item{Notification: n}))
	}
	return tea.Batch(cmds...)
}

// Replace re-renders the row at index with n.
func (m *Model) Replace(index int, n model.Notification) tea.Cmd {
	if index < 0 || index >= len(m.list.Items()) {
		return nil
	}
	return m.list.SetItem(index, Item{Notification: n})
}

// Clear removes every row.
func (m *Model) Clear() tea.Cmd {
	m.footer = FooterNone
	return m.list.SetItems(nil)
}

// Top moves the cursor to the newest notification.
func (m *Model) Top() {
	m.list.Select(0)
}

// Selected returns the notification under the cursor.
func (m Model) Selected() (model.Notification, bool) {
	it, ok := m.list.SelectedItem().(Item)
	if !ok {
		return model.Notification{}, false
	}
	return it.Notification, true
}

// Index returns the cursor position.
func (m Model) Index() int { return m.list.Index() }

// Len returns the number of rows.
func (m Model) Len() int { return len(m.list.Items()) }

// IDs returns the ids of every row in display order.
func (m Model) IDs() []int64 {
	items := m.list.Items()
	out := make([]int64, 0, len(items))
	for _, it := range items {
		if n, ok := it.(Item); ok {
			out = append(out, n.Notification.ID)
		}
	}
	return out
}

// SetFooter updates the history indicator under the list.
func (m *Model) SetFooter(f Footer) { m.footer = f }

func (m *Model) clampCursor() {
	n := len(m.list.Items())
	if n > 0 && m.list.Index() >= n {
		m.list.Select(n - 1)
	}
}

// View renders the list and its footer.
func (m Model) View() string {
	if len(m.list.Items()) == 0 {
		return m.renderEmptyState()
	}

	return lipgloss.JoinVertical(lipgloss.Left, m.list.View(), m.renderFooter())
}

func (m Model) renderFooter() string {
	style := theme.HelpStyle.PaddingLeft(2)
	switch m.footer {
	case FooterLoading:
		return style.Render("loading older notifications…")
	case FooterFailed:
		return lipgloss.NewStyle().
			PaddingLeft(2).
			Foreground(theme.ColorYellow).
			Render("could not load older notifications, scroll to retry")
	case FooterEnd:
		return style.Render("no older notifications")
	case FooterFull:
		return style.Render("showing the latest notifications, press R to reload")
	default:
		return ""
	}
}

// renderEmptyState shows guidance text when the feed is empty.
func (m Model) renderEmptyState() string {
	style := lipgloss.NewStyle().
		Width(m.width).
		Height(m.height).
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(theme.ColorGray)

	switch m.footer {
	case FooterLoading:
		return style.Render("Loading notifications…")
	case FooterFailed:
		return style.Render("Could not load notifications.\n\nPress R to try again.")
	}
	return style.Render("No notifications yet.\n\nNew ones appear here as they arrive.")
}

// SetSize updates the list dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
	m.list.SetSize(width, height-1)
}
