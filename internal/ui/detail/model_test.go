package detail

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/novel-notify/internal/keys"
	"github.com/nhle/novel-notify/internal/model"
)

func TestSetNotification_RendersSanitisedContent(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 24)
	m.SetNotification(model.Notification{
		ID:          1,
		Title:       "Chapter \x1b[31m12\x1b[0m is out",
		Content:     "Read it now",
		Type:        "new_chapter",
		RedirectURL: "/novels/3/chapters/12/",
		CreatedAt:   "2026-10-01T10:00:00Z",
	}, "https://novels.example.com/")

	view := m.View()
	assert.Contains(t, view, "Chapter 12 is out")
	assert.NotContains(t, view, "\x1b[31m12")
	assert.Contains(t, view, "https://novels.example.com/novels/3/chapters/12/")
	assert.Contains(t, view, "Read it now")
}

func TestEscEmitsBack(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 24)
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	require.NotNil(t, cmd)
	assert.Equal(t, BackMsg{}, cmd())
}

func TestEmptyView(t *testing.T) {
	m := New(keys.DefaultKeyMap(), 80, 24)
	assert.Contains(t, m.View(), "No notification selected")
}
