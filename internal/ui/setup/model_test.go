package setup

import (
	"context"
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/novel-notify/internal/api"
)

func TestValidators(t *testing.T) {
	assert.NoError(t, validateURL("https://novels.example.com"))
	assert.Error(t, validateURL(""))
	assert.Error(t, validateURL("novels.example.com"))

	required := validateRequired("Session cookie")
	assert.EqualError(t, required("  "), "Session cookie is required")
	assert.NoError(t, required("abc"))
}

func TestStartValidation_Success(t *testing.T) {
	var gotURL string
	var gotCreds api.Credentials
	m := New("https://novels.example.com/", func(_ context.Context, baseURL string, creds api.Credentials) error {
		gotURL = baseURL
		gotCreds = creds
		return nil
	}, 80, 24)
	m.formSession = " sess "
	m.formCSRF = "tok"

	m, cmd := m.startValidation()
	assert.Equal(t, ModeValidating, m.Mode())
	require.NotNil(t, cmd)

	result := findMsg[validateResultMsg](t, cmd)
	assert.NoError(t, result.err)
	assert.Equal(t, "https://novels.example.com", gotURL)
	assert.Equal(t, api.Credentials{SessionID: "sess", CSRFToken: "tok"}, gotCreds)

	m, cmd = m.Update(result)
	done, ok := cmd().(DoneMsg)
	require.True(t, ok)
	assert.Equal(t, "https://novels.example.com", done.BaseURL)
	assert.Equal(t, "sess", done.Credentials.SessionID)
}

func TestStartValidation_FailureThenRetry(t *testing.T) {
	calls := 0
	m := New("https://novels.example.com", func(context.Context, string, api.Credentials) error {
		calls++
		return &api.AuthError{Status: 401, Path: "/x"}
	}, 80, 24)

	m, cmd := m.startValidation()
	result := findMsg[validateResultMsg](t, cmd)
	m, _ = m.Update(result)
	assert.Equal(t, ModeFailed, m.Mode())
	assert.Contains(t, m.View(), "session was rejected")

	m, cmd = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("r")})
	assert.Equal(t, ModeValidating, m.Mode())
	findMsg[validateResultMsg](t, cmd)
	assert.Equal(t, 2, calls)
}

func TestFailedBackToForm(t *testing.T) {
	m := New("https://novels.example.com", func(context.Context, string, api.Credentials) error {
		return errors.New("boom")
	}, 80, 24)
	m.Init()

	m, _ = m.Update(validateResultMsg{err: errors.New("boom")})
	require.Equal(t, ModeFailed, m.Mode())

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	assert.Equal(t, ModeForm, m.Mode())
	assert.Equal(t, "https://novels.example.com", m.formBaseURL, "form keeps entered values")
}

// findMsg runs cmd, unwrapping batches, and returns the first message of
// type T.
func findMsg[T any](t *testing.T, cmd tea.Cmd) T {
	t.Helper()
	var zero T
	if cmd == nil {
		t.Fatal("nil command")
		return zero
	}
	switch msg := cmd().(type) {
	case T:
		return msg
	case tea.BatchMsg:
		for _, c := range msg {
			if c == nil {
				continue
			}
			if found, ok := c().(T); ok {
				return found
			}
		}
	}
	t.Fatalf("no %T produced", zero)
	return zero
}
