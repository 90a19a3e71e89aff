// Package setup is the first-run form that collects the platform URL and
// the browser session used to authenticate.
package setup

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/nhle/novel-notify/internal/api"
	"github.com/nhle/novel-notify/internal/theme"
)

// Mode is the current step of the setup view.
type Mode int

const (
	ModeForm Mode = iota
	ModeValidating
	ModeFailed
)

// DoneMsg is emitted once the credentials were accepted by the platform.
type DoneMsg struct {
	BaseURL     string
	Credentials api.Credentials
}

// CancelMsg is emitted when the user aborts the form.
type CancelMsg struct{}

// validateResultMsg carries the result of a connection check.
type validateResultMsg struct {
	err error
}

// Validator checks credentials against the platform.
type Validator func(ctx context.Context, baseURL string, creds api.Credentials) error

const validateTimeout = 15 * time.Second

// Model is the Bubble Tea model for the setup form.
type Model struct {
	mode      Mode
	form      *huh.Form
	validate  Validator
	spinner   spinner.Model
	lastError error

	// Form field values (huh binds to these)
	formBaseURL string
	formSession string
	formCSRF    string

	width, height int
}

// New creates a setup view prefilled with baseURL.
func New(baseURL string, validate Validator, width, height int) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		mode:        ModeForm,
		validate:    validate,
		spinner:     sp,
		formBaseURL: baseURL,
		width:       width,
		height:      height,
	}
}

// Init builds the form and focuses its first field.
func (m *Model) Init() tea.Cmd {
	m.mode = ModeForm
	m.form = m.buildForm()
	return m.form.Init()
}

func (m *Model) buildForm() *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Platform URL").
				Description("Root URL of the novel platform").
				Placeholder("https://novels.example.com").
				Value(&m.formBaseURL).
				Validate(validateURL),
			huh.NewInput().
				Title("Session cookie").
				Description("Value of the sessionid cookie from a logged-in browser").
				EchoMode(huh.EchoModePassword).
				Value(&m.formSession).
				Validate(validateRequired("Session cookie")),
			huh.NewInput().
				Title("CSRF token").
				Description("Value of the csrftoken cookie").
				EchoMode(huh.EchoModePassword).
				Value(&m.formCSRF).
				Validate(validateRequired("CSRF token")),
		),
	).WithWidth(m.formWidth()).WithShowHelp(true)
}

// Update handles messages for the current step.
func (m Model) Update(msg tea.Msg) (Model, tea.Cmd) {
	switch msg := msg.(type) {
	case validateResultMsg:
		if msg.err != nil {
			m.lastError = msg.err
			m.mode = ModeFailed
			return m, nil
		}
		return m, m.done()

	case spinner.TickMsg:
		if m.mode == ModeValidating {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case ModeValidating:
			if msg.String() == "esc" {
				m.mode = ModeForm
				m.form = m.buildForm()
				return m, m.form.Init()
			}
			return m, nil
		case ModeFailed:
			switch msg.String() {
			case "r":
				return m.startValidation()
			case "enter", "esc":
				m.mode = ModeForm
				m.form = m.buildForm()
				return m, m.form.Init()
			}
			return m, nil
		}
	}

	return m.updateForm(msg)
}

func (m Model) updateForm(msg tea.Msg) (Model, tea.Cmd) {
	if m.form == nil || m.mode != ModeForm {
		return m, nil
	}

	mdl, cmd := m.form.Update(msg)
	if f, ok := mdl.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		return m.startValidation()
	}
	if m.form.State == huh.StateAborted {
		return m, func() tea.Msg { return CancelMsg{} }
	}

	return m, cmd
}

func (m Model) startValidation() (Model, tea.Cmd) {
	if m.validate == nil {
		return m, m.done()
	}
	m.mode = ModeValidating
	m.lastError = nil

	validate := m.validate
	baseURL := m.baseURL()
	creds := m.credentials()
	return m, tea.Batch(
		m.spinner.Tick,
		func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), validateTimeout)
			defer cancel()
			return validateResultMsg{err: validate(ctx, baseURL, creds)}
		},
	)
}

func (m Model) done() tea.Cmd {
	msg := DoneMsg{BaseURL: m.baseURL(), Credentials: m.credentials()}
	return func() tea.Msg { return msg }
}

func (m Model) baseURL() string {
	return strings.TrimRight(strings.TrimSpace(m.formBaseURL), "/")
}

func (m Model) credentials() api.Credentials {
	return api.Credentials{
		SessionID: strings.TrimSpace(m.formSession),
		CSRFToken: strings.TrimSpace(m.formCSRF),
	}
}

// Mode returns the current step.
func (m Model) Mode() Mode { return m.mode }

// View renders the current step.
func (m Model) View() string {
	style := lipgloss.NewStyle().
		Padding(1, 2).
		Width(m.width).
		Height(m.height)

	switch m.mode {
	case ModeValidating:
		return style.Render(fmt.Sprintf(
			"%s Checking session against %s...\n\nPress esc to cancel.",
			m.spinner.View(), m.baseURL(),
		))

	case ModeFailed:
		errStyle := lipgloss.NewStyle().
			Bold(true).
			Foreground(theme.ColorRed)
		hint := "r retry | enter/esc edit"
		if api.IsAuthError(m.lastError) {
			hint = "The session was rejected. Log in again in the browser and copy a fresh cookie.\n\n" + hint
		}
		return style.Render(
			errStyle.Render("Connection failed") + "\n\n" +
				m.lastError.Error() + "\n\n" +
				lipgloss.NewStyle().Foreground(theme.ColorGray).Render(hint),
		)
	}

	if m.form == nil {
		return ""
	}

	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(theme.ColorWhite).
		MarginBottom(1)

	return style.Render(lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render("Connect to your account"),
		m.form.View(),
	))
}

// SetSize updates the view dimensions.
func (m *Model) SetSize(width, height int) {
	m.width = width
	m.height = height
}

func (m Model) formWidth() int {
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	if w > 100 {
		w = 100
	}
	return w
}

// --- Validators ---

func validateRequired(fieldName string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
		return nil
	}
}

func validateURL(s string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("URL is required")
	}
	parsed, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("URL must include scheme and host (e.g., https://example.com)")
	}
	return nil
}
