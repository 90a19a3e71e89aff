package app

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/novel-notify/internal/api"
	"github.com/nhle/novel-notify/internal/credential"
	"github.com/nhle/novel-notify/internal/feed"
	"github.com/nhle/novel-notify/internal/keys"
	"github.com/nhle/novel-notify/internal/model"
	"github.com/nhle/novel-notify/internal/stream"
	appsync "github.com/nhle/novel-notify/internal/sync"
	"github.com/nhle/novel-notify/internal/theme"
	"github.com/nhle/novel-notify/internal/ui"
	"github.com/nhle/novel-notify/internal/ui/command"
	"github.com/nhle/novel-notify/internal/ui/detail"
	"github.com/nhle/novel-notify/internal/ui/feedlist"
	helpview "github.com/nhle/novel-notify/internal/ui/help"
	"github.com/nhle/novel-notify/internal/ui/setup"
)

const authHint = "session rejected by the server, run :setup to sign in again"

// openSetupMsg switches to a fresh setup form.
type openSetupMsg struct{}

// toastExpiredMsg hides the toast it was scheduled for.
type toastExpiredMsg struct {
	seq int
}

// ViewState represents the current active view in the application.
type ViewState int

const (
	ViewList ViewState = iota
	ViewDetail
	ViewHelp
	ViewCommand
	ViewSetup
)

// Options configures the root model.
type Options struct {
	Config     model.AppConfig
	ConfigPath string
	// Credentials starts a session immediately. When nil the setup form is
	// shown first.
	Credentials *api.Credentials
	Store       *credential.Store
	Logger      *zap.Logger
	Scheduler   stream.Scheduler
	// Validate checks credentials entered in the setup form. Defaults to a
	// keep-alive request against the platform.
	Validate setup.Validator
}

// Model is the root Bubble Tea model. It owns the feed and routes pushed
// notifications, fetched pages and key presses to it.
type Model struct {
	currentView  ViewState
	previousView ViewState
	layout       ui.Layout
	keys         *keys.KeyMap
	logger       *zap.Logger

	cfg        model.AppConfig
	configPath string
	store      *credential.Store
	scheduler  stream.Scheduler
	validate   setup.Validator

	session uint64
	creds   api.Credentials
	client  *api.Client
	conn    *stream.Connection
	pump    *appsync.Pump
	feed    *feed.Feed
	status  stream.Status

	list        feedlist.Model
	detail      detail.Model
	helpView    helpview.Model
	commandView command.Model
	setupView   setup.Model

	toast            *model.Notification
	toastSeq         int
	authErrorMessage string
	ready            bool
}

// New creates the root model. A session is started right away when
// credentials are supplied.
func New(opts Options) Model {
	k := keys.DefaultKeyMap()
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	validate := opts.Validate
	if validate == nil {
		validate = pingValidator(opts.Config.Server, logger)
	}

	m := Model{
		currentView: ViewList,
		layout:      ui.NewLayout(80, 24),
		keys:        k,
		logger:      logger,
		cfg:         opts.Config,
		configPath:  opts.ConfigPath,
		store:       opts.Store,
		scheduler:   opts.Scheduler,
		validate:    validate,
		list:        feedlist.New(k, 80, 24),
		detail:      detail.New(k, 80, 24),
		helpView:    helpview.New(k, 80, 24),
		commandView: command.New(80, 24),
		setupView:   setup.New(opts.Config.Server.BaseURL, validate, 80, 24),
	}

	if opts.Credentials != nil {
		m.startSession(*opts.Credentials)
	} else {
		m.currentView = ViewSetup
	}
	return m
}

// Init starts the session, or the setup form on first run.
func (m Model) Init() tea.Cmd {
	if m.currentView == ViewSetup {
		return func() tea.Msg { return openSetupMsg{} }
	}
	return m.sessionCmds()
}

// Close stops the session and waits for the connection's goroutines. It is
// meant for the final model returned by the program.
func (m Model) Close() {
	if m.pump != nil {
		m.pump.Stop()
	}
	if m.conn != nil {
		m.conn.Close()
	}
}

// Update handles messages and dispatches to the active view.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.layout = ui.NewLayout(msg.Width, msg.Height)
		m.ready = true
		contentWidth := m.layout.ContentWidth()
		contentHeight := m.layout.ContentHeight()
		m.list.SetSize(contentWidth, contentHeight)
		m.detail.SetSize(contentWidth, contentHeight)
		m.helpView.SetSize(contentWidth, contentHeight)
		m.commandView.SetSize(contentWidth, contentHeight)
		m.setupView.SetSize(contentWidth, contentHeight)
		// Forward to active view so huh forms can calculate their layout.
		return m.updateActiveView(msg)

	case pumpMsg:
		if msg.session != m.session {
			return m, nil
		}
		return m.handlePump(msg.msg)

	case openSetupMsg:
		return m, m.openSetup()

	case fetchPageMsg:
		return m, m.maybeLoadMore()

	case pageLoadedMsg:
		return m, m.applyPage(msg)

	case markReadResultMsg:
		if msg.err != nil {
			m.logger.Warn("mark read failed", zap.Int64("id", msg.id), zap.Error(msg.err))
		}
		return m, nil

	case toastExpiredMsg:
		if msg.seq == m.toastSeq {
			m.toast = nil
		}
		return m, nil

	case tea.FocusMsg:
		return m, m.focused()

	case feedlist.SelectedMsg:
		n := msg.Notification
		cmd := m.markRead(n)
		n.IsRead = true
		m.detail.SetNotification(n, m.cfg.Server.BaseURL)
		m.previousView = m.currentView
		m.currentView = ViewDetail
		return m, cmd

	case detail.BackMsg:
		m.currentView = ViewList
		return m, nil

	case command.CommandMsg:
		m.currentView = m.previousView
		return m, m.executeCommand(string(msg))

	case command.CancelMsg:
		m.currentView = m.previousView
		return m, nil

	case setup.DoneMsg:
		m.saveSetup(msg)
		m.startSession(msg.Credentials)
		m.currentView = ViewList
		return m, m.sessionCmds()

	case setup.CancelMsg:
		if m.client == nil {
			return m, tea.Quit
		}
		m.currentView = m.previousView
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.stopSession()
			return m, tea.Quit
		}
		// Text inputs own every other key.
		if m.currentView == ViewCommand || m.currentView == ViewSetup {
			break
		}

		switch {
		case key.Matches(msg, m.keys.Quit):
			if m.currentView == ViewList {
				m.stopSession()
				return m, tea.Quit
			}

		case key.Matches(msg, m.keys.Help):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}
			m.previousView = m.currentView
			m.currentView = ViewHelp
			return m, nil

		case key.Matches(msg, m.keys.Command):
			m.previousView = m.currentView
			m.currentView = ViewCommand
			return m, m.commandView.Focus()

		case key.Matches(msg, m.keys.Back):
			if m.currentView == ViewHelp {
				m.currentView = m.previousView
				return m, nil
			}

		case key.Matches(msg, m.keys.Dismiss):
			m.toast = nil
			return m, nil

		case key.Matches(msg, m.keys.Reconnect):
			if m.currentView == ViewList {
				return m, m.reconnect()
			}

		case key.Matches(msg, m.keys.Refresh):
			if m.currentView == ViewList {
				return m, m.refresh()
			}
		}
	}

	// Delegate to active sub-view
	return m.updateActiveView(msg)
}

// handlePump applies one message drained from the pump and listens for the
// next.
func (m Model) handlePump(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch msg := msg.(type) {
	case appsync.NotificationMsg:
		cmd = m.applyPush(msg.Notification)

	case appsync.StatusMsg:
		m.status = msg.Status
		switch {
		case api.IsAuthError(msg.Status.Err):
			m.authErrorMessage = authHint
		case msg.Status.State == stream.StateOpen:
			m.authErrorMessage = ""
		}
	}
	return m, tea.Batch(cmd, m.listen())
}

// updateActiveView dispatches the message to the currently active view.
func (m Model) updateActiveView(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch m.currentView {
	case ViewList:
		m.list, cmd = m.list.Update(msg)
		if _, ok := msg.(tea.KeyMsg); ok {
			return m, tea.Batch(cmd, m.maybeLoadMore())
		}
	case ViewDetail:
		m.detail, cmd = m.detail.Update(msg)
	case ViewHelp:
		m.helpView, cmd = m.helpView.Update(msg)
	case ViewCommand:
		m.commandView, cmd = m.commandView.Update(msg)
	case ViewSetup:
		m.setupView, cmd = m.setupView.Update(msg)
	}

	return m, cmd
}

// openSetup shows a fresh setup form prefilled with the current URL.
func (m *Model) openSetup() tea.Cmd {
	m.currentView = ViewSetup
	m.setupView = setup.New(
		m.cfg.Server.BaseURL,
		m.validate,
		m.layout.ContentWidth(),
		m.layout.ContentHeight(),
	)
	return m.setupView.Init()
}

// showToast pops n in the corner and schedules its removal.
func (m *Model) showToast(n model.Notification) tea.Cmd {
	secs := m.cfg.Display.ToastSeconds
	if secs <= 0 {
		return nil
	}
	m.toastSeq++
	m.toast = &n
	seq := m.toastSeq
	return tea.Tick(time.Duration(secs)*time.Second, func(time.Time) tea.Msg {
		return toastExpiredMsg{seq: seq}
	})
}

// View renders the full terminal UI using the layout manager.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	chrome := ui.Chrome{
		Title:      "Notifications",
		Connection: m.connectionLabel(),
		Hints:      m.keyHints(),
	}
	if m.feed != nil {
		chrome.Unread = m.feed.Unread()
	}
	content := m.renderContent()
	if m.currentView == ViewList || m.currentView == ViewDetail {
		content = m.layout.Overlay(content, m.renderToast())
	}
	return m.layout.Render(chrome, content)
}

// renderContent returns the rendered string for the current active view.
func (m Model) renderContent() string {
	switch m.currentView {
	case ViewList:
		return m.list.View()
	case ViewDetail:
		return m.detail.View()
	case ViewHelp:
		return m.helpView.View()
	case ViewCommand:
		return m.commandView.View()
	case ViewSetup:
		return m.setupView.View()
	default:
		return ""
	}
}

// renderToast draws the popup for the latest pushed notification.
func (m Model) renderToast() string {
	if m.toast == nil {
		return ""
	}
	width := min(48, m.layout.Width-2)
	title := feedlist.Item{Notification: *m.toast}.Title()
	body := feedlist.Item{Notification: *m.toast}.Description()
	return theme.ToastStyle.Width(width).Render(title + "\n" + theme.DimmedStyle.Render(body))
}

// connectionLabel returns a short string describing the push connection.
func (m Model) connectionLabel() string {
	if m.conn == nil {
		return theme.ConnectionStyle("offline").Render("not signed in")
	}
	switch m.status.State {
	case stream.StateOpen:
		return theme.ConnectionStyle("open").Render("live")
	case stream.StateConnecting:
		return theme.ConnectionStyle("connecting").Render("connecting")
	}
	if m.status.GaveUp || m.status.RetryIn == 0 {
		return theme.ConnectionStyle("offline").Render("offline")
	}
	return theme.ConnectionStyle("retrying").Render("reconnecting")
}

// keyHints returns the status bar text. Connection problems take priority
// over keyboard hints.
func (m Model) keyHints() string {
	switch m.currentView {
	case ViewHelp:
		return "? close help | esc back"
	case ViewCommand:
		return "enter execute | esc back"
	case ViewSetup:
		return "enter next | esc cancel"
	}

	if m.authErrorMessage != "" {
		return m.authErrorMessage
	}
	if m.conn != nil && m.status.State == stream.StateClosed {
		if m.status.GaveUp {
			return "cannot connect, press r to retry"
		}
		if m.status.RetryIn > 0 {
			return fmt.Sprintf("reconnecting in %s…", m.status.RetryIn.Round(100*time.Millisecond))
		}
	}

	if m.currentView == ViewDetail {
		return "esc back | j/k scroll | x dismiss"
	}
	return "q quit | ? help | enter open | g top | r reconnect | R refresh | : command"
}

// executeCommand handles a command string from the command palette.
func (m *Model) executeCommand(cmd string) tea.Cmd {
	switch cmd {
	case "reconnect":
		return m.reconnect()
	case "refresh":
		return m.refresh()
	case "top":
		m.currentView = ViewList
		m.list.Top()
		return nil
	case "read":
		n, ok := m.list.Selected()
		if !ok {
			return nil
		}
		return m.markRead(n)
	case "setup":
		m.previousView = m.currentView
		return m.openSetup()
	case "quit", "q":
		m.stopSession()
		return tea.Quit
	default:
		m.logger.Debug("unknown command", zap.String("command", cmd))
		return nil
	}
}
