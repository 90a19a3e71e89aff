package app

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/novel-notify/internal/api"
	"github.com/nhle/novel-notify/internal/feed"
	"github.com/nhle/novel-notify/internal/model"
	"github.com/nhle/novel-notify/internal/stream"
	appsync "github.com/nhle/novel-notify/internal/sync"
	"github.com/nhle/novel-notify/internal/ui/setup"
)

// pumpMsg wraps a message drained from the pump of one session. Messages
// from a session that has since been replaced are dropped.
type pumpMsg struct {
	session uint64
	msg     tea.Msg
}

// fetchPageMsg asks the model to start a history fetch if one is wanted.
type fetchPageMsg struct{}

// startSession wires a client, connection and empty feed for creds. Any
// previous session is shut down first.
func (m *Model) startSession(creds api.Credentials) {
	m.stopSession()

	m.session++
	m.creds = creds
	m.client = api.NewClient(m.cfg.Server, creds, m.logger)
	m.pump = appsync.NewPump(0)

	opts := stream.OptionsFromConfig(m.cfg.Stream)
	opts.OnNotification = m.pump.Notify
	opts.OnStatus = m.pump.SetStatus
	opts.Logger = m.logger
	opts.Scheduler = m.scheduler
	m.conn = stream.New(m.client, m.client, opts)

	m.feed = feed.New(feed.Options{
		Capacity: m.cfg.Feed.Capacity,
		Disabled: m.cfg.Feed.Disabled,
	})
	m.status = m.conn.Status()
	m.authErrorMessage = ""
	m.list.Clear()

	m.logger.Info("session started",
		zap.String("base_url", m.cfg.Server.BaseURL),
		zap.Uint64("session", m.session),
	)
}

// stopSession releases the current pump and closes the connection. The pump
// is stopped first so the connection's final status cannot block on it.
func (m *Model) stopSession() {
	if m.pump != nil {
		m.pump.Stop()
	}
	if m.conn != nil {
		m.conn.Disconnect()
	}
}

// sessionCmds returns the commands that bring a fresh session to life:
// listen on the pump, open the stream and fetch the first page.
func (m Model) sessionCmds() tea.Cmd {
	if m.conn == nil {
		return nil
	}
	return tea.Batch(
		m.listen(),
		m.connect(),
		func() tea.Msg { return fetchPageMsg{} },
	)
}

// listen returns a command that waits for the next pump message of the
// current session.
func (m Model) listen() tea.Cmd {
	if m.pump == nil {
		return nil
	}
	session := m.session
	wait := m.pump.WaitForNext()
	return func() tea.Msg {
		msg := wait()
		if msg == nil {
			return nil
		}
		return pumpMsg{session: session, msg: msg}
	}
}

// connect opens the stream off the event loop; status changes come back
// through the pump.
func (m Model) connect() tea.Cmd {
	conn := m.conn
	if conn == nil {
		return nil
	}
	return func() tea.Msg {
		conn.Connect()
		return nil
	}
}

// reconnect is the "network is back" trigger.
func (m Model) reconnect() tea.Cmd {
	conn := m.conn
	if conn == nil {
		return nil
	}
	return func() tea.Msg {
		conn.Online()
		return nil
	}
}

// focused is the visible + focus trigger pair fired when the terminal
// regains focus.
func (m Model) focused() tea.Cmd {
	conn := m.conn
	if conn == nil {
		return nil
	}
	return func() tea.Msg {
		conn.Visible()
		conn.Focus()
		return nil
	}
}

// saveSetup persists the accepted URL and credentials. Failures are logged;
// the session still starts with the in-memory values.
func (m *Model) saveSetup(msg setup.DoneMsg) {
	m.cfg.Server.BaseURL = msg.BaseURL

	if m.store != nil {
		if err := m.store.Save(msg.BaseURL, msg.Credentials); err != nil {
			m.logger.Error("saving credentials", zap.Error(err))
		}
	}
	if m.configPath != "" {
		if err := model.SaveConfig(m.configPath, &m.cfg); err != nil {
			m.logger.Error("saving config", zap.Error(err))
		}
	}
}

// pingValidator checks a session by sending one keep-alive request.
func pingValidator(cfg model.ServerConfig, logger *zap.Logger) setup.Validator {
	return func(ctx context.Context, baseURL string, creds api.Credentials) error {
		sc := cfg
		sc.BaseURL = baseURL
		if sc.Timeout <= 0 {
			sc.Timeout = 10 * time.Second
		}
		return api.NewClient(sc, creds, logger).Ping(ctx)
	}
}
