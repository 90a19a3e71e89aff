package app

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/nhle/novel-notify/internal/api"
	"github.com/nhle/novel-notify/internal/feed"
	"github.com/nhle/novel-notify/internal/model"
	"github.com/nhle/novel-notify/internal/ui/feedlist"
)

// pageLoadedMsg carries the result of one history fetch.
type pageLoadedMsg struct {
	req  feed.Request
	page *model.NotificationPage
	err  error
}

// markReadResultMsg is sent after a mark-read request finishes.
type markReadResultMsg struct {
	id  int64
	err error
}

// maybeLoadMore starts a history fetch when the cursor is near the end of
// the list and no fetch is running.
func (m *Model) maybeLoadMore() tea.Cmd {
	if m.feed == nil || m.client == nil {
		return nil
	}
	if !m.feed.WantsMore(m.list.Index(), m.cfg.Feed.LoadThreshold) {
		return nil
	}
	req, err := m.feed.BeginLoad()
	if err != nil {
		return nil
	}
	m.list.SetFooter(feedlist.FooterLoading)

	client := m.client
	return func() tea.Msg {
		page, err := client.LoadMore(context.Background(), req.Offset)
		return pageLoadedMsg{req: req, page: page, err: err}
	}
}

// applyPage merges a fetched page into the feed and the list.
func (m *Model) applyPage(msg pageLoadedMsg) tea.Cmd {
	if m.feed == nil {
		return nil
	}

	if msg.err != nil {
		if msg.req.Generation != m.feed.Generation() {
			return nil
		}
		m.feed.FailLoad(msg.req)
		m.list.SetFooter(feedlist.FooterFailed)
		if api.IsAuthError(msg.err) {
			m.authErrorMessage = authHint
		}
		m.logger.Warn("history fetch failed",
			zap.Int("offset", msg.req.Offset),
			zap.Error(msg.err),
		)
		return nil
	}

	added, err := m.feed.AppendOlder(msg.req, msg.page.Notifications, msg.page.HasMore)
	if errors.Is(err, feed.ErrStaleResponse) {
		m.logger.Debug("dropping stale page", zap.Int("offset", msg.req.Offset))
		return nil
	}

	cmd := m.list.Append(added)
	m.refreshFooter()
	return tea.Batch(cmd, m.maybeLoadMore())
}

// refreshFooter derives the list footer from the feed state.
func (m *Model) refreshFooter() {
	switch {
	case m.feed.Loading():
		m.list.SetFooter(feedlist.FooterLoading)
	case m.feed.Len() >= m.feed.Capacity():
		m.list.SetFooter(feedlist.FooterFull)
	case !m.feed.HasMore() && m.feed.Len() > 0:
		m.list.SetFooter(feedlist.FooterEnd)
	default:
		m.list.SetFooter(feedlist.FooterNone)
	}
}

// applyPush prepends a pushed notification and pops the toast.
func (m *Model) applyPush(n model.Notification) tea.Cmd {
	var cmds []tea.Cmd
	if m.feed != nil {
		if evicted, ok := m.feed.PrependNew(n); ok {
			cmds = append(cmds, m.list.Prepend(m.feed.At(0), evicted != nil))
			if evicted != nil {
				m.logger.Debug("evicted notification", zap.Int64("id", evicted.ID))
			}
			m.refreshFooter()
		}
	}
	cmds = append(cmds, m.showToast(n))
	return tea.Batch(cmds...)
}

// markRead flags the notification read locally and persists it in the
// background. The local flag is not rolled back on failure.
func (m *Model) markRead(n model.Notification) tea.Cmd {
	if m.feed == nil {
		return nil
	}
	idx, changed := m.feed.MarkRead(n.ID)
	if !changed {
		return nil
	}

	client := m.client
	id := n.ID
	return tea.Batch(
		m.list.Replace(idx, m.feed.At(idx)),
		func() tea.Msg {
			return markReadResultMsg{id: id, err: client.MarkRead(context.Background(), id)}
		},
	)
}

// refresh drops the list and reloads history from the newest record.
// A fetch still in flight for the old list is rejected when it lands.
func (m *Model) refresh() tea.Cmd {
	if m.feed == nil {
		return nil
	}
	m.feed.Reset()
	cmd := m.list.Clear()
	return tea.Batch(cmd, m.maybeLoadMore())
}
