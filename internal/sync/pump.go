// Package sync bridges the push connection's goroutines into the Bubble
// Tea event loop.
package sync

import (
	gosync "sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/nhle/novel-notify/internal/model"
	"github.com/nhle/novel-notify/internal/stream"
)

// NotificationMsg is a tea.Msg carrying one pushed notification.
type NotificationMsg struct {
	Notification model.Notification
}

// StatusMsg is a tea.Msg carrying a connection status change.
type StatusMsg struct {
	Status stream.Status
}

// Pump queues messages produced off the event loop and hands them to the
// runtime one at a time, in the order they were produced.
type Pump struct {
	resultCh chan tea.Msg
	stopCh   chan struct{}
	mu       gosync.Mutex
	stopped  bool
}

// NewPump creates a pump with room for size pending messages.
func NewPump(size int) *Pump {
	if size <= 0 {
		size = 64
	}
	return &Pump{
		resultCh: make(chan tea.Msg, size),
		stopCh:   make(chan struct{}),
	}
}

// Notify queues a pushed notification. It blocks while the queue is full so
// no notification is lost, and returns immediately once the pump is stopped.
func (p *Pump) Notify(n model.Notification) {
	p.send(NotificationMsg{Notification: n})
}

// SetStatus queues a connection status change.
func (p *Pump) SetStatus(st stream.Status) {
	p.send(StatusMsg{Status: st})
}

func (p *Pump) send(msg tea.Msg) {
	select {
	case p.resultCh <- msg:
	case <-p.stopCh:
	}
}

// Stop releases any sender blocked on a full queue. Pending messages are
// discarded.
func (p *Pump) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return
	}
	close(p.stopCh)
	p.stopped = true
}

// WaitForNext returns a tea.Cmd that waits for the next queued message.
// The receiver must call it again after handling each message to keep
// listening.
func (p *Pump) WaitForNext() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-p.resultCh:
			return msg
		case <-p.stopCh:
			return nil
		}
	}
}
