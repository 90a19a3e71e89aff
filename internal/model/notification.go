package model

import (
	"strings"
	"time"
	"unicode"

	"github.com/charmbracelet/x/ansi"
)

// Notification is a single entry in the user's notification feed. The same
// record can arrive through the push stream or the paginated history
// endpoint; ID is stable across both.
type Notification struct {
	// ID is the server-assigned identifier.
	ID int64 `json:"id"`

	// Title is the headline. Untrusted: sanitise before rendering.
	Title string `json:"title"`

	// Content is the body text. Untrusted: sanitise before rendering.
	Content string `json:"content"`

	// Type is the server-side notification category (push only).
	Type string `json:"notification_type,omitempty"`

	// IsRead reports whether the user has marked this notification read.
	IsRead bool `json:"is_read"`

	// CreatedAt is an ISO-8601 timestamp or an already formatted string.
	CreatedAt string `json:"created_at"`

	// RedirectURL points at the page the notification is about (push only).
	RedirectURL string `json:"redirect_url,omitempty"`
}

// Time parses CreatedAt. ok is false when the server sent a display string
// rather than a timestamp.
func (n Notification) Time() (time.Time, bool) {
	if n.CreatedAt == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999"} {
		if t, err := time.Parse(layout, n.CreatedAt); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// SafeTitle returns Title with terminal escapes and control characters removed.
func (n Notification) SafeTitle() string { return Sanitize(n.Title) }

// SafeContent returns Content with terminal escapes and control characters removed.
func (n Notification) SafeContent() string { return Sanitize(n.Content) }

// Sanitize strips ANSI escape sequences and control characters from s so
// that server-provided text cannot drive the terminal. Newlines and tabs
// collapse to single spaces.
func Sanitize(s string) string {
	s = ansi.Strip(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			return ' '
		case unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
