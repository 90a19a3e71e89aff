package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nhle/novel-notify/internal/model"
)

// TestSession is the session cookie value the fake platform accepts.
const TestSession = "test-session"

// TestCSRF is the CSRF token the fake platform accepts.
const TestCSRF = "test-csrf"

// Server is an in-process fake of the platform's notification endpoints.
// It keeps a reference log ordered newest first, which tests compare the
// client's feed against.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	log       []model.Notification
	nextID    int64
	streams   map[chan []byte]struct{}
	pings     int
	dials     int
	markReads []int64

	failLoadMore bool
	rejectStream bool
}

// NewServer starts a fake platform and closes it when the test finishes.
func NewServer(t *testing.T) *Server {
	t.Helper()

	s := &Server{
		nextID:  1,
		streams: make(map[chan []byte]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+model.DefaultStreamPath, s.handleStream)
	mux.HandleFunc("POST "+model.DefaultPingPath, s.handlePing)
	mux.HandleFunc("GET "+model.DefaultLoadMorePath, s.handleLoadMore)
	mux.HandleFunc("POST /interactions/ajax/notifications/{id}/mark_read/", s.handleMarkRead)

	s.Server = httptest.NewServer(s.requireSession(mux))
	t.Cleanup(func() {
		s.DropStreams()
		s.Close()
	})
	return s
}

// Config returns a server config pointing at the fake platform.
func (s *Server) Config() model.ServerConfig {
	cfg := model.DefaultAppConfig().Server
	cfg.BaseURL = s.URL
	cfg.Timeout = 5 * time.Second
	return cfg
}

// Seed appends n older notifications to the log, all unread.
func (s *Server) Seed(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := 0; i < n; i++ {
		rec := s.newRecordLocked(fmt.Sprintf("seed %d", s.nextID))
		// Seeded records are older than everything already present.
		s.log = append(s.log, rec)
	}
}

// Publish adds a notification at the head of the log and pushes it to every
// open stream.
func (s *Server) Publish(title string) model.Notification {
	s.mu.Lock()
	rec := s.newRecordLocked(title)
	s.log = append([]model.Notification{rec}, s.log...)
	frame := mustFrame(model.EventNotification, rec)
	for ch := range s.streams {
		ch <- frame
	}
	s.mu.Unlock()
	return rec
}

// PushRaw sends an arbitrary data payload to every open stream.
func (s *Server) PushRaw(data string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.streams {
		ch <- []byte("data: " + data + "\n\n")
	}
}

// DropStreams closes every open stream from the server side.
func (s *Server) DropStreams() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.streams {
		close(ch)
		delete(s.streams, ch)
	}
}

// SetFailLoadMore makes the history endpoint answer 500 while fail is true.
func (s *Server) SetFailLoadMore(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLoadMore = fail
}

// SetRejectStream makes the stream endpoint answer 503 while reject is true.
func (s *Server) SetRejectStream(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectStream = reject
}

// Log returns a copy of the reference log, newest first.
func (s *Server) Log() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Notification, len(s.log))
	copy(out, s.log)
	return out
}

// Pings returns how many keep-alive requests were received.
func (s *Server) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// Dials returns how many stream connections were accepted.
func (s *Server) Dials() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

// OpenStreams returns the number of currently connected streams.
func (s *Server) OpenStreams() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// MarkReads returns the ids received by the mark-read endpoint, in order.
func (s *Server) MarkReads() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int64, len(s.markReads))
	copy(out, s.markReads)
	return out
}

func (s *Server) newRecordLocked(title string) model.Notification {
	rec := model.Notification{
		ID:        s.nextID,
		Title:     title,
		Content:   "content for " + title,
		Type:      "system",
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	s.nextID++
	return rec
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie("sessionid")
		if err != nil || c.Value != TestSession {
			http.Error(w, "login required", http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodPost && r.Header.Get("X-CSRFToken") != TestCSRF {
			http.Error(w, "csrf failed", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	reject := s.rejectStream
	s.dials++
	s.mu.Unlock()
	if reject {
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch := make(chan []byte, 128)
	s.mu.Lock()
	s.streams[ch] = struct{}{}
	s.mu.Unlock()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(mustFrame(model.EventConnection, map[string]string{"status": "connected"}))
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			s.mu.Lock()
			if _, open := s.streams[ch]; open {
				delete(s.streams, ch)
			}
			s.mu.Unlock()
			return
		case frame, open := <-ch:
			if !open {
				return
			}
			_, _ = w.Write(frame)
			flusher.Flush()
		}
	}
}

func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	s.pings++
	s.mu.Unlock()
	writeJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleLoadMore(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failLoadMore {
		http.Error(w, "boom", http.StatusInternalServerError)
		return
	}

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 10
	}

	total := len(s.log)
	page := []model.Notification{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = append(page, s.log[offset:end]...)
	}

	writeJSON(w, model.NotificationPage{
		Success:       true,
		Notifications: page,
		HasMore:       total > offset+limit,
	})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.log {
		if s.log[i].ID == id {
			s.log[i].IsRead = true
			s.markReads = append(s.markReads, id)
			writeJSON(w, map[string]any{"success": true, "id": id})
			return
		}
	}
	http.NotFound(w, r)
}

func mustFrame(eventType string, data any) []byte {
	payload, err := json.Marshal(map[string]any{"type": eventType, "data": data})
	if err != nil {
		panic(err)
	}
	return []byte("data: " + string(payload) + "\n\n")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
