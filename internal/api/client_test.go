package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nhle/novel-notify/internal/model"
	"github.com/nhle/novel-notify/internal/testutil"
)

func newTestClient(t *testing.T, srv *testutil.Server) *Client {
	t.Helper()
	return NewClient(srv.Config(), Credentials{
		SessionID: testutil.TestSession,
		CSRFToken: testutil.TestCSRF,
	}, zaptest.NewLogger(t))
}

func TestLoadMore_PagesThroughLog(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Seed(25)
	c := newTestClient(t, srv)
	ctx := context.Background()

	first, err := c.LoadMore(ctx, 0)
	require.NoError(t, err)
	assert.True(t, first.Success)
	assert.Len(t, first.Notifications, 10)
	assert.True(t, first.HasMore)

	last, err := c.LoadMore(ctx, 20)
	require.NoError(t, err)
	assert.Len(t, last.Notifications, 5)
	assert.False(t, last.HasMore)

	log := srv.Log()
	assert.Equal(t, log[20].ID, last.Notifications[0].ID)
}

func TestLoadMore_ServerErrorIsReturned(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.SetFailLoadMore(true)
	c := newTestClient(t, srv)

	_, err := c.LoadMore(context.Background(), 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 500")
}

func TestLoadMore_UnsuccessfulPageEndsHistory(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": false, "notifications": [{"id": 1}], "has_more": true}`))
	}))
	defer ts.Close()

	cfg := model.DefaultAppConfig().Server
	cfg.BaseURL = ts.URL
	c := NewClient(cfg, Credentials{}, nil)

	page, err := c.LoadMore(context.Background(), 0)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Empty(t, page.Notifications)
}

func TestMarkRead_SendsCSRFAndPersists(t *testing.T) {
	srv := testutil.NewServer(t)
	srv.Seed(3)
	c := newTestClient(t, srv)
	id := srv.Log()[1].ID

	require.NoError(t, c.MarkRead(context.Background(), id))
	assert.Equal(t, []int64{id}, srv.MarkReads())
	assert.True(t, srv.Log()[1].IsRead)
}

func TestMarkRead_UnknownIDFails(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t, srv)

	err := c.MarkRead(context.Background(), 999)
	assert.Error(t, err)
}

func TestAuthError_OnMissingSession(t *testing.T) {
	srv := testutil.NewServer(t)
	c := NewClient(srv.Config(), Credentials{}, zaptest.NewLogger(t))

	_, err := c.LoadMore(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, IsAuthError(err))

	_, err = c.Dial(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestPing_CountsOnServer(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t, srv)

	require.NoError(t, c.Ping(context.Background()))
	require.NoError(t, c.Ping(context.Background()))
	assert.Equal(t, 2, srv.Pings())
}

func TestDial_ReceivesGreetingFrame(t *testing.T) {
	srv := testutil.NewServer(t)
	c := newTestClient(t, srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	body, err := c.Dial(ctx)
	require.NoError(t, err)
	defer body.Close()

	line, err := bufio.NewReader(body).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "))
	assert.Contains(t, line, `"connection"`)
}

func TestDial_RejectsNonStreamResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html>login</html>"))
	}))
	defer ts.Close()

	cfg := model.DefaultAppConfig().Server
	cfg.BaseURL = ts.URL
	c := NewClient(cfg, Credentials{}, nil)

	_, err := c.Dial(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "content type")
}

func TestDo_RetriesOnTooManyRequests(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "notifications": [], "has_more": false}`))
	}))
	defer ts.Close()

	cfg := model.DefaultAppConfig().Server
	cfg.BaseURL = ts.URL
	c := NewClient(cfg, Credentials{}, nil)

	page, err := c.LoadMore(context.Background(), 0)
	require.NoError(t, err)
	assert.True(t, page.Success)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSetHeaders(t *testing.T) {
	cfg := model.DefaultAppConfig().Server
	cfg.BaseURL = "https://novels.example.com/"
	c := NewClient(cfg, Credentials{SessionID: "s", CSRFToken: "t"}, nil)

	req := httptest.NewRequest(http.MethodPost, "/x", nil)
	c.setHeaders(req)

	assert.Equal(t, "XMLHttpRequest", req.Header.Get("X-Requested-With"))
	assert.Equal(t, "t", req.Header.Get("X-CSRFToken"))
	assert.Equal(t, "https://novels.example.com/", req.Header.Get("Referer"))
	assert.NotEmpty(t, req.Header.Get("X-Request-ID"))

	session, err := req.Cookie(SessionCookie)
	require.NoError(t, err)
	assert.Equal(t, "s", session.Value)
}
