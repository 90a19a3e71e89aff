package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/nhle/novel-notify/internal/model"
)

// ErrNotAcknowledged is returned when the platform answers a mutation with
// success=false.
var ErrNotAcknowledged = errors.New("request not acknowledged by server")

// LoadMore fetches one page of history starting offset records from the
// newest. A page with Success=false is returned as-is with HasMore=false so
// the caller treats history as exhausted.
func (c *Client) LoadMore(ctx context.Context, offset int) (*model.NotificationPage, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(c.cfg.PageSize))

	var page model.NotificationPage
	if err := c.Get(ctx, c.cfg.LoadMorePath+"?"+q.Encode(), &page); err != nil {
		return nil, fmt.Errorf("loading notifications at offset %d: %w", offset, err)
	}
	if !page.Success {
		page.HasMore = false
		page.Notifications = nil
	}
	return &page, nil
}

type ackResponse struct {
	Success bool `json:"success"`
}

// MarkRead persists the read flag for one notification. Calls are
// throttled so that holding the key down cannot flood the platform.
func (c *Client) MarkRead(ctx context.Context, id int64) error {
	if err := c.markLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("waiting for mark-read slot: %w", err)
	}

	var ack ackResponse
	path := fmt.Sprintf(c.cfg.MarkReadPath, id)
	if err := c.Post(ctx, path, nil, &ack); err != nil {
		return fmt.Errorf("marking notification %d read: %w", id, err)
	}
	if !ack.Success {
		return fmt.Errorf("marking notification %d read: %w", id, ErrNotAcknowledged)
	}
	return nil
}

// Ping sends the keep-alive request. The body is ignored.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.Post(ctx, c.cfg.PingPath, nil, nil); err != nil {
		return fmt.Errorf("keep-alive ping: %w", err)
	}
	return nil
}

// Dial opens the push stream. The returned body yields SSE frames until the
// server closes it or ctx is cancelled.
func (c *Client) Dial(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+c.cfg.StreamPath, nil)
	if err != nil {
		return nil, fmt.Errorf("creating stream request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("opening stream: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, &AuthError{Status: resp.StatusCode, Path: c.cfg.StreamPath}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("opening stream: unexpected status %d", resp.StatusCode)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "text/event-stream" {
		resp.Body.Close()
		return nil, fmt.Errorf("opening stream: unexpected content type %q", mediaType)
	}

	c.logger.Debug("stream response received", zap.String("path", c.cfg.StreamPath))
	return resp.Body, nil
}
