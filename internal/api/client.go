package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nhle/novel-notify/internal/model"
)

// Cookie names used by the platform's session and CSRF middleware.
const (
	SessionCookie = "sessionid"
	CSRFCookie    = "csrftoken"
)

// AuthError indicates the platform rejected the session (401/403).
type AuthError struct {
	Status int
	Path   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%d) on %s: session expired or invalid", e.Status, e.Path)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// Credentials identify the logged-in user to the platform.
type Credentials struct {
	SessionID string
	CSRFToken string
}

// Client is a thin HTTP client for the platform's notification endpoints.
// It attaches the session cookie and CSRF headers the platform expects,
// retries HTTP 429 with exponential backoff, and throttles mark-read calls.
type Client struct {
	cfg          model.ServerConfig
	baseURL      string
	creds        Credentials
	httpClient   *http.Client
	streamClient *http.Client
	maxRetries   int
	markLimiter  *rate.Limiter
	logger       *zap.Logger
}

// NewClient creates a client for the platform described by cfg.
func NewClient(cfg model.ServerConfig, creds Credentials, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:     cfg,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		creds:   creds,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		// The push stream is long-lived; only the context bounds it.
		streamClient: &http.Client{},
		maxRetries:   3,
		markLimiter:  rate.NewLimiter(rate.Limit(5), 5),
		logger:       logger.Named("api"),
	}
}

// BaseURL returns the platform root URL without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Get performs an HTTP GET request and unmarshals the JSON response.
func (c *Client) Get(ctx context.Context, path string, result interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, result)
}

// Post performs an HTTP POST request with an optional JSON body and
// unmarshals the JSON response.
func (c *Client) Post(ctx context.Context, path string, body interface{}, result interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, result)
}

// setHeaders applies the headers every platform request needs.
func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if c.creds.CSRFToken != "" {
		req.Header.Set("X-CSRFToken", c.creds.CSRFToken)
		req.AddCookie(&http.Cookie{Name: CSRFCookie, Value: c.creds.CSRFToken})
	}
	if c.creds.SessionID != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: c.creds.SessionID})
	}
	// CSRF checks over HTTPS also compare the Referer against the host.
	req.Header.Set("Referer", c.baseURL+"/")
}

// do is the core HTTP method that builds the request, handles auth,
// rate limiting with exponential backoff, and JSON (de)serialization.
func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	body interface{},
	result interface{},
) error {
	url := c.baseURL + path

	var payload []byte
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		payload = data
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		c.setHeaders(req)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("executing request %s %s: %w", method, path, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			return fmt.Errorf("reading response body: %w", readErr)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			waitDuration := retryAfterDuration(resp, attempt)
			lastErr = fmt.Errorf("rate limited (429) on %s %s", method, path)
			c.logger.Debug("rate limited",
				zap.String("path", path),
				zap.Duration("wait", waitDuration),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitDuration):
				continue
			}
		}

		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return &AuthError{Status: resp.StatusCode, Path: path}
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return fmt.Errorf(
				"unexpected status %d on %s %s: %s",
				resp.StatusCode, method, path, truncate(string(respBody), 200),
			)
		}

		if result == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}

		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshaling response from %s %s: %w", method, path, err)
		}

		return nil
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", c.maxRetries, lastErr)
}

// retryAfterDuration reads the Retry-After header and computes a wait
// duration. Falls back to exponential backoff if the header is missing.
func retryAfterDuration(resp *http.Response, attempt int) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil {
			return time.Duration(seconds) * time.Second
		}
	}

	// Exponential backoff: 1s, 2s, 4s, ...
	backoff := time.Duration(1<<uint(attempt)) * time.Second
	if backoff > 30*time.Second {
		backoff = 30 * time.Second
	}
	return backoff
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
