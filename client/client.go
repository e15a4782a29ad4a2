// Package client talks to the ytmp3 HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/teranos/ytmp3/errors"
	"github.com/teranos/ytmp3/logger"
	"github.com/teranos/ytmp3/pulse/async"
	"github.com/teranos/ytmp3/server"
	"github.com/teranos/ytmp3/version"
)

// maxErrorBody caps how much of an error response is read
const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Message    string // "error" field of the body, or the status text
	Reason     string // validation reason code, 400 only
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("api %d: %s (%s)", e.StatusCode, e.Message, e.Reason)
	}
	return fmt.Sprintf("api %d: %s", e.StatusCode, e.Message)
}

// AsAPIError extracts an APIError from err's chain
func AsAPIError(err error) (*APIError, bool) {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// IsServerError reports whether err is a 5xx response or a transport failure
func IsServerError(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := AsAPIError(err); ok {
		return ae.StatusCode >= 500
	}
	return errors.Is(err, errors.ErrServiceUnavailable)
}

// Client is an HTTP client for the submission and status API
type Client struct {
	baseURL *url.URL
	http    *http.Client
	dialer  *websocket.Dialer
	logger  *zap.SugaredLogger
}

// New creates a client for the API at baseURL
func New(baseURL string, timeout time.Duration, log *zap.SugaredLogger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid API URL %q", baseURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.WithHint(
			errors.Newf("unsupported API URL scheme %q", u.Scheme),
			"use an http:// or https:// URL, e.g. http://localhost:8877")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		dialer:  &websocket.Dialer{HandshakeTimeout: timeout},
		logger:  log.Named("client"),
	}, nil
}

// Submit asks the API to admit key and returns the resulting job
func (c *Client) Submit(ctx context.Context, key string) (*async.Job, error) {
	var job async.Job
	if err := c.do(ctx, http.MethodPost, "/api/mp3/"+url.PathEscape(key), &job); err != nil {
		return nil, errors.Wrapf(err, "submit %s", key)
	}
	return &job, nil
}

// GetJob returns the current record for key. A missing job is ErrNotFound.
func (c *Client) GetJob(ctx context.Context, key string) (*async.Job, error) {
	var job async.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(key), &job); err != nil {
		return nil, errors.Wrapf(err, "status of %s", key)
	}
	return &job, nil
}

// Health fetches the server health report
func (c *Client) Health(ctx context.Context) (*server.HealthResponse, error) {
	var h server.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/api/health", &h); err != nil {
		return nil, errors.Wrap(err, "health")
	}
	return &h, nil
}

// Watch blocks until key reaches a terminal state, using the server's
// WebSocket stream. The returned job is nil only when err is set.
func (c *Client) Watch(ctx context.Context, key string) (*async.Job, error) {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/watch"
	u.RawQuery = url.Values{"key": {key}}.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, errors.Wrapf(decodeError(resp), "watch %s", key)
		}
		return nil, errors.Wrapf(markUnavailable(err), "watch %s", key)
	}
	defer conn.Close()

	// Unblock the read when ctx ends.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var msg server.WatchMessage
	if err := conn.ReadJSON(&msg); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.Wrapf(markUnavailable(err), "watch %s", key)
	}
	if msg.Error == server.NotFoundMessage {
		return nil, errors.NewNotFoundError("watch %s: job", key)
	}
	if msg.Error != "" {
		return nil, errors.Newf("watch %s: %s", key, msg.Error)
	}
	if msg.Job == nil {
		return nil, errors.Newf("watch %s: empty result", key)
	}
	return msg.Job, nil
}

func (c *Client) do(ctx context.Context, method, path string, out interface{}) error {
	u := c.baseURL.String() + path
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.Get().UserAgent())
	if id, ok := logger.RequestIDFromContext(ctx); ok {
		req.Header.Set(server.RequestIDHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return markUnavailable(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	c.logger.Debugw("API call", logger.FieldMethod, method, logger.FieldPath, path, logger.FieldStatus, resp.StatusCode)
	return nil
}

// decodeError turns a non-2xx response into a marked APIError
func decodeError(resp *http.Response) error {
	ae := &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er server.ErrorResponse
	if json.Unmarshal(body, &er) == nil && er.Error != "" {
		ae.Message = er.Error
		ae.Reason = er.Reason
	}

	var err error = ae
	switch {
	case resp.StatusCode == http.StatusNotFound:
		err = errors.Mark(err, errors.ErrNotFound)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		err = errors.Mark(err, errors.ErrInvalidRequest)
	case resp.StatusCode >= 500:
		err = errors.MarkTransient(errors.Mark(err, errors.ErrServiceUnavailable))
	}
	return errors.WithStack(err)
}

func markUnavailable(err error) error {
	return errors.MarkTransient(errors.Mark(err, errors.ErrServiceUnavailable))
}
