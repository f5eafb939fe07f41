// Package client talks to the steamkeeper daemon's admin surface.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/imroc/req/v3"
)

// Client provides HTTP client functionality to communicate with the steamkeeper daemon
type Client struct {
	baseURL string
	http    *req.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	// BaseURL is the daemon address including its base path, e.g.
	// http://127.0.0.1:8085/admin.
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger // Optional logger for client operations

	// CACert trusts a self-signed daemon certificate.
	CACert   string
	Insecure bool
}

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8085",
		Timeout: 10 * time.Second,
	}
}

func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	hc := req.C().SetTimeout(config.Timeout).SetUserAgent("steamkeeper-cli/1.0")
	if config.CACert != "" {
		hc.SetRootCertsFromFile(config.CACert)
	}
	if config.Insecure {
		hc.EnableInsecureSkipVerify()
	}
	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		http:    hc,
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Health(ctx)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	return h, c.get(ctx, "/healthz", nil, &h)
}

func (c *Client) Queue(ctx context.Context) (Queue, error) {
	var q Queue
	return q, c.get(ctx, "/api/queue", nil, &q)
}

func (c *Client) Profiles(ctx context.Context) ([]Profile, error) {
	var ps []Profile
	return ps, c.get(ctx, "/api/profiles", nil, &ps)
}

// Logs returns one page of retained entries, newest first.
func (c *Client) Logs(ctx context.Context, page, size int) (LogPage, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	var lp LogPage
	return lp, c.get(ctx, "/api/logs", q, &lp)
}

// LogsBySource returns the latest n entries of one source.
func (c *Client) LogsBySource(ctx context.Context, source string, n int) (LogPage, error) {
	q := url.Values{}
	q.Set("source", source)
	q.Set("size", strconv.Itoa(n))
	var lp LogPage
	return lp, c.get(ctx, "/api/logs", q, &lp)
}

// LogDay returns the persisted lines of one day (YYYY-MM-DD).
func (c *Client) LogDay(ctx context.Context, day string) (LogFile, error) {
	q := url.Values{}
	q.Set("day", day)
	var lf LogFile
	return lf, c.get(ctx, "/api/logs", q, &lf)
}

// Enqueue queues an update of the profile's app, or of appID when set.
func (c *Client) Enqueue(ctx context.Context, profileID int, appID string) (Job, error) {
	var j Job
	return j, c.send(ctx, http.MethodPost, "/api/queue", nil, enqueueRequest{ProfileID: profileID, AppID: appID}, &j)
}

// Dequeue removes one pending job. A missing or started job is a 404.
func (c *Client) Dequeue(ctx context.Context, id string) error {
	return c.send(ctx, http.MethodDelete, "/api/queue/"+url.PathEscape(id), nil, nil, &okResponse{})
}

// ClearQueue removes every pending job and returns how many were removed.
func (c *Client) ClearQueue(ctx context.Context) (int, error) {
	var r clearResponse
	return r.Removed, c.send(ctx, http.MethodDelete, "/api/queue", nil, nil, &r)
}

// CancelQueue stops the worker and moves every pending job to history.
func (c *Client) CancelQueue(ctx context.Context) error {
	return c.send(ctx, http.MethodPost, "/api/queue/cancel", nil, nil, &okResponse{})
}

// StopAll cancels the queue and stops every profile.
func (c *Client) StopAll(ctx context.Context) ([]StopResult, error) {
	var out []StopResult
	return out, c.send(ctx, http.MethodPost, "/api/stop-all", nil, nil, &out)
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.send(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) send(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var apiErr ErrorResponse
	r := c.http.R().SetContext(ctx).SetSuccessResult(out).SetErrorResult(&apiErr)
	if body != nil {
		r.SetBodyJsonMarshal(body)
	}
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	resp, err := r.Send(method, u)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	if resp.IsErrorState() {
		msg := apiErr.Error
		if msg == "" {
			msg = resp.Status
		}
		return &StatusError{Code: resp.StatusCode, Message: msg}
	}
	return nil
}

// StatusError is a non-2xx answer from the daemon.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 from the daemon.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == 404
}
