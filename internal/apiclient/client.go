// Package apiclient is a typed client for the agm HTTP control surface.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/antonholmquist/jason"

	v1 "github.com/tphakala/agm/internal/api/v1"
	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/session"
)

const (
	// ComponentAPIClient tags errors raised by the client
	ComponentAPIClient = "apiclient"

	// DefaultTimeout applies when the request context has no deadline
	DefaultTimeout = 10 * time.Second

	defaultUserAgent = "agm-cli"
	maxErrorBody     = 64 * 1024
)

// Config holds the client settings. Zero values take defaults.
type Config struct {
	// BaseURL of the service, e.g. http://127.0.0.1:8470
	BaseURL        string
	ClientName     string
	UserAgent      string
	DefaultTimeout time.Duration
}

// Client talks to /api/v1. It is safe for concurrent use.
type Client struct {
	http           *http.Client
	base           string
	clientName     string
	userAgent      string
	defaultTimeout time.Duration
}

// BaseURLFromListen turns a listen address into a base URL. Wildcard hosts
// are dialled on loopback.
func BaseURLFromListen(listen string) string {
	if strings.Contains(listen, "://") {
		return strings.TrimRight(listen, "/")
	}
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// New creates a client
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.Newf("api client needs a base URL").
			Component(ComponentAPIClient).
			Category(errors.CategoryConfiguration).
			Build()
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		ResponseHeaderTimeout: cfg.DefaultTimeout,
	}
	return &Client{
		http:           &http.Client{Transport: transport},
		base:           strings.TrimRight(cfg.BaseURL, "/") + "/api/v1",
		clientName:     cfg.ClientName,
		userAgent:      cfg.UserAgent,
		defaultTimeout: cfg.DefaultTimeout,
	}, nil
}

// Close drops idle connections
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

// Health checks that the service answers
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Devices lists the device catalog
func (c *Client) Devices(ctx context.Context) ([]v1.DeviceInfo, error) {
	var out []v1.DeviceInfo
	err := c.do(ctx, http.MethodGet, "/devices", nil, &out)
	return out, err
}

// Sessions lists every session of the pool
func (c *Client) Sessions(ctx context.Context) ([]session.Info, error) {
	var out []session.Info
	err := c.do(ctx, http.MethodGet, "/sessions", nil, &out)
	return out, err
}

// Session returns one session
func (c *Client) Session(ctx context.Context, id uint32) (session.Info, error) {
	var out session.Info
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/sessions/%d", id), nil, &out)
	return out, err
}

// Open opens a session, creating it on first use
func (c *Client) Open(ctx context.Context, id uint32, req v1.OpenRequest) (session.Info, error) {
	var out session.Info
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/open", id), req, &out)
	return out, err
}

// Action runs a lifecycle action such as "start" or "close" on a session
func (c *Client) Action(ctx context.Context, id uint32, action string) (session.Info, error) {
	var res v1.ActionResult
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/sessions/%d/%s", id, action), nil, &res)
	return res.Session, err
}

// CloseClient closes every session the named client opened
func (c *Client) CloseClient(ctx context.Context, client string) (v1.ClientCloseResult, error) {
	var out v1.ClientCloseResult
	err := c.do(ctx, http.MethodDelete, "/clients/"+client, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.defaultTimeout)
		defer cancel()
	}

	body := io.Reader(http.NoBody)
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return c.requestError(err, method, path)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return c.requestError(err, method, path)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.clientName != "" {
		req.Header.Set(v1.ClientHeader, c.clientName)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.New(err).
			Component(ComponentAPIClient).
			Category(errors.CategoryNetwork).
			Context("method", method).
			Context("path", path).
			Build()
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return responseError(resp, method, path)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return c.requestError(fmt.Errorf("decoding response: %w", err), method, path)
	}
	return nil
}

func (c *Client) requestError(err error, method, path string) error {
	return errors.New(err).
		Component(ComponentAPIClient).
		Category(errors.CategoryHTTP).
		Context("method", method).
		Context("path", path).
		Build()
}

// StatusError is returned for 4xx and 5xx answers
type StatusError struct {
	StatusCode int
	Response   v1.ErrorResponse
}

func (e *StatusError) Error() string {
	switch {
	case e.Response.Error != "":
		return fmt.Sprintf("%d %s: %s", e.StatusCode, e.Response.Message, e.Response.Error)
	case e.Response.Message != "":
		return fmt.Sprintf("%d %s", e.StatusCode, e.Response.Message)
	}
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// decodeErrorBody reads an error answer field by field. Handlers answer
// with v1.ErrorResponse; echo's own errors (unknown route, wrong method)
// only carry a message, and proxies may answer with anything.
func decodeErrorBody(data []byte) v1.ErrorResponse {
	var out v1.ErrorResponse
	obj, err := jason.NewObjectFromBytes(data)
	if err != nil {
		return out
	}
	out.Error, _ = obj.GetString("error")
	out.Message, _ = obj.GetString("message")
	out.Category, _ = obj.GetString("category")
	out.CorrelationID, _ = obj.GetString("correlation_id")
	if code, err := obj.GetInt64("code"); err == nil {
		out.Code = int(code)
	}
	return out
}

func responseError(resp *http.Response, method, path string) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se.Response = decodeErrorBody(data)

	category := errors.CategoryHTTP
	if se.Response.Category != "" {
		category = errors.ErrorCategory(se.Response.Category)
	}
	return errors.New(se).
		Component(ComponentAPIClient).
		Category(category).
		Context("method", method).
		Context("path", path).
		Context("status_code", resp.StatusCode).
		Build()
}
