// Package api implements the authenticated gateway to the agent backend's
// REST interface.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/ashureev/agentchat/internal/store"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ErrUnauthorized is returned when the backend answers 401. The credential has
// already been cleared and the unauthorized hook has fired by the time a
// caller sees it, so callers should not report it again.
var ErrUnauthorized = errors.New("unauthorized")

// RequestIDHeader carries a per-request id for log correlation.
const RequestIDHeader = "X-Request-ID"

// StatusError is a non-2xx response converted to an error.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.StatusCode, http.StatusText(e.StatusCode))
}

// Client sends requests to the backend with the stored bearer credential.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	creds          store.CredentialStore
	onUnauthorized func()
	logger         *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithUnauthorizedHook registers the "logged out" transition run after a 401
// has cleared the credential.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// New creates a Client for the backend rooted at baseURL.
func New(baseURL string, creds store.CredentialStore, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", baseURL)
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: http.DefaultClient,
		creds:      creds,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c, nil
}

// BaseURL returns the configured backend root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Credentials returns the store the client reads tokens from.
func (c *Client) Credentials() store.CredentialStore {
	return c.creds
}

type requestOptions struct {
	contentType string
	anonymous   bool
}

// RequestOption adjusts a single request.
type RequestOption func(*requestOptions)

// WithContentType overrides the JSON default, e.g. for multipart uploads.
func WithContentType(ct string) RequestOption {
	return func(o *requestOptions) { o.contentType = ct }
}

// Anonymous skips the bearer header and 401 handling, for login and signup.
func Anonymous() RequestOption {
	return func(o *requestOptions) { o.anonymous = true }
}

// Resolve joins path onto the base URL unless it is already absolute.
func (c *Client) Resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}

// Do sends a request. Non-2xx responses other than 401 are returned for the
// caller to inspect; a 401 clears the credential and yields ErrUnauthorized.
// Do never retries.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader, opts ...RequestOption) (*http.Response, error) {
	o := requestOptions{contentType: "application/json"}
	for _, opt := range opts {
		opt(&o)
	}

	target := c.Resolve(path)
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if o.contentType != "" {
		req.Header.Set("Content-Type", o.contentType)
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set(RequestIDHeader, requestID)

	if !o.anonymous && c.creds != nil {
		token, ok, err := c.creds.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("read credential: %w", err)
		}
		if ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	c.logger.Debug("API request", "method", method, "url", target, "request_id", requestID)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	c.logger.Debug("API response", "method", method, "url", target, "status", resp.StatusCode, "request_id", requestID)

	if resp.StatusCode == http.StatusUnauthorized && !o.anonymous {
		drain(resp.Body)
		_ = resp.Body.Close()
		c.handleUnauthorized(ctx)
		return nil, ErrUnauthorized
	}
	return resp, nil
}

func (c *Client) handleUnauthorized(ctx context.Context) {
	if c.creds != nil {
		if err := c.creds.Clear(context.WithoutCancel(ctx)); err != nil {
			c.logger.Warn("Failed to clear credential after 401", "error", err)
		}
	}
	c.logger.Info("Session rejected by backend, logged out")
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

// doJSON sends in as JSON (when non-nil) and decodes a 2xx body into out
// (when non-nil). Non-2xx responses become *StatusError.
func (c *Client) doJSON(ctx context.Context, method, path string, in, out any, opts ...RequestOption) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(data)
	}
	resp, err := c.Do(ctx, method, path, body, opts...)
	if err != nil {
		return err
	}
	return DecodeJSON(resp, out)
}

// DecodeJSON closes resp.Body, converting a non-2xx response into a
// *StatusError and otherwise decoding the body into out when out is non-nil.
func DecodeJSON(resp *http.Response, out any) error {
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			slog.Debug("Failed to close response body", "error", closeErr)
		}
	}()

	if err := Expect(resp); err != nil {
		return err
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		drain(resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", resp.Request.Method, resp.Request.URL.Path, err)
	}
	return nil
}

// Expect returns a *StatusError for a non-2xx response. The body is consumed
// only in the error case.
func Expect(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &StatusError{StatusCode: resp.StatusCode}
	if resp.Request != nil {
		se.Method = resp.Request.Method
		se.Path = resp.Request.URL.Path
	}
	if gjson.ValidBytes(data) {
		detail := gjson.GetBytes(data, "detail")
		if !detail.Exists() {
			detail = gjson.GetBytes(data, "error")
		}
		se.Detail = detail.String()
	}
	return se
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, io.LimitReader(r, 64<<10))
}
