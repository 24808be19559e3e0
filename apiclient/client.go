// Package apiclient implements the secure request client: it attaches the
// current access token to every backend request and transparently recovers
// from token expiry, coordinating at most one refresh call no matter how
// many requests hit a 401 concurrently.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/prepstock/go-prepstock-client/internal/obs"
	"github.com/prepstock/go-prepstock-client/session"
)

const defaultRequestTimeout = 10 * time.Second

// Client issues HTTP requests against the backend with bearer credentials
// attached. All refresh state is owned by the instance; construct one at
// application start and inject it.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	sessions      *session.Store
	loginRedirect func()
	refreshGroup  singleflight.Group
	logger        zerolog.Logger
}

// Option modifies the Client during construction.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (primarily for tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithLoginRedirect sets the hook invoked after the session has been torn
// down and the user must re-authenticate. In a browser embedding this
// navigates to the login route.
func WithLoginRedirect(fn func()) Option {
	return func(c *Client) {
		c.loginRedirect = fn
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a secure request client for the backend at baseURL.
func New(baseURL string, sessions *session.Store, options ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, errors.New("[apiclient.New] baseURL is required")
	}
	if sessions == nil {
		return nil, errors.New("[apiclient.New] session store is required")
	}

	client := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultRequestTimeout},
		sessions:   sessions,
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(client)
	}
	return client, nil
}

// Response is a fully-read backend response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the response body into out.
func (r *Response) Decode(out any) error {
	if len(r.Body) == 0 {
		return nil
	}
	return errors.Wrap(json.Unmarshal(r.Body, out), "[Response.Decode] unmarshal")
}

// Do issues a request against the backend-relative path. The current access
// token, if any, is attached as a bearer credential. A 401 triggers a single
// refresh-and-retry; any other non-2xx status is returned as a *StatusError
// for the caller to interpret.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	resp, err := c.send(ctx, method, path, body, "")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return c.finish(method, path, resp)
	}

	// Single retry only. A refreshed token that is rejected again is
	// propagated, never refreshed a second time.
	token, err := c.refreshAccessToken(ctx)
	if err != nil {
		return nil, err
	}

	retried, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}
	return c.finish(method, path, retried)
}

// DoJSON issues the request and decodes a 2xx response body into out,
// which may be nil when the body is not needed.
func (c *Client) DoJSON(ctx context.Context, method, path string, body, out any) error {
	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

// Session exposes the session store so callers can read the current
// identity. Mutation stays with the auth flows and the refresh path.
func (c *Client) Session() *session.Store {
	return c.sessions
}

// BaseURL returns the backend base URL the client was constructed with.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) finish(method, path string, resp *Response) (*Response, error) {
	obs.ObserveRequest(method, resp.StatusCode)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	// Tokens never reach the log whole; a short prefix is enough to
	// correlate requests.
	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("token_prefix", c.sessions.Load().TokenPrefix()).
		Msg("backend returned non-2xx status")
	return nil, &StatusError{Method: method, Path: path, Status: resp.StatusCode, Body: resp.Body}
}

// send performs one round-trip. overrideToken replaces the persisted access
// token after a refresh, so the retried request never re-reads a token the
// refresh may not have persisted yet.
func (c *Client) send(ctx context.Context, method, path string, body any, overrideToken string) (*Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "[Client.send] marshal body")
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, errors.Wrap(err, "[Client.send] new request")
	}
	req.Header.Set("Content-Type", "application/json")

	token := overrideToken
	if token == "" {
		if sess := c.sessions.Load(); sess.LoggedIn() {
			token = sess.AccessToken
		}
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "[Client.send] %s %s", method, path)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "[Client.send] read body %s %s", method, path)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       respBody,
	}, nil
}
