// Package oasis issues single, bounded requests against the CAISO OASIS API.
//
// The client never retries. Callers decide what a failure means; the
// downloader logs it and moves on to the next window.
package oasis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wadaphaq/oasis-api-tool/internal/logging"
)

// DefaultBaseURL is the public OASIS API root.
const DefaultBaseURL = "http://oasis.caiso.com/oasisapi/"

// maxErrorBody caps how much of a failed response is kept for diagnostics.
const maxErrorBody = 64 << 10

// HTTPError is returned when the API answers with anything but 200.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if len(body) > 200 {
		body = body[:200] + "..."
	}
	return fmt.Sprintf("http %d: %s", e.Status, body)
}

// TransportError wraps network failures: DNS, connect, timeout, or a body
// that could not be read.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return "transport: " + e.Err.Error() }
func (e *TransportError) Unwrap() error { return e.Err }

// Options configures the client.
type Options struct {
	// BaseURL is the API root. Default: DefaultBaseURL.
	BaseURL string

	// Timeout bounds each request end to end. Default: 60s.
	Timeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string
}

// DefaultOptions returns options with the recommended request timeout.
func DefaultOptions() Options {
	return Options{
		BaseURL:   DefaultBaseURL,
		Timeout:   60 * time.Second,
		UserAgent: "oasis-fetch",
	}
}

// Client performs one GET per Fetch call.
type Client struct {
	base      *url.URL
	http      *http.Client
	userAgent string
	log       *slog.Logger
}

// NewClient creates a client. Zero option fields fall back to defaults.
func NewClient(opts Options) (*Client, error) {
	def := DefaultOptions()
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = def.UserAgent
	}

	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", opts.BaseURL, err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	return &Client{
		base:      base,
		http:      &http.Client{Timeout: opts.Timeout},
		userAgent: opts.UserAgent,
		log:       logging.Component("oasis"),
	}, nil
}

// URL returns the full request URL for q without sending it.
func (c *Client) URL(q Query) string {
	u := c.base.ResolveReference(&url.URL{Path: q.Endpoint})
	u.RawQuery = q.Values().Encode()
	return u.String()
}

// Fetch sends q and returns the raw payload on 200. Any other status yields
// an *HTTPError carrying the response body; network failures yield a
// *TransportError.
func (c *Client) Fetch(ctx context.Context, q Query) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL(q), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)

	c.log.Debug("sending request",
		"run_id", logging.RunID(ctx),
		"endpoint", q.Endpoint,
		"source", q.Source,
		"window", q.Window.String(),
	)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &HTTPError{Status: resp.StatusCode, Body: string(body)}
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}
	return payload, nil
}

// IsHTTPError reports whether err is an *HTTPError and returns it.
func IsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

// IsTransportError reports whether err is a *TransportError and returns it.
func IsTransportError(err error) (*TransportError, bool) {
	var te *TransportError
	ok := errors.As(err, &te)
	return te, ok
}
