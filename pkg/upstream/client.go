package upstream

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultHost is the upstream API host forwarded to when none is configured.
const DefaultHost = "api.anthropic.com"

// DefaultTimeout is the overall connect-through-response timeout. Streaming
// completions can run for minutes, so this is deliberately generous.
const DefaultTimeout = 5 * time.Minute

// Config contains the upstream client configuration.
type Config struct {
	// Host is the upstream host. Default: DefaultHost.
	Host string

	// Scheme is the URL scheme used to reach the upstream. Default
	// "https"; tests override it to reach local doubles.
	Scheme string

	// Timeout is the overall request timeout covering connect through the
	// end of the response body. Default: DefaultTimeout.
	Timeout time.Duration

	// MaxIdleConns bounds the idle connection pool. Default: 32.
	MaxIdleConns int

	// IdleConnTimeout is how long idle connections are kept. Default: 90s.
	IdleConnTimeout time.Duration
}

// Client forwards requests to the single fixed upstream host.
type Client struct {
	host   string
	scheme string
	http   *http.Client
}

// New creates an upstream client with pooled connections.
func New(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Scheme == "" {
		cfg.Scheme = "https"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 32
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = 90 * time.Second
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConns,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
		// The relay must return upstream bytes verbatim. Transparent
		// decompression would alter the body relative to the
		// Content-Encoding header the client negotiated.
		DisableCompression: true,
	}

	return &Client{
		host:   cfg.Host,
		scheme: cfg.Scheme,
		http: &http.Client{
			Transport: transport,
			Timeout:   cfg.Timeout,
			// A proxy relays redirects to the caller; it never
			// follows them.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Host returns the configured upstream host.
func (c *Client) Host() string {
	return c.host
}

// Forward sends one request to the upstream and returns the response with an
// unread body. The caller owns the body and must close it. Headers are sent
// as given; the Host header is forced to the upstream host.
func (c *Client) Forward(ctx context.Context, method, requestURI string, header http.Header, body []byte) (*http.Response, error) {
	url := c.scheme + "://" + c.host + requestURI

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build upstream request: %w", err)
	}

	req.Header = header
	req.Host = c.host
	req.ContentLength = int64(len(body))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream request failed: %w", err)
	}

	return resp, nil
}
