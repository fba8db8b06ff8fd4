// Package gateway is the HTTP client for the remote chat endpoint. Every call
// is a GET carrying the request as the "command" query parameter; the raw
// response body is returned as text.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const maxBodyBytes = 4 << 20

// TokenSource supplies the bearer token attached to each request. An empty
// token means the request is sent unauthenticated.
type TokenSource interface {
	AccessToken() string
}

// Config configures a Client.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Tokens    TokenSource
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// Client sends commands to the remote endpoint. It is safe for concurrent use
// and does not retry.
type Client struct {
	base      *url.URL
	http      *http.Client
	tokens    TokenSource
	userAgent string
	logger    *zap.Logger
}

// New validates cfg and returns a client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("gateway: empty server url")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("gateway: parse server url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("gateway: unsupported scheme %q", base.Scheme)
	}
	hc := cfg.HTTPClient
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = "chatline"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		base:      base,
		http:      hc,
		tokens:    cfg.Tokens,
		userAgent: ua,
		logger:    logger,
	}, nil
}

// Send issues the command and returns the response body.
func (c *Client) Send(ctx context.Context, command string) (string, error) {
	u := *c.base
	q := u.Query()
	q.Set("command", command)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("gateway: build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, text/plain")
	if c.tokens != nil {
		if token := c.tokens.AccessToken(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransportError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", &TransportError{Err: fmt.Errorf("read body: %w", err)}
	}

	c.logger.Debug("gateway request",
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
		zap.Int("bytes", len(body)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return string(body), nil
}
