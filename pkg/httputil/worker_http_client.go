// Package httputil builds tuned HTTP clients.
package httputil

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"
)

// ClientConfig holds HTTP client configuration.
type ClientConfig struct {
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	MaxConnsPerHost     int
	IdleConnTimeout     time.Duration

	DialTimeout         time.Duration
	TLSHandshakeTimeout time.Duration
	ResponseTimeout     time.Duration

	KeepAliveInterval time.Duration
	UserAgent         string

	// WithCookieJar gives the client an in-memory cookie jar.
	WithCookieJar bool
}

func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		DialTimeout:         10 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ResponseTimeout:     30 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// AttachmentClientConfig is used to download attachments with the browser's
// cookies. Few connections; the mailbox throttles automation.
func AttachmentClientConfig(timeout time.Duration) *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConns = 4
	cfg.MaxIdleConnsPerHost = 2
	cfg.MaxConnsPerHost = 4
	cfg.ResponseTimeout = timeout
	cfg.WithCookieJar = true
	return cfg
}

// OpenAIClientConfig allows long completions.
func OpenAIClientConfig(timeout time.Duration) *ClientConfig {
	cfg := DefaultClientConfig()
	cfg.MaxIdleConns = 10
	cfg.MaxIdleConnsPerHost = 10
	cfg.MaxConnsPerHost = 10
	cfg.IdleConnTimeout = 120 * time.Second
	cfg.ResponseTimeout = timeout
	return cfg
}

// userAgentTransport sets a fixed User-Agent on every request.
type userAgentTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.ua)
	return t.base.RoundTrip(req)
}

// NewOptimizedClient creates a pooled HTTP client.
func NewOptimizedClient(cfg *ClientConfig) *http.Client {
	if cfg == nil {
		cfg = DefaultClientConfig()
	}

	dialer := &net.Dialer{
		Timeout:   cfg.DialTimeout,
		KeepAlive: cfg.KeepAliveInterval,
	}

	var transport http.RoundTripper = &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   cfg.TLSHandshakeTimeout,
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: cfg.ResponseTimeout,
	}
	if cfg.UserAgent != "" {
		transport = &userAgentTransport{base: transport, ua: cfg.UserAgent}
	}

	client := &http.Client{
		Transport: transport,
		Timeout:   cfg.ResponseTimeout,
	}
	if cfg.WithCookieJar {
		// cookiejar.New only fails on a bad PublicSuffixList, and none is set.
		jar, _ := cookiejar.New(nil)
		client.Jar = jar
	}
	return client
}

// SetCookies replaces the cookies the client sends to rawURL.
func SetCookies(client *http.Client, rawURL string, cookies []*http.Cookie) error {
	if client.Jar == nil {
		return fmt.Errorf("httputil: client has no cookie jar")
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("httputil: parse %q: %w", rawURL, err)
	}
	client.Jar.SetCookies(u, cookies)
	return nil
}

// StatusError is returned by GetBytes for non-2xx responses.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: status %d", e.URL, e.StatusCode)
}

// ErrTooLarge is returned by GetBytes when the body exceeds the limit.
type ErrTooLarge struct {
	Limit int64
}

func (e *ErrTooLarge) Error() string {
	return fmt.Sprintf("response body exceeds %d bytes", e.Limit)
}

// GetBytes downloads rawURL, reading at most limit bytes (no limit when
// limit <= 0).
func GetBytes(ctx context.Context, client *http.Client, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	if limit <= 0 {
		return io.ReadAll(resp.Body)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &ErrTooLarge{Limit: limit}
	}
	return data, nil
}
