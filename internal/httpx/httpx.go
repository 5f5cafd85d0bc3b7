// Package httpx holds the outbound HTTP client shared by upstream providers.
package httpx

import (
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultUserAgent = "quoteproxy/1.0"

// Options tune the client. Zero values take defaults.
type Options struct {
	Timeout         time.Duration
	UserAgent       string
	MaxConnsPerHost int
	Header          http.Header
	Log             zerolog.Logger
}

// Client sends many short calls to a single upstream host over kept-alive
// connections. Requests are logged at debug level without their query string.
type Client struct {
	http   *http.Client
	ua     string
	header http.Header
	log    zerolog.Logger
}

func New(opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.MaxConnsPerHost <= 0 {
		opts.MaxConnsPerHost = 50
	}
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 3 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:          2 * opts.MaxConnsPerHost,
		MaxIdleConnsPerHost:   opts.MaxConnsPerHost,
		MaxConnsPerHost:       opts.MaxConnsPerHost,
		ForceAttemptHTTP2:     true,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ResponseHeaderTimeout: opts.Timeout,
	}
	return &Client{
		http:   &http.Client{Timeout: opts.Timeout, Transport: transport},
		ua:     opts.UserAgent,
		header: opts.Header.Clone(),
		log:    opts.Log.With().Str("component", "httpx").Logger(),
	}
}

// Do sends req, adding the user agent and default headers it does not set.
// Cancellation follows req.Context().
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.ua)
	}
	for k, vs := range c.header {
		if req.Header.Get(k) == "" {
			req.Header[k] = append([]string(nil), vs...)
		}
	}

	start := time.Now()
	res, err := c.http.Do(req)
	ev := c.log.Debug().
		Str("method", req.Method).
		Str("host", req.URL.Host).
		Str("path", req.URL.Path).
		Dur("duration_ms", time.Since(start))
	if err != nil {
		ev.Bool("failed", true).Msg("Upstream request")
		return nil, err
	}
	ev.Int("status", res.StatusCode).Msg("Upstream request")
	return res, nil
}
