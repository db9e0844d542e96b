package utils

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// Timeout bounds dialing, the TLS handshake, the wait for response headers
// and every gap between body reads. It never caps a whole body, so a live
// stream can stay open for hours. RequestTimeout, when set, caps each
// request end to end and is only meant for bounded transfers.
type HTTPClientConfig struct {
	Timeout        time.Duration
	RequestTimeout time.Duration
	KATimeout      time.Duration
	ProxyURL       string
	ProxyUsername  string
	ProxyPassword  string
	UserAgent      string
	Headers        map[string]string
	Backoff        Backoff
}

// HTTPClient is shared by extractors, the dispatcher and the upload engine.
// Headers are fixed once the client is built; use WithHeaders for a variant.
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.KATimeout == 0 {
		cfg.KATimeout = 60 * time.Second
	}
	if cfg.Backoff.MaxAttempts == 0 {
		cfg.Backoff = DefaultBackoff
	}
	cfg.Headers = maps.Clone(cfg.Headers)
	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}
	transport := &http.Transport{
		IdleConnTimeout:       cfg.KATimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		DisableCompression:    true,
		TLSHandshakeTimeout:   cfg.Timeout,
		ResponseHeaderTimeout: cfg.Timeout,
		DialContext: (&net.Dialer{
			Timeout:   cfg.Timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}
	if cfg.ProxyURL != "" {
		proxyURL, err := url.Parse(cfg.ProxyURL)
		if err == nil {
			if cfg.ProxyUsername != "" {
				if cfg.ProxyPassword != "" {
					proxyURL.User = url.UserPassword(cfg.ProxyUsername, cfg.ProxyPassword)
				} else {
					proxyURL.User = url.User(cfg.ProxyUsername)
				}
			}
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}
	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		config: cfg,
	}
}

// WithHeaders returns a client sharing the same transport with extra default headers.
func (c *HTTPClient) WithHeaders(headers map[string]string) *HTTPClient {
	cfg := c.config
	cfg.Headers = maps.Clone(c.config.Headers)
	maps.Copy(cfg.Headers, headers)
	return &HTTPClient{client: c.client, config: cfg}
}

func (c *HTTPClient) Header(key string) string {
	return c.config.Headers[key]
}

func (c *HTTPClient) Backoff() Backoff {
	return c.config.Backoff
}

func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	} else {
		req.Header.Set("User-Agent", ToolUserAgent)
	}
	for k, v := range c.config.Headers {
		if req.Header.Get(k) == "" {
			req.Header.Set(k, v)
		}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body = newIdleBody(resp.Body, c.config.Timeout)
	if err := decodeBody(resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}

// Retryable issues a GET and retries transport failures and transient statuses.
// Any other non-2xx status is returned as an error without retrying.
func (c *HTTPClient) Retryable(ctx context.Context, rawURL string) (*http.Response, error) {
	var resp *http.Response
	err := Retry(ctx, c.config.Backoff, func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return Permanent(fmt.Errorf("error creating request: %w", err))
		}
		r, err := c.Do(req)
		if err != nil {
			log.Debug().Str("op", "utils/http").Int("attempt", attempt).Msgf("GET %s failed: %v", rawURL, err)
			return err
		}
		if IsTransientStatus(r.StatusCode) {
			r.Body.Close()
			return fmt.Errorf("server returned status code %d", r.StatusCode)
		}
		if r.StatusCode < 200 || r.StatusCode > 299 {
			r.Body.Close()
			return Permanent(fmt.Errorf("server returned status code %d", r.StatusCode))
		}
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// GetBody fetches rawURL with Retryable and reads the whole body.
func (c *HTTPClient) GetBody(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := c.Retryable(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	return body, nil
}

func IsTransientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout
}

type readCloser struct {
	io.Reader
	closers []io.Closer
}

func (r *readCloser) Close() error {
	var first error
	for _, c := range r.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var ErrIdleTimeout = errors.New("no data received before read timeout")

// idleBody closes the underlying body when no bytes arrive for timeout, which
// unblocks a pending Read.
type idleBody struct {
	rc       io.ReadCloser
	timeout  time.Duration
	timer    *time.Timer
	timedOut atomic.Bool
}

func newIdleBody(rc io.ReadCloser, timeout time.Duration) *idleBody {
	b := &idleBody{rc: rc, timeout: timeout}
	b.timer = time.AfterFunc(timeout, func() {
		b.timedOut.Store(true)
		rc.Close()
	})
	return b
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 && !b.timedOut.Load() {
		b.timer.Reset(b.timeout)
	}
	if err != nil && b.timedOut.Load() {
		return n, fmt.Errorf("%w (%s)", ErrIdleTimeout, b.timeout)
	}
	return n, err
}

func (b *idleBody) Close() error {
	b.timer.Stop()
	return b.rc.Close()
}

// Compression is disabled on the transport so that callers asking for
// gzip or deflate explicitly still receive a plain body.
func decodeBody(resp *http.Response) error {
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("error decoding gzip body: %w", err)
		}
		resp.Body = &readCloser{Reader: zr, closers: []io.Closer{zr, resp.Body}}
	case "deflate":
		fr := flate.NewReader(resp.Body)
		resp.Body = &readCloser{Reader: fr, closers: []io.Closer{fr, resp.Body}}
	default:
		return nil
	}
	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.ContentLength = -1
	return nil
}
