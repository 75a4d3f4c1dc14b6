package session

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	"unlocker/internal/domain"
)

const (
	maxRedirects   = 10
	jitterFactor   = 0.2 // +/- 20%
	defaultBody    = 2 * 1024 * 1024
	defaultBackoff = 500 * time.Millisecond
)

// Limiter gates outgoing requests per target host.
type Limiter interface {
	Wait(ctx context.Context, host string) error
}

// CooldownStore shares host back-off state across workers. A nil store
// disables cooldown tracking.
type CooldownStore interface {
	SetCooldown(ctx context.Context, host string, d time.Duration) error
	CooldownRemaining(ctx context.Context, host string) (time.Duration, error)
}

// Response is the outcome of one fetch after redirects were followed.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	FinalURL   *url.URL
}

// Options controls client behaviour.
type Options struct {
	Timeout      time.Duration
	MaxRetries   int
	Backoff      time.Duration
	MaxBodyBytes int64
	ProxyURL     string
	Limiter      Limiter
	Cooldowns    CooldownStore
	Logger       *zap.Logger
}

// Client issues HTTP requests under one session identity. It records every
// Set-Cookie it sees into the owning Session and attaches the accumulated
// cookie set to each request; no other component writes cookies.
//
// Transport failures and 5xx responses are retried with exponential backoff
// up to the attempt cap, then surfaced as a NetworkError. Non-5xx statuses
// are returned to the caller for semantic classification (a 403 from an
// unlock endpoint is a rejection, not a network fault).
type Client struct {
	session      *domain.Session
	http         *http.Client
	limiter      Limiter
	cooldowns    CooldownStore
	maxRetries   int
	backoff      time.Duration
	maxBodyBytes int64
	logger       *zap.Logger
}

// NewClient builds a client around the given session.
func NewClient(sess *domain.Session, opts Options) (*Client, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = defaultBody
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultBackoff
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
	}
	if strings.TrimSpace(opts.ProxyURL) != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	return &Client{
		session: sess,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			// Redirects are followed manually so cookies set on
			// intermediate hops land in the session.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		limiter:      opts.Limiter,
		cooldowns:    opts.Cooldowns,
		maxRetries:   opts.MaxRetries,
		backoff:      opts.Backoff,
		maxBodyBytes: opts.MaxBodyBytes,
		logger:       opts.Logger,
	}, nil
}

// Session exposes the owning session for read access.
func (c *Client) Session() *domain.Session {
	return c.session
}

// Fetch performs a request and follows redirects, accumulating cookies on
// every hop. The returned FinalURL is the post-redirect location.
func (c *Client) Fetch(ctx context.Context, method, rawURL string, body []byte) (*Response, error) {
	return c.do(ctx, method, rawURL, body, maxRedirects)
}

// FetchNoRedirect performs a request but returns 3xx responses as-is, so
// callers can read the Location header instead of chasing it.
func (c *Client) FetchNoRedirect(ctx context.Context, method, rawURL string, body []byte) (*Response, error) {
	return c.do(ctx, method, rawURL, body, 0)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, redirectsLeft int) (*Response, error) {
	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, domain.Errorf(domain.KindNetworkError, "parse url %q: %w", rawURL, err)
	}

	for {
		resp, err := c.request(ctx, method, current, body)
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < 300 || resp.StatusCode >= 400 || redirectsLeft <= 0 {
			return resp, nil
		}

		loc := resp.Header.Get("Location")
		if loc == "" {
			return resp, nil
		}
		next, err := current.Parse(loc)
		if err != nil {
			return nil, domain.Errorf(domain.KindNetworkError, "bad redirect location %q: %w", loc, err)
		}

		// 301/302/303 demote to GET, matching browser behaviour.
		if resp.StatusCode != http.StatusTemporaryRedirect && resp.StatusCode != http.StatusPermanentRedirect {
			method = http.MethodGet
			body = nil
		}
		current = next
		redirectsLeft--
	}
}

// request performs a single hop with the retry policy applied.
func (c *Client) request(ctx context.Context, method string, u *url.URL, body []byte) (*Response, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		if err := c.waitTurn(ctx, u.Host); err != nil {
			return nil, wrapCtxErr(err)
		}

		resp, err := c.once(ctx, method, u, body)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("%s %s: status %d", method, u, resp.StatusCode)
			c.noteThrottle(ctx, u.Host, resp)
		}

		if attempt >= c.maxRetries {
			break
		}

		c.logger.Debug("retrying request",
			zap.String("url", u.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr))

		if err := sleepCtx(ctx, backoffDelay(c.backoff, attempt)); err != nil {
			return nil, wrapCtxErr(err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, wrapCtxErr(err)
	}
	return nil, domain.NewResolveError(domain.KindNetworkError, lastErr)
}

func (c *Client) once(ctx context.Context, method string, u *url.URL, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	for k, v := range c.session.Headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie := c.cookieHeader(); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http fetch failed: %w", err)
	}

	for _, ck := range resp.Cookies() {
		c.session.SetCookie(ck.Name, ck.Value)
	}

	data, err := c.readBody(resp)
	if err != nil {
		return nil, err
	}

	finalURL := u
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       data,
		FinalURL:   finalURL,
	}, nil
}

func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	closers := []io.Closer{resp.Body}
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	reader := io.Reader(resp.Body)
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip decode: %w", err)
		}
		reader = gz
		closers = append(closers, gz)
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "deflate":
		fl := flate.NewReader(resp.Body)
		reader = fl
		closers = append(closers, fl)
	}

	limited := io.LimitReader(reader, c.maxBodyBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > c.maxBodyBytes {
		return nil, fmt.Errorf("response body exceeds limit of %d bytes", c.maxBodyBytes)
	}
	return data, nil
}

// waitTurn blocks until the host's rate limit and any shared cooldown allow
// another request.
func (c *Client) waitTurn(ctx context.Context, host string) error {
	if c.cooldowns != nil {
		remaining, err := c.cooldowns.CooldownRemaining(ctx, host)
		if err != nil {
			c.logger.Warn("cooldown lookup failed", zap.String("host", host), zap.Error(err))
		} else if remaining > 0 {
			if err := sleepCtx(ctx, remaining); err != nil {
				return err
			}
		}
	}
	if c.limiter != nil {
		return c.limiter.Wait(ctx, host)
	}
	return nil
}

// noteThrottle records a shared cooldown when the host signals overload.
func (c *Client) noteThrottle(ctx context.Context, host string, resp *Response) {
	if c.cooldowns == nil {
		return
	}
	if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode != http.StatusServiceUnavailable {
		return
	}
	d := c.backoff
	if after := resp.Header.Get("Retry-After"); after != "" {
		if secs, err := strconv.Atoi(after); err == nil && secs > 0 {
			d = time.Duration(secs) * time.Second
		}
	}
	if err := c.cooldowns.SetCooldown(ctx, host, d); err != nil {
		c.logger.Warn("failed to record host cooldown", zap.String("host", host), zap.Error(err))
	}
}

func (c *Client) cookieHeader() string {
	if len(c.session.Cookies) == 0 {
		return ""
	}
	parts := make([]string, 0, len(c.session.Cookies))
	for name, value := range c.session.Cookies {
		parts = append(parts, name+"="+value)
	}
	return strings.Join(parts, "; ")
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	jitter := 1 - jitterFactor + 2*jitterFactor*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func wrapCtxErr(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return domain.NewResolveError(domain.KindTimeout, err)
	case errors.Is(err, context.Canceled):
		return domain.NewResolveError(domain.KindCancelled, err)
	default:
		return domain.NewResolveError(domain.KindNetworkError, err)
	}
}
