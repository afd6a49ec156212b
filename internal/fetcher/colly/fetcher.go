// Package collyfetcher implements crawler.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
	"github.com/JakeFAU/policy-crawler/internal/metrics"
)

// Config controls collector behavior.
type Config struct {
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// MaxRetries is the total number of attempts per request.
	MaxRetries int
	// RetryDelay is multiplied by the attempt number between tries.
	RetryDelay time.Duration
	// RotateEvery replaces the session after this many requests.
	RotateEvery int
	UserAgents  []string
	Proxy       ProxyProvider
	Logger      *zap.Logger
}

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxRetries  = 3
	defaultRetryDelay  = 5 * time.Second
	defaultRotateEvery = 50
)

// DefaultUserAgents are desktop browser identities used when none are
// configured.
var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:121.0) Gecko/20100101 Firefox/121.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.RotateEvery <= 0 {
		c.RotateEvery = defaultRotateEvery
	}
	if len(c.UserAgents) == 0 {
		c.UserAgents = DefaultUserAgents
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// session is one browser identity: a collector, its transport, and the user
// agent it presents.
type session struct {
	collector *colly.Collector
	transport *http.Transport
	userAgent string
}

// Fetcher implements crawler.Fetcher using the Colly collector. It is safe
// for concurrent use; concurrent callers share the current session.
type Fetcher struct {
	cfg    Config
	retry  *crawler.LinearRetryPolicy
	logger *zap.Logger
	sleep  func(context.Context, time.Duration) error
	pickUA func(n int) int

	mu       sync.Mutex
	sess     *session
	requests int

	proxy atomic.Pointer[url.URL]
}

var _ crawler.Fetcher = (*Fetcher)(nil)

// New builds a Fetcher with a fresh session.
func New(cfg Config) *Fetcher {
	cfg = cfg.withDefaults()
	f := &Fetcher{
		cfg:    cfg,
		retry:  crawler.NewLinearRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
		logger: cfg.Logger.Named("fetcher"),
		sleep:  sleepContext,
		pickUA: rand.IntN,
	}
	f.sess = f.newSession()
	return f
}

func (f *Fetcher) newSession() *session {
	transport := newHTTPTransport(f.currentProxy)
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.MaxBodySize = 0
	c.WithTransport(transport)
	c.SetRequestTimeout(f.cfg.Timeout)
	ua := f.cfg.UserAgents[f.pickUA(len(f.cfg.UserAgents))]
	c.UserAgent = ua
	return &session{collector: c, transport: transport, userAgent: ua}
}

// acquire counts one logical request and swaps in a new session once
// RotateEvery requests have been issued on the current one.
func (f *Fetcher) acquire() *session {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	if f.requests >= f.cfg.RotateEvery {
		old := f.sess
		f.sess = f.newSession()
		f.requests = 0
		old.transport.CloseIdleConnections()
		metrics.ObserveSessionRotation()
		f.logger.Info("session rotated", zap.String("user_agent", f.sess.userAgent))
	}
	return f.sess
}

// Fetch issues a GET and classifies the body. Every failure, including a
// panic inside the collector, is reported as a PayloadFailure result.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (result crawler.PageResult) {
	defer func() {
		if r := recover(); r != nil {
			result = crawler.PageResult{
				Kind: crawler.PayloadFailure,
				URL:  request.URL,
				Err:  &crawler.TransportError{URL: request.URL, Err: fmt.Errorf("panic: %v", r)},
			}
		}
	}()

	target, err := requestURL(request)
	if err != nil {
		return crawler.PageResult{
			Kind: crawler.PayloadFailure,
			URL:  request.URL,
			Err:  &crawler.TransportError{URL: request.URL, Err: err},
		}
	}
	resp, err := f.get(ctx, target, request.Referer)
	if err != nil {
		f.logger.Warn("fetch failed", zap.String("url", target), zap.Error(err))
		return crawler.PageResult{
			Kind:       crawler.PayloadFailure,
			URL:        target,
			StatusCode: resp.statusCode,
			Err:        err,
		}
	}
	return classify(resp)
}

// Download returns the raw body at rawURL under the same retry and session
// rules as Fetch.
func (f *Fetcher) Download(ctx context.Context, rawURL string) ([]byte, error) {
	resp, err := f.get(ctx, rawURL, "")
	if err != nil {
		return nil, err
	}
	return resp.body, nil
}

func requestURL(request crawler.FetchRequest) (string, error) {
	u, err := url.Parse(request.URL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", request.URL)
	}
	if len(request.Params) > 0 {
		q := u.Query()
		for key, values := range request.Params {
			q[key] = append([]string(nil), values...)
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

type response struct {
	url        string
	statusCode int
	header     http.Header
	body       []byte
}

// get runs the attempt loop for one logical request.
func (f *Fetcher) get(ctx context.Context, target, referer string) (response, error) {
	sess := f.acquire()
	var (
		lastErr    error
		lastStatus int
		attempts   int
	)
	for attempt := 1; ; attempt++ {
		attempts = attempt
		f.selectProxy(ctx, attempt)
		resp, err := f.visit(ctx, sess, target, referer)
		if err == nil {
			metrics.ObserveFetch(target, "success", len(resp.body))
			return resp, nil
		}
		metrics.ObserveFetch(target, "error", 0)
		lastErr, lastStatus = err, resp.statusCode
		if ctx.Err() != nil || !f.retry.ShouldRetry(err, attempt) {
			break
		}
		wait := f.retry.Backoff(attempt)
		f.logger.Warn("fetch attempt failed",
			zap.String("url", target),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", f.retry.MaxAttempts()),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		metrics.ObserveRetry(target)
		if err := f.sleep(ctx, wait); err != nil {
			lastErr = err
			break
		}
	}
	return response{statusCode: lastStatus}, &crawler.TransportError{
		URL:        target,
		Attempts:   attempts,
		StatusCode: lastStatus,
		Err:        lastErr,
	}
}

// selectProxy picks the proxy for an attempt: the session's current proxy
// for a first attempt, a fresh one for every retry. Provider failures fall
// back to a direct connection.
func (f *Fetcher) selectProxy(ctx context.Context, attempt int) {
	if f.cfg.Proxy == nil {
		return
	}
	if attempt == 1 && f.proxy.Load() != nil {
		return
	}
	p, err := f.cfg.Proxy.Next(ctx)
	if err != nil {
		f.proxy.Store(nil)
		f.logger.Warn("proxy unavailable, connecting directly", zap.Error(err))
		return
	}
	f.proxy.Store(p)
	f.logger.Debug("proxy selected", zap.String("proxy", p.Host))
}

func (f *Fetcher) currentProxy(*http.Request) (*url.URL, error) {
	return f.proxy.Load(), nil
}

var errEmptyResponse = errors.New("no response received")

// visit performs one attempt on a clone of the session collector.
func (f *Fetcher) visit(ctx context.Context, sess *session, target, referer string) (response, error) {
	if err := ctx.Err(); err != nil {
		return response{}, err
	}
	c := sess.collector.Clone()
	var (
		resp     response
		visitErr error
	)
	c.OnResponse(func(r *colly.Response) {
		resp = response{
			url:        r.Request.URL.String(),
			statusCode: r.StatusCode,
			body:       append([]byte(nil), r.Body...),
		}
		if r.Headers != nil {
			resp.header = r.Headers.Clone()
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			resp.statusCode = r.StatusCode
		}
		visitErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- c.Request(http.MethodGet, target, nil, nil, browserHeaders(referer))
	}()

	select {
	case <-ctx.Done():
		return response{}, fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err == nil {
			err = visitErr
		}
		switch {
		case err != nil && resp.statusCode != 0:
			return response{statusCode: resp.statusCode}, fmt.Errorf("status %d: %w", resp.statusCode, err)
		case err != nil:
			return response{}, fmt.Errorf("colly visit failed: %w", err)
		case resp.statusCode == 0:
			return response{}, errEmptyResponse
		case resp.statusCode < 200 || resp.statusCode > 299:
			return response{statusCode: resp.statusCode}, fmt.Errorf("unexpected status %d", resp.statusCode)
		}
		return resp, nil
	}
}

func browserHeaders(referer string) http.Header {
	h := http.Header{}
	h.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	h.Set("Accept-Language", "zh-CN,zh;q=0.9,en;q=0.8")
	h.Set("X-Requested-With", "XMLHttpRequest")
	if referer != "" {
		h.Set("Referer", referer)
	}
	return h
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func newHTTPTransport(proxy func(*http.Request) (*url.URL, error)) *http.Transport {
	return &http.Transport{
		Proxy: proxy,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
