package collyfetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

// newTestFetcher returns a fetcher whose backoff waits are recorded instead
// of slept.
func newTestFetcher(t *testing.T, cfg Config) (*Fetcher, *[]time.Duration) {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	f := New(cfg)
	var (
		mu    sync.Mutex
		waits []time.Duration
	)
	f.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		waits = append(waits, d)
		return nil
	}
	return f, &waits
}

func TestFetch_JSONPayload(t *testing.T) {
	t.Parallel()
	requests := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests <- r.Clone(context.Background())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("\xEF\xBB\xBF" + `{"total":1,"results":[{"title":"土地管理法","filenum":32}]}`))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{UserAgents: []string{"policy-test-agent"}})
	result := f.Fetch(context.Background(), crawler.FetchRequest{
		URL:     srv.URL + "/was5/web/search",
		Params:  url.Values{"channelid": {"216640"}, "page": {"2"}},
		Referer: "https://f.mnr.gov.cn/",
	})

	require.Equal(t, crawler.PayloadJSON, result.Kind)
	require.NoError(t, result.Err)
	require.Equal(t, http.StatusOK, result.StatusCode)
	doc, ok := result.JSON.(map[string]any)
	require.True(t, ok)
	items, ok := doc["results"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, json.Number("32"), items[0].(map[string]any)["filenum"])

	got := <-requests
	assert.Equal(t, "216640", got.URL.Query().Get("channelid"))
	assert.Equal(t, "2", got.URL.Query().Get("page"))
	assert.Equal(t, "https://f.mnr.gov.cn/", got.Header.Get("Referer"))
	assert.Equal(t, "policy-test-agent", got.Header.Get("User-Agent"))
	assert.Equal(t, "XMLHttpRequest", got.Header.Get("X-Requested-With"))
	assert.Contains(t, got.Header.Get("Accept-Language"), "zh-CN")
}

func TestFetch_GBKPageDecoded(t *testing.T) {
	t.Parallel()
	page := `<html><head><meta charset="gbk"></head><body><table><tr><td>标题</td><td>自然资源部令</td></tr></table></body></html>`
	encoded, err := simplifiedchinese.GBK.NewEncoder().String(page)
	require.NoError(t, err)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(encoded))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{})
	result := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})

	require.Equal(t, crawler.PayloadHTML, result.Kind)
	assert.Contains(t, string(result.Body), "自然资源部令")
	assert.Nil(t, result.JSON)
}

func TestFetch_RetriesWithLinearBackoff(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("<html><body>ok</body></html>"))
	}))
	defer srv.Close()

	f, waits := newTestFetcher(t, Config{MaxRetries: 3, RetryDelay: 5 * time.Second})
	result := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})

	require.Equal(t, crawler.PayloadHTML, result.Kind)
	require.EqualValues(t, 3, hits.Load())
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, *waits)
}

func TestFetch_ExhaustedRetriesReportFailure(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f, waits := newTestFetcher(t, Config{MaxRetries: 3, RetryDelay: time.Second})
	result := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})

	require.True(t, result.Failed())
	require.Equal(t, http.StatusServiceUnavailable, result.StatusCode)
	require.ErrorIs(t, result.Err, crawler.ErrTransport)
	var transportErr *crawler.TransportError
	require.ErrorAs(t, result.Err, &transportErr)
	assert.Equal(t, 3, transportErr.Attempts)
	assert.EqualValues(t, 3, hits.Load())
	assert.Len(t, *waits, 2)
}

func TestFetch_RetriesTimedOutAttempts(t *testing.T) {
	t.Parallel()
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		_, _ = w.Write([]byte("<html><body>slow</body></html>"))
	}))
	defer srv.Close()
	defer close(release)

	f, waits := newTestFetcher(t, Config{Timeout: 50 * time.Millisecond, MaxRetries: 3, RetryDelay: time.Second})
	result := f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL})

	require.True(t, result.Failed())
	require.ErrorIs(t, result.Err, crawler.ErrTransport)
	var transportErr *crawler.TransportError
	require.ErrorAs(t, result.Err, &transportErr)
	assert.Equal(t, 3, transportErr.Attempts)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, *waits)
}

func TestFetch_CanceledContext(t *testing.T) {
	t.Parallel()
	f, waits := newTestFetcher(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := f.Fetch(ctx, crawler.FetchRequest{URL: "http://127.0.0.1:1/never"})
	require.True(t, result.Failed())
	require.ErrorIs(t, result.Err, context.Canceled)
	require.Empty(t, *waits)
}

func TestFetch_RejectsRelativeURL(t *testing.T) {
	t.Parallel()
	f, _ := newTestFetcher(t, Config{})
	result := f.Fetch(context.Background(), crawler.FetchRequest{URL: "/relative/path"})
	require.True(t, result.Failed())
	require.ErrorIs(t, result.Err, crawler.ErrTransport)
}

func TestFetch_SessionRotation(t *testing.T) {
	t.Parallel()
	var (
		mu     sync.Mutex
		agents []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		agents = append(agents, r.Header.Get("User-Agent"))
		mu.Unlock()
		_, _ = w.Write([]byte("<p>ok</p>"))
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{RotateEvery: 2, UserAgents: []string{"agent-a", "agent-b"}})
	f.pickUA = func(int) int { return 1 }

	for range 3 {
		require.False(t, f.Fetch(context.Background(), crawler.FetchRequest{URL: srv.URL}).Failed())
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, agents, 3)
	assert.Equal(t, "agent-b", agents[1])
	assert.Equal(t, "agent-b", agents[2])
	assert.Equal(t, 1, f.requests)
}

type countingProxies struct {
	inner ProxyProvider
	calls atomic.Int32
}

func (c *countingProxies) Next(ctx context.Context) (*url.URL, error) {
	c.calls.Add(1)
	return c.inner.Next(ctx)
}

func TestFetch_ProxyRefreshedOnRetry(t *testing.T) {
	t.Parallel()
	var failing atomic.Bool
	failing.Store(true)
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Host != "policy.example" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if failing.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("<p>via proxy</p>"))
	}))
	defer proxy.Close()

	static, err := NewStaticProxies([]string{strings.TrimPrefix(proxy.URL, "http://")})
	require.NoError(t, err)
	provider := &countingProxies{inner: static}
	f, _ := newTestFetcher(t, Config{MaxRetries: 3, Proxy: provider})

	result := f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://policy.example/list"})
	require.True(t, result.Failed())
	require.EqualValues(t, 3, provider.calls.Load())

	failing.Store(false)
	result = f.Fetch(context.Background(), crawler.FetchRequest{URL: "http://policy.example/list"})
	require.Equal(t, crawler.PayloadHTML, result.Kind)
	require.Contains(t, string(result.Body), "via proxy")
	require.EqualValues(t, 3, provider.calls.Load())
}

func TestDownload_ReturnsRawBytes(t *testing.T) {
	t.Parallel()
	payload := []byte{'%', 'P', 'D', 'F', 0xff, 0xfe}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{})
	body, err := f.Download(context.Background(), srv.URL+"/P020200301.pdf")
	require.NoError(t, err)
	require.Equal(t, payload, body)
}

func TestDownload_NotFound(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f, _ := newTestFetcher(t, Config{MaxRetries: 2})
	_, err := f.Download(context.Background(), srv.URL+"/gone.pdf")
	var transportErr *crawler.TransportError
	require.True(t, errors.As(err, &transportErr))
	require.Equal(t, http.StatusNotFound, transportErr.StatusCode)
	require.Equal(t, 2, transportErr.Attempts)
}
