package collyfetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

func TestDecodeJSON(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		body string
		ok   bool
	}{
		{"object", `{"results":[]}`, true},
		{"array", ` [1, 2] `, true},
		{"bom", "\xEF\xBB\xBF{\"data\":[]}", true},
		{"scalar", `"just a string"`, false},
		{"html", `<html></html>`, false},
		{"truncated", `{"results":[`, false},
		{"trailing", `{} <html>`, false},
		{"empty", ``, false},
	}
	for _, tc := range cases {
		_, ok := decodeJSON([]byte(tc.body))
		assert.Equal(t, tc.ok, ok, tc.name)
	}

	doc, ok := decodeJSON([]byte(`{"total": 12}`))
	require.True(t, ok)
	assert.Equal(t, json.Number("12"), doc.(map[string]any)["total"])
}

func TestToUTF8(t *testing.T) {
	t.Parallel()
	gbk, err := simplifiedchinese.GBK.NewEncoder().String("<p>国土空间规划</p>")
	require.NoError(t, err)

	assert.Equal(t, "<p>国土空间规划</p>", string(toUTF8([]byte(gbk), "text/html; charset=gbk")))
	assert.Equal(t, "<p>已是UTF-8</p>", string(toUTF8([]byte("\xEF\xBB\xBF<p>已是UTF-8</p>"), "text/html")))
}

func TestClassify(t *testing.T) {
	t.Parallel()
	html := classify(response{url: "https://f.mnr.gov.cn/", statusCode: 200, body: []byte("<p>列表</p>")})
	assert.Equal(t, crawler.PayloadHTML, html.Kind)
	assert.Equal(t, "https://f.mnr.gov.cn/", html.URL)
	assert.False(t, html.Failed())

	js := classify(response{statusCode: 200, header: http.Header{"Content-Type": {"text/html"}}, body: []byte(`[{"title":"x"}]`)})
	assert.Equal(t, crawler.PayloadJSON, js.Kind)
	assert.Len(t, js.JSON, 1)
}

func TestStaticProxies(t *testing.T) {
	t.Parallel()
	proxies, err := NewStaticProxies([]string{"10.0.0.1:8080", " ", "socks5://10.0.0.2:1080"})
	require.NoError(t, err)

	var hosts []string
	for range 3 {
		u, err := proxies.Next(context.Background())
		require.NoError(t, err)
		hosts = append(hosts, u.Scheme+"://"+u.Host)
	}
	assert.Equal(t, []string{"http://10.0.0.1:8080", "socks5://10.0.0.2:1080", "http://10.0.0.1:8080"}, hosts)

	empty, err := NewStaticProxies(nil)
	require.NoError(t, err)
	_, err = empty.Next(context.Background())
	require.ErrorIs(t, err, ErrNoProxies)

	_, err = NewStaticProxies([]string{"http://"})
	require.Error(t, err)
}
