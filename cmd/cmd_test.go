package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func executeRoot(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// portalServer serves one listing page with two records, then empty pages,
// plus a detail page for each record.
func portalServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if r.URL.Query().Get("page") != "1" {
			fmt.Fprint(w, `{"results":[]}`)
			return
		}
		fmt.Fprint(w, `{"results":[
			{"title":"关于加强土地管理的通知","url":"/detail/1.html","pubdate":"2023-01-02","filenum":"自然资发〔2023〕1号"},
			{"title":"矿产资源规划编制办法","url":"/detail/2.html","pubdate":"2022年5月6日"}
		]}`)
	})
	mux.HandleFunc("/detail/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><body><div id="content"><p>第一条 为了规范管理，制定本办法。</p></div></body></html>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSourcesCommand(t *testing.T) {
	t.Parallel()

	out, err := executeRoot(t, "sources")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "政策法规库")
	assert.Contains(t, out, "174757")
}

func TestCrawlCommand_WritesRecords(t *testing.T) {
	t.Parallel()

	srv := portalServer(t)
	outDir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`
crawler:
  request_delay: 0s
  max_empty_pages: 1
http:
  timeout: 5s
  max_retries: 1
  retry_delay: 10ms
sources:
  - name: 测试库
    base_url: %[1]s/
    search_url: %[1]s/search
    channel_id: "1"
    enabled: true
output:
  save_files: false
storage:
  backend: local
  local_dir: %[2]s
logging:
  development: false
`, srv.URL, outDir))

	out, err := executeRoot(t, "crawl", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "2 records, 2 completed, 0 failed")
	assert.Contains(t, out, "测试库: 2 pages, 2 records, 2 merged, stopped: empty")

	markdown, err := filepath.Glob(filepath.Join(outDir, "markdown", "*.md"))
	require.NoError(t, err)
	require.Len(t, markdown, 2)
	assert.Equal(t, "0001_关于加强土地管理的通知.md", filepath.Base(markdown[0]))

	data, err := os.ReadFile(markdown[0])
	require.NoError(t, err)
	body := string(data)
	assert.True(t, strings.HasPrefix(body, "---\n"))
	assert.Contains(t, body, "自然资发〔2023〕1号")
	assert.Contains(t, body, "为了规范管理")

	jsonFiles, err := filepath.Glob(filepath.Join(outDir, "json", "*.json"))
	require.NoError(t, err)
	assert.Len(t, jsonFiles, 2)
}

func TestCrawlCommand_MaxRecordsFlag(t *testing.T) {
	t.Parallel()

	srv := portalServer(t)
	outDir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`
crawler:
  request_delay: 0s
  max_empty_pages: 1
http:
  max_retries: 1
sources:
  - name: 测试库
    base_url: %[1]s/
    search_url: %[1]s/search
    enabled: true
output:
  save_files: false
  save_json: false
storage:
  local_dir: %[2]s
logging:
  development: false
`, srv.URL, outDir))

	out, err := executeRoot(t, "crawl", "--config", cfgPath, "--max-records", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 records, 1 completed")

	markdown, err := filepath.Glob(filepath.Join(outDir, "markdown", "*.md"))
	require.NoError(t, err)
	assert.Len(t, markdown, 1)
	_, err = os.Stat(filepath.Join(outDir, "json"))
	assert.True(t, os.IsNotExist(err))
}

func TestCrawlCommand_RejectsBadFlags(t *testing.T) {
	t.Parallel()

	_, err := executeRoot(t, "crawl", "--start-date", "2020/01/01")
	require.ErrorContains(t, err, "invalid flags")
}

func TestRootCommand_BadConfig(t *testing.T) {
	t.Parallel()

	_, err := executeRoot(t, "sources", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}
