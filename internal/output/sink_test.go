package output

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policy-crawler/internal/attachments"
	"github.com/JakeFAU/policy-crawler/internal/crawler"
	pubmemory "github.com/JakeFAU/policy-crawler/internal/publisher/memory"
	"github.com/JakeFAU/policy-crawler/internal/storage/memory"
)

type fakeSource struct {
	bodies map[string][]byte
}

func (f fakeSource) Download(_ context.Context, rawURL string) ([]byte, error) {
	body, ok := f.bodies[rawURL]
	if !ok {
		return nil, errors.New("not found")
	}
	return body, nil
}

type fakePolicies struct {
	mu      sync.Mutex
	records []crawler.PolicyRecord
	err     error
}

func (f *fakePolicies) UpsertPolicy(_ context.Context, rec crawler.PolicyRecord, _ []crawler.AttachmentLink) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, rec)
	return nil
}

func seededStore(t *testing.T) *memory.BlobStore {
	t.Helper()
	store := memory.NewBlobStore()
	for _, p := range []string{"markdown/0007_旧政策.md", "markdown/index.txt", "files/0003_旧政策_附件.pdf"} {
		_, err := store.PutObject(context.Background(), p, "text/plain", stringsReader("old"))
		require.NoError(t, err)
	}
	return store
}

func newTestSink(t *testing.T, store *memory.BlobStore, cfg Config) *Sink {
	t.Helper()
	dl, err := attachments.NewDownloader(fakeSource{bodies: map[string][]byte{
		"https://f.mnr.gov.cn/a/P01.pdf": []byte("%PDF-1.4"),
	}}, store, attachments.DownloaderConfig{Filter: attachments.Filter{PDF: true}})
	require.NoError(t, err)
	cfg.Downloader = dl
	sink, err := New(store, cfg)
	require.NoError(t, err)
	return sink
}

func TestSinkPersistWritesEverything(t *testing.T) {
	t.Parallel()

	store := seededStore(t)
	policies := &fakePolicies{}
	pub := pubmemory.New()
	sink := newTestSink(t, store, Config{
		SaveJSON:     true,
		SaveMarkdown: true,
		SaveFiles:    true,
		Topic:        "policies",
		Policies:     policies,
		Publisher:    pub,
	})

	rec := sampleRecord()
	links := []crawler.AttachmentLink{
		{URL: "https://f.mnr.gov.cn/a/P01.pdf", Name: "附件一"},
		{URL: "https://f.mnr.gov.cn/a/P02.xls", Name: "统计表"},
	}
	require.NoError(t, sink.Persist(context.Background(), rec, links))

	_, ok := store.Object("files/0004_测试政策_附件一.pdf")
	assert.True(t, ok)
	md, ok := store.Object("markdown/0008_测试政策.md")
	require.True(t, ok)
	assert.Contains(t, string(md), "# 测试政策")
	js, ok := store.Object("json/" + jsonName(rec))
	require.True(t, ok)
	assert.Contains(t, string(js), `"files/0004_测试政策_附件一.pdf"`)
	assert.Contains(t, string(js), `"https://f.mnr.gov.cn/a/P02.xls"`)

	require.Len(t, policies.records, 1)
	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "policies", msgs[0].Topic)
	assert.Equal(t, rec.IdentityKey, msgs[0].OrderingKey)
	assert.Equal(t, "laws", msgs[0].Attributes["source"])
	n, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	assert.Equal(t, "markdown/0008_测试政策.md", n.Markdown)
	assert.Equal(t, []string{"files/0004_测试政策_附件一.pdf"}, n.Files)

	second := sampleRecord()
	second.Title = "第二个政策"
	second.Content = ""
	require.NoError(t, sink.Persist(context.Background(), second, nil))
	_, ok = store.Object("markdown/0009_第二个政策.md")
	assert.True(t, ok)

	third := sampleRecord()
	third.Title = "第三个政策"
	require.NoError(t, sink.Persist(context.Background(), third, links))
	_, ok = store.Object("files/0005_第三个政策_附件一.pdf")
	assert.True(t, ok)
}

func TestSinkTogglesAndAttachmentFailures(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	sink := newTestSink(t, store, Config{SaveMarkdown: true, SaveFiles: true})

	rec := sampleRecord()
	links := []crawler.AttachmentLink{{URL: "https://f.mnr.gov.cn/a/missing.pdf", Name: "缺失"}}
	require.NoError(t, sink.Persist(context.Background(), rec, links))

	paths, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"markdown/0001_测试政策.md"}, paths)
}

func TestSinkStoreFailureSkipsNotification(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	policies := &fakePolicies{err: errors.New("db down")}
	pub := pubmemory.New()
	sink := newTestSink(t, store, Config{SaveJSON: true, Policies: policies, Publisher: pub})

	err := sink.Persist(context.Background(), sampleRecord(), nil)
	require.ErrorContains(t, err, "db down")
	assert.Empty(t, pub.Messages())
}

func TestSinkNotificationFailure(t *testing.T) {
	t.Parallel()

	pub := pubmemory.New()
	pub.FailWith(errors.New("topic not found"))
	sink := newTestSink(t, memory.NewBlobStore(), Config{Publisher: pub})

	err := sink.Persist(context.Background(), sampleRecord(), nil)
	require.ErrorContains(t, err, "topic not found")
}

func TestNewRequiresStore(t *testing.T) {
	t.Parallel()
	_, err := New(nil, Config{})
	require.Error(t, err)
}

func stringsReader(s string) *strings.Reader {
	return strings.NewReader(s)
}
