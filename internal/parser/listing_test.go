package parser

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

var crawlTime = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func listingOpts() crawler.ListingOptions {
	return crawler.ListingOptions{
		MaxRecords:   20,
		BaseURL:      "https://f.mnr.gov.cn/",
		DefaultLevel: "自然资源部",
		Category:     "全部",
		SourceRef:    "laws",
		CrawlTime:    crawlTime,
	}
}

func htmlPage(body string) crawler.PageResult {
	return crawler.PageResult{Kind: crawler.PayloadHTML, Body: []byte("<html><body>" + body + "</body></html>")}
}

func TestParseListing_SingleThreeRowTable(t *testing.T) {
	t.Parallel()
	page := htmlPage(`<table>
		<tr><td>标题</td><td>测试政策</td></tr>
		<tr><td>发文字号</td><td>国土资发〔2020〕1号</td></tr>
		<tr><td>发布日期</td><td>2020年3月1日</td></tr>
	</table>`)

	records := New(nil).ParseListing(page, listingOpts())
	require.Len(t, records, 1)
	rec := records[0]
	require.Equal(t, "测试政策", rec.Title)
	require.Equal(t, "国土资发〔2020〕1号", rec.DocNumber)
	require.Equal(t, "2020-03-01", rec.PubDate)
	require.Empty(t, rec.Content)
	require.Equal(t, "自然资源部", rec.Level)
	require.Equal(t, "全部", rec.Category)
	require.Equal(t, "laws", rec.SourceRef)
	require.Equal(t, crawlTime, rec.CrawlTime)
	require.Equal(t, crawler.IdentityKey("", "测试政策", "2020-03-01"), rec.IdentityKey)
}

func TestParseListing_LabelRules(t *testing.T) {
	t.Parallel()
	page := htmlPage(`
	<table><tr><td>页头</td></tr></table>
	<table>
		<tr><td>标&nbsp;&nbsp;题</td><td><a href="/gk/flfg/201905/t20190528_1.html">自然资源部关于加强国土空间规划监督管理的通知</a></td></tr>
		<tr><td>发文字号</td><td>自然资发〔2019〕87号</td></tr>
		<tr><td>效力级别</td><td>部门规范性文件</td></tr>
		<tr><td>发布机构</td><td>自然资源部办公厅</td></tr>
		<tr><td>实施日期</td><td>2019年5月28日</td></tr>
	</table>
	<table>
		<tr><th>名称</th><td>不动产登记暂行条例实施细则</td></tr>
		<tr><td>公布日期</td><td>见附件</td></tr>
		<tr><td>成文时间</td><td>2015.12.30</td></tr>
	</table>`)

	records := New(nil).ParseListing(page, listingOpts())
	require.Len(t, records, 2)

	first := records[0]
	require.Equal(t, "自然资源部关于加强国土空间规划监督管理的通知", first.Title)
	require.Equal(t, "https://f.mnr.gov.cn/gk/flfg/201905/t20190528_1.html", first.URL)
	require.Equal(t, "自然资发〔2019〕87号", first.DocNumber)
	require.Equal(t, "部门规范性文件", first.Validity)
	require.Equal(t, "自然资源部办公厅", first.Level)
	require.Equal(t, "2019-05-28", first.PubDate)
	require.Equal(t, "2019-05-28", first.EffectiveDate)
	require.Equal(t, crawler.IdentityKey(first.URL, "", ""), first.IdentityKey)

	second := records[1]
	require.Equal(t, "不动产登记暂行条例实施细则", second.Title)
	require.Equal(t, "2015-12-30", second.PubDate)
	require.Empty(t, second.URL)
	require.Equal(t, "自然资源部", second.Level)
}

func TestParseListing_LoosePassAndTitleFallback(t *testing.T) {
	t.Parallel()
	page := htmlPage(`
	<table>
		<tr><td>序号</td><td>1</td></tr>
		<tr><td colspan="2"><a href="javascript:void(0)">收藏本篇文章内容</a>
			<a href="detail/2021/abc.html">矿产资源规划编制实施办法</a></td></tr>
	</table>
	<table><tr><td>x</td></tr><tr><td>y</td></tr></table>`)

	records := New(nil).ParseListing(page, listingOpts())
	require.Len(t, records, 1)
	require.Equal(t, "矿产资源规划编制实施办法", records[0].Title)
	require.Equal(t, "https://f.mnr.gov.cn/detail/2021/abc.html", records[0].URL)
}

func TestParseListing_StrictPassWinsOverLoose(t *testing.T) {
	t.Parallel()
	page := htmlPage(`
	<table>
		<tr><td>导航</td><td><a href="/nav/index.html">首页导航链接</a></td></tr>
		<tr><td>其他</td><td>-</td></tr>
	</table>
	<table>
		<tr><td>标题</td><td>测绘资质管理办法</td></tr>
		<tr><td>文号</td><td>自然资规〔2021〕3号</td></tr>
	</table>`)

	records := New(nil).ParseListing(page, listingOpts())
	require.Len(t, records, 1)
	require.Equal(t, "测绘资质管理办法", records[0].Title)
}

func TestParseListing_SkipsTablesWithoutTitle(t *testing.T) {
	t.Parallel()
	page := htmlPage(`
	<table><tr><td>标题</td><td></td></tr><tr><td>文号</td><td>x</td></tr></table>
	<table><tr><td>标题</td><td>自然资源统计调查制度</td></tr><tr><td>文号</td><td>y</td></tr></table>`)

	records := New(nil).ParseListing(page, listingOpts())
	require.Len(t, records, 1)
	require.Equal(t, "自然资源统计调查制度", records[0].Title)
}

func TestParseListing_CapsAtMaxRecords(t *testing.T) {
	t.Parallel()
	table := func(title string) string {
		return `<table><tr><td>标题</td><td>` + title + `</td></tr><tr><td>文号</td><td>-</td></tr></table>`
	}
	page := htmlPage(table("政策一") + table("政策二") + table("政策三"))
	opts := listingOpts()
	opts.MaxRecords = 2

	records := New(nil).ParseListing(page, opts)
	require.Len(t, records, 2)
	require.Equal(t, "政策二", records[1].Title)
}

func TestParseListing_UnrecognizedPayloads(t *testing.T) {
	t.Parallel()
	p := New(nil)
	require.Empty(t, p.ParseListing(htmlPage(`<p>没有找到相关结果</p>`), listingOpts()))
	require.Empty(t, p.ParseListing(crawler.PageResult{Kind: crawler.PayloadFailure}, listingOpts()))
	require.Empty(t, p.ParseListing(crawler.PageResult{
		Kind: crawler.PayloadJSON,
		JSON: map[string]any{"results": "none"},
	}, listingOpts()))
	require.Empty(t, p.ParseListing(crawler.PageResult{
		Kind: crawler.PayloadJSON,
		JSON: map[string]any{"total": 0.0},
	}, listingOpts()))
}

func TestParseListing_JSONResults(t *testing.T) {
	t.Parallel()
	payload := map[string]any{
		"total": 3.0,
		"results": []any{
			map[string]any{
				"title":         "中华人民共和国土地管理法",
				"url":           "https://f.mnr.gov.cn/a.html",
				"pubdate":       "2019年8月26日",
				"filenum":       "主席令第32号",
				"status":        "现行有效",
				"category":      "法律",
				"effectivedate": "2020-01-01",
				"content":       "",
				"summary":       "摘要",
			},
			"not an object",
			map[string]any{"title": "", "url": ""},
			map[string]any{
				"title":       "中华人民共和国矿产资源法",
				"url":         "/b.html",
				"publishdate": "1986/3/19",
				"content":     " 正文 ",
				"filenum":     32.0,
			},
		},
	}
	records := New(nil).ParseListing(crawler.PageResult{Kind: crawler.PayloadJSON, JSON: payload}, listingOpts())
	require.Len(t, records, 2)

	first := records[0]
	require.Equal(t, "中华人民共和国土地管理法", first.Title)
	require.Equal(t, "2019-08-26", first.PubDate)
	require.Equal(t, "主席令第32号", first.DocNumber)
	require.Equal(t, "现行有效", first.Validity)
	require.Equal(t, "法律", first.Category)
	require.Equal(t, "2020-01-01", first.EffectiveDate)
	require.Equal(t, "摘要", first.Content)
	require.Equal(t, "laws", first.SourceRef)

	second := records[1]
	require.Equal(t, "https://f.mnr.gov.cn/b.html", second.URL)
	require.Equal(t, "1986-03-19", second.PubDate)
	require.Equal(t, "正文", second.Content)
	require.Equal(t, "32", second.DocNumber)
}

func TestParseListing_JSONShapes(t *testing.T) {
	t.Parallel()
	item := map[string]any{"title": "自然资源部令", "url": "https://f.mnr.gov.cn/c.html", "pubdate": "20200301"}
	p := New(nil)

	fromData := p.ParseListing(crawler.PageResult{
		Kind: crawler.PayloadJSON,
		JSON: map[string]any{"data": []any{item}},
	}, listingOpts())
	require.Len(t, fromData, 1)
	require.Equal(t, "20200301", fromData[0].PubDate)

	fromList := p.ParseListing(crawler.PageResult{Kind: crawler.PayloadJSON, JSON: []any{item, item}}, listingOpts())
	require.Len(t, fromList, 2)
	require.Equal(t, fromList[0].IdentityKey, fromList[1].IdentityKey)
}
