package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

const detailURL = "https://f.mnr.gov.cn/gk/202003/t20200301_1.html"

func TestParseDetail_ContentMetadataAndAttachments(t *testing.T) {
	t.Parallel()
	page := `<html><head>
<meta name="PubDate" content="2020-03-01 10:30:00">
<meta name="ColumnName" content="规范性文件">
<script>var label = "发布机构";</script>
</head><body>
<table><tr><td>本办法所称国土空间规划是指各级机构编制的规划</td><td>不是元数据</td></tr></table>
<table class="info">
<tr><td>发文机关</td><td>自然资源部办公厅</td><td>成文日期</td><td>2020年2月28日</td></tr>
<tr><td>时效性</td><td>现行有效</td><td>生效日期</td><td>2020年3月1日</td></tr>
</table>
<div class="TRS_Editor">
<p>第一条 为了规范自然资源管理，制定本办法。</p>
<p>第二条 本办法自发布之日起施行。</p>
<p><a href="./P020200301.pdf">附件：实施细则</a></p>
</div>
<div class="content">不应被选中</div>
</body></html>`

	result := New(nil).ParseDetail([]byte(page), detailURL)

	require.Equal(t, "第一条 为了规范自然资源管理，制定本办法。\n第二条 本办法自发布之日起施行。\n附件：实施细则", result.Content)
	require.Equal(t, crawler.Metadata{
		PubDate:       "2020年2月28日",
		Level:         "自然资源部办公厅",
		Validity:      "现行有效",
		EffectiveDate: "2020年3月1日",
		Category:      "规范性文件",
	}, result.Metadata)
	require.Equal(t, []crawler.AttachmentLink{{
		URL:  "https://f.mnr.gov.cn/gk/202003/P020200301.pdf",
		Name: "附件：实施细则",
	}}, result.Attachments)
}

func TestParseDetail_ContainerOrder(t *testing.T) {
	t.Parallel()
	page := `<html><body>
<div class="article">文章区域</div>
<div id="content">
正文容器
</div>
</body></html>`

	result := New(nil).ParseDetail([]byte(page), detailURL)
	require.Equal(t, "正文容器", result.Content)
}

func TestParseDetail_FullPageFallback(t *testing.T) {
	t.Parallel()
	page := `<html><head><title>通知</title><style>.a { color: red }</style></head><body>
<p>正文第一段</p>

<p>正文第二段</p>
<noscript>请启用脚本</noscript>
</body></html>`

	result := New(nil).ParseDetail([]byte(page), detailURL)
	assert.Contains(t, result.Content, "正文第一段\n正文第二段")
	assert.NotContains(t, result.Content, "color")
	assert.NotContains(t, result.Content, "请启用脚本")
	assert.Empty(t, result.Attachments)
	assert.Equal(t, crawler.Metadata{}, result.Metadata)
}

func TestParseDetail_MetaTagFallback(t *testing.T) {
	t.Parallel()
	page := `<html><head>
<meta name="firstpublishedtime" content="2021-07-15 09:00:00">
<meta name="ContentSource" content="自然资源部">
<meta name="keywords" content="土地,规划">
</head><body><div class="TRS_Editor">正文</div></body></html>`

	result := New(nil).ParseDetail([]byte(page), detailURL)
	require.Equal(t, "2021-07-15", result.Metadata.PubDate)
	require.Equal(t, "自然资源部", result.Metadata.Level)
	require.Empty(t, result.Metadata.Category)
}

func TestParseDetail_RejectsNonDateValues(t *testing.T) {
	t.Parallel()
	page := `<html><body><table>
<tr><td>发布日期</td><td>待定</td></tr>
<tr><td>实施日期</td><td>另行通知</td></tr>
</table></body></html>`

	result := New(nil).ParseDetail([]byte(page), detailURL)
	require.Empty(t, result.Metadata.PubDate)
	require.Empty(t, result.Metadata.EffectiveDate)
}

func TestRowRules_FirstMatchWins(t *testing.T) {
	t.Parallel()
	cases := []struct {
		label string
		want  field
	}{
		{"标题", fieldTitle},
		{"Title", fieldTitle},
		{"名称", fieldTitle},
		{"发文字号", fieldDocNumber},
		{"文号", fieldDocNumber},
		{"发布日期", fieldPubDate},
		{"成文时间", fieldPubDate},
		{"实施日期", fieldImplementDate},
		{"生效日期", fieldImplementDate},
		{"发布机构", fieldLevel},
		{"发文机关", fieldLevel},
		{"效力级别", fieldValidity},
		{"时效性", fieldValidity},
		{"分类", fieldCategory},
	}
	for _, tc := range cases {
		rule, ok := classify(tc.label)
		require.True(t, ok, tc.label)
		assert.Equal(t, tc.want, rule.field, tc.label)
	}

	_, ok := classify("序号")
	assert.False(t, ok)
}

func TestCleanLabel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "标题", cleanLabel(" 标  题　"))
}
