package output

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

// missingContent replaces the body of records whose text could not be
// retrieved.
var missingContent = []string{
	"> **注意**: 该政策的正文内容无法自动获取。",
	"> ",
	"> 请访问[来源链接](#基本信息)查看完整文档内容。",
}

// RenderMarkdown renders rec as a Markdown document with YAML front matter.
func RenderMarkdown(rec crawler.PolicyRecord) ([]byte, error) {
	front, err := frontMatter(rec)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	b.WriteString("---\n")
	b.Write(front)
	b.WriteString("---\n\n")
	fmt.Fprintf(&b, "# %s\n\n", rec.Title)

	b.WriteString("## 基本信息\n\n")
	fmt.Fprintf(&b, "- **发布机构**: %s\n", rec.Level)
	fmt.Fprintf(&b, "- **发布日期**: %s\n", rec.PubDate)
	optional := []struct{ label, value string }{
		{"发文字号", rec.DocNumber},
		{"生效日期", rec.EffectiveDate},
		{"有效性", rec.Validity},
		{"分类", rec.Category},
	}
	for _, item := range optional {
		if item.value != "" {
			fmt.Fprintf(&b, "- **%s**: %s\n", item.label, item.value)
		}
	}
	fmt.Fprintf(&b, "- **来源链接**: [查看原文](%s)\n\n", rec.URL)

	b.WriteString("---\n\n")
	b.WriteString("## 正文内容\n\n")
	if rec.Content != "" {
		b.WriteString(rec.Content)
	} else {
		b.WriteString(strings.Join(missingContent, "\n"))
	}
	b.WriteString("\n")
	return []byte(b.String()), nil
}

// frontMatter encodes the record header with every value double quoted.
func frontMatter(rec crawler.PolicyRecord) ([]byte, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	add := func(key, value string) {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Style: yaml.DoubleQuotedStyle, Value: value},
		)
	}
	add("title", rec.Title)
	add("level", rec.Level)
	add("category", rec.Category)
	add("pub_date", rec.PubDate)
	add("doc_number", rec.DocNumber)
	if rec.EffectiveDate != "" {
		add("effective_date", rec.EffectiveDate)
	}
	if rec.Validity != "" {
		add("validity", rec.Validity)
	}
	add("source_url", rec.URL)
	add("crawl_time", rec.CrawlTime.Format(time.RFC3339))

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(node); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	return buf.Bytes(), nil
}
