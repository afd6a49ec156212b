package parser

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

// contentSelectors are tried in order; the first present container wins.
var contentSelectors = []string{
	"div.TRS_Editor",
	"div.content",
	"div#content",
	"div.article-content",
	"div.main-content",
	"div.article",
}

// maxLabelRunes bounds what is treated as a label cell on detail pages,
// where body text also lives in tables.
const maxLabelRunes = 12

// metaFields maps lowercased <meta name> values to record fields.
var metaFields = map[string]field{
	"pubdate":            fieldPubDate,
	"publishdate":        fieldPubDate,
	"firstpublishedtime": fieldPubDate,
	"contentsource":      fieldLevel,
	"columnname":         fieldCategory,
}

// ParseDetail extracts the body text, metadata, and attachment links of a
// detail page. Malformed markup yields an empty result.
func (p *Parser) ParseDetail(body []byte, sourceURL string) crawler.DetailResult {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		p.logger.Debug("detail page not parseable", zap.String("url", sourceURL), zap.Error(err))
		return crawler.DetailResult{}
	}
	doc.Find("script, style, noscript").Remove()

	return crawler.DetailResult{
		Content:     mainContent(doc),
		Attachments: p.resolver.Extract(doc, sourceURL),
		Metadata:    detailMetadata(doc),
	}
}

func mainContent(doc *goquery.Document) string {
	for _, sel := range contentSelectors {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			return visibleText(node)
		}
	}
	return visibleText(doc.Selection)
}

// visibleText returns the trimmed non-empty lines of sel's text.
func visibleText(sel *goquery.Selection) string {
	lines := strings.Split(sel.Text(), "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// detailMetadata collects metadata from label/value cell pairs and falls
// back to <meta> tags for fields the tables did not provide. The first
// accepted value of each field wins.
func detailMetadata(doc *goquery.Document) crawler.Metadata {
	var meta crawler.Metadata
	doc.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.ChildrenFiltered("td, th")
		for i := 0; i+1 < cells.Length(); i += 2 {
			label := cleanLabel(cells.Eq(i).Text())
			if label == "" || utf8.RuneCountInString(label) > maxLabelRunes {
				continue
			}
			if rule, ok := classify(label); ok {
				setMeta(&meta, rule, collapseSpace(cells.Eq(i+1).Text()))
			}
		}
	})
	doc.Find("meta[name]").Each(func(_ int, m *goquery.Selection) {
		f, ok := metaFields[strings.ToLower(strings.TrimSpace(m.AttrOr("name", "")))]
		if !ok {
			return
		}
		content := strings.TrimSpace(m.AttrOr("content", ""))
		if f == fieldPubDate {
			// "2020-03-01 10:30:00" carries a time of day.
			if parts := strings.Fields(content); len(parts) > 0 {
				content = parts[0]
			}
		}
		for _, rule := range rowRules {
			if rule.field == f {
				setMeta(&meta, rule, content)
				break
			}
		}
	})
	return meta
}

func setMeta(meta *crawler.Metadata, rule rowRule, raw string) {
	v := rule.value(raw)
	if v == "" {
		return
	}
	var target *string
	switch rule.field {
	case fieldPubDate:
		target = &meta.PubDate
	case fieldImplementDate:
		target = &meta.EffectiveDate
	case fieldLevel:
		target = &meta.Level
	case fieldValidity:
		target = &meta.Validity
	case fieldCategory:
		target = &meta.Category
	default:
		return
	}
	if *target == "" {
		*target = v
	}
}
