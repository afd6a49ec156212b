package parser

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

const (
	minTableRows = 2
	maxTableRows = 10
	// minFallbackTitle is the shortest anchor text accepted as a title when
	// no labeled title row exists (exclusive).
	minFallbackTitle = 5
)

func (p *Parser) parseHTMLListing(body []byte, opts crawler.ListingOptions) []crawler.PolicyRecord {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		p.logger.Debug("html listing not parseable", zap.String("source", opts.SourceRef), zap.Error(err))
		return nil
	}
	tables := recordTables(doc)
	if len(tables) == 0 {
		p.logger.Debug("html listing not recognized",
			zap.String("source", opts.SourceRef),
			zap.Int("tables", doc.Find("table").Length()),
			zap.Error(crawler.ErrShapeDetection),
		)
		return nil
	}

	records := make([]crawler.PolicyRecord, 0, len(tables))
	for i, table := range tables {
		if opts.MaxRecords > 0 && len(records) >= opts.MaxRecords {
			break
		}
		rec, err := extractTable(i, table, opts)
		if err != nil {
			p.logger.Debug("skipping record table", zap.String("source", opts.SourceRef), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}
	return records
}

// recordTables returns the per-record tables of a listing page: a strict
// pass keyed on the title label, then a looser pass keyed on detail links.
func recordTables(doc *goquery.Document) []*goquery.Selection {
	var strict, loose []*goquery.Selection
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		rows := table.Find("tr")
		if rows.Length() < minTableRows || rows.Length() > maxTableRows {
			return
		}
		if hasTitleHeader(rows.First()) {
			strict = append(strict, table)
			return
		}
		if hasDetailLink(table) {
			loose = append(loose, table)
		}
	})
	if len(strict) > 0 {
		return strict
	}
	return loose
}

func hasTitleHeader(row *goquery.Selection) bool {
	if cell := row.Find("td, th").First(); cell.Length() > 0 {
		text := cell.Text()
		if titleMarker(text) || titleMarker(cleanLabel(text)) {
			return true
		}
	}
	rowText := row.Text()
	return strings.Contains(rowText, "标题") || containsAll(rowText, "标", "题")
}

func titleMarker(s string) bool {
	return strings.Contains(s, "标题") || containsAll(s, "标", "题") || strings.Contains(s, "名称")
}

func hasDetailLink(table *goquery.Selection) bool {
	found := false
	table.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := a.AttrOr("href", "")
		if href != "" && !strings.HasPrefix(href, "javascript") &&
			containsAny(href, "html", "detail", "view") {
			found = true
			return false
		}
		return true
	})
	return found
}

// tableFields accumulates labeled values while walking a record table.
type tableFields struct {
	title     string
	detailURL string
	docNumber string
	pubDate   string
	implDate  string
	level     string
	validity  string
	category  string
}

var errNoTitle = errors.New("table has no title")

// extractTable builds one record from a record table. A panic inside the
// table walk is reported as a RecordExtractionError so the page continues.
func extractTable(index int, table *goquery.Selection, opts crawler.ListingOptions) (rec crawler.PolicyRecord, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &crawler.RecordExtractionError{Index: index, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	f := tableFields{level: opts.DefaultLevel}
	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td, th")
		if cells.Length() < 2 {
			return
		}
		f.apply(cleanLabel(cells.Eq(0).Text()), cells.Eq(1))
	})

	if f.title == "" {
		f.fallbackTitle(table)
	}
	if f.title == "" {
		return crawler.PolicyRecord{}, &crawler.RecordExtractionError{Index: index, Err: errNoTitle}
	}

	pubDate := f.pubDate
	if pubDate == "" {
		pubDate = f.implDate
	}
	category := opts.Category
	if f.category != "" {
		category = f.category
	}
	return crawler.NewRecord(crawler.PolicyRecord{
		Title:         f.title,
		PubDate:       crawler.NormalizeDate(pubDate),
		DocNumber:     f.docNumber,
		Level:         f.level,
		Validity:      f.validity,
		Category:      category,
		EffectiveDate: crawler.NormalizeDate(f.implDate),
		URL:           resolveURL(opts.BaseURL, f.detailURL),
		CrawlTime:     opts.CrawlTime,
		SourceRef:     opts.SourceRef,
	}), nil
}

func (f *tableFields) apply(label string, cell *goquery.Selection) {
	rule, ok := classify(label)
	if !ok {
		return
	}
	raw := collapseSpace(cell.Text())
	switch rule.field {
	case fieldTitle:
		f.title = raw
		if a := cell.Find("a[href]").First(); a.Length() > 0 {
			f.detailURL = strings.TrimSpace(a.AttrOr("href", ""))
			if f.title == "" {
				f.title = collapseSpace(a.Text())
			}
		}
	case fieldDocNumber:
		f.docNumber = raw
	case fieldPubDate:
		if v := rule.value(raw); v != "" {
			f.pubDate = v
		}
	case fieldImplementDate:
		if v := rule.value(raw); v != "" && f.implDate == "" {
			f.implDate = v
		}
	case fieldLevel:
		if raw != "" {
			f.level = raw
		}
	case fieldValidity:
		if raw != "" {
			f.validity = raw
		}
	case fieldCategory:
		if raw != "" {
			f.category = raw
		}
	}
}

// fallbackTitle takes the first real link with a long enough text.
func (f *tableFields) fallbackTitle(table *goquery.Selection) {
	table.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		text := collapseSpace(a.Text())
		if href == "" || strings.HasPrefix(href, "javascript") || utf8.RuneCountInString(text) <= minFallbackTitle {
			return true
		}
		f.title = text
		f.detailURL = href
		return false
	})
}
