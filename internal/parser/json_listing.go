package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

// jsonItems locates the record array: "results", then "data", then the
// payload itself when it is already a list.
func jsonItems(payload any) ([]any, error) {
	switch v := payload.(type) {
	case []any:
		return v, nil
	case map[string]any:
		for _, key := range []string{"results", "data"} {
			raw, ok := v[key]
			if !ok {
				continue
			}
			items, ok := raw.([]any)
			if !ok {
				return nil, fmt.Errorf("%w: %q is %T", crawler.ErrShapeDetection, key, raw)
			}
			return items, nil
		}
		return nil, fmt.Errorf("%w: no results or data array", crawler.ErrShapeDetection)
	default:
		return nil, fmt.Errorf("%w: payload is %T", crawler.ErrShapeDetection, payload)
	}
}

func (p *Parser) parseJSONListing(payload any, opts crawler.ListingOptions) []crawler.PolicyRecord {
	items, err := jsonItems(payload)
	if err != nil {
		p.logger.Debug("json listing not recognized", zap.String("source", opts.SourceRef), zap.Error(err))
		return nil
	}
	records := make([]crawler.PolicyRecord, 0, len(items))
	for i, raw := range items {
		if opts.MaxRecords > 0 && len(records) >= opts.MaxRecords {
			break
		}
		rec, err := jsonRecord(raw, opts)
		if err != nil {
			p.logger.Debug("skipping json item",
				zap.String("source", opts.SourceRef),
				zap.Error(&crawler.RecordExtractionError{Index: i, Err: err}),
			)
			continue
		}
		records = append(records, rec)
	}
	return records
}

var errNoTitleOrURL = errors.New("item has neither title nor url")

func jsonRecord(raw any, opts crawler.ListingOptions) (crawler.PolicyRecord, error) {
	item, ok := raw.(map[string]any)
	if !ok {
		return crawler.PolicyRecord{}, fmt.Errorf("item is %T", raw)
	}
	title := stringField(item, "title")
	link := resolveURL(opts.BaseURL, stringField(item, "url"))
	if title == "" && link == "" {
		return crawler.PolicyRecord{}, errNoTitleOrURL
	}
	return crawler.NewRecord(crawler.PolicyRecord{
		Title:         title,
		PubDate:       crawler.NormalizeDate(stringField(item, "pubdate", "publishdate")),
		DocNumber:     stringField(item, "filenum"),
		Validity:      stringField(item, "status"),
		Category:      stringField(item, "category"),
		EffectiveDate: stringField(item, "effectivedate"),
		URL:           link,
		Content:       stringField(item, "content", "summary", "abstract"),
		CrawlTime:     opts.CrawlTime,
		SourceRef:     opts.SourceRef,
	}), nil
}

// stringField returns the first non-empty value among keys, rendering
// numbers and booleans as text.
func stringField(item map[string]any, keys ...string) string {
	for _, key := range keys {
		var s string
		switch v := item[key].(type) {
		case string:
			s = v
		case json.Number:
			s = v.String()
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(v)
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
