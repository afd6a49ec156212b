package parser

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-crawler/internal/attachments"
	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

// Parser implements both the listing and the detail parser of the crawl
// pipeline. It is stateless apart from its logger and safe for concurrent use.
type Parser struct {
	logger   *zap.Logger
	resolver *attachments.Resolver
}

var (
	_ crawler.ListingParser = (*Parser)(nil)
	_ crawler.DetailParser  = (*Parser)(nil)
)

// New constructs a Parser.
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("parser")
	return &Parser{
		logger:   logger,
		resolver: attachments.NewResolver(logger),
	}
}

// ParseListing extracts candidate records from one listing page. Payloads of
// an unrecognized shape yield no records.
func (p *Parser) ParseListing(result crawler.PageResult, opts crawler.ListingOptions) []crawler.PolicyRecord {
	switch result.Kind {
	case crawler.PayloadJSON:
		return p.parseJSONListing(result.JSON, opts)
	case crawler.PayloadHTML:
		return p.parseHTMLListing(result.Body, opts)
	default:
		return nil
	}
}

// resolveURL joins a relative detail link to base; absolute and empty links,
// or links that cannot be parsed, are returned unchanged.
func resolveURL(base, href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(strings.ToLower(href), "http") {
		return href
	}
	b, err := url.Parse(strings.TrimSpace(base))
	if err != nil || b.Scheme == "" {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return b.ResolveReference(ref).String()
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
