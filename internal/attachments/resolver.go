// Package attachments finds downloadable files linked from detail pages,
// decides which of them are worth keeping, and stores them.
package attachments

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

// extensions is ordered longest suffix first so compound archive suffixes
// win over their tails.
var extensions = longestFirst([]string{
	".tar.gz", ".tar.bz2", ".tar.xz",
	".zip", ".tar", ".rar", ".7z", ".gz", ".bz2",
	".doc", ".docx", ".pdf", ".xls", ".xlsx", ".ppt", ".pptx",
	".txt", ".csv", ".xml", ".json",
})

var (
	textKeywords = []string{"下载", "附件", "download", "attachment"}
	pathSegments = []string{"/attach/", "/attachment/", "/file/", "/download/"}
	rejectPrefix = []string{"javascript:", "mailto:", "#"}
)

func longestFirst(in []string) []string {
	out := append([]string(nil), in...)
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

// Extension returns the known attachment suffix rawURL ends with, or "".
func Extension(rawURL string) string {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return ext
		}
	}
	return ""
}

// Resolver extracts attachment links from parsed detail pages.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver builds a Resolver. Skipped links are logged at debug level.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// ExtractAttachments is a convenience wrapper around a Resolver with no logger.
func ExtractAttachments(doc *goquery.Document, baseURL string) []crawler.AttachmentLink {
	return NewResolver(nil).Extract(doc, baseURL)
}

// Extract returns the attachment links of doc resolved against baseURL,
// deduplicated by absolute URL in document order.
func (r *Resolver) Extract(doc *goquery.Document, baseURL string) []crawler.AttachmentLink {
	if doc == nil {
		return nil
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		base = nil
	}

	var links []crawler.AttachmentLink
	seen := make(map[string]struct{})
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" || rejected(href) {
			return
		}
		text := collapseSpace(a.Text())
		if !qualifies(href, text) {
			return
		}
		abs, err := resolve(base, href)
		if err != nil {
			r.logger.Debug("skipping attachment link", zap.Error(err))
			return
		}
		if _, dup := seen[abs]; dup {
			return
		}
		seen[abs] = struct{}{}
		links = append(links, crawler.AttachmentLink{
			URL:  abs,
			Name: displayName(text, href, len(links)+1),
		})
	})
	return links
}

func rejected(href string) bool {
	lower := strings.ToLower(href)
	for _, prefix := range rejectPrefix {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// qualifies applies the three attachment signals: a known suffix, a
// download keyword in the anchor text, or a conventional directory segment.
func qualifies(href, text string) bool {
	if Extension(href) != "" {
		return true
	}
	lowerText := strings.ToLower(text)
	for _, kw := range textKeywords {
		if strings.Contains(lowerText, kw) {
			return true
		}
	}
	lowerHref := strings.ToLower(href)
	for _, seg := range pathSegments {
		if strings.Contains(lowerHref, seg) {
			return true
		}
	}
	return false
}

var errRelativeBase = errors.New("base url is not absolute")

// resolve turns href into an absolute http(s) URL. Root-relative hrefs keep
// only the scheme and host of base.
func resolve(base *url.URL, href string) (string, error) {
	lower := strings.ToLower(href)
	if isHTTP(lower) {
		return href, nil
	}
	if base == nil || base.Scheme == "" || base.Host == "" {
		return "", &crawler.AttachmentResolutionError{Href: href, Err: errRelativeBase}
	}
	var abs string
	if strings.HasPrefix(href, "/") && !strings.HasPrefix(href, "//") {
		abs = base.Scheme + "://" + base.Host + href
	} else {
		ref, err := url.Parse(href)
		if err != nil {
			return "", &crawler.AttachmentResolutionError{Href: href, Err: err}
		}
		abs = base.ResolveReference(ref).String()
	}
	if rejected(abs) || !isHTTP(strings.ToLower(abs)) {
		return "", &crawler.AttachmentResolutionError{
			Href: href,
			Err:  fmt.Errorf("resolved url %q is not http(s)", abs),
		}
	}
	return abs, nil
}

func isHTTP(lower string) bool {
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// displayName picks the anchor text, then the last path segment, then a
// numbered placeholder.
func displayName(text, href string, n int) string {
	if utf8.RuneCountInString(text) >= 2 {
		return text
	}
	segment := href[strings.LastIndex(href, "/")+1:]
	if i := strings.Index(segment, "?"); i >= 0 {
		segment = segment[:i]
	}
	if utf8.RuneCountInString(segment) >= 2 {
		return segment
	}
	return fmt.Sprintf("附件_%d", n)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
