package crawler

import (
	"net/url"
	"time"
)

// DataSource describes one crawlable search endpoint of the portal.
type DataSource struct {
	Name      string `json:"name"`
	BaseURL   string `json:"base_url"`
	SearchURL string `json:"search_url"`
	AjaxURL   string `json:"ajax_url,omitempty"`
	ChannelID string `json:"channel_id"`
	Enabled   bool   `json:"enabled"`
	PerPage   int    `json:"perpage"`
}

// PayloadKind tags the shape of a fetched page.
type PayloadKind string

// Supported payload kinds.
const (
	PayloadJSON    PayloadKind = "json"
	PayloadHTML    PayloadKind = "html"
	PayloadFailure PayloadKind = "failure"
)

// FetchRequest captures one GET issued by the orchestrator.
type FetchRequest struct {
	URL     string
	Params  url.Values
	Referer string
}

// PageResult is the outcome of a single fetch. Body holds the raw response
// (UTF-8 decoded for HTML); JSON holds the decoded document when Kind is
// PayloadJSON; Err is set only when Kind is PayloadFailure.
type PageResult struct {
	Kind       PayloadKind
	URL        string
	StatusCode int
	Body       []byte
	JSON       any
	Err        error
}

// Failed reports whether the fetch exhausted its retries.
func (r PageResult) Failed() bool {
	return r.Kind == PayloadFailure
}

// PolicyRecord is one legal/policy document discovered by the crawl.
type PolicyRecord struct {
	Title         string    `json:"title"`
	PubDate       string    `json:"pub_date"`
	DocNumber     string    `json:"doc_number"`
	Level         string    `json:"level"`
	Validity      string    `json:"validity"`
	Category      string    `json:"category"`
	EffectiveDate string    `json:"effective_date"`
	URL           string    `json:"url"`
	Content       string    `json:"content"`
	CrawlTime     time.Time `json:"crawl_time"`
	IdentityKey   string    `json:"id"`
	SourceRef     string    `json:"source"`
}

// AttachmentLink is a downloadable file referenced from a detail page.
type AttachmentLink struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// Metadata holds fields opportunistically found on a detail page. Empty
// strings mean "not present".
type Metadata struct {
	PubDate       string `json:"pub_date,omitempty"`
	Level         string `json:"level,omitempty"`
	Validity      string `json:"validity,omitempty"`
	EffectiveDate string `json:"effective_date,omitempty"`
	Category      string `json:"category,omitempty"`
}

// DetailResult is the parsed form of a record's detail page.
type DetailResult struct {
	Content     string
	Attachments []AttachmentLink
	Metadata    Metadata
}

// ListingOptions parameterizes one listing parse.
type ListingOptions struct {
	// MaxRecords caps records extracted from the page; <= 0 means no cap.
	MaxRecords int
	// BaseURL resolves relative detail links.
	BaseURL string
	// DefaultLevel is used for HTML records without an institution row.
	DefaultLevel string
	// Category is stamped on HTML records.
	Category  string
	SourceRef string
	CrawlTime time.Time
}
