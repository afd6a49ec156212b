package crawler

import (
	"strings"

	"github.com/JakeFAU/policy-crawler/internal/hash/sha256"
)

// IdentityKey derives the dedup key for a record: the digest of its source
// URL, or of title and publication date when the URL is absent.
func IdentityKey(sourceURL, title, pubDate string) string {
	if u := strings.TrimSpace(sourceURL); u != "" {
		return sha256.Sum("url", u)
	}
	return sha256.Sum("title", strings.TrimSpace(title), strings.TrimSpace(pubDate))
}

// NewRecord stamps the identity key on a freshly extracted record. The key
// is assigned exactly once; later enrichment never recomputes it.
func NewRecord(r PolicyRecord) PolicyRecord {
	if r.IdentityKey == "" {
		r.IdentityKey = IdentityKey(r.URL, r.Title, r.PubDate)
	}
	return r
}
