package crawler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Fetcher issues one logical GET against a listing or detail URL. It never
// returns an error; transport failures surface as a PayloadFailure result.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) PageResult
}

// ListingParser turns one listing page into candidate records.
type ListingParser interface {
	ParseListing(result PageResult, opts ListingOptions) []PolicyRecord
}

// DetailParser extracts body text, metadata, and attachments from a detail page.
type DetailParser interface {
	ParseDetail(body []byte, sourceURL string) DetailResult
}

// RecordSink receives each enriched record with its attachment links.
type RecordSink interface {
	Persist(ctx context.Context, record PolicyRecord, attachments []AttachmentLink) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}
