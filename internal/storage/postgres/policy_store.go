package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

// PolicyStore upserts enriched policy records keyed by identity key.
type PolicyStore struct {
	pool  Execer
	table string
}

// NewPolicyStore builds a PolicyStore writing to table (default "policies").
func NewPolicyStore(pool Execer, table string) (*PolicyStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table, "policies")
	if err != nil {
		return nil, err
	}
	return &PolicyStore{pool: pool, table: name}, nil
}

// UpsertPolicy inserts rec, or refreshes the stored row when a record with
// the same identity key already exists. The first crawl time is kept.
func (s *PolicyStore) UpsertPolicy(ctx context.Context, rec crawler.PolicyRecord, links []crawler.AttachmentLink) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("policy store is not configured")
	}
	if rec.IdentityKey == "" {
		return fmt.Errorf("record identity key is required")
	}
	if links == nil {
		links = []crawler.AttachmentLink{}
	}
	attachmentsJSON, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	identity_key,
	title,
	pub_date,
	doc_number,
	level,
	validity,
	category,
	effective_date,
	source_url,
	content,
	source,
	attachments,
	crawl_time
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (identity_key) DO UPDATE SET
	title = EXCLUDED.title,
	pub_date = EXCLUDED.pub_date,
	doc_number = EXCLUDED.doc_number,
	level = EXCLUDED.level,
	validity = EXCLUDED.validity,
	category = EXCLUDED.category,
	effective_date = EXCLUDED.effective_date,
	content = EXCLUDED.content,
	attachments = EXCLUDED.attachments,
	updated_at = now()`, s.table)

	args := []any{
		rec.IdentityKey,
		rec.Title,
		rec.PubDate,
		rec.DocNumber,
		rec.Level,
		rec.Validity,
		rec.Category,
		rec.EffectiveDate,
		rec.URL,
		rec.Content,
		rec.SourceRef,
		attachmentsJSON,
		rec.CrawlTime,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert policy: %w", err)
	}
	return nil
}
