package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/policy-crawler/internal/progress"
)

// enrich fetches each record's detail page, merges what it finds, and hands
// the record to the sink. The stop flag is polled before every record.
func (o *Orchestrator) enrich(ctx context.Context, run *runState, records []PolicyRecord) {
	run.total = len(records)
	for i := range records {
		if o.stopRequested(ctx) {
			o.logger.Info("enrichment stopped", zap.Int("remaining", len(records)-i))
			return
		}
		rec := &records[i]
		links, err := o.enrichAndPersist(ctx, rec)
		if err != nil {
			run.failed++
			o.reportError(run, rec.SourceRef, 0, err)
		} else {
			run.completed++
		}
		o.emit(run, progress.Event{
			Stage:       progress.StageRecordEnriched,
			Source:      rec.SourceRef,
			URL:         rec.URL,
			Title:       rec.Title,
			Attachments: len(links),
			Completed:   run.completed,
			Failed:      run.failed,
		})
		if i < len(records)-1 {
			o.pauser.Pause(ctx, o.cfg.RequestDelay)
		}
	}
}

// enrichAndPersist runs one record through detail enrichment and the sink
// inside its own span, so downstream notifications carry its trace context.
func (o *Orchestrator) enrichAndPersist(ctx context.Context, rec *PolicyRecord) ([]AttachmentLink, error) {
	ctx, span := tracer.Start(ctx, "crawl.enrich_record", trace.WithAttributes(
		attribute.String("source", rec.SourceRef),
		attribute.String("url", rec.URL),
	))
	defer span.End()

	links, err := o.enrichRecord(ctx, rec)
	span.SetAttributes(attribute.Int("attachments", len(links)))
	if o.sink != nil {
		if sinkErr := o.sink.Persist(ctx, *rec, links); sinkErr != nil {
			err = errors.Join(err, fmt.Errorf("persist %q: %w", rec.Title, sinkErr))
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "record failed")
	}
	return links, err
}

// errDetailFailed marks a record whose detail page could not be fetched. The
// record is still persisted with its listing data.
var errDetailFailed = errors.New("detail page unavailable")

// enrichRecord fills rec from its detail page. Records that already carry
// content, or have no URL, are passed through untouched.
func (o *Orchestrator) enrichRecord(ctx context.Context, rec *PolicyRecord) ([]AttachmentLink, error) {
	if rec.Content != "" || rec.URL == "" {
		return nil, nil
	}
	referer := ""
	if src, ok := o.sources[rec.SourceRef]; ok {
		referer = src.BaseURL
	}
	result := o.fetcher.Fetch(ctx, FetchRequest{URL: rec.URL, Referer: referer})
	if result.Failed() {
		return nil, fmt.Errorf("%w: %w", errDetailFailed, result.Err)
	}
	detail := o.detail.ParseDetail(result.Body, rec.URL)
	ApplyDetail(rec, detail)
	return detail.Attachments, nil
}

// ApplyDetail merges a parsed detail page into rec. Fields are overwritten
// only by non-empty values; date fields additionally must look like dates.
// The identity key is never touched.
func ApplyDetail(rec *PolicyRecord, detail DetailResult) {
	if detail.Content != "" {
		rec.Content = detail.Content
	}
	meta := detail.Metadata
	if meta.PubDate != "" && LooksLikeDate(meta.PubDate) {
		if rec.PubDate == "" || !HasCJKDateMarker(rec.PubDate) {
			rec.PubDate = NormalizeDate(meta.PubDate)
		}
	}
	if meta.Level != "" {
		rec.Level = meta.Level
	}
	if meta.Validity != "" {
		rec.Validity = meta.Validity
	}
	if meta.EffectiveDate != "" && LooksLikeDate(meta.EffectiveDate) {
		rec.EffectiveDate = NormalizeDate(meta.EffectiveDate)
	}
	if meta.Category != "" {
		rec.Category = meta.Category
	}
}
