// Package output persists enriched policy records: JSON and Markdown
// renderings in a blob store, downloaded attachments, an optional Postgres
// row, and an optional notification per record.
package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-crawler/internal/attachments"
	"github.com/JakeFAU/policy-crawler/internal/crawler"
	"github.com/JakeFAU/policy-crawler/internal/publisher"
	"github.com/JakeFAU/policy-crawler/internal/storage"
)

// Downloader stores the allowed attachments of a record under one file
// number.
type Downloader interface {
	Download(ctx context.Context, rec crawler.PolicyRecord, links []crawler.AttachmentLink, number int) ([]attachments.SavedFile, error)
	Prefix() string
}

// PolicyStore upserts records into a database.
type PolicyStore interface {
	UpsertPolicy(ctx context.Context, rec crawler.PolicyRecord, links []crawler.AttachmentLink) error
}

// Config selects what the Sink writes and where.
type Config struct {
	SaveJSON     bool
	SaveMarkdown bool
	SaveFiles    bool
	// JSONPrefix and MarkdownPrefix default to "json" and "markdown".
	JSONPrefix     string
	MarkdownPrefix string
	// Topic is the notification topic; notifications are sent only when a
	// Publisher is configured.
	Topic string

	Downloader Downloader
	Policies   PolicyStore
	Publisher  publisher.Publisher
	Logger     *zap.Logger
}

// Notification announces a persisted record.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url,omitempty"`
	PubDate   string    `json:"pub_date,omitempty"`
	Source    string    `json:"source"`
	CrawlTime time.Time `json:"crawl_time"`
	Markdown  string    `json:"markdown,omitempty"`
	JSON      string    `json:"json,omitempty"`
	Files     []string  `json:"files,omitempty"`
}

// Sink implements crawler.RecordSink.
type Sink struct {
	cfg      Config
	store    storage.BlobStore
	markdown *counter
	files    *counter
	logger   *zap.Logger
}

var _ crawler.RecordSink = (*Sink)(nil)

// New builds a Sink writing renderings to store.
func New(store storage.BlobStore, cfg Config) (*Sink, error) {
	if store == nil {
		return nil, errors.New("blob store is required")
	}
	if cfg.JSONPrefix == "" {
		cfg.JSONPrefix = "json"
	}
	if cfg.MarkdownPrefix == "" {
		cfg.MarkdownPrefix = "markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	s := &Sink{
		cfg:      cfg,
		store:    store,
		markdown: newCounter(store, cfg.MarkdownPrefix, ".md"),
		logger:   cfg.Logger.Named("output"),
	}
	if cfg.Downloader != nil {
		s.files = newCounter(store, cfg.Downloader.Prefix(), "")
	}
	return s, nil
}

// written collects the locations produced for one record.
type written struct {
	markdown string
	json     string
	files    []attachments.SavedFile
}

// Persist writes rec according to the configured toggles. Attachment
// failures are logged and do not fail the record; every other failure is
// joined into the returned error. The notification is sent only when all
// writes succeeded.
func (s *Sink) Persist(ctx context.Context, rec crawler.PolicyRecord, links []crawler.AttachmentLink) error {
	var (
		out  written
		errs []error
	)
	if s.cfg.SaveFiles && s.files != nil && len(links) > 0 {
		out.files = s.saveFiles(ctx, rec, links)
	}
	if s.cfg.SaveJSON {
		p, err := s.writeJSON(ctx, rec, links, out.files)
		if err != nil {
			errs = append(errs, err)
		}
		out.json = p
	}
	if s.cfg.SaveMarkdown {
		p, err := s.writeMarkdown(ctx, rec)
		if err != nil {
			errs = append(errs, err)
		}
		out.markdown = p
	}
	if s.cfg.Policies != nil {
		if err := s.cfg.Policies.UpsertPolicy(ctx, rec, links); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 && s.cfg.Publisher != nil {
		if err := s.notify(ctx, rec, out); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	s.logger.Debug("record persisted",
		zap.String("title", rec.Title),
		zap.String("markdown", out.markdown),
		zap.String("json", out.json),
		zap.Int("files", len(out.files)),
	)
	return nil
}

func (s *Sink) saveFiles(ctx context.Context, rec crawler.PolicyRecord, links []crawler.AttachmentLink) []attachments.SavedFile {
	number, err := s.files.next(ctx)
	if err != nil {
		s.logger.Warn("attachment numbering unavailable", zap.String("title", rec.Title), zap.Error(err))
		return nil
	}
	saved, err := s.cfg.Downloader.Download(ctx, rec, links, number)
	if err != nil {
		s.logger.Warn("some attachments were not saved",
			zap.String("title", rec.Title),
			zap.Int("saved", len(saved)),
			zap.Error(err),
		)
	}
	if len(saved) > 0 {
		s.files.commit(number)
	}
	return saved
}

func (s *Sink) writeJSON(
	ctx context.Context,
	rec crawler.PolicyRecord,
	links []crawler.AttachmentLink,
	files []attachments.SavedFile,
) (string, error) {
	doc := Document{PolicyRecord: rec, Attachments: links}
	for _, f := range files {
		doc.Files = append(doc.Files, f.Path)
	}
	data, err := RenderJSON(doc)
	if err != nil {
		return "", err
	}
	p := path.Join(s.cfg.JSONPrefix, jsonName(rec))
	if _, err := s.store.PutObject(ctx, p, "application/json", bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	return p, nil
}

func (s *Sink) writeMarkdown(ctx context.Context, rec crawler.PolicyRecord) (string, error) {
	data, err := RenderMarkdown(rec)
	if err != nil {
		return "", err
	}
	number, err := s.markdown.next(ctx)
	if err != nil {
		return "", err
	}
	p := path.Join(s.cfg.MarkdownPrefix, fmt.Sprintf("%04d_%s.md", number, attachments.SafeTitle(rec)))
	if _, err := s.store.PutObject(ctx, p, "text/markdown; charset=utf-8", bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write %s: %w", p, err)
	}
	s.markdown.commit(number)
	return p, nil
}

func (s *Sink) notify(ctx context.Context, rec crawler.PolicyRecord, out written) error {
	n := Notification{
		ID:        rec.IdentityKey,
		Title:     rec.Title,
		URL:       rec.URL,
		PubDate:   rec.PubDate,
		Source:    rec.SourceRef,
		CrawlTime: rec.CrawlTime,
		Markdown:  out.markdown,
		JSON:      out.json,
	}
	for _, f := range out.files {
		n.Files = append(n.Files, f.Path)
	}
	_, err := s.cfg.Publisher.Publish(ctx, publisher.Message{
		Topic:       s.cfg.Topic,
		OrderingKey: rec.IdentityKey,
		Attributes:  map[string]string{"event": "policy.persisted", "source": rec.SourceRef},
		Payload:     n,
	})
	if err != nil {
		return fmt.Errorf("notify %q: %w", rec.Title, err)
	}
	return nil
}
