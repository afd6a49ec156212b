package attachments

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
	"github.com/JakeFAU/policy-crawler/internal/metrics"
)

// Source fetches the raw bytes of an attachment.
type Source interface {
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// Store persists downloaded files and returns their URI.
type Store interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Limiter paces downloads per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// DownloaderConfig tunes a Downloader.
type DownloaderConfig struct {
	Filter Filter
	// Prefix is the blob path prefix for stored files (default "files").
	Prefix  string
	Limiter Limiter
	Logger  *zap.Logger
}

// SavedFile describes one stored attachment.
type SavedFile struct {
	Link crawler.AttachmentLink
	Path string
	URI  string
	Size int
}

// Downloader fetches the attachments a Filter allows and writes them to a Store.
type Downloader struct {
	source  Source
	store   Store
	filter  Filter
	prefix  string
	limiter Limiter
	logger  *zap.Logger
}

// NewDownloader wires a Downloader.
func NewDownloader(source Source, store Store, cfg DownloaderConfig) (*Downloader, error) {
	if source == nil {
		return nil, errors.New("attachment source is required")
	}
	if store == nil {
		return nil, errors.New("attachment store is required")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "files"
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Downloader{
		source:  source,
		store:   store,
		filter:  cfg.Filter,
		prefix:  cfg.Prefix,
		limiter: cfg.Limiter,
		logger:  cfg.Logger.Named("attachments"),
	}, nil
}

// Prefix returns the blob prefix files are written under.
func (d *Downloader) Prefix() string {
	return d.prefix
}

// Download stores every allowed attachment of rec using the shared file
// number. Individual failures are joined into the returned error; files that
// succeeded are still reported.
func (d *Downloader) Download(
	ctx context.Context,
	rec crawler.PolicyRecord,
	links []crawler.AttachmentLink,
	number int,
) ([]SavedFile, error) {
	selected := d.filter.Select(links)
	for range len(links) - len(selected) {
		metrics.ObserveAttachmentDownload("skipped")
	}
	if len(selected) == 0 {
		return nil, nil
	}

	var (
		saved []SavedFile
		errs  []error
	)
	for i, link := range selected {
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx, link.URL); err != nil {
				errs = append(errs, err)
				break
			}
		}
		file, err := d.fetchAndStore(ctx, rec, link, number, i+1, len(selected))
		if err != nil {
			metrics.ObserveAttachmentDownload("failed")
			d.logger.Warn("attachment download failed",
				zap.String("url", link.URL),
				zap.String("title", rec.Title),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		metrics.ObserveAttachmentDownload("saved")
		d.logger.Info("attachment saved", zap.String("path", file.Path), zap.Int("bytes", file.Size))
		saved = append(saved, file)
	}
	return saved, errors.Join(errs...)
}

func (d *Downloader) fetchAndStore(
	ctx context.Context,
	rec crawler.PolicyRecord,
	link crawler.AttachmentLink,
	number, index, total int,
) (SavedFile, error) {
	body, err := d.source.Download(ctx, link.URL)
	if err != nil {
		return SavedFile{}, fmt.Errorf("download %s: %w", link.URL, err)
	}
	if len(body) == 0 {
		return SavedFile{}, fmt.Errorf("download %s: empty body", link.URL)
	}
	name := FileName(number, rec, link, index, total)
	objectPath := path.Join(d.prefix, name)
	uri, err := d.store.PutObject(ctx, objectPath, contentType(name), bytes.NewReader(body))
	if err != nil {
		return SavedFile{}, fmt.Errorf("store %s: %w", objectPath, err)
	}
	return SavedFile{Link: link, Path: objectPath, URI: uri, Size: len(body)}, nil
}

func contentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
