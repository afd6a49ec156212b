package attachments

import (
	"path"
	"strings"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

// Filter selects which attachments are downloaded. Archives are always
// downloaded; documents depend on their per-extension switch.
type Filter struct {
	All  bool `mapstructure:"all_files"`
	Doc  bool `mapstructure:"doc"`
	Docx bool `mapstructure:"docx"`
	PDF  bool `mapstructure:"pdf"`
}

// DefaultFilter downloads Word documents and archives.
func DefaultFilter() Filter {
	return Filter{Doc: true, Docx: true}
}

var archiveExtensions = map[string]bool{
	".zip": true, ".tar": true, ".rar": true, ".7z": true, ".gz": true,
	".tar.gz": true, ".tar.bz2": true, ".tar.xz": true,
}

// Allow reports whether link should be downloaded.
func (f Filter) Allow(link crawler.AttachmentLink) bool {
	if f.All {
		return true
	}
	ext := FileExtension(link)
	if archiveExtensions[ext] {
		return true
	}
	switch ext {
	case ".docx":
		return f.Docx
	case ".doc":
		return f.Doc
	case ".pdf":
		return f.PDF
	default:
		return false
	}
}

// Select returns the allowed links in order.
func (f Filter) Select(links []crawler.AttachmentLink) []crawler.AttachmentLink {
	var out []crawler.AttachmentLink
	for _, link := range links {
		if f.Allow(link) {
			out = append(out, link)
		}
	}
	return out
}

// FileExtension derives the lowercased extension of an attachment from its
// URL path, falling back to its display name.
func FileExtension(link crawler.AttachmentLink) string {
	for _, candidate := range []string{stripQuery(link.URL), link.Name} {
		if ext := Extension(candidate); ext != "" {
			return ext
		}
		if ext := strings.ToLower(path.Ext(candidate)); ext != "" && ext != "." {
			return ext
		}
	}
	return ""
}

func stripQuery(rawURL string) string {
	if i := strings.IndexAny(rawURL, "?#"); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
