package attachments

import (
	"fmt"
	"path"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

// SafeName keeps letters, digits, and the runes in extra, then trims spaces.
func SafeName(s, extra string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(extra, r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// SafeTitle is the file-safe form of a record title, with a placeholder
// derived from the identity key when nothing usable remains.
func SafeTitle(rec crawler.PolicyRecord) string {
	if title := SafeName(rec.Title, " -_"); title != "" {
		return title
	}
	key := rec.IdentityKey
	if len(key) > 8 {
		key = key[:8]
	}
	return "政策_" + key
}

// FileName builds the stored name of the index-th (1-based) of total
// downloaded attachments of rec: "<NNNN>_<title>_<name>".
func FileName(number int, rec crawler.PolicyRecord, link crawler.AttachmentLink, index, total int) string {
	urlPath := stripQuery(link.URL)
	var name string
	if link.Name != "" {
		name = SafeName(link.Name, " -_.")
		if name == "" {
			name = fmt.Sprintf("附件_%d", index)
		}
		if path.Ext(name) == "" {
			name += path.Ext(urlPath)
		}
	} else {
		name = urlPath[strings.LastIndex(urlPath, "/")+1:]
		if utf8.RuneCountInString(name) < 3 {
			name = fmt.Sprintf("附件_%d", index)
		}
	}

	title := SafeTitle(rec)
	if total == 1 && name == rec.Title {
		ext := path.Ext(name)
		if ext == "" {
			ext = path.Ext(urlPath)
		}
		return fmt.Sprintf("%04d_%s%s", number, title, ext)
	}
	return fmt.Sprintf("%04d_%s_%s", number, title, name)
}
