package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

// Document is the JSON form of a persisted record.
type Document struct {
	crawler.PolicyRecord
	Attachments []crawler.AttachmentLink `json:"attachments"`
	Files       []string                 `json:"files,omitempty"`
}

// RenderJSON encodes doc as indented JSON without HTML escaping.
func RenderJSON(doc Document) ([]byte, error) {
	if doc.Attachments == nil {
		doc.Attachments = []crawler.AttachmentLink{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return buf.Bytes(), nil
}

const maxKeyRunes = 50

var keyReplacer = strings.NewReplacer("|", "_", "/", "_")

// jsonName is the file name for rec: "policy_<key>.json" with the identity
// key made path safe and truncated.
func jsonName(rec crawler.PolicyRecord) string {
	key := []rune(keyReplacer.Replace(rec.IdentityKey))
	if len(key) > maxKeyRunes {
		key = key[:maxKeyRunes]
	}
	return "policy_" + string(key) + ".json"
}
