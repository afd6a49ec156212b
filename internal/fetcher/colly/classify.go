package collyfetcher

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"golang.org/x/net/html/charset"

	"github.com/JakeFAU/policy-crawler/internal/crawler"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// classify tags a successful response: bodies that decode as a JSON object
// or array are json, everything else is html.
func classify(resp response) crawler.PageResult {
	result := crawler.PageResult{URL: resp.url, StatusCode: resp.statusCode}
	if doc, ok := decodeJSON(resp.body); ok {
		result.Kind = crawler.PayloadJSON
		result.JSON = doc
		result.Body = resp.body
		return result
	}
	result.Kind = crawler.PayloadHTML
	result.Body = toUTF8(resp.body, resp.header.Get("Content-Type"))
	return result
}

func decodeJSON(body []byte) (any, bool) {
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(body, utf8BOM))
	if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	if dec.More() {
		return nil, false
	}
	return doc, true
}

// toUTF8 decodes bodies that are not already valid UTF-8 using the charset
// declared by the Content-Type header or a <meta> tag.
func toUTF8(body []byte, contentType string) []byte {
	body = bytes.TrimPrefix(body, utf8BOM)
	if utf8.Valid(body) {
		return body
	}
	enc, _, _ := charset.DetermineEncoding(body, contentType)
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return body
	}
	return decoded
}
