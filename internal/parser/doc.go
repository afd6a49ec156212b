// Package parser turns fetched portal pages into policy records.
//
// Listing pages arrive either as JSON search results or as HTML in which
// every record is rendered as its own small label/value table. Detail pages
// are scanned for the body text, a few metadata rows, and attachment links.
package parser
