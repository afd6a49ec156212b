// Package crawler implements the policy crawl pipeline core: the data-source
// page loop, identity-based deduplication across pages and sources, detail
// enrichment, and the value types shared by the fetcher, parser, and sinks.
package crawler
