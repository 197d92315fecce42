// Package crawler implements the watermark-driven incremental crawl engine:
// per-entity watermarks, pluggable stop predicates, backoff and expiry, and
// all-or-nothing commit of each cycle's content.
package crawler
