package crawler

import (
	"encoding/json"
	"time"
)

// Entity is an independently tracked crawl unit: a category, an article or a
// comment thread. Attrs carries job data such as the article link or category
// through to fetchers and sinks.
type Entity struct {
	ID    string
	Attrs map[string]string
}

// Attr returns the named attribute or "".
func (e Entity) Attr(key string) string {
	return e.Attrs[key]
}

// Item is one id-bearing element of a page.
type Item struct {
	ID      int64
	Payload json.RawMessage
}

// Page is a single response from a paginated source. Next is the cursor for
// the request that follows this page; Total is the source-reported total, or
// zero when unknown.
type Page struct {
	Items []Item
	Next  string
	Total int
}

// Cursor tells a fetcher where to resume.
type Cursor struct {
	Token    string
	LatestID int64
}

// Chunk is the content kept from one page.
type Chunk struct {
	Cursor string
	Items  []Item
}

// Watermark is the persisted per-entity crawl position. LastUpdate is the
// last cycle that kept content and drives expiry; LastCycle is the last
// completed cycle and drives the frequency floor.
type Watermark struct {
	LatestID    int64  `json:"latest_id"`
	ResumeToken string `json:"resume_token"`
	LastUpdate  int64  `json:"last_update"`
	LastCycle   int64  `json:"last_cycle,omitempty"`
	Count       int64  `json:"count"`
	SourceTotal int    `json:"source_total,omitempty"`
}

// NewWatermark returns the position of an entity that was never crawled.
func NewWatermark() Watermark {
	return Watermark{LatestID: -1}
}

// LastUpdateTime converts LastUpdate (unix ms) to a time; zero when unset.
func (w Watermark) LastUpdateTime() time.Time {
	if w.LastUpdate == 0 {
		return time.Time{}
	}
	return time.UnixMilli(w.LastUpdate)
}

// LastVisitTime is the start of the last completed cycle, falling back to
// LastUpdate for watermarks written before visits were stamped.
func (w Watermark) LastVisitTime() time.Time {
	if w.LastCycle > w.LastUpdate {
		return time.UnixMilli(w.LastCycle)
	}
	return w.LastUpdateTime()
}

// Outcome summarizes one crawl cycle.
type Outcome string

// Cycle outcomes.
const (
	OutcomeExpired   Outcome = "expired"
	OutcomeBackoff   Outcome = "backoff"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeUpdated   Outcome = "updated"
	OutcomeFailed    Outcome = "failed"
)

// CycleResult reports what a cycle did.
type CycleResult struct {
	Outcome   Outcome
	Watermark Watermark
	Kept      int
	Pages     int
	// Created is set when this cycle persisted the entity's first watermark.
	Created bool
	// Notified is set when an update signal was sent downstream.
	Notified bool
}

// Requeue reports whether the entity goes back to its source queue.
func (r CycleResult) Requeue() bool {
	return r.Outcome != OutcomeExpired
}
