package crawler

import (
	"context"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// PageFetcher retrieves one page of an entity's stream.
type PageFetcher interface {
	FetchPage(ctx context.Context, entity Entity, cursor Cursor) (Page, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc func(ctx context.Context, entity Entity, cursor Cursor) (Page, error)

// FetchPage calls f.
func (f PageFetcherFunc) FetchPage(ctx context.Context, entity Entity, cursor Cursor) (Page, error) {
	return f(ctx, entity, cursor)
}

// ContentSink receives the content kept by a cycle, one chunk per page.
type ContentSink interface {
	Emit(ctx context.Context, entity Entity, chunks []Chunk) error
}

// Notifier signals downstream stages that an entity gained new content.
type Notifier interface {
	Notify(ctx context.Context, entity Entity, watermark Watermark) error
}
