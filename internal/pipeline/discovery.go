package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
	"github.com/JakeFAU/snowball-crawler/internal/queue"
	"github.com/JakeFAU/snowball-crawler/internal/source/snowball"
)

// DiscoveryHandler walks a category timeline and hands every new article to
// the article queue.
type DiscoveryHandler struct {
	stage crawlStage
}

// NewDiscoveryHandler wraps an engine built with NewDiscoverySink.
func NewDiscoveryHandler(engine *crawler.Engine, logger *zap.Logger) *DiscoveryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscoveryHandler{stage: crawlStage{name: StageDiscovery, engine: engine, logger: logger}}
}

// Handle runs one discovery cycle for a CategoryJob.
func (h *DiscoveryHandler) Handle(ctx context.Context, lease *queue.Lease) (Settlement, error) {
	var job CategoryJob
	if err := lease.Decode(&job); err != nil {
		return malformed(StageDiscovery, err)
	}
	res, err := h.stage.cycle(ctx, job.Entity())
	return settlement(res, nil), err
}

// DiscoverySink pushes discovered articles as new ArticleJobs.
type DiscoverySink struct {
	queues queue.Store
	target string
}

// NewDiscoverySink builds a sink pushing to target.
func NewDiscoverySink(queues queue.Store, target string) *DiscoverySink {
	return &DiscoverySink{queues: queues, target: target}
}

// Emit pushes one job per kept list entry, in page order.
func (s *DiscoverySink) Emit(ctx context.Context, entity crawler.Entity, chunks []crawler.Chunk) error {
	category, err := strconv.ParseInt(entity.Attr(attrCategory), 10, 64)
	if err != nil {
		return fmt.Errorf("category of %s: %w", entity.ID, err)
	}
	var jobs []any
	for _, chunk := range chunks {
		for _, item := range chunk.Items {
			var entry snowball.ListEntry
			if err := json.Unmarshal(item.Payload, &entry); err != nil {
				return fmt.Errorf("decode list entry %d: %w", item.ID, err)
			}
			jobs = append(jobs, ArticleJob{ID: entry.ID, Link: entry.Link, Time: 0, Category: category})
		}
	}
	if len(jobs) == 0 {
		return nil
	}
	if err := s.queues.Push(ctx, s.target, jobs...); err != nil {
		return fmt.Errorf("push articles: %w", err)
	}
	return nil
}
