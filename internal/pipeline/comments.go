package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
	"github.com/JakeFAU/snowball-crawler/internal/join"
	"github.com/JakeFAU/snowball-crawler/internal/queue"
	"github.com/JakeFAU/snowball-crawler/internal/storage"
)

// CommentHandler follows article comment threads.
type CommentHandler struct {
	stage crawlStage
}

// NewCommentHandler wraps an engine built with a CommentOutput.
func NewCommentHandler(engine *crawler.Engine, logger *zap.Logger) *CommentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommentHandler{stage: crawlStage{name: StageComments, engine: engine, logger: logger}}
}

// Handle runs one comment cycle for an ArticleJob.
func (h *CommentHandler) Handle(ctx context.Context, lease *queue.Lease) (Settlement, error) {
	var job ArticleJob
	if err := lease.Decode(&job); err != nil {
		return malformed(StageComments, err)
	}
	res, err := h.stage.cycle(ctx, job.Entity())
	return settlement(res, nil), err
}

// CommentOutput appends each kept page to the article's comment log as one
// YAML chunk and announces new comments to the join stage.
type CommentOutput struct {
	logs     storage.AppendLog
	queues   queue.Store
	updates  string
	locators sync.Map
}

// NewCommentOutput builds a CommentOutput pushing to updates.
func NewCommentOutput(logs storage.AppendLog, queues queue.Store, updates string) *CommentOutput {
	return &CommentOutput{logs: logs, queues: queues, updates: updates}
}

// Emit appends one chunk per page, creating the log on first use.
func (o *CommentOutput) Emit(ctx context.Context, entity crawler.Entity, chunks []crawler.Chunk) error {
	name := entity.ID + ".yaml"
	locator, err := storage.EnsureLog(ctx, o.logs, storage.ContainerSource, name, storage.Metadata{"newsid": entity.ID})
	if err != nil {
		return fmt.Errorf("open comment log %s: %w", entity.ID, err)
	}
	for _, chunk := range chunks {
		payloads := make([]json.RawMessage, 0, len(chunk.Items))
		for _, item := range chunk.Items {
			payloads = append(payloads, item.Payload)
		}
		data, err := join.EncodeChunk(payloads)
		if err != nil {
			return fmt.Errorf("encode comments of %s: %w", entity.ID, err)
		}
		if err := o.logs.Append(ctx, storage.ContainerSource, name, data); err != nil {
			return fmt.Errorf("append comments of %s: %w", entity.ID, err)
		}
	}
	o.locators.Store(entity.ID, locator)
	return nil
}

// Notify queues a join for the entity.
func (o *CommentOutput) Notify(ctx context.Context, entity crawler.Entity, _ crawler.Watermark) error {
	locator, _ := o.locators.LoadAndDelete(entity.ID)
	loc, _ := locator.(string)
	upd := join.Update{ID: entity.ID, Kind: join.KindComments, Locator: loc}
	if err := o.queues.Push(ctx, o.updates, upd); err != nil {
		return fmt.Errorf("queue update of %s: %w", entity.ID, err)
	}
	return nil
}
