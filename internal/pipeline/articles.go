package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
	"github.com/JakeFAU/snowball-crawler/internal/join"
	"github.com/JakeFAU/snowball-crawler/internal/metrics"
	"github.com/JakeFAU/snowball-crawler/internal/queue"
	"github.com/JakeFAU/snowball-crawler/internal/source/snowball"
	"github.com/JakeFAU/snowball-crawler/internal/storage"
)

// ArticleHandler refreshes article snapshots.
type ArticleHandler struct {
	stage    crawlStage
	output   *ArticleOutput
	clock    crawler.Clock
	interval time.Duration
}

// NewArticleHandler wraps an engine built with output as its sink and
// notifier. A job visited less than interval ago is requeued without a cycle.
func NewArticleHandler(engine *crawler.Engine, output *ArticleOutput, clock crawler.Clock, interval time.Duration, logger *zap.Logger) *ArticleHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleHandler{
		stage:    crawlStage{name: StageArticles, engine: engine, logger: logger},
		output:   output,
		clock:    clock,
		interval: interval,
	}
}

// Handle runs one article cycle and requeues the job stamped with the visit
// time. The comment thread is queued once, after the cycle that created the
// article's watermark has committed.
func (h *ArticleHandler) Handle(ctx context.Context, lease *queue.Lease) (Settlement, error) {
	var job ArticleJob
	if err := lease.Decode(&job); err != nil {
		return malformed(StageArticles, err)
	}
	now := h.clock.Now()
	if job.Time > 0 && now.Sub(time.Unix(job.Time, 0)) < h.interval {
		metrics.ObserveCycle(StageArticles, string(crawler.OutcomeBackoff), 0, 0)
		h.queueComments(ctx, &job)
		return Settlement{Action: Requeue, Payload: job, Outcome: string(crawler.OutcomeBackoff)}, nil
	}
	res, err := h.stage.cycle(ctx, job.Entity())
	job.Time = now.Unix()
	if err == nil && res.Created {
		job.PendingComments = true
	}
	// An outage discards this settlement and replays the lease as it was.
	if !Unavailable(err) {
		h.queueComments(ctx, &job)
	}
	return settlement(res, job), err
}

// queueComments pushes the comment job of a pending article. On failure the
// flag stays set and travels with the requeued job to the next visit.
func (h *ArticleHandler) queueComments(ctx context.Context, job *ArticleJob) {
	if !job.PendingComments || h.output == nil {
		return
	}
	thread := ArticleJob{ID: job.ID, Link: job.Link, Category: job.Category}
	if err := h.output.queues.Push(ctx, h.output.comments, thread); err != nil {
		h.stage.logger.Warn("comment thread not queued, retrying on next visit",
			zap.Int64("article", job.ID),
			zap.Error(err),
		)
		return
	}
	job.PendingComments = false
}

// ArticleOutput is the article stage's content sink and notifier. Emit writes
// the snapshot; Notify announces the new version to the join stage. The
// comments queue is fed by ArticleHandler once a first crawl has committed.
type ArticleOutput struct {
	blobs    storage.SnapshotStore
	queues   queue.Store
	comments string
	updates  string
	clock    crawler.Clock
	locators sync.Map
}

// NewArticleOutput builds an ArticleOutput pushing to the comments and
// updates queues.
func NewArticleOutput(blobs storage.SnapshotStore, queues queue.Store, comments, updates string, clock crawler.Clock) *ArticleOutput {
	return &ArticleOutput{blobs: blobs, queues: queues, comments: comments, updates: updates, clock: clock}
}

// Emit writes the newest version kept by the cycle.
func (o *ArticleOutput) Emit(ctx context.Context, entity crawler.Entity, chunks []crawler.Chunk) error {
	var latest *crawler.Item
	for i := range chunks {
		for j := range chunks[i].Items {
			if latest == nil || chunks[i].Items[j].ID > latest.ID {
				latest = &chunks[i].Items[j]
			}
		}
	}
	if latest == nil {
		return nil
	}
	var article snowball.Article
	if err := json.Unmarshal(latest.Payload, &article); err != nil {
		return fmt.Errorf("decode article %s: %w", entity.ID, err)
	}

	name := entity.ID + ".json"
	edited := ""
	if article.EditedAt != nil {
		edited = strconv.FormatInt(*article.EditedAt, 10)
	}
	meta := storage.Metadata{
		"createtime": strconv.FormatInt(article.CreatedAt, 10),
		"editetime":  edited,
		"newsid":     entity.ID,
		"authorid":   strconv.FormatInt(article.UserID, 10),
		"category":   entity.Attr(attrCategory),
		"link":       entity.Attr(attrLink),
		"crawltime":  strconv.FormatInt(o.clock.Now().UnixMilli(), 10),
	}
	locator, err := o.blobs.Write(ctx, storage.ContainerSource, name, latest.Payload, meta)
	if err != nil {
		return fmt.Errorf("write snapshot %s: %w", entity.ID, err)
	}
	o.locators.Store(entity.ID, locator)
	return nil
}

// Notify queues a join for the entity.
func (o *ArticleOutput) Notify(ctx context.Context, entity crawler.Entity, _ crawler.Watermark) error {
	locator, _ := o.locators.LoadAndDelete(entity.ID)
	loc, _ := locator.(string)
	upd := join.Update{ID: entity.ID, Kind: join.KindArticle, Locator: loc}
	if err := o.queues.Push(ctx, o.updates, upd); err != nil {
		return fmt.Errorf("queue update of %s: %w", entity.ID, err)
	}
	return nil
}
