package crawler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/store"
)

// Config controls one engine instance.
type Config struct {
	// Namespace holds the watermarks in the record store.
	Namespace string
	// Tag is the producer tag written with every watermark.
	Tag string
	// FrequencyFloor is the minimum interval between cycles for one entity.
	FrequencyFloor time.Duration
	// InactivityCeiling drops entities idle for longer. Zero disables expiry.
	InactivityCeiling time.Duration
}

// Deps are the collaborators an engine drives.
type Deps struct {
	Records  store.Store
	Fetcher  PageFetcher
	Stop     StopPredicate
	Sink     ContentSink
	Notifier Notifier
	Clock    Clock
}

// Engine runs incremental crawl cycles for entities of one kind.
type Engine struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

// NewEngine validates deps and builds an Engine.
func NewEngine(cfg Config, deps Deps, logger *zap.Logger) (*Engine, error) {
	if cfg.Namespace == "" {
		return nil, errors.New("engine namespace is required")
	}
	if deps.Records == nil || deps.Fetcher == nil || deps.Stop == nil || deps.Sink == nil || deps.Clock == nil {
		return nil, errors.New("engine requires records, fetcher, stop predicate, sink and clock")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps, logger: logger}, nil
}

// Namespace returns the record namespace holding this engine's watermarks.
func (e *Engine) Namespace() string {
	return e.cfg.Namespace
}

// Watermark loads the stored watermark for id.
func (e *Engine) Watermark(ctx context.Context, id string) (Watermark, bool, error) {
	rec, found, err := e.deps.Records.Lookup(ctx, e.cfg.Namespace, id)
	if err != nil {
		return Watermark{}, false, storeErr("load watermark", err)
	}
	if !found {
		return NewWatermark(), false, nil
	}
	wm, err := store.Decode[Watermark](rec)
	if err != nil {
		return Watermark{}, false, err
	}
	return wm, true, nil
}

// Cycle runs one crawl cycle for entity. On error the result's outcome is
// OutcomeFailed and nothing from the cycle has been persisted.
func (e *Engine) Cycle(ctx context.Context, entity Entity) (CycleResult, error) {
	logger := e.logger.With(zap.String("entity", entity.ID))
	now := e.deps.Clock.Now()

	prev, found, err := e.Watermark(ctx, entity.ID)
	if err != nil {
		return CycleResult{Outcome: OutcomeFailed}, err
	}

	if found && prev.LastUpdate > 0 {
		idle := now.Sub(prev.LastUpdateTime())
		if e.cfg.InactivityCeiling > 0 && idle > e.cfg.InactivityCeiling {
			logger.Info("entity expired", zap.Duration("idle", idle))
			return CycleResult{Outcome: OutcomeExpired, Watermark: prev}, nil
		}
		if since := now.Sub(prev.LastVisitTime()); since < e.cfg.FrequencyFloor {
			logger.Debug("entity in backoff", zap.Duration("since_last_cycle", since))
			return CycleResult{Outcome: OutcomeBackoff, Watermark: prev}, nil
		}
	}

	chunks, next, pages, err := e.collect(ctx, entity, prev)
	if err != nil {
		logger.Warn("cycle aborted", zap.Int("pages", pages), zap.Error(err))
		return CycleResult{Outcome: OutcomeFailed, Watermark: prev, Pages: pages}, err
	}

	kept := 0
	for _, c := range chunks {
		kept += len(c.Items)
	}
	result := CycleResult{Outcome: OutcomeUnchanged, Watermark: prev, Pages: pages, Kept: kept}
	if kept > 0 {
		next.Count += int64(kept)
		next.LastUpdate = now.UnixMilli()
		result.Outcome = OutcomeUpdated
	} else if !found {
		next.LastUpdate = now.UnixMilli()
	}
	// A quiet cycle still commits its visit time so the floor paces the
	// next one.
	next.LastCycle = now.UnixMilli()

	if kept > 0 {
		if err := e.deps.Sink.Emit(ctx, entity, chunks); err != nil {
			result.Outcome = OutcomeFailed
			return result, fmt.Errorf("%w: %w", ErrSinkFailed, err)
		}
		if e.deps.Notifier != nil {
			if err := e.deps.Notifier.Notify(ctx, entity, next); err != nil {
				result.Outcome = OutcomeFailed
				return result, storeErr("notify update", err)
			}
			result.Notified = true
		}
	}
	if err := e.persist(ctx, entity.ID, next, now); err != nil {
		result.Outcome = OutcomeFailed
		result.Notified = false
		return result, err
	}
	result.Watermark = next
	result.Created = !found
	logger.Debug("cycle committed",
		zap.String("outcome", string(result.Outcome)),
		zap.Int("kept", kept),
		zap.Int("pages", pages),
		zap.Int64("latest_id", next.LatestID),
		zap.String("resume_token", next.ResumeToken),
	)
	return result, nil
}

// collect runs the page loop without side effects. Items at or below the
// starting watermark, or already kept this cycle, are discarded.
func (e *Engine) collect(ctx context.Context, entity Entity, prev Watermark) ([]Chunk, Watermark, int, error) {
	next := prev
	cursor := Cursor{Token: prev.ResumeToken, LatestID: prev.LatestID}
	keptIDs := make(map[int64]struct{})
	var chunks []Chunk
	pages := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, prev, pages, fmt.Errorf("cycle canceled: %w", err)
		}
		page, err := e.deps.Fetcher.FetchPage(ctx, entity, cursor)
		if err != nil {
			return nil, prev, pages, fmt.Errorf("fetch %s page %q: %w", entity.ID, cursor.Token, err)
		}
		pages++

		var keep []Item
		for _, item := range page.Items {
			if item.ID <= prev.LatestID {
				continue
			}
			if _, dup := keptIDs[item.ID]; dup {
				continue
			}
			keptIDs[item.ID] = struct{}{}
			keep = append(keep, item)
			if item.ID > next.LatestID {
				next.LatestID = item.ID
			}
		}
		if len(keep) > 0 {
			chunks = append(chunks, Chunk{Cursor: cursor.Token, Items: keep})
		}
		if page.Total > 0 {
			next.SourceTotal = page.Total
		}

		if e.deps.Stop.Done(page, prev.LatestID) {
			next.ResumeToken = e.deps.Stop.Resume(page)
			return chunks, next, pages, nil
		}
		if page.Next == cursor.Token {
			next.ResumeToken = page.Next
			return chunks, next, pages, nil
		}
		cursor.Token = page.Next
	}
}

func (e *Engine) persist(ctx context.Context, id string, wm Watermark, now time.Time) error {
	rec, err := store.NewRecord(id, wm, now, e.cfg.Tag, e.cfg.Namespace+":")
	if err != nil {
		return err
	}
	if _, err := e.deps.Records.Upsert(ctx, e.cfg.Namespace, rec); err != nil {
		return storeErr("persist watermark", err)
	}
	return nil
}

func storeErr(op string, err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// FormatID renders a numeric id as an entity id.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
