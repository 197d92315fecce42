package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
	"github.com/JakeFAU/snowball-crawler/internal/metrics"
	"github.com/JakeFAU/snowball-crawler/internal/queue"
	"github.com/JakeFAU/snowball-crawler/internal/store"
)

// TracerName names the tracer used for runner spans.
const TracerName = "github.com/JakeFAU/snowball-crawler/internal/pipeline"

const settleTimeout = 10 * time.Second

// Action says how a lease is settled.
type Action int

// Settlement actions.
const (
	// Requeue appends the payload, or the leased item when nil, at the tail.
	Requeue Action = iota
	// Ack removes the item from the system.
	Ack
)

// Settlement is a handler's verdict on one lease.
type Settlement struct {
	Action  Action
	Payload any
	// Outcome labels the cycle in logs and metrics.
	Outcome string
}

// Handler processes one leased item. The returned settlement is honoured
// even with a non-nil error, except for store outages: those make the runner
// keep the lease and call Handle again after a backoff.
type Handler interface {
	Handle(ctx context.Context, lease *queue.Lease) (Settlement, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, lease *queue.Lease) (Settlement, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, lease *queue.Lease) (Settlement, error) {
	return f(ctx, lease)
}

// RunnerConfig controls a Runner.
type RunnerConfig struct {
	Stage string
	Queue string
	// PollDelay is the idle wait after an empty pop.
	PollDelay time.Duration
	// Backoff paces retries while a store is unavailable.
	Backoff *crawler.ExponentialBackoff
}

// Runner is one long-lived consumer loop over a stage queue. It handles one
// item at a time.
type Runner struct {
	cfg     RunnerConfig
	queues  queue.Store
	handler Handler
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewRunner builds a Runner. queues should already carry the runner's
// consumer identity.
func NewRunner(cfg RunnerConfig, queues queue.Store, handler Handler, logger *zap.Logger) (*Runner, error) {
	if cfg.Stage == "" || cfg.Queue == "" {
		return nil, errors.New("runner requires stage and queue")
	}
	if queues == nil || handler == nil {
		return nil, errors.New("runner requires queues and handler")
	}
	if cfg.PollDelay <= 0 {
		cfg.PollDelay = time.Second
	}
	if cfg.Backoff == nil {
		cfg.Backoff = crawler.NewExponentialBackoff(0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:     cfg,
		queues:  queues,
		handler: handler,
		logger:  logger.With(zap.String("stage", cfg.Stage), zap.String("queue", cfg.Queue)),
		tracer:  otel.Tracer(TracerName),
	}, nil
}

// Run consumes the queue until ctx ends. Items this consumer left in flight
// by an earlier run are recovered first. Run returns nil on shutdown.
func (r *Runner) Run(ctx context.Context) error {
	metrics.IncActiveRunners(r.cfg.Stage)
	defer metrics.DecActiveRunners(r.cfg.Stage)

	if err := r.recover(ctx); err != nil {
		return nil
	}
	r.logger.Info("runner started")
	defer r.logger.Info("runner stopped")

	attempt := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		lease, err := r.queues.Pop(ctx, r.cfg.Queue)
		switch {
		case err == nil:
			attempt = 0
			r.process(ctx, lease)
		case errors.Is(err, queue.ErrEmpty):
			attempt = 0
			if !sleep(ctx, r.cfg.PollDelay) {
				return nil
			}
		case ctx.Err() != nil:
			return nil
		default:
			r.logger.Warn("pop failed", zap.Int("attempt", attempt), zap.Error(err))
			metrics.ObserveStoreRetry(r.cfg.Stage)
			if err := r.cfg.Backoff.Wait(ctx, attempt); err != nil {
				return nil
			}
			attempt++
		}
	}
}

func (r *Runner) recover(ctx context.Context) error {
	for attempt := 0; ; attempt++ {
		n, err := r.queues.Recover(ctx, r.cfg.Queue)
		if err == nil {
			if n > 0 {
				r.logger.Info("recovered in-flight items", zap.Int("count", n))
			}
			return nil
		}
		r.logger.Warn("recover failed", zap.Int("attempt", attempt), zap.Error(err))
		metrics.ObserveStoreRetry(r.cfg.Stage)
		if err := r.cfg.Backoff.Wait(ctx, attempt); err != nil {
			return err
		}
	}
}

// process runs the handler until it returns something other than a store
// outage, then settles the lease. A shutdown mid-cycle requeues the item
// unchanged.
func (r *Runner) process(ctx context.Context, lease *queue.Lease) {
	for attempt := 0; ; attempt++ {
		settlement, err := r.handle(ctx, lease)
		if ctx.Err() != nil {
			r.logger.Info("shutdown mid-cycle, requeueing item")
			r.settle(ctx, lease, Settlement{Action: Requeue})
			return
		}
		if err != nil && Unavailable(err) {
			r.logger.Warn("store unavailable, retrying item", zap.Int("attempt", attempt), zap.Error(err))
			metrics.ObserveStoreRetry(r.cfg.Stage)
			if r.cfg.Backoff.Wait(ctx, attempt) != nil {
				r.settle(ctx, lease, Settlement{Action: Requeue})
				return
			}
			continue
		}
		if err != nil {
			r.logger.Warn("cycle failed", zap.String("outcome", settlement.Outcome), zap.Error(err))
		}
		r.settle(ctx, lease, settlement)
		return
	}
}

func (r *Runner) handle(ctx context.Context, lease *queue.Lease) (Settlement, error) {
	ctx, span := r.tracer.Start(ctx, "pipeline.handle", trace.WithAttributes(
		attribute.String("pipeline.stage", r.cfg.Stage),
		attribute.String("pipeline.queue", r.cfg.Queue),
	))
	defer span.End()

	settlement, err := r.handler.Handle(ctx, lease)
	span.SetAttributes(attribute.String("pipeline.outcome", settlement.Outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return settlement, err
}

// settle applies s, retrying while the queue store is down. Once ctx has
// ended it keeps going on a detached context so the item is not stranded.
func (r *Runner) settle(ctx context.Context, lease *queue.Lease, s Settlement) {
	for attempt := 0; ; attempt++ {
		settleCtx := ctx
		cancel := func() {}
		if ctx.Err() != nil {
			settleCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
		}
		var err error
		if s.Action == Ack {
			err = r.queues.Ack(settleCtx, lease)
		} else {
			err = r.queues.Requeue(settleCtx, lease, s.Payload)
		}
		cancel()
		if err == nil || errors.Is(err, queue.ErrUnknownLease) {
			if err != nil {
				r.logger.Warn("lease already settled", zap.Error(err))
			}
			return
		}
		r.logger.Warn("settle failed", zap.Int("attempt", attempt), zap.Error(err))
		metrics.ObserveStoreRetry(r.cfg.Stage)
		if ctx.Err() != nil {
			// Recover returns the item to the queue on the next start.
			if attempt >= 2 {
				r.logger.Error("giving up settling lease on shutdown", zap.Error(err))
				return
			}
			continue
		}
		// A canceled wait falls through to the detached retry above.
		_ = r.cfg.Backoff.Wait(ctx, attempt)
	}
}

// Unavailable reports whether err is a queue or record store outage.
func Unavailable(err error) bool {
	return errors.Is(err, crawler.ErrStoreUnavailable) ||
		errors.Is(err, queue.ErrUnavailable) ||
		errors.Is(err, store.ErrUnavailable)
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func decodeErr(stage string, err error) error {
	return fmt.Errorf("%s: malformed queue item: %w", stage, err)
}
