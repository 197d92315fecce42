package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
	"github.com/JakeFAU/snowball-crawler/internal/id/uuid"
	"github.com/JakeFAU/snowball-crawler/internal/queue"
)

// StageSpec describes the runners of one stage.
type StageSpec struct {
	Stage     string
	Queue     string
	Runners   int
	PollDelay time.Duration
	Handler   Handler
}

// Coordinator starts every stage's runners and waits for them. Stages share
// nothing but the queue and record stores.
type Coordinator struct {
	instance string
	queues   queue.Store
	backoff  *crawler.ExponentialBackoff
	logger   *zap.Logger
	stages   []StageSpec
}

// NewCoordinator builds a Coordinator. instance names this process; runner
// consumer ids derive from it.
func NewCoordinator(instance string, queues queue.Store, backoff *crawler.ExponentialBackoff, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{instance: instance, queues: queues, backoff: backoff, logger: logger}
}

// Add registers a stage.
func (c *Coordinator) Add(spec StageSpec) error {
	if spec.Stage == "" || spec.Queue == "" || spec.Handler == nil {
		return errors.New("stage requires a name, queue and handler")
	}
	if spec.Runners <= 0 {
		spec.Runners = 1
	}
	c.stages = append(c.stages, spec)
	return nil
}

// Stages returns the registered stages.
func (c *Coordinator) Stages() []StageSpec {
	return append([]StageSpec(nil), c.stages...)
}

// ConsumerID is the stable consumer id of runner n of stage.
func (c *Coordinator) ConsumerID(stage string, n int) string {
	return uuid.Stable(c.instance, stage, strconv.Itoa(n))
}

// Run blocks until ctx ends and every runner has settled its lease.
func (c *Coordinator) Run(ctx context.Context) error {
	if len(c.stages) == 0 {
		return errors.New("no stages configured")
	}
	var runners []*Runner
	for _, spec := range c.stages {
		for n := 0; n < spec.Runners; n++ {
			consumer := c.ConsumerID(spec.Stage, n)
			r, err := NewRunner(RunnerConfig{
				Stage:     spec.Stage,
				Queue:     spec.Queue,
				PollDelay: spec.PollDelay,
				Backoff:   c.backoff,
			}, c.queues.WithConsumer(consumer), spec.Handler, c.logger.Named(spec.Stage).With(zap.String("consumer", consumer)))
			if err != nil {
				return fmt.Errorf("stage %s: %w", spec.Stage, err)
			}
			runners = append(runners, r)
		}
	}

	c.logger.Info("starting pipeline", zap.Int("stages", len(c.stages)), zap.Int("runners", len(runners)))
	var wg sync.WaitGroup
	for _, r := range runners {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			if err := r.Run(ctx); err != nil {
				c.logger.Error("runner exited", zap.Error(err))
			}
		}(r)
	}
	<-ctx.Done()
	wg.Wait()
	c.logger.Info("pipeline stopped")
	return nil
}
