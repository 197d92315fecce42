package pipeline

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/crawler"
	"github.com/JakeFAU/snowball-crawler/internal/metrics"
)

// crawlStage runs engine cycles for one stage and turns their results into
// settlements.
type crawlStage struct {
	name   string
	engine *crawler.Engine
	logger *zap.Logger
}

func (s crawlStage) cycle(ctx context.Context, entity crawler.Entity) (crawler.CycleResult, error) {
	res, err := s.engine.Cycle(ctx, entity)
	metrics.ObserveCycle(s.name, string(res.Outcome), res.Pages, res.Kept)
	if err == nil && res.Outcome == crawler.OutcomeUpdated {
		s.logger.Info("entity updated",
			zap.String("entity", entity.ID),
			zap.Int("kept", res.Kept),
			zap.Int64("latest_id", res.Watermark.LatestID),
		)
	}
	return res, err
}

// settlement requeues payload, the leased item when nil, unless the entity
// expired.
func settlement(res crawler.CycleResult, payload any) Settlement {
	if !res.Requeue() {
		return Settlement{Action: Ack, Outcome: string(res.Outcome)}
	}
	return Settlement{Action: Requeue, Payload: payload, Outcome: string(res.Outcome)}
}

// malformed acks an item that cannot be decoded; requeueing it would spin
// forever.
func malformed(stage string, err error) (Settlement, error) {
	metrics.ObserveCycle(stage, "malformed", 0, 0)
	return Settlement{Action: Ack, Outcome: "malformed"}, decodeErr(stage, err)
}
