package pipeline

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/JakeFAU/snowball-crawler/internal/join"
	"github.com/JakeFAU/snowball-crawler/internal/metrics"
	"github.com/JakeFAU/snowball-crawler/internal/queue"
)

const defaultJoinAttempts = 5

// joinItem is an update notification with its failed join count.
type joinItem struct {
	join.Update
	Attempts int `json:"attempts,omitempty"`
}

// JoinHandler consumes update notifications.
type JoinHandler struct {
	joiner      *join.Joiner
	maxAttempts int
	logger      *zap.Logger
}

// NewJoinHandler builds a JoinHandler. A notification that fails maxAttempts
// times for reasons other than a store outage is dropped.
func NewJoinHandler(joiner *join.Joiner, maxAttempts int, logger *zap.Logger) *JoinHandler {
	if maxAttempts <= 0 {
		maxAttempts = defaultJoinAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JoinHandler{joiner: joiner, maxAttempts: maxAttempts, logger: logger}
}

// Handle joins the notified article.
func (h *JoinHandler) Handle(ctx context.Context, lease *queue.Lease) (Settlement, error) {
	var item joinItem
	if err := lease.Decode(&item); err != nil {
		metrics.ObserveJoin("malformed")
		return Settlement{Action: Ack, Outcome: "malformed"}, decodeErr(StageJoin, err)
	}
	res, err := h.joiner.Join(ctx, item.Update)
	switch {
	case err == nil:
		metrics.ObserveJoin("ok")
		h.logger.Debug("schema joined",
			zap.String("article", res.ID),
			zap.String("locator", res.Locator),
			zap.String("record", string(res.Outcome)),
		)
		return Settlement{Action: Ack, Outcome: "ok"}, nil
	case Unavailable(err):
		return Settlement{}, err
	case errors.Is(err, join.ErrNoArticle):
		metrics.ObserveJoin("missing")
		return Settlement{Action: Ack, Outcome: "missing"}, err
	}

	item.Attempts++
	if item.Attempts >= h.maxAttempts {
		metrics.ObserveJoin("dropped")
		h.logger.Error("dropping update after repeated failures",
			zap.String("article", item.ID),
			zap.Int("attempts", item.Attempts),
			zap.Error(err),
		)
		return Settlement{Action: Ack, Outcome: "dropped"}, err
	}
	metrics.ObserveJoin("retry")
	return Settlement{Action: Requeue, Payload: item, Outcome: "retry"}, err
}
