// Package eval defines the contracts for the external collaborators of the
// governance layer: the backtest evaluator and the parameter sampler. It
// also ships a deterministic synthetic evaluator used by tests and replay
// verification.
package eval

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/stratgate/stratgate/internal/calendar"
	"github.com/stratgate/stratgate/internal/model"
)

// Evaluator turns (parameters, date range, universe) into performance
// metrics. Implementations must be pure functions of their inputs: any
// internal randomness has to be seeded deterministically so identical calls
// return identical metrics, otherwise replay verification cannot hold.
type Evaluator interface {
	Evaluate(ctx context.Context, params model.Params, start, end time.Time,
		costs model.CostConfig, cal *calendar.Calendar, universe []string) (model.Metrics, error)
}

// RateLimited wraps an evaluator with a token-bucket limiter. Remote
// backtest services throttle aggressive clients; waiting here keeps the
// trial loop well behaved without leaking transport concerns upward.
type RateLimited struct {
	inner   Evaluator
	limiter *rate.Limiter
}

// NewRateLimited wraps eval allowing at most perSecond calls per second with
// the given burst.
func NewRateLimited(eval Evaluator, perSecond float64, burst int) *RateLimited {
	return &RateLimited{
		inner:   eval,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Evaluate blocks until the limiter admits the call, then delegates.
func (r *RateLimited) Evaluate(ctx context.Context, params model.Params, start, end time.Time,
	costs model.CostConfig, cal *calendar.Calendar, universe []string) (model.Metrics, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return model.Metrics{}, err
	}
	return r.inner.Evaluate(ctx, params, start, end, costs, cal, universe)
}
