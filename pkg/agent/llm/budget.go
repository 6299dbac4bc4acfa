package llm

import (
	"context"
	"errors"
	"sync/atomic"
)

// ErrAttemptBudgetExhausted is returned once a turn has used all of its provider calls.
var ErrAttemptBudgetExhausted = errors.New("provider attempt budget exhausted")

type budgetKey struct{}

// AttemptBudget caps provider calls, retries included, across every Complete made with one
// context.
type AttemptBudget struct {
	used  atomic.Int64
	limit int64
}

// WithAttemptBudget returns a context whose provider calls are capped at limit.
// A limit below one leaves ctx unchanged.
func WithAttemptBudget(ctx context.Context, limit int) context.Context {
	if limit < 1 {
		return ctx
	}
	return context.WithValue(ctx, budgetKey{}, &AttemptBudget{limit: int64(limit)})
}

// AttemptBudgetFrom returns the budget carried by ctx, or nil.
func AttemptBudgetFrom(ctx context.Context) *AttemptBudget {
	b, _ := ctx.Value(budgetKey{}).(*AttemptBudget)
	return b
}

// Take consumes one attempt. A nil budget never runs out.
func (b *AttemptBudget) Take() bool {
	if b == nil {
		return true
	}
	return b.used.Add(1) <= b.limit
}

// Used reports attempts taken so far, including a refused one.
func (b *AttemptBudget) Used() int {
	if b == nil {
		return 0
	}
	return int(min(b.used.Load(), b.limit))
}
