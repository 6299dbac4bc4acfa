// Package ratelimit provides rate limiting middleware for LLM clients.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"tenantops/pkg/agent/llm"
	"tenantops/pkg/agent/middleware/metrics"
)

// NewLimiter builds a request limiter. rps <= 0 means unlimited.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Middleware waits for a limiter token before each inference call. Waiting time is
// reported to recorder; a cancelled wait counts as a throttle event.
func Middleware(limiter *rate.Limiter, recorder metrics.Recorder) llm.Middleware {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				model := next.GetModelName()
				start := time.Now()
				if err := limiter.Wait(ctx); err != nil {
					recorder.IncThrottle(model, "rate_limit")
					return llm.CompletionResponse{}, fmt.Errorf("rate limit wait failed: %w", err)
				}
				recorder.ObserveQueueWait(model, time.Since(start))
				return next.Complete(ctx, req)
			},
			next.GetModelName,
		)
	}
}
