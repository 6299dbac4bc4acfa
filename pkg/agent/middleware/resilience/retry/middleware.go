// Package retry provides retry middleware for LLM clients.
package retry

import (
	"context"
	"errors"

	"tenantops/pkg/agent/llm"
	"tenantops/pkg/agent/llmerrors"
	"tenantops/pkg/retry"
)

// ShouldRetry classifies inference failures. Unclassified errors are run through
// llmerrors.Classify first so plain network failures still retry.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var llmErr *llmerrors.Error
	if !errors.As(err, &llmErr) {
		llmErr = llmerrors.Classify(err, 0)
	}
	return llmErr.IsRetryable()
}

// NewPolicy builds a retry policy for inference calls.
func NewPolicy(config retry.Config) *retry.Policy {
	return retry.NewPolicy(config, ShouldRetry)
}

// Middleware returns a middleware function that wraps an LLM client with retry logic.
// Exhausting attempts on a retryable error surfaces as ErrorTypeServiceUnavailable, as does
// running out of the context's attempt budget.
func Middleware(policy *retry.Policy) llm.Middleware {
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				budget := llm.AttemptBudgetFrom(ctx)
				resp, err := retry.Do(ctx, policy, func(ctx context.Context) (llm.CompletionResponse, error) {
					if !budget.Take() {
						return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeServiceUnavailable,
							llm.ErrAttemptBudgetExhausted, "no provider attempts left for this turn")
					}
					return next.Complete(ctx, req)
				})
				var exhausted *retry.ExhaustedError
				if errors.As(err, &exhausted) {
					return llm.CompletionResponse{}, llmerrors.NewServiceUnavailableError(exhausted.Err, exhausted.Attempts)
				}
				return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
			},
			next.GetModelName,
		)
	}
}
