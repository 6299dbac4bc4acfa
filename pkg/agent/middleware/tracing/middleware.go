// Package tracing wraps LLM calls in OpenTelemetry spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tenantops/pkg/agent/llm"
)

const instrumentationName = "tenantops/pkg/agent"

// Middleware starts one span per inference call. A nil tracer uses the global provider,
// which is a no-op until tracing is configured.
func Middleware(tracer trace.Tracer) llm.Middleware {
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	return func(next llm.LLMClient) llm.LLMClient {
		return llm.WrapClient(
			func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
				ctx, span := tracer.Start(ctx, "llm.complete", trace.WithAttributes(
					attribute.String("llm.model", next.GetModelName()),
					attribute.Int("llm.messages", len(req.Messages)),
					attribute.Int("llm.tools", len(req.Tools)),
				))
				defer span.End()

				resp, err := next.Complete(ctx, req)
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, err.Error())
					return resp, err //nolint:wrapcheck // Middleware should pass through errors unchanged
				}
				span.SetAttributes(
					attribute.String("llm.stop_reason", string(resp.StopReason)),
					attribute.Int("llm.tool_calls", len(resp.ToolCalls)),
					attribute.Int("llm.input_tokens", resp.Usage.InputTokens),
					attribute.Int("llm.output_tokens", resp.Usage.OutputTokens),
				)
				return resp, nil
			},
			next.GetModelName,
		)
	}
}
