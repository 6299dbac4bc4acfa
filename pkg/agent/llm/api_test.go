package llm

import (
	"context"
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	call := ToolCall{ID: "tu_1", Name: "get_rent_status"}

	tests := []struct {
		name    string
		req     CompletionRequest
		wantErr string
	}{
		{
			name: "valid tool round trip",
			req: CompletionRequest{
				MaxTokens: 100,
				Messages: []CompletionMessage{
					NewUserMessage("what do I owe?"),
					NewAssistantMessage("", []ToolCall{call}),
					NewToolResultsMessage([]ToolResult{{ToolCallID: "tu_1", Content: "{}"}}),
				},
			},
		},
		{
			name:    "empty",
			req:     CompletionRequest{MaxTokens: 100},
			wantErr: "cannot be empty",
		},
		{
			name: "starts with assistant",
			req: CompletionRequest{
				MaxTokens: 100,
				Messages:  []CompletionMessage{NewAssistantMessage("hi", nil)},
			},
			wantErr: "first message",
		},
		{
			name: "consecutive users",
			req: CompletionRequest{
				MaxTokens: 100,
				Messages:  []CompletionMessage{NewUserMessage("a"), NewUserMessage("b")},
			},
			wantErr: "alternation",
		},
		{
			name: "orphan tool result",
			req: CompletionRequest{
				MaxTokens: 100,
				Messages: []CompletionMessage{
					NewUserMessage("a"),
					NewAssistantMessage("b", nil),
					NewToolResultsMessage([]ToolResult{{ToolCallID: "nope"}}),
				},
			},
			wantErr: "unknown tool call",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected valid request, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestChainOrder(t *testing.T) {
	var order []string
	base := WrapClient(func(_ context.Context, _ CompletionRequest) (CompletionResponse, error) {
		order = append(order, "base")
		return CompletionResponse{StopReason: StopEndTurn}, nil
	}, func() string { return "base-model" })

	tag := func(name string) Middleware {
		return func(next LLMClient) LLMClient {
			return WrapClient(func(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
				order = append(order, name)
				return next.Complete(ctx, req)
			}, next.GetModelName)
		}
	}

	client := Chain(base, tag("outer"), tag("inner"))
	if _, err := client.Complete(context.Background(), CompletionRequest{}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if strings.Join(order, ",") != "outer,inner,base" {
		t.Errorf("Unexpected order: %v", order)
	}
	if client.GetModelName() != "base-model" {
		t.Errorf("Expected model name to pass through, got %s", client.GetModelName())
	}
}
