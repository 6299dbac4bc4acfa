package mocks

import (
	"context"
	"fmt"
	"sync"

	"tenantops/pkg/agent/llm"
)

// MockLLMClient implements llm.LLMClient for testing.
//
//nolint:govet // fieldalignment: mock struct layout optimized for readability
type MockLLMClient struct {
	// CompleteFunc is called when Complete is invoked. Override to customize behavior.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)

	// CompleteCalls tracks all calls to Complete for verification.
	CompleteCalls []llm.CompletionRequest

	// modelName is the model name returned by GetModelName.
	modelName string

	// mu protects call tracking
	mu sync.Mutex
}

// NewMockLLMClient creates a new mock client that ends the turn with a fixed reply.
func NewMockLLMClient() *MockLLMClient {
	m := &MockLLMClient{
		modelName: "mock-model",
	}
	m.CompleteFunc = func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return EndTurn("Mock response"), nil
	}
	return m
}

// Complete implements llm.LLMClient.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	m.CompleteCalls = append(m.CompleteCalls, req)
	fn := m.CompleteFunc
	m.mu.Unlock()
	return fn(ctx, req)
}

// GetModelName implements llm.LLMClient.
func (m *MockLLMClient) GetModelName() string {
	return m.modelName
}

// CallCount returns how many times Complete ran.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.CompleteCalls)
}

// LastRequest returns the most recent request, or the zero value.
func (m *MockLLMClient) LastRequest() llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.CompleteCalls) == 0 {
		return llm.CompletionRequest{}
	}
	return m.CompleteCalls[len(m.CompleteCalls)-1]
}

// --- Configuration methods ---

// SetModelName sets the model name returned by GetModelName.
func (m *MockLLMClient) SetModelName(name string) {
	m.modelName = name
}

// OnComplete sets a custom handler for Complete calls.
func (m *MockLLMClient) OnComplete(fn func(ctx context.Context, req llm.CompletionRequest) (llm.CompletionResponse, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CompleteFunc = fn
}

// FailCompleteWith configures Complete to return the specified error.
func (m *MockLLMClient) FailCompleteWith(err error) {
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{}, err
	})
}

// --- Response helpers ---

// EndTurn builds a final text response.
func EndTurn(content string) llm.CompletionResponse {
	return llm.CompletionResponse{Content: content, StopReason: llm.StopEndTurn}
}

// ToolUse builds a response requesting a single tool.
func ToolUse(name string, params map[string]any) llm.CompletionResponse {
	return ToolUses(llm.ToolCall{ID: "toolu_" + name, Name: name, Parameters: params})
}

// ToolUses builds a response requesting several tools in order.
func ToolUses(calls ...llm.ToolCall) llm.CompletionResponse {
	return llm.CompletionResponse{ToolCalls: calls, StopReason: llm.StopToolUse}
}

// RespondWith configures Complete to return the specified content.
func (m *MockLLMClient) RespondWith(content string) {
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		return EndTurn(content), nil
	})
}

// RespondWithToolCall configures Complete to request the same tool on every call.
func (m *MockLLMClient) RespondWithToolCall(toolName string, params map[string]any) {
	var n int
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		n++
		return ToolUses(llm.ToolCall{ID: fmt.Sprintf("toolu_%d", n), Name: toolName, Parameters: params}), nil
	})
}

// RespondWithSequence configures Complete to return different responses for each call.
// Returns the last one for any additional calls.
func (m *MockLLMClient) RespondWithSequence(responses []llm.CompletionResponse) {
	callIndex := 0
	m.OnComplete(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		if callIndex < len(responses) {
			resp := responses[callIndex]
			callIndex++
			return resp, nil
		}
		return responses[len(responses)-1], nil
	})
}
