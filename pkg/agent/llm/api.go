// Package llm provides provider-neutral types for inference requests with tool use.
package llm

import (
	"context"
	"fmt"
)

// CompletionRole represents the role of a message in a conversation.
type CompletionRole string

const (
	// RoleUser indicates a message from the tenant, or tool results fed back to the model.
	RoleUser CompletionRole = "user"
	// RoleAssistant indicates a message produced by the model.
	RoleAssistant CompletionRole = "assistant"
)

// StopReason reports why the model stopped generating.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
)

const (
	// TemperatureDefault is used for conversational replies.
	TemperatureDefault = 0.3
	// TemperatureDeterministic is used for structured JSON extraction.
	TemperatureDeterministic = 0.0
)

// Property describes one field of a tool's input schema.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []any    `json:"enum,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
}

// InputSchema is the JSON schema of a tool's input object.
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required"`
}

// ToolDefinition is what the model sees for one tool.
type ToolDefinition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"input_schema"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	Parameters map[string]any `json:"parameters"`
	ID         string         `json:"id"`
	Name       string         `json:"name"`
}

// ToolResult is the outcome of a ToolCall fed back to the model.
type ToolResult struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
	IsError    bool   `json:"is_error"`
}

// CompletionMessage is one turn of the conversation. Assistant turns may carry ToolCalls;
// user turns may carry ToolResults instead of Content.
type CompletionMessage struct {
	Role        CompletionRole
	Content     string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// CompletionRequest represents a request to generate a completion.
//
//nolint:govet // value semantics preferred over pointer indirection
type CompletionRequest struct {
	System      string
	Messages    []CompletionMessage
	Tools       []ToolDefinition
	ToolChoice  string // "auto" (default), "any", "none"
	MaxTokens   int
	Temperature float32
}

// Usage reports token consumption when the provider returns it.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CompletionResponse represents a response from a completion request.
type CompletionResponse struct {
	ToolCalls  []ToolCall
	Content    string
	StopReason StopReason
	Usage      Usage
}

// LLMClient defines the interface for inference service interactions.
type LLMClient interface { //nolint:revive // Keep name for consistency with middleware
	// Complete generates a completion synchronously.
	Complete(ctx context.Context, in CompletionRequest) (CompletionResponse, error)

	// GetModelName returns the model name for this client.
	GetModelName() string
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) CompletionMessage {
	return CompletionMessage{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant turn, optionally carrying tool calls.
func NewAssistantMessage(content string, calls []ToolCall) CompletionMessage {
	return CompletionMessage{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolResultsMessage wraps tool results into the user turn that follows a tool_use turn.
func NewToolResultsMessage(results []ToolResult) CompletionMessage {
	return CompletionMessage{Role: RoleUser, ToolResults: results}
}

// Validate checks the request shape shared by every provider.
func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("message list cannot be empty")
	}
	if r.MaxTokens <= 0 {
		return fmt.Errorf("max tokens must be positive")
	}
	if r.Temperature < 0.0 || r.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if r.Messages[0].Role != RoleUser {
		return fmt.Errorf("first message must be user role, got: %s", r.Messages[0].Role)
	}
	pending := map[string]bool{}
	for i := range r.Messages {
		msg := &r.Messages[i]
		if i > 0 && msg.Role == r.Messages[i-1].Role {
			return fmt.Errorf("alternation violation at index %d: consecutive %s messages", i, msg.Role)
		}
		for _, call := range msg.ToolCalls {
			pending[call.ID] = true
		}
		for _, res := range msg.ToolResults {
			if !pending[res.ToolCallID] {
				return fmt.Errorf("tool result at index %d references unknown tool call %q", i, res.ToolCallID)
			}
			delete(pending, res.ToolCallID)
		}
	}
	return nil
}
