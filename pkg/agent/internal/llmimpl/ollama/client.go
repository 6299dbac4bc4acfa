// Package ollama provides an Ollama client implementation for the llm interface.
// Ollama runs open-weight models locally and needs no API key.
package ollama

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"

	"tenantops/pkg/agent/llm"
	"tenantops/pkg/agent/llmerrors"
)

// Client wraps the Ollama API client to implement llm.LLMClient.
type Client struct {
	client *api.Client
	model  string
}

// NewOllamaClientWithModel creates a raw Ollama client for hostURL, e.g. "http://localhost:11434".
// Middleware is applied by the factory.
func NewOllamaClientWithModel(hostURL, model string) (llm.LLMClient, error) {
	parsed, err := url.Parse(hostURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid ollama host %q", hostURL)
	}
	return &Client{
		client: api.NewClient(parsed, http.DefaultClient),
		model:  model,
	}, nil
}

// Complete implements llm.LLMClient with a single non-streaming chat call.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (o *Client) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := in.Validate(); err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "invalid completion request")
	}

	messages, err := toOllamaMessages(in.System, in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion failed")
	}

	stream := false
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": in.Temperature,
			"num_predict": in.MaxTokens,
		},
	}
	// Ollama has no tool_choice; "none" is honoured by not offering tools.
	if len(in.Tools) > 0 && in.ToolChoice != "none" {
		tools, err := toOllamaTools(in.Tools)
		if err != nil {
			return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "tool conversion failed")
		}
		req.Tools = tools
	}

	var (
		resp     api.ChatResponse
		received bool
	)
	err = o.client.Chat(ctx, req, func(r api.ChatResponse) error {
		resp = r
		received = true
		return nil
	})
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if !received {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no response from Ollama chat")
	}

	out := llm.CompletionResponse{
		Content:    resp.Message.Content,
		StopReason: stopReason(&resp),
		Usage: llm.Usage{
			InputTokens:  resp.PromptEvalCount,
			OutputTokens: resp.EvalCount,
		},
	}
	for i := range resp.Message.ToolCalls {
		call := &resp.Message.ToolCalls[i]
		// Older models omit call ids.
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		parameters, err := fromArguments(&call.Function.Arguments)
		if err != nil {
			return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "failed to parse tool arguments")
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
			ID:         id,
			Name:       call.Function.Name,
			Parameters: parameters,
		})
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = llm.StopToolUse
	}
	return out, nil
}

// GetModelName returns the model name for this client.
func (o *Client) GetModelName() string {
	return o.model
}

// toOllamaMessages flattens the conversation. Tool results become role "tool" messages.
func toOllamaMessages(system string, messages []llm.CompletionMessage) ([]api.Message, error) {
	out := make([]api.Message, 0, len(messages)+1)
	if system != "" {
		out = append(out, api.Message{Role: "system", Content: system})
	}

	for i := range messages {
		msg := &messages[i]
		for _, res := range msg.ToolResults {
			out = append(out, api.Message{Role: "tool", Content: res.Content, ToolCallID: res.ToolCallID})
		}
		if len(msg.ToolResults) > 0 && msg.Content == "" {
			continue
		}

		m := api.Message{Role: string(msg.Role), Content: msg.Content}
		for _, call := range msg.ToolCalls {
			args, err := toArguments(call.Parameters)
			if err != nil {
				return nil, fmt.Errorf("failed to encode arguments of tool call %s: %w", call.ID, err)
			}
			m.ToolCalls = append(m.ToolCalls, api.ToolCall{
				ID:       call.ID,
				Function: api.ToolCallFunction{Name: call.Name, Arguments: args},
			})
		}
		out = append(out, m)
	}
	return out, nil
}

// The api package keeps arguments and schema properties in ordered maps. They are built from
// their JSON form so key order follows the wire encoding.

func toArguments(params map[string]any) (api.ToolCallFunctionArguments, error) {
	var args api.ToolCallFunctionArguments
	if params == nil {
		params = map[string]any{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return args, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	return args, nil
}

func fromArguments(args *api.ToolCallFunctionArguments) (map[string]any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
	}
	if params == nil {
		params = map[string]any{}
	}
	return params, nil
}

func toOllamaTools(defs []llm.ToolDefinition) (api.Tools, error) {
	tools := make(api.Tools, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		schema := def.InputSchema
		schema.Type = "object"
		if schema.Properties == nil {
			schema.Properties = map[string]llm.Property{}
		}
		raw, err := json.Marshal(map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        def.Name,
				"description": def.Description,
				"parameters":  schema,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tool %s: %w", def.Name, err)
		}
		var tool api.Tool
		if err := json.Unmarshal(raw, &tool); err != nil {
			return nil, fmt.Errorf("failed to convert tool %s: %w", def.Name, err)
		}
		tools = append(tools, tool)
	}
	return tools, nil
}

func stopReason(resp *api.ChatResponse) llm.StopReason {
	if resp.DoneReason == "length" {
		return llm.StopMaxTokens
	}
	return llm.StopEndTurn
}

// classifyError maps Ollama failures onto llmerrors. A missing model is a configuration
// problem and is not retried.
func classifyError(err error) error {
	var status api.StatusError
	if errors.As(err, &status) {
		if status.StatusCode == http.StatusNotFound {
			return llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "Ollama model not found")
		}
		return llmerrors.Classify(err, status.StatusCode)
	}
	return llmerrors.Classify(err, 0)
}
