// Package google provides a Google Gemini client implementation for the llm interface.
package google

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"tenantops/pkg/agent/llm"
	"tenantops/pkg/agent/llmerrors"
)

// GeminiClient wraps the Google GenAI client to implement llm.LLMClient.
type GeminiClient struct {
	client *genai.Client
	model  string
}

// NewGeminiClientWithModel creates a raw Gemini client; middleware is applied by the factory.
// baseURL overrides the API endpoint when non-empty.
func NewGeminiClientWithModel(ctx context.Context, apiKey, model, baseURL string) (llm.LLMClient, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Complete implements llm.LLMClient using GenerateContent.
//
//nolint:gocritic // CompletionRequest passed by value to match interface
func (g *GeminiClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := in.Validate(); err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "invalid completion request")
	}

	contents, err := toContents(in.Messages)
	if err != nil {
		return llm.CompletionResponse{}, llmerrors.NewErrorWithCause(llmerrors.ErrorTypeBadPrompt, err, "message conversion failed")
	}

	//nolint:gosec // MaxTokens is validated positive and far below int32 range
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(in.Temperature),
		MaxOutputTokens: int32(in.MaxTokens),
	}
	if in.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: in.System}}}
	}
	if len(in.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: toDeclarations(in.Tools)}}
		config.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: callingMode(in.ToolChoice)},
		}
	}

	result, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.CompletionResponse{}, classifyError(err)
	}
	if result == nil || len(result.Candidates) == 0 {
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeEmptyResponse, "no candidates in Gemini response")
	}

	out := llm.CompletionResponse{
		Content:    result.Text(),
		StopReason: stopReason(result.Candidates[0].FinishReason),
	}
	if result.UsageMetadata != nil {
		out.Usage = llm.Usage{
			InputTokens:  int(result.UsageMetadata.PromptTokenCount),
			OutputTokens: int(result.UsageMetadata.CandidatesTokenCount),
		}
	}
	for i, call := range result.FunctionCalls() {
		// Gemini only sets ids on some models; tool results are matched by id below.
		id := call.ID
		if id == "" {
			id = fmt.Sprintf("%s_%d", call.Name, i)
		}
		out.ToolCalls = append(out.ToolCalls, llm.ToolCall{ID: id, Name: call.Name, Parameters: call.Args})
	}
	if len(out.ToolCalls) > 0 {
		out.StopReason = llm.StopToolUse
	}
	return out, nil
}

// GetModelName returns the model name for this client.
func (g *GeminiClient) GetModelName() string {
	return g.model
}

// toContents maps the conversation onto Gemini contents. Gemini names the assistant "model"
// and matches a FunctionResponse to its call by function name, so names are recovered from
// the preceding assistant turns.
func toContents(messages []llm.CompletionMessage) ([]*genai.Content, error) {
	names := map[string]string{}
	contents := make([]*genai.Content, 0, len(messages))

	for i := range messages {
		msg := &messages[i]
		var role string
		switch msg.Role {
		case llm.RoleUser:
			role = "user"
		case llm.RoleAssistant:
			role = "model"
		default:
			return nil, fmt.Errorf("invalid role %s at index %d", msg.Role, i)
		}

		var parts []*genai.Part
		for _, res := range msg.ToolResults {
			name, ok := names[res.ToolCallID]
			if !ok {
				return nil, fmt.Errorf("tool result at index %d references unknown tool call %q", i, res.ToolCallID)
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:   res.ToolCallID,
				Name: name,
				Response: map[string]any{
					"content":  res.Content,
					"is_error": res.IsError,
				},
			}})
		}
		if msg.Content != "" {
			parts = append(parts, &genai.Part{Text: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			names[call.ID] = call.Name
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   call.ID,
				Name: call.Name,
				Args: call.Parameters,
			}})
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents, nil
}

func toDeclarations(defs []llm.ToolDefinition) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		properties := make(map[string]*genai.Schema, len(def.InputSchema.Properties))
		for name, prop := range def.InputSchema.Properties {
			properties[name] = toSchema(prop)
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        def.Name,
			Description: def.Description,
			Parameters: &genai.Schema{
				Type:       genai.TypeObject,
				Properties: properties,
				Required:   def.InputSchema.Required,
			},
		})
	}
	return declarations
}

func toSchema(prop llm.Property) *genai.Schema {
	schema := &genai.Schema{
		Description: prop.Description,
		Minimum:     prop.Minimum,
		Maximum:     prop.Maximum,
	}
	switch prop.Type {
	case "number":
		schema.Type = genai.TypeNumber
	case "integer":
		schema.Type = genai.TypeInteger
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "object":
		schema.Type = genai.TypeObject
	default:
		schema.Type = genai.TypeString
	}
	// Gemini enums are string-typed.
	for _, v := range prop.Enum {
		schema.Enum = append(schema.Enum, fmt.Sprint(v))
	}
	return schema
}

func callingMode(choice string) genai.FunctionCallingConfigMode {
	switch choice {
	case "any":
		return genai.FunctionCallingConfigModeAny
	case "none":
		return genai.FunctionCallingConfigModeNone
	default:
		return genai.FunctionCallingConfigModeAuto
	}
}

func stopReason(reason genai.FinishReason) llm.StopReason {
	if reason == genai.FinishReasonMaxTokens {
		return llm.StopMaxTokens
	}
	return llm.StopEndTurn
}

func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llmerrors.Classify(err, apiErr.Code)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return llmerrors.Classify(err, apiErrPtr.Code)
	}
	return llmerrors.Classify(err, 0)
}
