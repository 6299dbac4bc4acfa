package testkit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Turn is one scripted model reply: text, tool calls, or both.
type Turn struct {
	Text  string
	Tools []ToolUse
}

// ToolUse is one scripted tool request.
type ToolUse struct {
	ID    string
	Name  string
	Input map[string]any
}

// MockServer serves scripted turns in order, repeating the last one.
type MockServer struct {
	*httptest.Server

	mu       sync.Mutex
	turns    []Turn
	requests []map[string]any
}

// Requests returns the decoded request bodies received so far.
func (m *MockServer) Requests() []map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]any(nil), m.requests...)
}

func (m *MockServer) next(r *http.Request) (Turn, bool) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return Turn{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.requests)
	m.requests = append(m.requests, body)
	if len(m.turns) == 0 {
		return Turn{Text: "OK"}, true
	}
	if idx >= len(m.turns) {
		idx = len(m.turns) - 1
	}
	return m.turns[idx], true
}

// MockAnthropicServer emulates the Anthropic Messages API.
func MockAnthropicServer(turns ...Turn) *MockServer {
	m := &MockServer{turns: turns}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/messages") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		turn, ok := m.next(r)
		if !ok {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		content := []map[string]any{}
		if turn.Text != "" {
			content = append(content, map[string]any{"type": "text", "text": turn.Text})
		}
		stop := "end_turn"
		for _, tu := range turn.Tools {
			input := tu.Input
			if input == nil {
				input = map[string]any{}
			}
			content = append(content, map[string]any{"type": "tool_use", "id": tu.ID, "name": tu.Name, "input": input})
			stop = "tool_use"
		}

		response := map[string]any{
			"id":            "msg_mock_12345",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-mock",
			"content":       content,
			"stop_reason":   stop,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 100, "output_tokens": 20},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	return m
}

// MockOpenAIServer emulates the OpenAI chat completions API.
func MockOpenAIServer(turns ...Turn) *MockServer {
	m := &MockServer{turns: turns}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		turn, ok := m.next(r)
		if !ok {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		message := map[string]any{"role": "assistant", "content": turn.Text}
		finish := "stop"
		if len(turn.Tools) > 0 {
			calls := make([]map[string]any, 0, len(turn.Tools))
			for _, tu := range turn.Tools {
				args, _ := json.Marshal(tu.Input)
				if tu.Input == nil {
					args = []byte("{}")
				}
				calls = append(calls, map[string]any{
					"id":       tu.ID,
					"type":     "function",
					"function": map[string]any{"name": tu.Name, "arguments": string(args)},
				})
			}
			message["tool_calls"] = calls
			finish = "tool_calls"
		}

		response := map[string]any{
			"id":      "chatcmpl-mock12345",
			"object":  "chat.completion",
			"created": 1700000000,
			"model":   "gpt-mock",
			"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": finish}},
			"usage":   map[string]any{"prompt_tokens": 100, "completion_tokens": 20, "total_tokens": 120},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	return m
}

// MockOllamaServer emulates the Ollama /api/chat endpoint in non-streaming mode.
func MockOllamaServer(turns ...Turn) *MockServer {
	m := &MockServer{turns: turns}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		turn, ok := m.next(r)
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "invalid JSON"})
			return
		}

		message := map[string]any{"role": "assistant", "content": turn.Text}
		if len(turn.Tools) > 0 {
			calls := make([]map[string]any, 0, len(turn.Tools))
			for _, tu := range turn.Tools {
				input := tu.Input
				if input == nil {
					input = map[string]any{}
				}
				calls = append(calls, map[string]any{
					"id":       tu.ID,
					"function": map[string]any{"name": tu.Name, "arguments": input},
				})
			}
			message["tool_calls"] = calls
		}

		response := map[string]any{
			"model":             "llama-mock",
			"created_at":        "2024-01-01T00:00:00Z",
			"message":           message,
			"done":              true,
			"done_reason":       "stop",
			"prompt_eval_count": 100,
			"eval_count":        20,
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	return m
}

// MockGeminiServer emulates the Gemini generateContent endpoint.
func MockGeminiServer(turns ...Turn) *MockServer {
	m := &MockServer{turns: turns}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		turn, ok := m.next(r)
		if !ok {
			http.Error(w, "Invalid JSON", http.StatusBadRequest)
			return
		}

		parts := []map[string]any{}
		if turn.Text != "" {
			parts = append(parts, map[string]any{"text": turn.Text})
		}
		for _, tu := range turn.Tools {
			input := tu.Input
			if input == nil {
				input = map[string]any{}
			}
			parts = append(parts, map[string]any{"functionCall": map[string]any{"id": tu.ID, "name": tu.Name, "args": input}})
		}

		response := map[string]any{
			"candidates": []map[string]any{{
				"index":        0,
				"content":      map[string]any{"role": "model", "parts": parts},
				"finishReason": "STOP",
			}},
			"usageMetadata": map[string]any{"promptTokenCount": 100, "candidatesTokenCount": 20, "totalTokenCount": 120},
			"modelVersion":  "gemini-mock",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	}))
	return m
}
