package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantops/pkg/agent/llm"
	"tenantops/pkg/agent/llmerrors"
	"tenantops/pkg/config"
)

func TestNewLLMClientRequiresKey(t *testing.T) {
	t.Setenv(config.SecretAnthropicAPIKey, "")
	config.SetDecryptedSecrets(nil)

	cfg := config.Default().LLM
	_, err := NewLLMClient(cfg, Options{})
	assert.Error(t, err)
}

func TestNewLLMClientUnknownProvider(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Provider = "parrot"
	_, err := NewLLMClient(cfg, Options{})
	assert.ErrorContains(t, err, "unsupported provider")
}

func TestNewLLMClientBuildsEachProvider(t *testing.T) {
	t.Setenv(config.SecretAnthropicAPIKey, "sk-ant-test")
	t.Setenv(config.SecretOpenAIAPIKey, "sk-test")

	cfg := config.Default().LLM
	client, err := NewLLMClient(cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, config.ModelClaudeSonnet, client.GetModelName())

	cfg.Provider = config.ProviderOpenAI
	cfg.Model = config.ModelGPT4o
	client, err = NewLLMClient(cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, config.ModelGPT4o, client.GetModelName())

	t.Setenv(config.SecretGoogleAPIKey, "google-test")
	cfg.Provider = config.ProviderGoogle
	cfg.Model = config.ModelGemini
	client, err = NewLLMClient(cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, config.ModelGemini, client.GetModelName())

	t.Setenv(config.EnvOllamaHost, "")
	cfg.Provider = config.ProviderOllama
	cfg.Model = config.ModelLlama
	client, err = NewLLMClient(cfg, Options{})
	require.NoError(t, err)
	assert.Equal(t, config.ModelLlama, client.GetModelName())
}

func TestNewLLMClientOllamaHost(t *testing.T) {
	cfg := config.Default().LLM
	cfg.Provider = config.ProviderOllama
	cfg.Model = config.ModelLlama

	t.Setenv(config.EnvOllamaHost, "::not a host")
	_, err := NewLLMClient(cfg, Options{})
	assert.ErrorContains(t, err, "invalid ollama host")

	cfg.BaseURL = "http://ollama.internal:11434"
	_, err = NewLLMClient(cfg, Options{})
	assert.NoError(t, err)
}

func TestWrapRetriesTransientFailures(t *testing.T) {
	calls := 0
	raw := llm.WrapClient(func(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
		calls++
		if calls == 1 {
			return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeTransient, "blip")
		}
		return llm.CompletionResponse{Content: "ok", StopReason: llm.StopEndTurn}, nil
	}, func() string { return "fake" })

	cfg := config.Default().LLM
	cfg.RetryInitialDelay = time.Millisecond
	cfg.RateLimitRPS = 0

	client := wrap(raw, cfg, Options{Timeout: time.Second})
	resp, err := client.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, 2, calls)
	assert.Equal(t, "fake", client.GetModelName())
}
