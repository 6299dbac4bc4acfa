// Package agent builds inference clients with their middleware chain.
package agent

import (
	"context"
	"fmt"
	"os"
	"time"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"

	"tenantops/pkg/agent/internal/llmimpl/anthropic"
	"tenantops/pkg/agent/internal/llmimpl/google"
	"tenantops/pkg/agent/internal/llmimpl/ollama"
	"tenantops/pkg/agent/internal/llmimpl/openaiofficial"
	"tenantops/pkg/agent/llm"
	"tenantops/pkg/agent/middleware/metrics"
	"tenantops/pkg/agent/middleware/resilience/ratelimit"
	"tenantops/pkg/agent/middleware/resilience/retry"
	"tenantops/pkg/agent/middleware/resilience/timeout"
	"tenantops/pkg/agent/middleware/tracing"
	"tenantops/pkg/config"
	"tenantops/pkg/logx"
	pkgretry "tenantops/pkg/retry"
)

// LLMClient re-exports the client interface for callers outside pkg/agent.
type LLMClient = llm.LLMClient

// Options carries process-level collaborators into the factory.
type Options struct {
	Recorder metrics.Recorder // nil means no-op
	Logger   *logx.Logger
	// Timeout bounds each individual inference call. Zero disables it.
	Timeout time.Duration
}

// NewLLMClient creates the raw provider client and wraps it:
//
//	Tracing -> Metrics -> Retry -> RateLimit -> Timeout -> RawClient
func NewLLMClient(cfg config.LLMConfig, opts Options) (LLMClient, error) {
	raw, err := newRawClient(cfg)
	if err != nil {
		return nil, err
	}
	return wrap(raw, cfg, opts), nil
}

func newRawClient(cfg config.LLMConfig) (LLMClient, error) {
	switch cfg.Provider {
	case config.ProviderAnthropic:
		apiKey, err := config.GetSecret(config.SecretAnthropicAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to get API key for provider %s: %w", cfg.Provider, err)
		}
		var opts []anthropicopt.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, anthropicopt.WithBaseURL(cfg.BaseURL))
		}
		return anthropic.NewClaudeClientWithModel(apiKey, cfg.Model, opts...), nil
	case config.ProviderOpenAI:
		apiKey, err := config.GetSecret(config.SecretOpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to get API key for provider %s: %w", cfg.Provider, err)
		}
		var opts []openaiopt.RequestOption
		if cfg.BaseURL != "" {
			opts = append(opts, openaiopt.WithBaseURL(cfg.BaseURL))
		}
		return openaiofficial.NewOfficialClientWithModel(apiKey, cfg.Model, opts...), nil
	case config.ProviderGoogle:
		apiKey, err := config.GetSecret(config.SecretGoogleAPIKey)
		if err != nil {
			return nil, fmt.Errorf("failed to get API key for provider %s: %w", cfg.Provider, err)
		}
		client, err := google.NewGeminiClientWithModel(context.Background(), apiKey, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for provider %s: %w", cfg.Provider, err)
		}
		return client, nil
	case config.ProviderOllama:
		// Ollama needs no key; the host comes from base_url, then OLLAMA_HOST.
		host := cfg.BaseURL
		if host == "" {
			host = os.Getenv(config.EnvOllamaHost)
		}
		if host == "" {
			host = config.DefaultOllamaHost
		}
		client, err := ollama.NewOllamaClientWithModel(host, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to create client for provider %s: %w", cfg.Provider, err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

func wrap(raw LLMClient, cfg config.LLMConfig, opts Options) LLMClient {
	recorder := opts.Recorder
	if recorder == nil {
		recorder = metrics.Nop()
	}

	policy := retry.NewPolicy(pkgretry.Config{
		MaxAttempts:   cfg.RetryAttempts,
		InitialDelay:  cfg.RetryInitialDelay,
		MaxDelay:      cfg.RetryMaxDelay,
		BackoffFactor: 2.0,
		Jitter:        true,
	})

	return llm.Chain(raw,
		tracing.Middleware(nil),
		metrics.Middleware(recorder, nil, opts.Logger),
		retry.Middleware(policy),
		ratelimit.Middleware(ratelimit.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst), recorder),
		timeout.Middleware(opts.Timeout),
	)
}
