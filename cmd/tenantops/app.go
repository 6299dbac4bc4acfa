package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"tenantops/pkg/agent"
	"tenantops/pkg/agent/llm"
	llmmetrics "tenantops/pkg/agent/middleware/metrics"
	"tenantops/pkg/agent/toolloop"
	"tenantops/pkg/analysis"
	"tenantops/pkg/chat"
	"tenantops/pkg/config"
	"tenantops/pkg/docs"
	"tenantops/pkg/logx"
	"tenantops/pkg/metrics"
	"tenantops/pkg/notify"
	"tenantops/pkg/persistence"
	"tenantops/pkg/ranking"
	"tenantops/pkg/retry"
	"tenantops/pkg/storage"
	"tenantops/pkg/tenancy"
	"tenantops/pkg/tools"
	"tenantops/pkg/tracing"
	"tenantops/pkg/workflow"
)

// app holds the process-wide collaborators built from one Config.
type app struct {
	cfg       *config.Config
	store     *persistence.Store
	publisher notify.Publisher
	ranker    ranking.Strategy
	registry  *prometheus.Registry
	recorder  *metrics.Prometheus
	llmStats  *llmmetrics.PrometheusRecorder
	shutdown  tracing.ShutdownFunc
	out       io.Writer
	logger    *logx.Logger

	client llm.LLMClient // lazily built, nil when no provider key is configured
}

func newApp(ctx context.Context, cfg *config.Config, out io.Writer) (*app, error) {
	shutdown, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("failed to set up tracing: %w", err)
	}

	store, err := persistence.Open(ctx, cfg.Database, persistence.WithRetryConfig(retry.Config{
		MaxAttempts:   cfg.Workflow.RetryAttempts,
		InitialDelay:  cfg.Workflow.RetryInitialDelay,
		MaxDelay:      cfg.Workflow.RetryMaxDelay,
		BackoffFactor: 2.0,
		Jitter:        true,
	}))
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	publisher, err := notify.New(cfg.Notify)
	if err != nil {
		_ = store.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to build notification sinks: %w", err)
	}

	ranker, err := ranking.New(cfg.Ranking)
	if err != nil {
		_ = publisher.Close()
		_ = store.Close()
		_ = shutdown(ctx)
		return nil, fmt.Errorf("failed to build contractor ranking: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return &app{
		cfg:       cfg,
		store:     store,
		publisher: publisher,
		ranker:    ranker,
		registry:  registry,
		recorder:  metrics.NewPrometheus(registry),
		llmStats:  llmmetrics.NewPrometheusRecorder(registry),
		shutdown:  shutdown,
		out:       out,
		logger:    logx.NewLogger("tenantops"),
	}, nil
}

// Close releases everything newApp opened.
func (a *app) Close(ctx context.Context) error {
	return errors.Join(a.publisher.Close(), a.store.Close(), a.shutdown(ctx))
}

// llmClient builds the configured inference client once.
func (a *app) llmClient() (llm.LLMClient, error) {
	if a.client != nil {
		return a.client, nil
	}
	client, err := agent.NewLLMClient(a.cfg.LLM, agent.Options{
		Recorder: a.llmStats,
		Logger:   logx.NewLogger("llm"),
		Timeout:  a.cfg.Agent.TurnTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.client = client
	return client, nil
}

// workflowService falls back to keyword analysis and the outreach template when no
// provider key is available.
func (a *app) workflowService() *workflow.Service {
	var (
		analyzer  *analysis.Analyzer
		messenger *analysis.VendorMessenger
	)
	client, err := a.llmClient()
	if err != nil {
		a.logger.Warn("⚠️  No inference client, using keyword analysis: %v", err)
		analyzer, messenger = analysis.NewAnalyzer(nil), analysis.NewVendorMessenger(nil)
	} else {
		analyzer, messenger = analysis.NewAnalyzer(client), analysis.NewVendorMessenger(client)
	}
	return workflow.NewService(a.store, analyzer, messenger,
		workflow.WithRanker(a.ranker),
		workflow.WithPublisher(a.publisher),
		workflow.WithRecorder(a.recorder))
}

// chatService wires the agent loop and its tools. It needs a working inference client.
func (a *app) chatService(ctx context.Context) (*chat.Service, error) {
	client, err := a.llmClient()
	if err != nil {
		return nil, err
	}
	objects, err := storage.New(ctx, a.cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open document storage: %w", err)
	}
	executor := tools.NewExecutor(a.store,
		tools.WithRanker(a.ranker),
		tools.WithDocuments(docs.NewHTMLGenerator()),
		tools.WithObjectStore(objects),
		tools.WithPublisher(a.publisher),
		tools.WithRecorder(a.recorder))
	loop := toolloop.New(client, executor,
		toolloop.WithConfig(toolloop.ConfigFrom(a.cfg.Agent, a.cfg.LLM)),
		toolloop.WithRecorder(a.recorder))
	return chat.NewService(tenancy.NewLoader(a.store), a.store, loop, &a.cfg.Chat,
		chat.WithPublisher(a.publisher)), nil
}
