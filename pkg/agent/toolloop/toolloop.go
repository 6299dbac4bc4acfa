// Package toolloop runs one conversational turn: a bounded loop between the inference
// service and the tenant tools.
package toolloop

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"tenantops/pkg/agent/llm"
	"tenantops/pkg/config"
	"tenantops/pkg/logx"
	"tenantops/pkg/metrics"
	"tenantops/pkg/tenancy"
	"tenantops/pkg/tools"
	"tenantops/pkg/tracing"
	"tenantops/pkg/utils"
)

// Defaults for a turn.
const (
	DefaultMaxIterations = 8
	DefaultMaxTokens     = 1024
	// DefaultMaxProviderAttempts bounds provider calls per turn once retries are counted.
	DefaultMaxProviderAttempts = 12

	// FallbackMessage is sent when the model produced no text at all.
	FallbackMessage = "I have processed your request. Please let me know if you need anything else."
)

// Executor is what the loop needs from the tool layer.
type Executor interface {
	Definitions() []llm.ToolDefinition
	Execute(ctx context.Context, name string, params map[string]any, tc *tenancy.TenantContext) tools.Result
}

// Config defines how the tool loop behaves.
type Config struct {
	// MaxIterations caps inference calls per turn.
	MaxIterations int
	// MaxProviderAttempts caps provider HTTP calls per turn, retries included; 0 disables it.
	MaxProviderAttempts int
	// MaxTokens is passed on every request.
	MaxTokens   int
	Temperature float32
	// HistoryTokenBudget bounds seeded history; 0 keeps every loaded message.
	HistoryTokenBudget int
	// TurnTimeout bounds the whole turn when positive.
	TurnTimeout time.Duration
}

// ConfigFrom maps the agent and llm config sections onto a loop Config.
func ConfigFrom(agentCfg config.AgentConfig, llmCfg config.LLMConfig) Config {
	return Config{
		MaxIterations:       agentCfg.MaxIterations,
		MaxProviderAttempts: agentCfg.MaxProviderAttempts,
		MaxTokens:           llmCfg.MaxTokens,
		Temperature:         float32(llmCfg.Temperature),
		HistoryTokenBudget:  agentCfg.HistoryTokenBudget,
		TurnTimeout:         agentCfg.TurnTimeout,
	}
}

// ToolLoop drives turns for one model and tool set.
type ToolLoop struct {
	client   llm.LLMClient
	executor Executor
	cfg      Config
	recorder metrics.Recorder
	counter  *utils.TokenCounter
	now      func() time.Time
	logger   *logx.Logger
}

// Option configures a ToolLoop.
type Option func(*ToolLoop)

// WithConfig replaces the loop configuration. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(tl *ToolLoop) {
		if cfg.MaxIterations > 0 {
			tl.cfg.MaxIterations = cfg.MaxIterations
		}
		if cfg.MaxTokens > 0 {
			tl.cfg.MaxTokens = cfg.MaxTokens
		}
		tl.cfg.MaxProviderAttempts = cfg.MaxProviderAttempts
		tl.cfg.Temperature = cfg.Temperature
		tl.cfg.HistoryTokenBudget = cfg.HistoryTokenBudget
		tl.cfg.TurnTimeout = cfg.TurnTimeout
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(tl *ToolLoop) { tl.recorder = r }
}

// WithClock overrides the clock used for the system prompt date.
func WithClock(now func() time.Time) Option {
	return func(tl *ToolLoop) { tl.now = now }
}

// New creates a ToolLoop.
func New(client llm.LLMClient, executor Executor, opts ...Option) *ToolLoop {
	tl := &ToolLoop{
		client:   client,
		executor: executor,
		cfg: Config{
			MaxIterations:       DefaultMaxIterations,
			MaxProviderAttempts: DefaultMaxProviderAttempts,
			MaxTokens:           DefaultMaxTokens,
			Temperature:         llm.TemperatureDefault,
		},
		recorder: metrics.Noop{},
		counter:  utils.DefaultCounter(),
		now:      time.Now,
		logger:   logx.NewLogger("toolloop"),
	}
	for _, opt := range opts {
		opt(tl)
	}
	return tl
}

// turn is the mutable state of one Run.
type turn struct {
	state     State
	messages  []llm.CompletionMessage
	pending   []llm.ToolCall
	iteration int
	lastText  string
	final     string
	err       error
	stopped   error
	result    AgentResult
}

// Run answers userMessage for the tenant in tc. An inference failure is returned as an
// error; tool failures are fed back to the model and never end the turn.
func (tl *ToolLoop) Run(ctx context.Context, userMessage string, tc *tenancy.TenantContext) (*AgentResult, error) {
	if tc == nil || tc.Lease == nil {
		return nil, fmt.Errorf("agent turn requires a tenant context")
	}
	if tl.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tl.cfg.TurnTimeout)
		defer cancel()
	}
	ctx = llm.WithAttemptBudget(ctx, tl.cfg.MaxProviderAttempts)
	ctx, span := tracing.Start(ctx, "agent.turn",
		attribute.String("lease.id", tc.Lease.ID),
		attribute.String("llm.model", tl.client.GetModelName()))
	start := time.Now()

	system, err := tenancy.BuildSystemPrompt(tc, tl.now())
	if err != nil {
		tracing.End(span, err)
		return nil, fmt.Errorf("failed to build system prompt: %w", err)
	}
	definitions := tl.executor.Definitions()

	t := &turn{
		state:    StateAwaitingModel,
		messages: seedMessages(tc.RecentConversations, userMessage, tl.cfg.HistoryTokenBudget, tl.counter),
	}
	for !t.state.Terminal() {
		switch t.state {
		case StateAwaitingModel:
			tl.awaitModel(ctx, t, system, definitions)
		case StateExecutingTools:
			tl.executeTools(ctx, t, tc)
		case StateDone, StateFailed:
		}
	}

	outcome := metrics.OutcomeReplied
	switch {
	case t.state == StateFailed:
		outcome = metrics.OutcomeFailed
	case t.stopped != nil:
		outcome = metrics.OutcomeMaxIters
	}
	tl.recorder.ObserveLoop(outcome, t.iteration, time.Since(start))
	span.SetAttributes(attribute.Int("agent.iterations", t.iteration), attribute.String("agent.outcome", outcome))
	tracing.End(span, t.err)

	if t.state == StateFailed {
		tl.logger.Error("❌ Agent turn for lease %s failed after %d iterations: %v", tc.Lease.ID, t.iteration, t.err)
		return nil, t.err
	}

	res := &t.result
	res.FinalMessage = t.final
	if res.FinalMessage == "" {
		res.FinalMessage = FallbackMessage
	}
	res.IntentClassification = ClassifyIntent(userMessage, res.ToolsUsed)
	res.ConfidenceScore = Confidence(res.ToolsUsed)
	res.Iterations = t.iteration
	res.Stopped = t.stopped

	tl.logger.Info("✅ Agent turn for lease %s finished in %d iterations, tools: %v, intent: %s",
		tc.Lease.ID, t.iteration, res.ToolsUsed, res.IntentClassification)
	return res, nil
}

func (tl *ToolLoop) awaitModel(ctx context.Context, t *turn, system string, definitions []llm.ToolDefinition) {
	if t.iteration >= tl.cfg.MaxIterations {
		tl.logger.Warn("⚠️  Maximum tool iterations (%d) reached", tl.cfg.MaxIterations)
		t.final = t.lastText
		t.stopped = ErrIterationLimit
		t.state = StateDone
		return
	}
	if err := ctx.Err(); err != nil {
		t.err = fmt.Errorf("%w before iteration %d: %w", ErrCancelled, t.iteration+1, err)
		t.state = StateFailed
		return
	}

	t.iteration++
	req := llm.CompletionRequest{
		System:      system,
		Messages:    append([]llm.CompletionMessage(nil), t.messages...),
		Tools:       definitions,
		ToolChoice:  "auto",
		MaxTokens:   tl.cfg.MaxTokens,
		Temperature: tl.cfg.Temperature,
	}

	tl.logger.Info("🔄 Starting LLM call to model '%s' with %d messages, %d tools (iteration %d)",
		tl.client.GetModelName(), len(req.Messages), len(definitions), t.iteration)
	started := time.Now()
	resp, err := tl.client.Complete(ctx, req)
	if err != nil {
		t.err = fmt.Errorf("inference failed on iteration %d: %w", t.iteration, err)
		t.state = StateFailed
		return
	}
	logx.Debug(ctx, "toolloop", "iteration %d: stop=%s text=%d chars tools=%d in %s",
		t.iteration, resp.StopReason, len(resp.Content), len(resp.ToolCalls), time.Since(started))

	t.messages = append(t.messages, llm.NewAssistantMessage(resp.Content, resp.ToolCalls))
	if resp.Content != "" {
		t.lastText = resp.Content
	}

	switch {
	case len(resp.ToolCalls) > 0:
		t.pending = resp.ToolCalls
		t.state = StateExecutingTools
	default:
		// end_turn, or any other stop reason: take whatever text there is.
		t.final = resp.Content
		t.state = StateDone
	}
}

func (tl *ToolLoop) executeTools(ctx context.Context, t *turn, tc *tenancy.TenantContext) {
	results := make([]llm.ToolResult, 0, len(t.pending))
	for i := range t.pending {
		call := &t.pending[i]
		if err := ctx.Err(); err != nil {
			t.err = fmt.Errorf("%w before tool %s: %w", ErrCancelled, call.Name, err)
			t.state = StateFailed
			return
		}

		t.result.ToolsUsed = append(t.result.ToolsUsed, call.Name)
		res := tl.executor.Execute(ctx, call.Name, call.Parameters, tc)
		if res.IsHighSeverity && res.LandlordNotificationMessage != "" {
			t.result.HighSeverityActions = append(t.result.HighSeverityActions, res.LandlordNotificationMessage)
		}
		results = append(results, llm.ToolResult{
			ToolCallID: call.ID,
			Content:    res.Content(),
			IsError:    !res.Success,
		})
	}

	t.messages = append(t.messages, llm.NewToolResultsMessage(results))
	t.pending = nil
	t.state = StateAwaitingModel
}
