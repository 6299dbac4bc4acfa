package toolloop_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantops/internal/mocks"
	"tenantops/pkg/agent"
	"tenantops/pkg/agent/llm"
	"tenantops/pkg/agent/llmerrors"
	llmretry "tenantops/pkg/agent/middleware/resilience/retry"
	"tenantops/pkg/agent/toolloop"
	"tenantops/pkg/config"
	"tenantops/pkg/persistence"
	"tenantops/pkg/retry"
	"tenantops/pkg/tenancy"
	"tenantops/pkg/testkit"
	"tenantops/pkg/tools"
)

// fakeExecutor returns canned results per tool name and records calls in order.
type fakeExecutor struct {
	mu      sync.Mutex
	results map[string]tools.Result
	calls   []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{results: map[string]tools.Result{}}
}

func (f *fakeExecutor) Definitions() []llm.ToolDefinition {
	return tools.Definitions()
}

func (f *fakeExecutor) Execute(_ context.Context, name string, _ map[string]any, _ *tenancy.TenantContext) tools.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if res, ok := f.results[name]; ok {
		return res
	}
	return tools.Result{Success: true, Data: map[string]any{"ok": true}}
}

func tenantContext() *tenancy.TenantContext {
	return &tenancy.TenantContext{
		Tenant:          &persistence.Tenant{ID: "tenant-1", FullName: "Ana Costa", WhatsAppNumber: "+447700900001"},
		Lease:           &persistence.Lease{ID: "lease-1", MonthlyRent: 1200, Status: "active", EndDate: "2025-12-31"},
		Unit:            &persistence.Unit{UnitIdentifier: "Flat 2", Address: "14 Rose Street", City: "London", Jurisdiction: "england_wales"},
		LandlordID:      "landlord-1",
		EscalationLevel: tenancy.DefaultEscalationLevel,
	}
}

func TestRunEndTurn(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWith("Your rent is due on the 1st.")
	loop := toolloop.New(client, newFakeExecutor())

	res, err := loop.Run(context.Background(), "When is my rent due?", tenantContext())
	require.NoError(t, err)

	assert.Equal(t, "Your rent is due on the 1st.", res.FinalMessage)
	assert.Equal(t, 1, res.Iterations)
	assert.Empty(t, res.ToolsUsed)
	assert.Equal(t, toolloop.IntentFinance, res.IntentClassification)
	assert.InDelta(t, toolloop.ConfidenceWithoutTools, res.ConfidenceScore, 1e-9)
	assert.NoError(t, res.Stopped)

	req := client.LastRequest()
	assert.Contains(t, req.System, "Ana Costa")
	assert.Len(t, req.Tools, 4)
	assert.Equal(t, 1024, req.MaxTokens)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "When is my rent due?", req.Messages[0].Content)
}

func TestRunNeverExceedsIterationLimit(t *testing.T) {
	t.Run("default ceiling", func(t *testing.T) {
		client := mocks.NewMockLLMClient()
		client.RespondWithToolCall(tools.ToolGetRentStatus, map[string]any{})
		exec := newFakeExecutor()

		res, err := toolloop.New(client, exec).Run(context.Background(), "hello", tenantContext())
		require.NoError(t, err)

		assert.Equal(t, toolloop.DefaultMaxIterations, client.CallCount())
		assert.Equal(t, toolloop.DefaultMaxIterations, res.Iterations)
		assert.ErrorIs(t, res.Stopped, toolloop.ErrIterationLimit)
		assert.Len(t, res.ToolsUsed, toolloop.DefaultMaxIterations)
		assert.Equal(t, toolloop.FallbackMessage, res.FinalMessage)
		assert.Equal(t, toolloop.IntentFinance, res.IntentClassification)
	})

	t.Run("configured ceiling keeps the last text", func(t *testing.T) {
		client := mocks.NewMockLLMClient()
		n := 0
		client.OnComplete(func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
			n++
			resp := mocks.ToolUses(llm.ToolCall{ID: fmt.Sprintf("toolu_%d", n), Name: tools.ToolGetRentStatus})
			resp.Content = "Let me check that for you."
			return resp, nil
		})

		res, err := toolloop.New(client, newFakeExecutor(), toolloop.WithConfig(toolloop.Config{MaxIterations: 3})).
			Run(context.Background(), "hello", tenantContext())
		require.NoError(t, err)
		assert.Equal(t, 3, client.CallCount())
		assert.Equal(t, "Let me check that for you.", res.FinalMessage)
	})
}

func TestToolFailureIsFedBack(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithSequence([]llm.CompletionResponse{
		mocks.ToolUse(tools.ToolScheduleMaintenance, map[string]any{"category": "roof"}),
		mocks.EndTurn("I could not log that, please describe the issue."),
	})
	exec := newFakeExecutor()
	exec.results[tools.ToolScheduleMaintenance] = tools.Failed(errors.New("invalid tool input: schedule_maintenance"))

	res, err := toolloop.New(client, exec).Run(context.Background(), "the roof leaks", tenantContext())
	require.NoError(t, err)
	assert.Equal(t, "I could not log that, please describe the issue.", res.FinalMessage)
	assert.Equal(t, 2, client.CallCount())

	req := client.LastRequest()
	require.NoError(t, req.Validate())
	last := req.Messages[len(req.Messages)-1]
	assert.Equal(t, llm.RoleUser, last.Role)
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
	assert.Equal(t, "toolu_"+tools.ToolScheduleMaintenance, last.ToolResults[0].ToolCallID)
	assert.JSONEq(t, `{"error": "invalid tool input: schedule_maintenance"}`, last.ToolResults[0].Content)
}

func TestToolsRunInOrderAndSeverityIsCollected(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.RespondWithSequence([]llm.CompletionResponse{
		mocks.ToolUses(
			llm.ToolCall{ID: "toolu_1", Name: tools.ToolScheduleMaintenance},
			llm.ToolCall{ID: "toolu_2", Name: tools.ToolIssueLegalNotice},
			llm.ToolCall{ID: "toolu_3", Name: tools.ToolGetRentStatus},
		),
		mocks.EndTurn("Done."),
	})
	exec := newFakeExecutor()
	exec.results[tools.ToolScheduleMaintenance] = tools.Result{Success: true, IsHighSeverity: true, LandlordNotificationMessage: "EMERGENCY"}
	exec.results[tools.ToolIssueLegalNotice] = tools.Result{Success: true, IsHighSeverity: true, LandlordNotificationMessage: "NOTICE"}

	res, err := toolloop.New(client, exec).Run(context.Background(), "hello", tenantContext())
	require.NoError(t, err)

	want := []string{tools.ToolScheduleMaintenance, tools.ToolIssueLegalNotice, tools.ToolGetRentStatus}
	assert.Equal(t, want, exec.calls)
	assert.Equal(t, want, res.ToolsUsed)
	assert.Equal(t, []string{"EMERGENCY", "NOTICE"}, res.HighSeverityActions)
	assert.Equal(t, toolloop.IntentLegalResponse, res.IntentClassification)
	assert.InDelta(t, toolloop.ConfidenceWithTools, res.ConfidenceScore, 1e-9)

	results := client.LastRequest().Messages[2].ToolResults
	require.Len(t, results, 3)
	assert.Equal(t, "toolu_1", results[0].ToolCallID)
	assert.Equal(t, "toolu_3", results[2].ToolCallID)
}

func TestUnexpectedStopReasonUsesText(t *testing.T) {
	client := mocks.NewMockLLMClient()
	client.OnComplete(func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{Content: "Partial answer", StopReason: llm.StopMaxTokens}, nil
	})
	res, err := toolloop.New(client, newFakeExecutor()).Run(context.Background(), "hi", tenantContext())
	require.NoError(t, err)
	assert.Equal(t, "Partial answer", res.FinalMessage)

	client.OnComplete(func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
		return llm.CompletionResponse{StopReason: llm.StopEndTurn}, nil
	})
	res, err = toolloop.New(client, newFakeExecutor()).Run(context.Background(), "hi", tenantContext())
	require.NoError(t, err)
	assert.Equal(t, toolloop.FallbackMessage, res.FinalMessage)
}

func TestInferenceErrorPropagates(t *testing.T) {
	client := mocks.NewMockLLMClient()
	calls := 0
	client.OnComplete(func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
		calls++
		if calls == 1 {
			return mocks.ToolUse(tools.ToolGetRentStatus, nil), nil
		}
		return llm.CompletionResponse{}, llmerrors.NewError(llmerrors.ErrorTypeServiceUnavailable, "provider down")
	})
	exec := newFakeExecutor()

	res, err := toolloop.New(client, exec).Run(context.Background(), "rent?", tenantContext())
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeServiceUnavailable))
	assert.Equal(t, []string{tools.ToolGetRentStatus}, exec.calls)
}

func TestCancelledTurn(t *testing.T) {
	client := mocks.NewMockLLMClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := toolloop.New(client, newFakeExecutor()).Run(ctx, "hi", tenantContext())
	require.ErrorIs(t, err, toolloop.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, client.CallCount())
}

func TestHistorySeeding(t *testing.T) {
	conv := func(direction, body string) *persistence.Conversation {
		return &persistence.Conversation{Direction: direction, MessageBody: body}
	}

	t.Run("alternates and starts with the tenant", func(t *testing.T) {
		tc := tenantContext()
		tc.RecentConversations = []*persistence.Conversation{
			conv(persistence.DirectionOutbound, "Welcome to your new home"),
			conv(persistence.DirectionInbound, "Hi"),
			conv(persistence.DirectionInbound, "Are you there?"),
			conv(persistence.DirectionOutbound, "Yes, how can I help?"),
		}
		client := mocks.NewMockLLMClient()
		_, err := toolloop.New(client, newFakeExecutor()).Run(context.Background(), "My boiler is broken", tc)
		require.NoError(t, err)

		req := client.LastRequest()
		require.NoError(t, req.Validate())
		require.Len(t, req.Messages, 3)
		assert.Equal(t, "Hi\n\nAre you there?", req.Messages[0].Content)
		assert.Equal(t, llm.RoleAssistant, req.Messages[1].Role)
		assert.Equal(t, "My boiler is broken", req.Messages[2].Content)
	})

	t.Run("token budget drops the oldest history", func(t *testing.T) {
		tc := tenantContext()
		tc.RecentConversations = []*persistence.Conversation{
			conv(persistence.DirectionInbound, strings.Repeat("very old message ", 200)),
			conv(persistence.DirectionOutbound, "Noted."),
			conv(persistence.DirectionInbound, "Recent question"),
			conv(persistence.DirectionOutbound, "Recent answer"),
		}
		client := mocks.NewMockLLMClient()
		loop := toolloop.New(client, newFakeExecutor(), toolloop.WithConfig(toolloop.Config{HistoryTokenBudget: 50}))
		_, err := loop.Run(context.Background(), "Follow up", tc)
		require.NoError(t, err)

		req := client.LastRequest()
		require.NoError(t, req.Validate())
		for _, m := range req.Messages {
			assert.NotContains(t, m.Content, "very old message")
		}
		assert.Equal(t, "Recent question", req.Messages[0].Content)
		assert.Equal(t, "Follow up", req.Messages[len(req.Messages)-1].Content)
	})
}

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		message string
		tools   []string
		want    string
	}{
		{"anything", []string{tools.ToolGetRentStatus, tools.ToolIssueLegalNotice}, toolloop.IntentLegalResponse},
		{"anything", []string{tools.ToolUpdateEscalationLevel, tools.ToolScheduleMaintenance}, toolloop.IntentMaintenance},
		{"anything", []string{tools.ToolUpdateEscalationLevel, tools.ToolGetRentStatus}, toolloop.IntentFinance},
		{"anything", []string{tools.ToolUpdateEscalationLevel}, toolloop.IntentEscalation},
		{"Can I PAY late?", nil, toolloop.IntentFinance},
		{"The heating is off", nil, toolloop.IntentMaintenance},
		{"I want to renew", nil, toolloop.IntentLeaseQuery},
		{"Are you going to evict me?", nil, toolloop.IntentLegalResponse},
		{"Thanks!", nil, toolloop.IntentGeneral},
		{"the shower leaks, can I pay less rent", nil, toolloop.IntentFinance},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, toolloop.ClassifyIntent(tc.message, tc.tools), tc.message)
	}
}

func TestRunWithStoreBackedTools(t *testing.T) {
	store := testkit.NewStore(t)
	ten := testkit.NewTenancy().
		WithContractor("Beta Plumbing", []string{"plumbing"}, true).
		Seed(t, store)
	tc, err := tenancy.NewLoader(store).LoadByLease(context.Background(), ten.Lease.ID)
	require.NoError(t, err)

	client := mocks.NewMockLLMClient()
	client.RespondWithSequence([]llm.CompletionResponse{
		mocks.ToolUse(tools.ToolScheduleMaintenance, map[string]any{
			"category": "plumbing", "description": "Burst pipe under the sink", "urgency": "emergency",
		}),
		mocks.EndTurn("A plumber is on the way."),
	})
	exec := tools.NewExecutor(store, tools.WithPublisher(mocks.NewMockPublisher()))

	res, err := toolloop.New(client, exec).Run(context.Background(), "Water everywhere!", tc)
	require.NoError(t, err)
	assert.Equal(t, "A plumber is on the way.", res.FinalMessage)
	assert.Equal(t, toolloop.IntentMaintenance, res.IntentClassification)
	require.Len(t, res.HighSeverityActions, 1)
	assert.Contains(t, res.HighSeverityActions[0], "EMERGENCY MAINTENANCE")

	results := client.LastRequest().Messages[2].ToolResults
	require.Len(t, results, 1)
	assert.False(t, results[0].IsError)
	assert.Contains(t, results[0].Content, `"status":"assigned"`)

	notes, err := store.ListLandlordNotifications(context.Background(), ten.Landlord.ID)
	require.NoError(t, err)
	testkit.AssertNotification(t, notes, tools.NotificationEmergencyMaintenance)
}

func TestEmptyEndTurnAfterToolsUsesFallback(t *testing.T) {
	srv := testkit.MockAnthropicServer(
		testkit.Turn{Tools: []testkit.ToolUse{{ID: "tu_1", Name: tools.ToolGetRentStatus, Input: map[string]any{}}}},
		testkit.Turn{},
	)
	t.Cleanup(srv.Close)
	t.Setenv(config.SecretAnthropicAPIKey, "sk-ant-test")

	cfg := config.Default().LLM
	cfg.BaseURL = srv.URL
	cfg.RateLimitRPS = 0
	cfg.RetryInitialDelay = time.Millisecond
	client, err := agent.NewLLMClient(cfg, agent.Options{Timeout: 5 * time.Second})
	require.NoError(t, err)

	exec := newFakeExecutor()
	res, err := toolloop.New(client, exec).Run(context.Background(), "How much do I owe?", tenantContext())
	require.NoError(t, err)
	assert.Equal(t, toolloop.FallbackMessage, res.FinalMessage)
	assert.Equal(t, []string{tools.ToolGetRentStatus}, res.ToolsUsed)
	assert.Equal(t, []string{tools.ToolGetRentStatus}, exec.calls)
	assert.Len(t, srv.Requests(), 2, "an empty end_turn is not retried")
}

func TestRetriesShareTheTurnAttemptBudget(t *testing.T) {
	raw := mocks.NewMockLLMClient()
	calls := 0
	raw.OnComplete(func(context.Context, llm.CompletionRequest) (llm.CompletionResponse, error) {
		calls++
		// The third call answers with a tool request; every other call is a 503.
		if calls == 3 {
			return mocks.ToolUse(tools.ToolGetRentStatus, nil), nil
		}
		return llm.CompletionResponse{}, llmerrors.NewErrorWithStatus(llmerrors.ErrorTypeTransient, 503, "overloaded")
	})
	policy := llmretry.NewPolicy(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, BackoffFactor: 1})
	client := llm.Chain(raw, llmretry.Middleware(policy))
	exec := newFakeExecutor()

	loop := toolloop.New(client, exec, toolloop.WithConfig(toolloop.Config{MaxProviderAttempts: 5}))
	_, err := loop.Run(context.Background(), "rent?", tenantContext())
	require.Error(t, err)
	assert.ErrorIs(t, err, llm.ErrAttemptBudgetExhausted)
	assert.True(t, llmerrors.Is(err, llmerrors.ErrorTypeServiceUnavailable))
	assert.Equal(t, 5, calls, "three calls for the first iteration, two before the budget ran out")
	assert.Equal(t, []string{tools.ToolGetRentStatus}, exec.calls)

	calls = 0
	loop = toolloop.New(client, newFakeExecutor(), toolloop.WithConfig(toolloop.Config{}))
	_, err = loop.Run(context.Background(), "rent?", tenantContext())
	require.Error(t, err)
	assert.NotErrorIs(t, err, llm.ErrAttemptBudgetExhausted)
	assert.Equal(t, 6, calls, "without a budget each iteration gets its own retry attempts")
}
