package testkit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantops/pkg/agent"
	"tenantops/pkg/agent/llm"
	"tenantops/pkg/config"
	"tenantops/pkg/persistence"
)

func TestSeedTenancy(t *testing.T) {
	store := NewStore(t)
	ctx := context.Background()

	ten := NewTenancy().
		InJurisdiction("scotland").
		WithPayment("2024-02-01", 1200, Float(1000)).
		WithPayment("2024-03-01", 1200, nil).
		WithContractor("Rapid Plumbing", []string{"plumbing"}, true).
		WithEscalation(2, "arrears").
		Seed(t, store)

	tenant, err := store.GetTenantByWhatsApp(ctx, "+447700900001")
	require.NoError(t, err)
	assert.Equal(t, ten.Tenant.ID, tenant.ID)

	unit, err := store.GetUnit(ctx, ten.Unit.ID)
	require.NoError(t, err)
	assert.Equal(t, "scotland", unit.Jurisdiction)

	payments, err := store.ListRecentPayments(ctx, ten.Lease.ID, 6)
	require.NoError(t, err)
	assert.Len(t, payments, 2)

	cc, err := store.GetConversationContext(ctx, ten.Lease.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, cc.OpenThreads.Level(1))

	contractors, err := store.ListContractorsForTrade(ctx, ten.Landlord.ID, "plumbing")
	require.NoError(t, err)
	assert.Len(t, contractors, 1)
}

func TestAssertions(t *testing.T) {
	now := time.Now()
	wf := &persistence.MaintenanceWorkflow{
		CurrentState: "OWNER_NOTIFIED",
		StateHistory: []persistence.StateEntry{
			{To: "SUBMITTED", At: now},
			{From: "SUBMITTED", To: "OWNER_NOTIFIED", At: now.Add(time.Millisecond)},
		},
	}
	AssertStatePath(t, wf, "SUBMITTED", "OWNER_NOTIFIED")
	AssertHistoryChained(t, wf)
	AssertNoVendorStates(t, wf)

	comms := []*persistence.WorkflowCommunication{{SenderType: persistence.SenderSystem, Message: "Owner has been notified"}}
	AssertCommunication(t, comms, persistence.SenderSystem, "notified")
	AssertNoCommunication(t, comms, "Auto-approved")
}

func TestMockAnthropicServerThroughFactory(t *testing.T) {
	srv := MockAnthropicServer(
		Turn{Tools: []ToolUse{{ID: "toolu_1", Name: "get_rent_status", Input: map[string]any{}}}},
		Turn{Text: "You owe £200."},
	)
	defer srv.Close()

	t.Setenv(config.SecretAnthropicAPIKey, "sk-ant-test")
	cfg := config.Default().LLM
	cfg.BaseURL = srv.URL
	cfg.RateLimitRPS = 0
	client, err := agent.NewLLMClient(cfg, agent.Options{})
	require.NoError(t, err)

	req := llm.CompletionRequest{Messages: []llm.CompletionMessage{llm.NewUserMessage("How much do I owe?")}, MaxTokens: 100}
	resp, err := client.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, llm.StopToolUse, resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "get_rent_status", resp.ToolCalls[0].Name)

	resp, err = client.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "You owe £200.", resp.Content)
	assert.Len(t, srv.Requests(), 2)
}

func TestMockOpenAIServerThroughFactory(t *testing.T) {
	srv := MockOpenAIServer(Turn{Tools: []ToolUse{{ID: "call_1", Name: "update_escalation_level", Input: map[string]any{"new_level": 2}}}})
	defer srv.Close()

	t.Setenv(config.SecretOpenAIAPIKey, "sk-test")
	cfg := config.Default().LLM
	cfg.Provider = config.ProviderOpenAI
	cfg.Model = config.ModelGPT4o
	cfg.BaseURL = srv.URL
	cfg.RateLimitRPS = 0
	client, err := agent.NewLLMClient(cfg, agent.Options{})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages:  []llm.CompletionMessage{llm.NewUserMessage("escalate")},
		MaxTokens: 100,
	})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "update_escalation_level", resp.ToolCalls[0].Name)
	assert.InDelta(t, 2, resp.ToolCalls[0].Parameters["new_level"], 0)
}

// toolRoundTrip drives one tool call and its result through client, the way the tool loop does.
func toolRoundTrip(t *testing.T, client agent.LLMClient) llm.CompletionResponse {
	t.Helper()
	ctx := context.Background()
	tools := []llm.ToolDefinition{{
		Name:        "get_rent_status",
		Description: "Rent balance for the lease",
		InputSchema: llm.InputSchema{Type: "object", Properties: map[string]llm.Property{"lease_id": {Type: "string"}}},
	}}
	messages := []llm.CompletionMessage{llm.NewUserMessage("How much do I owe?")}

	first, err := client.Complete(ctx, llm.CompletionRequest{Messages: messages, Tools: tools, MaxTokens: 100})
	require.NoError(t, err)
	require.Len(t, first.ToolCalls, 1)
	assert.Equal(t, llm.StopToolUse, first.StopReason)
	assert.Equal(t, "get_rent_status", first.ToolCalls[0].Name)
	assert.Equal(t, "L1", first.ToolCalls[0].Parameters["lease_id"])

	messages = append(messages,
		llm.NewAssistantMessage(first.Content, first.ToolCalls),
		llm.NewToolResultsMessage([]llm.ToolResult{{ToolCallID: first.ToolCalls[0].ID, Content: `{"balance":200}`}}),
	)
	final, err := client.Complete(ctx, llm.CompletionRequest{Messages: messages, Tools: tools, MaxTokens: 100})
	require.NoError(t, err)
	return final
}

func TestMockOllamaServerThroughFactory(t *testing.T) {
	srv := MockOllamaServer(
		Turn{Tools: []ToolUse{{ID: "call_1", Name: "get_rent_status", Input: map[string]any{"lease_id": "L1"}}}},
		Turn{Text: "You owe £200."},
	)
	defer srv.Close()

	cfg := config.Default().LLM
	cfg.Provider = config.ProviderOllama
	cfg.Model = config.ModelLlama
	cfg.BaseURL = srv.URL
	cfg.RateLimitRPS = 0
	client, err := agent.NewLLMClient(cfg, agent.Options{})
	require.NoError(t, err)
	assert.Equal(t, config.ModelLlama, client.GetModelName())

	final := toolRoundTrip(t, client)
	assert.Equal(t, "You owe £200.", final.Content)
	assert.Equal(t, llm.StopEndTurn, final.StopReason)
	assert.Equal(t, 100, final.Usage.InputTokens)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, config.ModelLlama, reqs[0]["model"])
	assert.Equal(t, false, reqs[0]["stream"])
	assert.Len(t, reqs[0]["tools"], 1)
	msgs, _ := reqs[1]["messages"].([]any)
	require.Len(t, msgs, 3)
	toolMsg, _ := msgs[2].(map[string]any)
	assert.Equal(t, "tool", toolMsg["role"])
	assert.Equal(t, `{"balance":200}`, toolMsg["content"])
}

func TestMockGeminiServerThroughFactory(t *testing.T) {
	srv := MockGeminiServer(
		Turn{Tools: []ToolUse{{ID: "fc_1", Name: "get_rent_status", Input: map[string]any{"lease_id": "L1"}}}},
		Turn{Text: "You owe £200."},
	)
	defer srv.Close()

	t.Setenv(config.SecretGoogleAPIKey, "test-google-key")
	cfg := config.Default().LLM
	cfg.Provider = config.ProviderGoogle
	cfg.Model = config.ModelGemini
	cfg.BaseURL = srv.URL
	cfg.RateLimitRPS = 0
	client, err := agent.NewLLMClient(cfg, agent.Options{})
	require.NoError(t, err)
	assert.Equal(t, config.ModelGemini, client.GetModelName())

	final := toolRoundTrip(t, client)
	assert.Equal(t, "You owe £200.", final.Content)
	assert.Equal(t, llm.StopEndTurn, final.StopReason)
	assert.Equal(t, 20, final.Usage.OutputTokens)

	reqs := srv.Requests()
	require.Len(t, reqs, 2)
	contents, _ := reqs[1]["contents"].([]any)
	require.Len(t, contents, 3)
	last, _ := contents[2].(map[string]any)
	parts, _ := last["parts"].([]any)
	require.Len(t, parts, 1)
	part, _ := parts[0].(map[string]any)
	response, _ := part["functionResponse"].(map[string]any)
	require.NotNil(t, response)
	assert.Equal(t, "get_rent_status", response["name"])
}
