package metrics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// Count is one labelled value from an aggregation query.
type Count struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Summary aggregates tenantops activity over a window.
type Summary struct {
	Window           time.Duration      `json:"window"`
	PromptTokens     map[string]float64 `json:"prompt_tokens_by_model"`
	CompletionTokens map[string]float64 `json:"completion_tokens_by_model"`
	Transitions      []Count            `json:"transitions_by_state"`
	ToolFailures     []Count            `json:"tool_failures"`
	AgentRuns        []Count            `json:"agent_runs_by_outcome"`
}

// QueryService provides methods to query metrics from Prometheus.
type QueryService struct {
	queryAPI v1.API
	now      func() time.Time
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}
	return &QueryService{queryAPI: v1.NewAPI(client), now: time.Now}, nil
}

// Summarize reads token usage, workflow transitions, tool failures and agent outcomes
// for the trailing window.
func (q *QueryService) Summarize(ctx context.Context, window time.Duration) (*Summary, error) {
	rng := model.Duration(window).String()
	s := &Summary{Window: window}

	var err error
	if s.PromptTokens, err = q.byLabel(ctx, fmt.Sprintf(`sum by (model) (increase(llm_tokens_total{type="prompt"}[%s]))`, rng), "model"); err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	if s.CompletionTokens, err = q.byLabel(ctx, fmt.Sprintf(`sum by (model) (increase(llm_tokens_total{type="completion"}[%s]))`, rng), "model"); err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}

	transitions, err := q.byLabel(ctx, fmt.Sprintf(`sum by (to_state) (increase(tenantops_workflow_transitions_total[%s]))`, rng), "to_state")
	if err != nil {
		return nil, fmt.Errorf("failed to query transitions: %w", err)
	}
	s.Transitions = sorted(transitions)

	failures, err := q.byLabel(ctx, fmt.Sprintf(`sum by (tool) (increase(tenantops_tool_calls_total{status="error"}[%s]))`, rng), "tool")
	if err != nil {
		return nil, fmt.Errorf("failed to query tool failures: %w", err)
	}
	s.ToolFailures = sorted(failures)

	runs, err := q.byLabel(ctx, fmt.Sprintf(`sum by (outcome) (increase(tenantops_agent_runs_total[%s]))`, rng), "outcome")
	if err != nil {
		return nil, fmt.Errorf("failed to query agent runs: %w", err)
	}
	s.AgentRuns = sorted(runs)

	return s, nil
}

func (q *QueryService) byLabel(ctx context.Context, query string, label model.LabelName) (map[string]float64, error) {
	result, _, err := q.queryAPI.Query(ctx, query, q.now())
	if err != nil {
		return nil, err //nolint:wrapcheck // wrapped by caller with the query purpose
	}
	out := make(map[string]float64)
	if vector, ok := result.(model.Vector); ok {
		for _, sample := range vector {
			out[string(sample.Metric[label])] += float64(sample.Value)
		}
	}
	return out, nil
}

// sorted orders counts by descending value, then label.
func sorted(m map[string]float64) []Count {
	out := make([]Count, 0, len(m))
	for k, v := range m {
		out = append(out, Count{Label: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].Label < out[j].Label
	})
	return out
}
