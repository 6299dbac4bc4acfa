package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tenantops/pkg/agent/llm"
)

type scriptedClient struct {
	replies []string
	errs    []error
	calls   int
}

func (s *scriptedClient) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return llm.CompletionResponse{}, s.errs[i]
	}
	if i < len(s.replies) {
		return llm.CompletionResponse{Content: s.replies[i], StopReason: llm.StopEndTurn}, nil
	}
	return llm.CompletionResponse{}, errors.New("no scripted reply")
}

func (s *scriptedClient) GetModelName() string { return "scripted" }

func TestNormalize(t *testing.T) {
	t.Run("repairs invalid values", func(t *testing.T) {
		got := Normalize(map[string]any{
			"category":             "spaceship",
			"urgency":              "whenever",
			"estimated_cost_range": "astronomical",
			"confidence_score":     1.7,
		})
		assert.Equal(t, CategoryOther, got.Category)
		assert.Equal(t, UrgencyMedium, got.Urgency)
		assert.Equal(t, CostMedium, got.EstimatedCostRange)
		assert.True(t, got.VendorRequired)
		assert.InDelta(t, 1.0, got.ConfidenceScore, 1e-9)
	})

	t.Run("keeps valid values", func(t *testing.T) {
		got := Normalize(map[string]any{
			"category":             "plumbing",
			"urgency":              "high",
			"estimated_cost_range": "low",
			"vendor_required":      false,
			"reasoning":            "tighten the trap",
			"confidence_score":     0.92,
		})
		assert.Equal(t, AIAnalysis{
			Category:           CategoryPlumbing,
			Urgency:            UrgencyHigh,
			EstimatedCostRange: CostLow,
			VendorRequired:     false,
			Reasoning:          "tighten the trap",
			ConfidenceScore:    0.92,
		}, got)
	})

	t.Run("negative confidence clamps to zero", func(t *testing.T) {
		assert.Zero(t, Normalize(map[string]any{"confidence_score": -0.5}).ConfidenceScore)
	})
}

func TestDecode(t *testing.T) {
	full := `{"category":"electrical","urgency":"high","estimated_cost_range":"medium","vendor_required":true,"reasoning":"sparking socket","confidence_score":0.9}`

	got, err := Decode("```json\n" + full + "\n```")
	require.NoError(t, err)
	assert.Equal(t, CategoryElectrical, got.Category)

	_, err = Decode(`{"category":"electrical"}`)
	require.Error(t, err)

	_, err = Decode("not json")
	require.Error(t, err)
}

func TestFallback(t *testing.T) {
	tests := []struct {
		description string
		category    Category
		urgency     Urgency
		cost        CostRange
	}{
		{"water leak under sink", CategoryPlumbing, UrgencyMedium, CostMedium},
		{"major leak in bathroom", CategoryPlumbing, UrgencyHigh, CostMedium},
		{"kitchen flooding from pipe", CategoryPlumbing, UrgencyEmergency, CostHigh},
		{"power outlet not working", CategoryElectrical, UrgencyHigh, CostMedium},
		{"no heat in the flat", CategoryHVAC, UrgencyHigh, CostMedium},
		{"fridge is warm", CategoryAppliance, UrgencyMedium, CostMedium},
		{"smell of gas in hallway", CategoryOther, UrgencyEmergency, CostHigh},
		{"door squeaks", CategoryOther, UrgencyMedium, CostMedium},
	}
	for _, tt := range tests {
		t.Run(tt.description, func(t *testing.T) {
			got := Fallback(tt.description)
			assert.Equal(t, tt.category, got.Category)
			assert.Equal(t, tt.urgency, got.Urgency)
			assert.Equal(t, tt.cost, got.EstimatedCostRange)
			assert.True(t, got.VendorRequired)
			assert.InDelta(t, 0.6, got.ConfidenceScore, 1e-9)
		})
	}
}

func TestCostRangeOrdinal(t *testing.T) {
	assert.Less(t, CostLow.Ordinal(), CostMedium.Ordinal())
	assert.Less(t, CostMedium.Ordinal(), CostHigh.Ordinal())
	assert.False(t, CostRange("huge").Valid())

	c, err := ParseCostRange(" High ")
	require.NoError(t, err)
	assert.Equal(t, CostHigh, c)
	_, err = ParseCostRange("cheap")
	require.Error(t, err)
}

func TestAnalyzer(t *testing.T) {
	ctx := context.Background()

	t.Run("retries once with stricter prompt", func(t *testing.T) {
		client := &scriptedClient{replies: []string{
			"I think it is plumbing",
			`{"category":"plumbing","urgency":"high","estimated_cost_range":"low","vendor_required":true,"reasoning":"leak","confidence_score":0.92}`,
		}}
		got, err := NewAnalyzer(client).Analyze(ctx, "water leak under sink", "1 High St", "Ana")
		require.NoError(t, err)
		assert.Equal(t, 2, client.calls)
		assert.Equal(t, CostLow, got.EstimatedCostRange)
		assert.InDelta(t, 0.92, got.ConfidenceScore, 1e-9)
	})

	t.Run("falls back after inference failures", func(t *testing.T) {
		client := &scriptedClient{errs: []error{errors.New("down"), errors.New("still down")}}
		got, err := NewAnalyzer(client).Analyze(ctx, "water leak under sink", "", "")
		require.NoError(t, err)
		assert.Equal(t, Fallback("water leak under sink"), got)
	})

	t.Run("cancelled context is an error", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := NewAnalyzer(&scriptedClient{}).Analyze(cctx, "leak", "", "")
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestVendorMessenger(t *testing.T) {
	brief := VendorBrief{VendorName: "Bob", Description: "leaking tap", Urgency: UrgencyHigh, UnitAddress: "Flat 2, 1 High St"}

	msg := NewVendorMessenger(&scriptedClient{errs: []error{errors.New("down")}}).Compose(context.Background(), brief)
	assert.Equal(t, FallbackVendorMessage(brief), msg)
	assert.Contains(t, msg, "Hi Bob,")
	assert.Contains(t, msg, "We have a high leaking tap at Flat 2, 1 High St")

	msg = NewVendorMessenger(&scriptedClient{replies: []string{"  Hello Bob, please call.  "}}).Compose(context.Background(), brief)
	assert.Equal(t, "Hello Bob, please call.", msg)
}
