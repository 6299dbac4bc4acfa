package policy

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"

	"tenantops/pkg/analysis"
)

//nolint:gochecknoglobals // test vocabularies
var (
	costs     = []analysis.CostRange{analysis.CostLow, analysis.CostMedium, analysis.CostHigh}
	urgencies = []analysis.Urgency{analysis.UrgencyLow, analysis.UrgencyMedium, analysis.UrgencyHigh, analysis.UrgencyEmergency}
)

func TestAutoApproveTruthTable(t *testing.T) {
	const threshold = 0.8
	for _, enabled := range []bool{false, true} {
		for _, confident := range []bool{false, true} {
			for _, maxCost := range costs {
				for _, cost := range costs {
					for _, urgency := range urgencies {
						for _, exclude := range []bool{false, true} {
							p := AutoApproval{Enabled: enabled, MinConfidence: threshold, MaxCostRange: maxCost, ExcludeEmergency: exclude}
							conf := 0.79
							if confident {
								conf = 0.8
							}
							a := analysis.AIAnalysis{ConfidenceScore: conf, EstimatedCostRange: cost, Urgency: urgency}

							want := enabled && confident && cost.Ordinal() <= maxCost.Ordinal() &&
								!(exclude && urgency == analysis.UrgencyEmergency)
							assert.Equal(t, want, AutoApprove(p, a), "policy=%+v analysis=%+v", p, a)
						}
					}
				}
			}
		}
	}
}

func TestScenarios(t *testing.T) {
	t.Run("disabled never approves", func(t *testing.T) {
		a := analysis.AIAnalysis{ConfidenceScore: 1, EstimatedCostRange: analysis.CostLow, Urgency: analysis.UrgencyLow}
		assert.False(t, AutoApprove(AutoApproval{}, a))
		assert.False(t, AutoApprove(Disabled(), a))
	})

	t.Run("high urgency low cost approves", func(t *testing.T) {
		p := AutoApproval{Enabled: true, MinConfidence: 0.8, MaxCostRange: analysis.CostLow, ExcludeEmergency: true}
		a := analysis.AIAnalysis{ConfidenceScore: 0.92, EstimatedCostRange: analysis.CostLow, Urgency: analysis.UrgencyHigh, VendorRequired: true}
		assert.True(t, AutoApprove(p, a))
		assert.Contains(t, Reason(p, a), "Auto-approved")
	})

	t.Run("unknown cost never passes", func(t *testing.T) {
		p := AutoApproval{Enabled: true, MaxCostRange: analysis.CostHigh}
		assert.False(t, AutoApprove(p, analysis.AIAnalysis{ConfidenceScore: 1, EstimatedCostRange: "huge"}))
	})
}

func TestEmergencyExclusionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("excludeEmergency blocks emergencies for any thresholds", prop.ForAll(
		func(minConf, conf float64, maxCost, cost int) bool {
			p := AutoApproval{Enabled: true, MinConfidence: minConf, MaxCostRange: costs[maxCost], ExcludeEmergency: true}
			a := analysis.AIAnalysis{ConfidenceScore: conf, EstimatedCostRange: costs[cost], Urgency: analysis.UrgencyEmergency}
			return !AutoApprove(p, a)
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 2),
		gen.IntRange(0, 2),
	))

	properties.Property("approval is monotone in confidence", prop.ForAll(
		func(minConf, conf, bump float64, cost int) bool {
			p := AutoApproval{Enabled: true, MinConfidence: minConf, MaxCostRange: analysis.CostHigh}
			a := analysis.AIAnalysis{ConfidenceScore: conf, EstimatedCostRange: costs[cost], Urgency: analysis.UrgencyHigh}
			if !AutoApprove(p, a) {
				return true
			}
			a.ConfidenceScore += bump
			return AutoApprove(p, a)
		},
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.Float64Range(0, 1),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Disabled().Validate())
	assert.Error(t, AutoApproval{MinConfidence: 1.5, MaxCostRange: analysis.CostLow}.Validate())
	assert.Error(t, AutoApproval{MinConfidence: 0.5, MaxCostRange: "any"}.Validate())
}
