// Package policy evaluates landlord auto-approval rules against a maintenance analysis.
package policy

import (
	"fmt"

	"tenantops/pkg/analysis"
)

// AutoApproval is a landlord's configuration for skipping owner review.
type AutoApproval struct {
	Enabled          bool               `json:"enabled" yaml:"enabled"`
	MinConfidence    float64            `json:"min_confidence" yaml:"min_confidence"`
	MaxCostRange     analysis.CostRange `json:"max_cost_range" yaml:"max_cost_range"`
	ExcludeEmergency bool               `json:"exclude_emergency" yaml:"exclude_emergency"`
}

// Disabled is the policy used when a landlord has configured nothing.
func Disabled() AutoApproval {
	return AutoApproval{MaxCostRange: analysis.CostLow, MinConfidence: 1, ExcludeEmergency: true}
}

// Validate rejects thresholds outside their domains.
func (p AutoApproval) Validate() error {
	if p.MinConfidence < 0 || p.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %v", p.MinConfidence)
	}
	if !p.MaxCostRange.Valid() {
		return fmt.Errorf("invalid max_cost_range %q", p.MaxCostRange)
	}
	return nil
}

// AutoApprove reports whether a submission may skip owner review.
func AutoApprove(p AutoApproval, a analysis.AIAnalysis) bool {
	return p.Enabled &&
		a.ConfidenceScore >= p.MinConfidence &&
		a.EstimatedCostRange.Ordinal() <= p.MaxCostRange.Ordinal() &&
		!(p.ExcludeEmergency && a.Urgency == analysis.UrgencyEmergency)
}

// Reason renders the audit message attached to an auto-approved workflow.
func Reason(p AutoApproval, a analysis.AIAnalysis) string {
	return fmt.Sprintf("Auto-approved by landlord policy: confidence %.2f >= %.2f, cost %s within %s, urgency %s.",
		a.ConfidenceScore, p.MinConfidence, a.EstimatedCostRange, p.MaxCostRange, a.Urgency)
}
