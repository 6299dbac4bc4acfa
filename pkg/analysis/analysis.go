// Package analysis classifies maintenance descriptions into a typed AIAnalysis.
package analysis

import (
	"encoding/json"
	"fmt"
	"strings"

	"tenantops/pkg/utils"
)

// Category of a maintenance issue.
type Category string

const (
	CategoryPlumbing   Category = "plumbing"
	CategoryElectrical Category = "electrical"
	CategoryHVAC       Category = "hvac"
	CategoryAppliance  Category = "appliance"
	CategoryStructural Category = "structural"
	CategoryPest       Category = "pest"
	CategoryCosmetic   Category = "cosmetic"
	CategoryOther      Category = "other"
)

// Urgency of a maintenance issue.
type Urgency string

const (
	UrgencyLow       Urgency = "low"
	UrgencyMedium    Urgency = "medium"
	UrgencyHigh      Urgency = "high"
	UrgencyEmergency Urgency = "emergency"
)

// CostRange is an ordinal estimate: low < $200, medium $200-$800, high > $800.
type CostRange string

const (
	CostLow    CostRange = "low"
	CostMedium CostRange = "medium"
	CostHigh   CostRange = "high"
)

// Ordinal orders cost ranges. Unknown values rank above high so they never pass a threshold.
func (c CostRange) Ordinal() int {
	switch c {
	case CostLow:
		return 0
	case CostMedium:
		return 1
	case CostHigh:
		return 2
	default:
		return 3
	}
}

// Valid reports whether c is one of the defined ranges.
func (c CostRange) Valid() bool {
	return c.Ordinal() < 3
}

// ParseCostRange validates a user-supplied cost range.
func ParseCostRange(s string) (CostRange, error) {
	c := CostRange(strings.ToLower(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("invalid cost range %q (want low, medium or high)", s)
	}
	return c, nil
}

//nolint:gochecknoglobals // closed vocabularies
var (
	validCategories = map[Category]bool{
		CategoryPlumbing: true, CategoryElectrical: true, CategoryHVAC: true, CategoryAppliance: true,
		CategoryStructural: true, CategoryPest: true, CategoryCosmetic: true, CategoryOther: true,
	}
	validUrgencies = map[Urgency]bool{
		UrgencyLow: true, UrgencyMedium: true, UrgencyHigh: true, UrgencyEmergency: true,
	}
)

// AIAnalysis is the classification attached to a maintenance workflow at submission.
// It is immutable once attached.
type AIAnalysis struct {
	Category           Category  `json:"category"`
	Urgency            Urgency   `json:"urgency"`
	EstimatedCostRange CostRange `json:"estimated_cost_range"`
	VendorRequired     bool      `json:"vendor_required"`
	Reasoning          string    `json:"reasoning"`
	ConfidenceScore    float64   `json:"confidence_score"`
}

const defaultConfidence = 0.85

// requiredFields must be present for a model reply to be accepted without a retry.
//
//nolint:gochecknoglobals // fixed field list
var requiredFields = []string{"category", "urgency", "estimated_cost_range", "vendor_required", "reasoning", "confidence_score"}

// Decode parses a model reply. It fails when the payload is not a JSON object or lacks a
// required field; value-level problems are repaired by Normalize instead.
func Decode(text string) (AIAnalysis, error) {
	text = stripCodeFence(text)
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return AIAnalysis{}, fmt.Errorf("failed to parse analysis JSON: %w", err)
	}
	for _, field := range requiredFields {
		if _, ok := raw[field]; !ok {
			return AIAnalysis{}, fmt.Errorf("analysis is missing field %q", field)
		}
	}
	return Normalize(raw), nil
}

// Normalize coerces a decoded payload into a valid AIAnalysis.
func Normalize(raw map[string]any) AIAnalysis {
	out := AIAnalysis{
		Category:           CategoryOther,
		Urgency:            UrgencyMedium,
		EstimatedCostRange: CostMedium,
		VendorRequired:     true,
		ConfidenceScore:    defaultConfidence,
	}

	if s, ok := utils.Field[string](raw, "category"); ok && validCategories[Category(s)] {
		out.Category = Category(s)
	}
	if s, ok := utils.Field[string](raw, "urgency"); ok && validUrgencies[Urgency(s)] {
		out.Urgency = Urgency(s)
	}
	if s, ok := utils.Field[string](raw, "estimated_cost_range"); ok && CostRange(s).Valid() {
		out.EstimatedCostRange = CostRange(s)
	}
	out.VendorRequired = utils.FieldOr(raw, "vendor_required", out.VendorRequired)
	out.Reasoning = utils.FieldOr(raw, "reasoning", "")
	if f, ok := utils.Field[float64](raw, "confidence_score"); ok {
		out.ConfidenceScore = clamp01(f)
	}
	return out
}

func clamp01(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	parts := strings.Split(text, "```")
	if len(parts) < 2 {
		return text
	}
	inner := strings.TrimSpace(parts[1])
	inner = strings.TrimPrefix(inner, "json")
	return strings.TrimSpace(inner)
}

// Fallback classifies by keyword when the inference service is unavailable.
func Fallback(description string) AIAnalysis {
	lower := strings.ToLower(description)
	out := AIAnalysis{
		Category:        CategoryOther,
		Urgency:         UrgencyMedium,
		VendorRequired:  true,
		Reasoning:       "Automated analysis based on keywords. Inference service unavailable.",
		ConfidenceScore: 0.6,
	}

	switch {
	case containsAny(lower, "leak", "water", "pipe", "drain", "toilet", "sink"):
		out.Category = CategoryPlumbing
		if containsAny(lower, "flood", "major") {
			out.Urgency = UrgencyHigh
		}
	case containsAny(lower, "electric", "power", "outlet", "light", "switch"):
		out.Category = CategoryElectrical
		out.Urgency = UrgencyHigh
	case containsAny(lower, "heat", "cooling", "ac", "furnace", "temperature"):
		out.Category = CategoryHVAC
		if containsAny(lower, "no heat", "no cooling", "freezing") {
			out.Urgency = UrgencyHigh
		}
	case containsAny(lower, "appliance", "fridge", "stove", "washer", "dryer"):
		out.Category = CategoryAppliance
	}

	if containsAny(lower, "emergency", "urgent", "flood", "fire", "gas", "dangerous") {
		out.Urgency = UrgencyEmergency
	}

	out.EstimatedCostRange = CostMedium
	if out.Urgency == UrgencyEmergency {
		out.EstimatedCostRange = CostHigh
	}
	return out
}

func containsAny(s string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
