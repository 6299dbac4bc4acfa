package toolloop

import (
	"slices"
	"strings"

	"tenantops/pkg/tools"
)

// Intent labels stored on outbound conversations.
const (
	IntentLegalResponse = "legal_response"
	IntentMaintenance   = "maintenance"
	IntentFinance       = "finance"
	IntentEscalation    = "escalation"
	IntentLeaseQuery    = "lease_query"
	IntentGeneral       = "general"
)

// Confidence heuristics. These are placeholders, not calibrated probabilities.
const (
	ConfidenceWithTools    = 0.95
	ConfidenceWithoutTools = 0.8
)

//nolint:gochecknoglobals // fixed priority tables
var (
	toolIntents = []struct {
		tool, intent string
	}{
		{tools.ToolIssueLegalNotice, IntentLegalResponse},
		{tools.ToolScheduleMaintenance, IntentMaintenance},
		{tools.ToolGetRentStatus, IntentFinance},
		{tools.ToolUpdateEscalationLevel, IntentEscalation},
	}
	keywordIntents = []struct {
		words  []string
		intent string
	}{
		{[]string{"rent", "pay", "arrear"}, IntentFinance},
		{[]string{"fix", "broken", "repair", "leak", "heat"}, IntentMaintenance},
		{[]string{"lease", "contract", "renew"}, IntentLeaseQuery},
		{[]string{"notice", "evict", "legal"}, IntentLegalResponse},
	}
)

// ClassifyIntent labels a turn. Tools used take priority over keywords in the message.
func ClassifyIntent(message string, toolsUsed []string) string {
	for _, ti := range toolIntents {
		if slices.Contains(toolsUsed, ti.tool) {
			return ti.intent
		}
	}
	lower := strings.ToLower(message)
	for _, ki := range keywordIntents {
		for _, w := range ki.words {
			if strings.Contains(lower, w) {
				return ki.intent
			}
		}
	}
	return IntentGeneral
}

// Confidence is the coarse score stored with the turn.
func Confidence(toolsUsed []string) float64 {
	if len(toolsUsed) > 0 {
		return ConfidenceWithTools
	}
	return ConfidenceWithoutTools
}
