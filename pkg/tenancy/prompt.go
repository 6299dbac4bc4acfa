package tenancy

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
	"time"
)

//go:embed prompts/*.tpl.md
var promptFS embed.FS

//nolint:gochecknoglobals // parsed once at init
var systemTemplate = template.Must(template.ParseFS(promptFS, "prompts/system.tpl.md"))

// EscalationDescriptions maps levels 1-4 to the tone the agent must adopt.
//
//nolint:gochecknoglobals // static lookup table
var EscalationDescriptions = map[int]string{
	1: "CONVERSATIONAL: Resolve informally and helpfully via WhatsApp. Keep tone friendly but professional.",
	2: "FORMAL WRITTEN: Issue official written notices. Tone is formal. Document all communications.",
	3: "LEGAL PROCESS: Statutory notices are being issued. Reference specific legislation. Track deadlines.",
	4: "PRE-TRIBUNAL: Case file is being compiled. All actions require landlord notification. Human signature may be required.",
}

// JurisdictionRules holds the statutory periods the agent may quote, per jurisdiction code.
//
//nolint:gochecknoglobals // static lookup table
var JurisdictionRules = map[string]string{
	"england_wales": `JURISDICTION: England & Wales
- Section 8 Notice: Requires 14 days minimum notice (rent arrears Ground 8, 10, 11)
- Section 21 Notice: Requires 2 months minimum notice, cannot be served in first 4 months of tenancy
- Deposit must be protected within 30 days of receipt
- Tenant right to repair: Landlord must respond to urgent repairs within 24 hours, routine within 28 days
- Rent increase notice: Minimum 1 month written notice required
- HMO licensing required for properties with 5+ unrelated occupants`,

	"scotland": `JURISDICTION: Scotland
- Notice to Leave: 28 days minimum (up to 84 days if tenant has lived there 6+ months)
- Private Residential Tenancy (PRT) is the standard tenancy with no fixed end date
- Deposit must be protected with an approved scheme within 30 working days
- Rent increase: 3 months minimum written notice, tenant can challenge via Rent Officer
- Eviction requires tribunal order from First-tier Tribunal for Scotland`,

	"northern_ireland": `JURISDICTION: Northern Ireland
- Notice to Quit: Minimum 4 weeks for tenancies under 10 years, 8 weeks for 10+ years
- Deposit protected within 28 days of receipt
- Landlord must register with Landlord Registration Scheme
- Rent increase: 8 weeks minimum written notice`,

	"wales": `JURISDICTION: Wales
- Renting Homes (Wales) Act 2016 applies
- Section 173 Notice (equivalent of S21): 6 months minimum notice
- Section 159 Notice (equivalent of S8): Grounds-based, minimum 1 month notice
- Deposit protected within 30 days
- Fitness for Human Habitation requirements apply`,
}

type promptData struct {
	TenantName            string
	WhatsApp              string
	Property              string
	MonthlyRent           float64
	LeaseStatus           string
	LeaseEnd              string
	RenewalStatus         string
	EscalationLevel       int
	EscalationDescription string
	PaymentSummary        string
	MaintenanceSummary    string
	LegalSummary          string
	ConversationSummary   string
	SpecialTerms          string
	JurisdictionRules     string
}

// BuildSystemPrompt renders the system prompt for one turn. now ages open maintenance requests.
func BuildSystemPrompt(tc *TenantContext, now time.Time) (string, error) {
	rules, ok := JurisdictionRules[tc.Jurisdiction()]
	if !ok {
		rules = JurisdictionRules[DefaultJurisdiction]
	}
	escalation, ok := EscalationDescriptions[tc.EscalationLevel]
	if !ok {
		escalation = EscalationDescriptions[DefaultEscalationLevel]
	}

	data := promptData{
		TenantName:            tc.Tenant.FullName,
		WhatsApp:              tc.Tenant.WhatsAppNumber,
		Property:              fmt.Sprintf("%s, %s, %s", tc.Unit.UnitIdentifier, tc.Unit.Address, tc.Unit.City),
		MonthlyRent:           tc.Lease.MonthlyRent,
		LeaseStatus:           orDefault(tc.Lease.Status, "unknown"),
		LeaseEnd:              "Periodic tenancy (no fixed end date)",
		RenewalStatus:         orDefault(tc.Lease.RenewalStatus, "not_started"),
		EscalationLevel:       tc.EscalationLevel,
		EscalationDescription: escalation,
		PaymentSummary:        PaymentSummary(tc),
		MaintenanceSummary:    maintenanceSummary(tc, now),
		LegalSummary:          legalSummary(tc),
		ConversationSummary:   "No prior conversation history.",
		SpecialTerms:          strings.TrimSpace(tc.Lease.SpecialTerms),
		JurisdictionRules:     rules,
	}
	if tc.Lease.EndDate != "" {
		data.LeaseEnd = formatDate(tc.Lease.EndDate)
	}
	if tc.ConversationContext != nil && tc.ConversationContext.Summary != "" {
		data.ConversationSummary = tc.ConversationContext.Summary
	}

	var buf bytes.Buffer
	if err := systemTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render system prompt: %w", err)
	}
	return buf.String(), nil
}

// formatDate renders YYYY-MM-DD (or a longer ISO timestamp) as "02 Jan 2006".
func formatDate(iso string) string {
	if len(iso) >= 10 {
		if d, err := time.Parse("2006-01-02", iso[:10]); err == nil {
			return d.Format("02 Jan 2006")
		}
	}
	return iso
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// PaymentSummary lists recent payments with outstanding amounts and the active plan.
func PaymentSummary(tc *TenantContext) string {
	if len(tc.RecentPayments) == 0 {
		return "No payment records found."
	}
	var b strings.Builder
	var total float64
	for i, p := range tc.RecentPayments {
		arrears := p.Arrears()
		total += arrears
		paid := "not paid"
		if p.PaidDate != "" {
			paid = formatDate(p.PaidDate)
		}
		outstanding := ""
		if arrears > 0 {
			outstanding = fmt.Sprintf(" (£%.2f outstanding)", arrears)
		}
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: £%.2f due, status: %s%s, paid: %s", formatDate(p.DueDate), p.AmountDue, p.Status, outstanding, paid)
	}
	if total > 0 {
		fmt.Fprintf(&b, "\nTOTAL ARREARS: £%.2f", total)
	}
	if pp := tc.ActivePaymentPlan; pp != nil {
		fmt.Fprintf(&b, "\nACTIVE PAYMENT PLAN: £%.2f %s, status: %s", pp.InstallmentAmount, pp.InstallmentFrequency, pp.Status)
	}
	return b.String()
}

func maintenanceSummary(tc *TenantContext, now time.Time) string {
	if len(tc.OpenMaintenanceRequests) == 0 {
		return "No open maintenance requests."
	}
	lines := make([]string, 0, len(tc.OpenMaintenanceRequests))
	for _, m := range tc.OpenMaintenanceRequests {
		age := 0
		if !m.CreatedAt.IsZero() {
			age = int(now.Sub(m.CreatedAt).Hours() / 24)
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s, status: %s (%d days old)",
			strings.ToUpper(orDefault(m.Urgency, "unknown")), m.Category, m.Description, m.Status, age))
	}
	return strings.Join(lines, "\n")
}

func legalSummary(tc *TenantContext) string {
	if len(tc.OpenLegalActions) == 0 && len(tc.OpenDisputes) == 0 {
		return "No open legal actions or disputes."
	}
	var lines []string
	for _, a := range tc.OpenLegalActions {
		deadline := ""
		if !a.ResponseDeadline.IsZero() {
			deadline = ", deadline: " + a.ResponseDeadline.Format("02 Jan 2006")
		}
		lines = append(lines, fmt.Sprintf("%s: %s%s", a.ActionType, a.Status, deadline))
	}
	for _, d := range tc.OpenDisputes {
		desc := d.Description
		if r := []rune(desc); len(r) > 80 {
			desc = string(r[:80])
		}
		lines = append(lines, fmt.Sprintf("DISPUTE (%s): %s, %s", d.Category, d.Status, desc))
	}
	return strings.Join(lines, "\n")
}
