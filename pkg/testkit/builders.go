package testkit

import (
	"context"
	"testing"
	"time"

	"tenantops/pkg/persistence"
	"tenantops/pkg/policy"
)

// Tenancy is a seeded landlord, unit, lease and primary tenant.
type Tenancy struct {
	Landlord    *persistence.Landlord
	Unit        *persistence.Unit
	Lease       *persistence.Lease
	Tenant      *persistence.Tenant
	Contractors []*persistence.Contractor
	Payments    []*persistence.Payment
}

// TenancyBuilder helps create seeded tenancies for testing.
type TenancyBuilder struct {
	t           Tenancy
	plan        *persistence.PaymentPlan
	threads     *persistence.OpenThreads
	summary     string
	policy      *policy.AutoApproval
	disputes    []*persistence.Dispute
	inbound     []string
	maintenance []*persistence.MaintenanceRequest
}

// NewTenancy starts from a London flat let to one tenant.
func NewTenancy() *TenancyBuilder {
	return &TenancyBuilder{t: Tenancy{
		Landlord: &persistence.Landlord{FullName: "Priya Shah", Email: "priya@example.com", Phone: "+447700900100"},
		Unit: &persistence.Unit{
			UnitIdentifier: "Flat 2",
			Address:        "14 Rose Street",
			City:           "London",
			Postcode:       "E1 6AN",
			Jurisdiction:   "england_wales",
		},
		Lease: &persistence.Lease{
			StartDate:     "2024-01-01",
			EndDate:       "2025-12-31",
			MonthlyRent:   1200,
			Status:        "active",
			RenewalStatus: "not_started",
		},
		Tenant: &persistence.Tenant{FullName: "Ana Costa", Email: "ana@example.com", WhatsAppNumber: "+447700900001", IsPrimary: true},
	}}
}

// InJurisdiction sets the unit's jurisdiction code.
func (b *TenancyBuilder) InJurisdiction(code string) *TenancyBuilder {
	b.t.Unit.Jurisdiction = code
	return b
}

// WithWhatsApp sets the tenant's number.
func (b *TenancyBuilder) WithWhatsApp(number string) *TenancyBuilder {
	b.t.Tenant.WhatsAppNumber = number
	return b
}

// WithSpecialTerms sets free-text lease terms.
func (b *TenancyBuilder) WithSpecialTerms(terms string) *TenancyBuilder {
	b.t.Lease.SpecialTerms = terms
	return b
}

// WithPayment adds a payment. A nil paid amount means nothing was received.
func (b *TenancyBuilder) WithPayment(dueDate string, due float64, paid *float64) *TenancyBuilder {
	status := "paid"
	switch {
	case paid == nil:
		status = "overdue"
	case *paid < due:
		status = "partial"
	}
	b.t.Payments = append(b.t.Payments, &persistence.Payment{DueDate: dueDate, AmountDue: due, AmountPaid: paid, Status: status})
	return b
}

// WithPaymentPlan adds an active plan.
func (b *TenancyBuilder) WithPaymentPlan(installment float64, frequency string) *TenancyBuilder {
	b.plan = &persistence.PaymentPlan{InstallmentAmount: installment, InstallmentFrequency: frequency, Status: "active"}
	return b
}

// WithContractor adds a contractor owned by the landlord.
func (b *TenancyBuilder) WithContractor(name string, trades []string, emergency bool) *TenancyBuilder {
	b.t.Contractors = append(b.t.Contractors, &persistence.Contractor{
		Name:               name,
		Phone:              "+447700900200",
		Trades:             trades,
		EmergencyAvailable: emergency,
		Rating:             4.0,
		AvgResponseHours:   12,
	})
	return b
}

// WithEscalation stores an open-threads record at level.
func (b *TenancyBuilder) WithEscalation(level int, reason string) *TenancyBuilder {
	b.threads = &persistence.OpenThreads{}
	b.threads.SetLevel(level, reason, time.Now().UTC())
	return b
}

// WithSummary stores a conversation summary.
func (b *TenancyBuilder) WithSummary(summary string) *TenancyBuilder {
	b.summary = summary
	return b
}

// WithPolicy stores a landlord auto-approval policy.
func (b *TenancyBuilder) WithPolicy(p policy.AutoApproval) *TenancyBuilder {
	b.policy = &p
	return b
}

// WithDispute adds an open dispute.
func (b *TenancyBuilder) WithDispute(category, description string) *TenancyBuilder {
	b.disputes = append(b.disputes, &persistence.Dispute{Category: category, Description: description, Status: "open"})
	return b
}

// WithOpenRequest adds an open maintenance request.
func (b *TenancyBuilder) WithOpenRequest(category, description, urgency string) *TenancyBuilder {
	b.maintenance = append(b.maintenance, &persistence.MaintenanceRequest{
		Category: category, Description: description, Urgency: urgency, Status: persistence.RequestOpen,
	})
	return b
}

// WithInboundMessages adds prior tenant messages in chronological order.
func (b *TenancyBuilder) WithInboundMessages(msgs ...string) *TenancyBuilder {
	b.inbound = append(b.inbound, msgs...)
	return b
}

// Seed writes everything to store and returns the populated records.
func (b *TenancyBuilder) Seed(t *testing.T, store *persistence.Store) *Tenancy {
	t.Helper()
	ctx := context.Background()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("Failed to seed tenancy: %v", err)
		}
	}

	tn := b.t
	must(store.CreateLandlord(ctx, tn.Landlord))
	tn.Unit.LandlordID = tn.Landlord.ID
	must(store.CreateUnit(ctx, tn.Unit))
	tn.Lease.UnitID = tn.Unit.ID
	must(store.CreateLease(ctx, tn.Lease))
	tn.Tenant.LeaseID = tn.Lease.ID
	must(store.CreateTenant(ctx, tn.Tenant))

	for _, c := range tn.Contractors {
		c.LandlordID = tn.Landlord.ID
		must(store.CreateContractor(ctx, c))
	}
	for _, p := range tn.Payments {
		p.LeaseID = tn.Lease.ID
		must(store.CreatePayment(ctx, p))
	}
	if b.plan != nil {
		b.plan.LeaseID = tn.Lease.ID
		must(store.CreatePaymentPlan(ctx, b.plan))
	}
	for _, d := range b.disputes {
		d.LeaseID = tn.Lease.ID
		must(store.CreateDispute(ctx, d))
	}
	for _, r := range b.maintenance {
		r.LeaseID = tn.Lease.ID
		must(store.InsertMaintenanceRequest(ctx, r))
	}
	for _, m := range b.inbound {
		must(store.InsertConversation(ctx, &persistence.Conversation{
			LeaseID: tn.Lease.ID, Direction: persistence.DirectionInbound, MessageBody: m,
		}))
	}
	if b.threads != nil || b.summary != "" {
		cc := &persistence.ConversationContext{LeaseID: tn.Lease.ID, Summary: b.summary}
		if b.threads != nil {
			cc.OpenThreads = *b.threads
		}
		must(store.SaveConversationContext(ctx, cc))
	}
	if b.policy != nil {
		must(store.SaveAutoApprovalPolicy(ctx, tn.Landlord.ID, *b.policy))
	}
	return &tn
}

// Float returns a pointer to f.
func Float(f float64) *float64 {
	return &f
}
