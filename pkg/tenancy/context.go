// Package tenancy loads the per-turn tenant snapshot the agent reasons over and builds
// the system prompt from it.
package tenancy

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tenantops/pkg/logx"
	"tenantops/pkg/persistence"
)

// Snapshot sizes.
const (
	RecentConversationLimit = 10
	RecentPaymentLimit      = 6
	DefaultEscalationLevel  = 1
	DefaultJurisdiction     = "england_wales"
)

// TenantContext is an immutable snapshot taken at the start of one agent turn.
type TenantContext struct {
	Tenant     *persistence.Tenant
	Lease      *persistence.Lease
	Unit       *persistence.Unit
	LandlordID string

	// RecentConversations is oldest first.
	RecentConversations []*persistence.Conversation
	// ConversationContext is nil until the first summary or escalation is stored.
	ConversationContext *persistence.ConversationContext

	RecentPayments          []*persistence.Payment // newest first
	ActivePaymentPlan       *persistence.PaymentPlan
	OpenMaintenanceRequests []*persistence.MaintenanceRequest
	OpenLegalActions        []*persistence.LegalAction
	OpenDisputes            []*persistence.Dispute

	EscalationLevel int
}

// Jurisdiction returns the unit's jurisdiction code, defaulting to england_wales.
func (c *TenantContext) Jurisdiction() string {
	if c.Unit == nil || c.Unit.Jurisdiction == "" {
		return DefaultJurisdiction
	}
	return c.Unit.Jurisdiction
}

// ContextVersion is the version of the stored conversation context the snapshot saw, 0 if none.
func (c *TenantContext) ContextVersion() int64 {
	if c.ConversationContext == nil {
		return 0
	}
	return c.ConversationContext.Version
}

// Store is the subset of persistence the loader reads.
type Store interface {
	GetTenantByWhatsApp(ctx context.Context, number string) (*persistence.Tenant, error)
	GetPrimaryTenant(ctx context.Context, leaseID string) (*persistence.Tenant, error)
	GetLease(ctx context.Context, id string) (*persistence.Lease, error)
	GetUnit(ctx context.Context, id string) (*persistence.Unit, error)
	ListRecentConversations(ctx context.Context, leaseID string, limit int) ([]*persistence.Conversation, error)
	GetConversationContext(ctx context.Context, leaseID string) (*persistence.ConversationContext, error)
	ListRecentPayments(ctx context.Context, leaseID string, limit int) ([]*persistence.Payment, error)
	GetActivePaymentPlan(ctx context.Context, leaseID string) (*persistence.PaymentPlan, error)
	ListOpenMaintenanceRequests(ctx context.Context, leaseID string) ([]*persistence.MaintenanceRequest, error)
	ListOpenLegalActions(ctx context.Context, leaseID string) ([]*persistence.LegalAction, error)
	ListOpenDisputes(ctx context.Context, leaseID string) ([]*persistence.Dispute, error)
	InsertConversation(ctx context.Context, c *persistence.Conversation) error
}

// Loader builds TenantContext snapshots.
type Loader struct {
	store  Store
	logger *logx.Logger
}

func NewLoader(store Store) *Loader {
	return &Loader{store: store, logger: logx.NewLogger("tenancy")}
}

// LoadByWhatsApp resolves the tenant by phone number. A "whatsapp:" prefix is ignored.
// Returns persistence.ErrNotFound when no tenant has that number.
func (l *Loader) LoadByWhatsApp(ctx context.Context, number string) (*TenantContext, error) {
	phone := strings.TrimPrefix(strings.TrimSpace(number), "whatsapp:")
	tenant, err := l.store.GetTenantByWhatsApp(ctx, phone)
	if err != nil {
		return nil, fmt.Errorf("failed to find tenant for %s: %w", phone, err)
	}
	return l.load(ctx, tenant)
}

// LoadByLease builds the snapshot for the lease's primary tenant.
func (l *Loader) LoadByLease(ctx context.Context, leaseID string) (*TenantContext, error) {
	tenant, err := l.store.GetPrimaryTenant(ctx, leaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to find primary tenant for lease %s: %w", leaseID, err)
	}
	return l.load(ctx, tenant)
}

func (l *Loader) load(ctx context.Context, tenant *persistence.Tenant) (*TenantContext, error) {
	lease, err := l.store.GetLease(ctx, tenant.LeaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to load lease: %w", err)
	}
	unit, err := l.store.GetUnit(ctx, lease.UnitID)
	if err != nil {
		return nil, fmt.Errorf("failed to load unit: %w", err)
	}

	tc := &TenantContext{
		Tenant:          tenant,
		Lease:           lease,
		Unit:            unit,
		LandlordID:      unit.LandlordID,
		EscalationLevel: DefaultEscalationLevel,
	}

	convs, err := l.store.ListRecentConversations(ctx, lease.ID, RecentConversationLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	for i := len(convs) - 1; i >= 0; i-- {
		tc.RecentConversations = append(tc.RecentConversations, convs[i])
	}

	cc, err := optional(l.store.GetConversationContext(ctx, lease.ID))
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation context: %w", err)
	}
	if cc != nil {
		tc.ConversationContext = cc
		tc.EscalationLevel = cc.OpenThreads.Level(DefaultEscalationLevel)
	}

	if tc.RecentPayments, err = l.store.ListRecentPayments(ctx, lease.ID, RecentPaymentLimit); err != nil {
		return nil, fmt.Errorf("failed to load payments: %w", err)
	}
	if tc.ActivePaymentPlan, err = optional(l.store.GetActivePaymentPlan(ctx, lease.ID)); err != nil {
		return nil, fmt.Errorf("failed to load payment plan: %w", err)
	}
	if tc.OpenMaintenanceRequests, err = l.store.ListOpenMaintenanceRequests(ctx, lease.ID); err != nil {
		return nil, fmt.Errorf("failed to load maintenance requests: %w", err)
	}
	if tc.OpenLegalActions, err = l.store.ListOpenLegalActions(ctx, lease.ID); err != nil {
		return nil, fmt.Errorf("failed to load legal actions: %w", err)
	}
	if tc.OpenDisputes, err = l.store.ListOpenDisputes(ctx, lease.ID); err != nil {
		return nil, fmt.Errorf("failed to load disputes: %w", err)
	}

	logx.Debug(ctx, "tenancy", "loaded lease %s: %d conversations, %d payments, escalation %d",
		lease.ID, len(tc.RecentConversations), len(tc.RecentPayments), tc.EscalationLevel)
	return tc, nil
}

// optional turns ErrNotFound into a nil record.
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, persistence.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// LogConversation records one inbound or outbound message with its classification.
func (l *Loader) LogConversation(ctx context.Context, leaseID, direction, body, intent string, confidence *float64) (string, error) {
	c := &persistence.Conversation{
		LeaseID:              leaseID,
		Direction:            direction,
		MessageBody:          body,
		IntentClassification: intent,
		ConfidenceScore:      confidence,
	}
	if err := l.store.InsertConversation(ctx, c); err != nil {
		return "", fmt.Errorf("failed to log %s message: %w", direction, err)
	}
	return c.ID, nil
}
