package persistence

import (
	"time"

	"github.com/google/uuid"

	"tenantops/pkg/analysis"
)

// Dates without a time component (lease terms, due dates) are stored as YYYY-MM-DD.
const DateLayout = "2006-01-02"

// NewID returns a fresh record identifier.
func NewID() string {
	return uuid.NewString()
}

type Landlord struct {
	ID       string `yaml:"id"`
	FullName string `yaml:"full_name"`
	Email    string `yaml:"email"`
	Phone    string `yaml:"phone"`
}

type Unit struct {
	ID             string `yaml:"id"`
	LandlordID     string `yaml:"landlord_id"`
	UnitIdentifier string `yaml:"unit_identifier"`
	Address        string `yaml:"address"`
	City           string `yaml:"city"`
	Postcode       string `yaml:"postcode"`
	Jurisdiction   string `yaml:"jurisdiction"`
}

type Lease struct {
	ID            string  `yaml:"id"`
	UnitID        string  `yaml:"unit_id"`
	StartDate     string  `yaml:"start_date"`
	EndDate       string  `yaml:"end_date"` // empty for periodic tenancies
	MonthlyRent   float64 `yaml:"monthly_rent"`
	Status        string  `yaml:"status"`
	RenewalStatus string  `yaml:"renewal_status"`
	SpecialTerms  string  `yaml:"special_terms"`
}

type Tenant struct {
	ID             string `yaml:"id"`
	LeaseID        string `yaml:"lease_id"`
	FullName       string `yaml:"full_name"`
	Email          string `yaml:"email"`
	WhatsAppNumber string `yaml:"whatsapp_number"`
	IsPrimary      bool   `yaml:"is_primary"`
}

type Payment struct {
	ID         string   `yaml:"id"`
	LeaseID    string   `yaml:"lease_id"`
	DueDate    string   `yaml:"due_date"`
	AmountDue  float64  `yaml:"amount_due"`
	AmountPaid *float64 `yaml:"amount_paid"` // nil until anything is received
	Status     string   `yaml:"status"`
	PaidDate   string   `yaml:"paid_date"`
}

// Arrears is the outstanding amount; negative when overpaid.
func (p *Payment) Arrears() float64 {
	if p.AmountPaid == nil {
		return p.AmountDue
	}
	return p.AmountDue - *p.AmountPaid
}

type PaymentPlan struct {
	ID                   string    `yaml:"id"`
	LeaseID              string    `yaml:"lease_id"`
	InstallmentAmount    float64   `yaml:"installment_amount"`
	InstallmentFrequency string    `yaml:"installment_frequency"`
	Status               string    `yaml:"status"`
	CreatedAt            time.Time `yaml:"-"`
}

type Contractor struct {
	ID                 string    `yaml:"id"`
	LandlordID         string    `yaml:"landlord_id"`
	Name               string    `yaml:"name"`
	Phone              string    `yaml:"phone"`
	Email              string    `yaml:"email"`
	Trades             []string  `yaml:"trades"`
	EmergencyAvailable bool      `yaml:"emergency_available"`
	Rating             float64   `yaml:"rating"`
	AvgResponseHours   float64   `yaml:"avg_response_hours"`
	CreatedAt          time.Time `yaml:"-"`
}

// HasTrade reports whether the contractor lists trade.
func (c *Contractor) HasTrade(trade string) bool {
	for _, t := range c.Trades {
		if t == trade {
			return true
		}
	}
	return false
}

type Dispute struct {
	ID          string    `yaml:"id"`
	LeaseID     string    `yaml:"lease_id"`
	Category    string    `yaml:"category"`
	Description string    `yaml:"description"`
	Status      string    `yaml:"status"`
	CreatedAt   time.Time `yaml:"-"`
}

// Maintenance request statuses.
const (
	RequestOpen       = "open"
	RequestAssigned   = "assigned"
	RequestInProgress = "in_progress"
	RequestCompleted  = "completed"
	RequestCancelled  = "cancelled"
)

type MaintenanceRequest struct {
	ID           string
	LeaseID      string
	Category     string
	Description  string
	Urgency      string
	Status       string
	ContractorID string
	ScheduledAt  *time.Time
	CompletedAt  *time.Time
	Cost         *float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type LegalAction struct {
	ID               string
	LeaseID          string
	ActionType       string
	DocumentURL      string
	ResponseDeadline time.Time
	Status           string
	AgentReasoning   string
	CreatedAt        time.Time
}

type LandlordNotification struct {
	ID                string
	LandlordID        string
	LeaseID           string
	NotificationType  string
	Message           string
	RelatedRecordType string
	RelatedRecordID   string
	RequiresSignature bool
	CreatedAt         time.Time
}

// AgentAction is one audit row written for every tool the agent runs.
type AgentAction struct {
	ID                string
	LeaseID           string
	ActionCategory    string
	ActionDescription string
	ToolsCalled       []string
	InputSummary      string
	OutputSummary     string
	ConfidenceScore   float64
	CreatedAt         time.Time
}

// Conversation directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

type Conversation struct {
	ID                   string
	LeaseID              string
	Direction            string
	MessageBody          string
	WhatsAppMessageID    string
	IntentClassification string
	ConfidenceScore      *float64
	CreatedAt            time.Time
}

// OpenThreads is the structured record of unresolved matters for a lease.
type OpenThreads struct {
	EscalationLevel     *int       `json:"escalation_level,omitempty"`
	EscalationReason    string     `json:"escalation_reason,omitempty"`
	EscalationUpdatedAt *time.Time `json:"escalation_updated_at,omitempty"`
	Topics              []string   `json:"topics,omitempty"`
}

// Level returns the recorded escalation level, or def when none has been recorded.
func (o *OpenThreads) Level(def int) int {
	if o.EscalationLevel == nil {
		return def
	}
	return *o.EscalationLevel
}

// SetLevel records level with its reason at time at.
func (o *OpenThreads) SetLevel(level int, reason string, at time.Time) {
	o.EscalationLevel = &level
	o.EscalationReason = reason
	o.EscalationUpdatedAt = &at
}

type ConversationContext struct {
	LeaseID     string
	Summary     string
	OpenThreads OpenThreads
	LastUpdated time.Time
	Version     int64
}

// StateEntry is one step in a workflow's append-only history.
type StateEntry struct {
	From string    `json:"from_state,omitempty"`
	To   string    `json:"to_state"`
	At   time.Time `json:"timestamp"`
	Note string    `json:"note,omitempty"`
}

// MaintenanceWorkflow is the stored lifecycle of one maintenance request.
type MaintenanceWorkflow struct {
	ID                   string
	MaintenanceRequestID string
	LeaseID              string
	LandlordID           string
	CurrentState         string
	AIAnalysis           analysis.AIAnalysis
	OwnerResponse        string
	OwnerMessage         string
	VendorMessage        string
	VendorETA            *time.Time
	VendorNotes          string
	ContractorID         string
	StateHistory         []StateEntry
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Communication sender types.
const (
	SenderSystem = "system"
	SenderTenant = "tenant"
	SenderOwner  = "owner"
	SenderVendor = "vendor"
)

type WorkflowCommunication struct {
	ID         string
	WorkflowID string
	SenderType string
	SenderID   string
	Message    string
	CreatedAt  time.Time
	// Seq orders communications written at the same instant.
	Seq int64
}

type VendorBid struct {
	ID                       string
	WorkflowID               string
	ContractorID             string
	BidAmount                *float64
	EstimatedCompletionHours int
	Message                  string
	IsSelected               bool
	AIScore                  *float64
	CreatedAt                time.Time
}

// WorkflowFilter narrows ListWorkflows.
type WorkflowFilter struct {
	State  string
	Limit  int
	Offset int
}
