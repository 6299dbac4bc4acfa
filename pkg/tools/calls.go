package tools

import (
	"encoding/json"
	"fmt"
)

// Maintenance urgencies accepted by schedule_maintenance.
const (
	UrgencyEmergency = "emergency"
	UrgencyHigh      = "high"
	UrgencyRoutine   = "routine"
)

// Legal notice types accepted by issue_legal_notice.
const (
	NoticeFormal               = "formal_notice"
	NoticeSection8             = "section_8"
	NoticeSection21            = "section_21"
	NoticePaymentDemand        = "payment_demand"
	NoticeLeaseViolation       = "lease_violation_notice"
	NoticePaymentPlanAgreement = "payment_plan_agreement"
)

//nolint:gochecknoglobals // fixed vocabularies
var (
	MaintenanceCategories = []string{
		"plumbing", "electrical", "structural", "appliance", "heating", "pest", "damp", "access", "other",
	}
	NoticeTypes = []string{
		NoticeFormal, NoticeSection8, NoticeSection21, NoticePaymentDemand, NoticeLeaseViolation, NoticePaymentPlanAgreement,
	}
)

// Call is one typed tool invocation. Only this package implements it, so Executor.Dispatch
// covers every case.
type Call interface {
	ToolName() string
	sealed()
}

// GetRentStatus reports payments, arrears and any active payment plan.
type GetRentStatus struct{}

// ScheduleMaintenance raises a maintenance request and assigns a contractor.
type ScheduleMaintenance struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Urgency     string `json:"urgency"`
}

// Emergency reports whether the request should prefer emergency-available contractors.
func (c ScheduleMaintenance) Emergency() bool {
	return c.Urgency == UrgencyEmergency
}

// IssueLegalNotice generates, stores and records a legal notice.
type IssueLegalNotice struct {
	NoticeType string `json:"notice_type"`
	Reason     string `json:"reason"`
}

// RequiresSignature reports whether the landlord must sign the notice.
func (c IssueLegalNotice) RequiresSignature() bool {
	return c.NoticeType == NoticeSection8 || c.NoticeType == NoticeSection21
}

// UpdateEscalationLevel moves the tenancy to a new escalation level.
type UpdateEscalationLevel struct {
	NewLevel int    `json:"new_level"`
	Reason   string `json:"reason"`
}

func (GetRentStatus) ToolName() string         { return ToolGetRentStatus }
func (ScheduleMaintenance) ToolName() string   { return ToolScheduleMaintenance }
func (IssueLegalNotice) ToolName() string      { return ToolIssueLegalNotice }
func (UpdateEscalationLevel) ToolName() string { return ToolUpdateEscalationLevel }

func (GetRentStatus) sealed()         {}
func (ScheduleMaintenance) sealed()   {}
func (IssueLegalNotice) sealed()      {}
func (UpdateEscalationLevel) sealed() {}

// summarize renders call as the input summary stored on the audit row.
func summarize(call Call) string {
	data, err := json.Marshal(call)
	if err != nil {
		return fmt.Sprintf("%+v", call)
	}
	return string(data)
}

// Result is the outcome of one tool call.
type Result struct {
	Data                        map[string]any `json:"data,omitempty"`
	Error                       string         `json:"error,omitempty"`
	LandlordNotificationMessage string         `json:"landlord_notification_message,omitempty"`
	Success                     bool           `json:"success"`
	IsHighSeverity              bool           `json:"is_high_severity"`
}

// Failed builds an unsuccessful result carrying err's message.
func Failed(err error) Result {
	return Result{Error: err.Error()}
}

// Content is what the model receives: the data on success, {"error": ...} otherwise.
func (r Result) Content() string {
	var payload any = r.Data
	if !r.Success {
		payload = map[string]string{"error": r.Error}
	} else if r.Data == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}
