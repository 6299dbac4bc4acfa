package tools

import (
	"context"
	"fmt"
	"path"
	"time"

	"tenantops/pkg/docs"
	"tenantops/pkg/persistence"
	"tenantops/pkg/tenancy"
)

// DeadlineLayout formats response deadlines in messages.
const DeadlineLayout = "02 January 2006"

// DeadlineDays is the statutory response period for a notice type in a jurisdiction.
func DeadlineDays(noticeType, jurisdiction string) int {
	switch noticeType {
	case NoticeSection8:
		if jurisdiction == "scotland" {
			return 28
		}
		return 14
	case NoticeSection21:
		if jurisdiction == "wales" {
			return 182
		}
		return 56
	case NoticePaymentDemand:
		return 7
	default:
		return 14
	}
}

// NoticeDescription is the tenant-facing phrase for a notice type.
func NoticeDescription(noticeType string) string {
	switch noticeType {
	case NoticeSection8:
		return "A Section 8 Notice Seeking Possession"
	case NoticeSection21:
		return "A Section 21 Notice to Quit"
	case NoticePaymentDemand:
		return "A formal payment demand"
	case NoticeFormal:
		return "A formal written notice"
	case NoticeLeaseViolation:
		return "A lease violation notice"
	case NoticePaymentPlanAgreement:
		return "A payment plan agreement"
	default:
		return "A formal notice"
	}
}

func (e *Executor) issueLegalNotice(ctx context.Context, call IssueLegalNotice, tc *tenancy.TenantContext) (Result, error) {
	now := e.now()
	jurisdiction := tc.Jurisdiction()
	deadline := now.AddDate(0, 0, DeadlineDays(call.NoticeType, jurisdiction))
	display := deadline.Format(DeadlineLayout)
	tenant := e.tenantName(tc)
	unit, address := e.unitLabel(tc)

	documentURL := e.storeNotice(ctx, call, tc, now, deadline)

	action := &persistence.LegalAction{
		ID:               persistence.NewID(),
		LeaseID:          tc.Lease.ID,
		ActionType:       call.NoticeType,
		DocumentURL:      documentURL,
		ResponseDeadline: deadline,
		Status:           "issued",
		AgentReasoning:   call.Reason,
	}
	err := e.store.WithRetry(ctx, "insert legal action", func(ctx context.Context) error {
		return e.store.InsertLegalAction(ctx, action)
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to record legal action: %w", err)
	}

	if err := e.notifyLandlord(ctx, tc, &persistence.LandlordNotification{
		NotificationType: NotificationLegalNoticeIssued,
		Message: fmt.Sprintf("Legal notice issued to %s at %s, %s. Type: %s. Reason: %s. Deadline: %s.",
			tenant, unit, address, call.NoticeType, call.Reason, display),
		RelatedRecordType: "legal_actions",
		RelatedRecordID:   action.ID,
		RequiresSignature: call.RequiresSignature(),
	}); err != nil {
		return Result{}, err
	}

	if err := e.audit(ctx, tc, call, "legal",
		fmt.Sprintf("Issued %s to %s. Reason: %s", call.NoticeType, tenant, call.Reason),
		fmt.Sprintf("Legal action ID: %s. Deadline: %s.", action.ID, display), 0.95); err != nil {
		return Result{}, err
	}

	var url any
	if documentURL != "" {
		url = documentURL
	}
	return Result{
		Success: true,
		Data: map[string]any{
			"legal_action_id":   action.ID,
			"notice_type":       call.NoticeType,
			"response_deadline": display,
			"document_url":      url,
			"message":           fmt.Sprintf("%s has been issued. The deadline for response is %s.", NoticeDescription(call.NoticeType), display),
		},
		IsHighSeverity:              true,
		LandlordNotificationMessage: fmt.Sprintf("Legal notice (%s) has been issued to %s. Response deadline: %s.", call.NoticeType, tenant, display),
	}, nil
}

// storeNotice renders and uploads the notice document. Failures are logged and yield no URL.
func (e *Executor) storeNotice(ctx context.Context, call IssueLegalNotice, tc *tenancy.TenantContext, issued, deadline time.Time) string {
	if e.objects == nil {
		e.logger.Warn("⚠️  No object store configured, legal notice %s recorded without a document", call.NoticeType)
		return ""
	}

	notice := docs.Notice{
		NoticeType:       call.NoticeType,
		TenantName:       e.tenantName(tc),
		Jurisdiction:     tc.Jurisdiction(),
		Reason:           call.Reason,
		MonthlyRent:      tc.Lease.MonthlyRent,
		TotalArrears:     TotalArrears(tc.RecentPayments),
		IssuedAt:         issued,
		ResponseDeadline: deadline,
	}
	if tc.Unit != nil {
		notice.UnitIdentifier = tc.Unit.UnitIdentifier
		notice.Address = tc.Unit.Address
		notice.City = tc.Unit.City
	}

	doc, err := e.documents.Generate(ctx, notice)
	if err != nil {
		e.logger.Warn("⚠️  Failed to generate %s document: %v", call.NoticeType, err)
		return ""
	}
	key := path.Join("legal-documents", tc.Lease.ID, doc.Filename)
	url, err := e.objects.Put(ctx, key, doc.Body, doc.ContentType)
	if err != nil {
		e.logger.Warn("⚠️  Failed to upload %s: %v", key, err)
		return ""
	}
	return url
}
