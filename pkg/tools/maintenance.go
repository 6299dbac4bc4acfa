package tools

import (
	"context"
	"fmt"

	"tenantops/pkg/notify"
	"tenantops/pkg/persistence"
	"tenantops/pkg/ranking"
	"tenantops/pkg/tenancy"
)

// Notification types written by the handlers.
const (
	NotificationEmergencyMaintenance = "emergency_maintenance"
	NotificationLegalNoticeIssued    = "legal_notice_issued"
	NotificationGeneral              = "general"
)

func (e *Executor) scheduleMaintenance(ctx context.Context, call ScheduleMaintenance, tc *tenancy.TenantContext) (Result, error) {
	var all []*persistence.Contractor
	err := e.store.WithRetry(ctx, "list contractors", func(ctx context.Context) error {
		var err error
		all, err = e.store.ListContractorsForTrade(ctx, tc.LandlordID, call.Category)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to load %s contractors: %w", call.Category, err)
	}

	contractor, err := ranking.Select(ctx, e.ranker, ranking.Request{
		Category:  call.Category,
		Urgency:   call.Urgency,
		Emergency: call.Emergency(),
	}, all)
	if err != nil {
		return Result{}, err //nolint:wrapcheck // already names the strategy
	}

	req := &persistence.MaintenanceRequest{
		ID:          persistence.NewID(),
		LeaseID:     tc.Lease.ID,
		Category:    call.Category,
		Description: call.Description,
		Urgency:     call.Urgency,
		Status:      persistence.RequestOpen,
	}
	if contractor != nil {
		req.Status = persistence.RequestAssigned
		req.ContractorID = contractor.ID
	}
	err = e.store.WithRetry(ctx, "insert maintenance request", func(ctx context.Context) error {
		return e.store.InsertMaintenanceRequest(ctx, req)
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to create maintenance request: %w", err)
	}

	unit, address := e.unitLabel(tc)
	if contractor != nil {
		e.publish(ctx, notify.Event{
			ID:         req.ID,
			Kind:       notify.KindVendorRequest,
			LandlordID: tc.LandlordID,
			LeaseID:    tc.Lease.ID,
			Recipient:  contractor.ID,
			Urgency:    call.Urgency,
			Message:    fmt.Sprintf("New %s %s job at %s, %s: %s", call.Urgency, call.Category, unit, address, call.Description),
			CreatedAt:  e.now().UTC(),
		})
	}

	output := "No contractor available, logged as open"
	if contractor != nil {
		output = "Assigned to " + contractor.Name
	}
	if err := e.audit(ctx, tc, call, "maintenance",
		fmt.Sprintf("Scheduled %s maintenance: %s. %s", call.Urgency, call.Category, truncate(call.Description, 80)),
		output, 0.9); err != nil {
		return Result{}, err
	}

	data := map[string]any{
		"request_id": req.ID,
		"status":     req.Status,
		"contractor": nil,
		"message":    "Maintenance request logged. A contractor will be assigned shortly.",
	}
	if contractor != nil {
		data["contractor"] = map[string]any{
			"name":                contractor.Name,
			"phone":               contractor.Phone,
			"email":               contractor.Email,
			"emergency_available": contractor.EmergencyAvailable,
		}
		data["message"] = fmt.Sprintf("Maintenance request raised and assigned to %s (%s).", contractor.Name, contractor.Phone)
	}

	res := Result{Success: true, Data: data}
	if call.Emergency() {
		assigned := "No contractor assigned, action required."
		if contractor != nil {
			assigned = fmt.Sprintf("Assigned to %s (%s).", contractor.Name, contractor.Phone)
		}
		res.IsHighSeverity = true
		res.LandlordNotificationMessage = fmt.Sprintf("EMERGENCY MAINTENANCE logged at %s, %s. Issue: %s. %s",
			unit, address, call.Description, assigned)
		if err := e.notifyLandlord(ctx, tc, &persistence.LandlordNotification{
			NotificationType:  NotificationEmergencyMaintenance,
			Message:           res.LandlordNotificationMessage,
			RelatedRecordType: "maintenance_requests",
			RelatedRecordID:   req.ID,
		}); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}
