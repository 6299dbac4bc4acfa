package tools

import (
	"context"
	"errors"
	"fmt"

	"tenantops/pkg/persistence"
	"tenantops/pkg/tenancy"
)

// TotalArrears sums amount_due - amount_paid over payments. Overpayments count negative.
func TotalArrears(payments []*persistence.Payment) float64 {
	total := 0.0
	for _, p := range payments {
		total += p.Arrears()
	}
	return total
}

func (e *Executor) getRentStatus(ctx context.Context, call GetRentStatus, tc *tenancy.TenantContext) (Result, error) {
	leaseID := tc.Lease.ID

	var payments []*persistence.Payment
	err := e.store.WithRetry(ctx, "list payments", func(ctx context.Context) error {
		var err error
		payments, err = e.store.ListRecentPayments(ctx, leaseID, tenancy.RecentPaymentLimit)
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to load payments for lease %s: %w", leaseID, err)
	}

	var plan *persistence.PaymentPlan
	err = e.store.WithRetry(ctx, "get payment plan", func(ctx context.Context) error {
		var err error
		plan, err = e.store.GetActivePaymentPlan(ctx, leaseID)
		if errors.Is(err, persistence.ErrNotFound) {
			plan = nil
			return nil
		}
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to load payment plan for lease %s: %w", leaseID, err)
	}

	rows := make([]map[string]any, 0, len(payments))
	for _, p := range payments {
		var paid any
		if p.AmountPaid != nil {
			paid = *p.AmountPaid
		}
		rows = append(rows, map[string]any{
			"due_date":    p.DueDate,
			"amount_due":  p.AmountDue,
			"amount_paid": paid,
			"status":      p.Status,
			"arrears":     p.Arrears(),
		})
	}
	total := TotalArrears(payments)

	data := map[string]any{
		"payments":            rows,
		"total_arrears":       total,
		"active_payment_plan": nil,
	}
	if plan != nil {
		data["active_payment_plan"] = map[string]any{
			"installment_amount": plan.InstallmentAmount,
			"frequency":          plan.InstallmentFrequency,
			"status":             plan.Status,
		}
	}

	if err := e.audit(ctx, tc, call, "payment",
		fmt.Sprintf("Checked rent status. Total arrears: £%.2f", total),
		fmt.Sprintf("Total arrears: £%.2f", total), 1.0); err != nil {
		return Result{}, err
	}
	return Result{Success: true, Data: data}, nil
}
