package tools

import (
	"context"
	"errors"
	"fmt"

	"tenantops/pkg/persistence"
	"tenantops/pkg/tenancy"
)

// ErrEscalationConflict is returned when the stored escalation level moved after the
// turn's snapshot was taken.
var ErrEscalationConflict = errors.New("escalation level changed concurrently")

// Escalation directions relative to the snapshot level.
const (
	DirectionEscalated   = "escalated"
	DirectionDeescalated = "de-escalated"
	DirectionUnchanged   = "unchanged"
)

// escalationWrite is the last level this executor stored for a lease during one turn.
type escalationWrite struct {
	turn    *tenancy.TenantContext
	level   int
	version int64
}

// expectedEscalation returns the stored level and version a write in this turn should find.
// Before the turn's own first write that is the snapshot level at any version.
func (e *Executor) expectedEscalation(leaseID string, tc *tenancy.TenantContext) (int, int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if w, ok := e.escalations[leaseID]; ok && w.turn == tc {
		return w.level, w.version
	}
	return tc.EscalationLevel, -1
}

func (e *Executor) recordEscalation(leaseID string, tc *tenancy.TenantContext, level int, version int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.escalations[leaseID] = escalationWrite{turn: tc, level: level, version: version}
}

// Direction compares a new escalation level with the previous one.
func Direction(previous, next int) string {
	switch {
	case next > previous:
		return DirectionEscalated
	case next < previous:
		return DirectionDeescalated
	default:
		return DirectionUnchanged
	}
}

func (e *Executor) updateEscalationLevel(ctx context.Context, call UpdateEscalationLevel, tc *tenancy.TenantContext) (Result, error) {
	leaseID := tc.Lease.ID
	previous := tc.EscalationLevel

	var stored *persistence.ConversationContext
	err := e.store.WithRetry(ctx, "get conversation context", func(ctx context.Context) error {
		var err error
		stored, err = e.store.GetConversationContext(ctx, leaseID)
		if errors.Is(err, persistence.ErrNotFound) {
			stored = nil
			return nil
		}
		return err
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to load conversation context for lease %s: %w", leaseID, err)
	}

	cc := &persistence.ConversationContext{LeaseID: leaseID}
	if stored != nil {
		cc = stored
	}
	expected, expectedVersion := e.expectedEscalation(leaseID, tc)
	current := cc.OpenThreads.Level(tenancy.DefaultEscalationLevel)
	if current != expected || (expectedVersion >= 0 && cc.Version != expectedVersion) {
		e.recorder.ObserveConflict(ToolUpdateEscalationLevel)
		return Result{}, fmt.Errorf("%w: expected level %d, stored level is %d", ErrEscalationConflict, expected, current)
	}

	cc.OpenThreads.SetLevel(call.NewLevel, call.Reason, e.now().UTC())
	if err := e.store.SaveConversationContext(ctx, cc); err != nil {
		if errors.Is(err, persistence.ErrStaleWrite) {
			e.recorder.ObserveConflict(ToolUpdateEscalationLevel)
			return Result{}, fmt.Errorf("%w: %v", ErrEscalationConflict, err) //nolint:errorlint // conflict is the sentinel callers match
		}
		return Result{}, fmt.Errorf("failed to save escalation level: %w", err)
	}
	e.recordEscalation(leaseID, tc, call.NewLevel, cc.Version)

	// Direction is always relative to the level the tenant saw at the start of the turn.
	direction := Direction(previous, call.NewLevel)
	if err := e.audit(ctx, tc, call, "escalation",
		fmt.Sprintf("Escalation level changed from %d to %d. Reason: %s", expected, call.NewLevel, call.Reason),
		fmt.Sprintf("New level: %d", call.NewLevel), 1.0); err != nil {
		return Result{}, err
	}

	res := Result{
		Success: true,
		Data: map[string]any{
			"previous_level": previous,
			"new_level":      call.NewLevel,
			"direction":      direction,
		},
	}
	if call.NewLevel >= 3 {
		unit, _ := e.unitLabel(tc)
		res.IsHighSeverity = true
		res.LandlordNotificationMessage = fmt.Sprintf("Escalation level updated to %d/4 for %s at %s. Reason: %s",
			call.NewLevel, e.tenantName(tc), unit, call.Reason)
		if err := e.notifyLandlord(ctx, tc, &persistence.LandlordNotification{
			NotificationType:  NotificationGeneral,
			Message:           res.LandlordNotificationMessage,
			RequiresSignature: call.NewLevel == 4,
		}); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}
