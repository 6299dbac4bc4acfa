package testkit

import (
	"strings"
	"testing"

	"tenantops/pkg/persistence"
)

// vendorOnlyStates never appear on the self-resolution path.
var vendorOnlyStates = []string{"VENDOR_CONTACTED", "AWAITING_VENDOR_RESPONSE", "ETA_CONFIRMED", "TENANT_NOTIFIED"}

// HistoryStates returns the target state of each history entry in order.
func HistoryStates(history []persistence.StateEntry) []string {
	out := make([]string, len(history))
	for i := range history {
		out[i] = history[i].To
	}
	return out
}

// AssertStatePath verifies the history visits exactly the given states in order.
func AssertStatePath(t *testing.T, wf *persistence.MaintenanceWorkflow, expected ...string) {
	t.Helper()
	got := HistoryStates(wf.StateHistory)
	if strings.Join(got, ",") != strings.Join(expected, ",") {
		t.Errorf("Expected state path %v, got %v", expected, got)
	}
	if len(expected) > 0 && wf.CurrentState != expected[len(expected)-1] {
		t.Errorf("Expected current state %s, got %s", expected[len(expected)-1], wf.CurrentState)
	}
}

// AssertHistoryChained verifies each entry starts where the previous one ended.
func AssertHistoryChained(t *testing.T, wf *persistence.MaintenanceWorkflow) {
	t.Helper()
	for i := 1; i < len(wf.StateHistory); i++ {
		prev, cur := wf.StateHistory[i-1], wf.StateHistory[i]
		if cur.From != prev.To {
			t.Errorf("History entry %d starts at %s but previous ended at %s", i, cur.From, prev.To)
		}
		if cur.At.Before(prev.At) {
			t.Errorf("History entry %d is earlier than entry %d", i, i-1)
		}
	}
}

// AssertNoVendorStates verifies the history never entered a vendor-only state.
func AssertNoVendorStates(t *testing.T, wf *persistence.MaintenanceWorkflow) {
	t.Helper()
	for _, entry := range wf.StateHistory {
		for _, s := range vendorOnlyStates {
			if entry.To == s {
				t.Errorf("Unexpected vendor-only state %s in history of %s", s, wf.ID)
			}
		}
	}
}

// AssertCommunication verifies some message from sender contains substr.
func AssertCommunication(t *testing.T, comms []*persistence.WorkflowCommunication, sender, substr string) {
	t.Helper()
	for _, c := range comms {
		if c.SenderType == sender && strings.Contains(c.Message, substr) {
			return
		}
	}
	t.Errorf("Expected a %s communication containing %q", sender, substr)
}

// AssertNoCommunication verifies no message contains substr.
func AssertNoCommunication(t *testing.T, comms []*persistence.WorkflowCommunication, substr string) {
	t.Helper()
	for _, c := range comms {
		if strings.Contains(c.Message, substr) {
			t.Errorf("Unexpected %s communication containing %q: %s", c.SenderType, substr, c.Message)
		}
	}
}

// AssertNotification verifies the landlord received a notification of the given type.
func AssertNotification(t *testing.T, notes []*persistence.LandlordNotification, notificationType string) *persistence.LandlordNotification {
	t.Helper()
	for _, n := range notes {
		if n.NotificationType == notificationType {
			return n
		}
	}
	t.Errorf("Expected a %s landlord notification, got %d others", notificationType, len(notes))
	return nil
}
