// Package workflow implements the maintenance request lifecycle: submission, owner decision,
// vendor coordination and completion, driven through a closed state machine.
package workflow

import (
	"errors"
	"fmt"
	"slices"
)

// State is one stage of a maintenance workflow.
type State string

const (
	StateSubmitted              State = "SUBMITTED"
	StateOwnerNotified          State = "OWNER_NOTIFIED"
	StateOwnerResponded         State = "OWNER_RESPONDED"
	StateDecisionMade           State = "DECISION_MADE"
	StateVendorContacted        State = "VENDOR_CONTACTED"
	StateAwaitingVendorResponse State = "AWAITING_VENDOR_RESPONSE"
	StateETAConfirmed           State = "ETA_CONFIRMED"
	StateTenantNotified         State = "TENANT_NOTIFIED"
	StateInProgress             State = "IN_PROGRESS"
	StateCompleted              State = "COMPLETED"
	StateClosedDenied           State = "CLOSED_DENIED"
)

var (
	// ErrInvalidTransition matches every InvalidTransitionError.
	ErrInvalidTransition = errors.New("invalid workflow transition")

	// ErrNotFound is returned for an unknown workflow id.
	ErrNotFound = errors.New("workflow not found")

	// ErrConcurrentUpdate is returned when another writer changed the workflow first.
	ErrConcurrentUpdate = errors.New("workflow was updated concurrently")

	// ErrInvalidInput rejects malformed command arguments.
	ErrInvalidInput = errors.New("invalid workflow input")
)

// InvalidTransitionError reports a command that the current state does not allow.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %s to %s", e.From, e.To)
}

// Is makes errors.Is(err, ErrInvalidTransition) true.
func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// validTransitions defines the workflow state machine.
//
//nolint:gochecknoglobals // Intentional package-level constant for state machine definition
var validTransitions = map[State][]State{
	StateSubmitted: {
		StateOwnerNotified,
		StateDecisionMade, // auto-approved by landlord policy
	},
	StateOwnerNotified: {
		StateOwnerResponded,
		StateClosedDenied,
	},
	StateOwnerResponded: {
		StateDecisionMade,
	},
	StateDecisionMade: {
		StateVendorContacted,
		StateInProgress, // no vendor required
	},
	StateVendorContacted: {
		StateAwaitingVendorResponse,
	},
	StateAwaitingVendorResponse: {
		StateETAConfirmed,
	},
	StateETAConfirmed: {
		StateTenantNotified,
	},
	StateTenantNotified: {
		StateInProgress,
	},
	StateInProgress: {
		StateCompleted,
	},
	StateCompleted: {
		// Terminal
	},
	StateClosedDenied: {
		// Terminal
	},
}

// AllStates returns every workflow state in lifecycle order.
func AllStates() []State {
	return []State{
		StateSubmitted, StateOwnerNotified, StateOwnerResponded, StateDecisionMade,
		StateVendorContacted, StateAwaitingVendorResponse, StateETAConfirmed, StateTenantNotified,
		StateInProgress, StateCompleted, StateClosedDenied,
	}
}

// VendorOnlyStates never appear on a workflow whose analysis needs no vendor.
func VendorOnlyStates() []State {
	return []State{StateVendorContacted, StateAwaitingVendorResponse, StateETAConfirmed, StateTenantNotified}
}

// IsValidState checks membership in the closed state set.
func IsValidState(s State) bool {
	_, ok := validTransitions[s]
	return ok
}

// ValidNextStates returns the states reachable from s in one step.
func ValidNextStates(from State) []State {
	return validTransitions[from]
}

// CanTransition reports whether from -> to is defined.
func CanTransition(from, to State) bool {
	return slices.Contains(validTransitions[from], to)
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s State) bool {
	return IsValidState(s) && len(validTransitions[s]) == 0
}

// Decision is an owner's answer to a submitted request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionDenied   Decision = "denied"
	DecisionQuestion Decision = "question"
)

// ParseDecision validates a decision string.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionApproved, DecisionDenied, DecisionQuestion:
		return d, nil
	default:
		return "", fmt.Errorf("%w: decision must be approved, denied or question, got %q", ErrInvalidInput, s)
	}
}
