package toolloop

import (
	"errors"
	"fmt"
)

var (
	// ErrIterationLimit records that the loop hit its ceiling before the model ended the turn.
	// It is reported on AgentResult.Stopped, not returned from Run.
	ErrIterationLimit = errors.New("iteration limit reached")

	// ErrCancelled indicates the turn's context ended before the loop finished.
	ErrCancelled = errors.New("agent turn cancelled")
)

// State is one step of the loop's state machine:
//
//	AwaitingModel -> ExecutingTools -> AwaitingModel | Done | Failed
type State int

const (
	StateAwaitingModel State = iota
	StateExecutingTools
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "AwaitingModel"
	case StateExecutingTools:
		return "ExecutingTools"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Terminal reports whether the loop stops in s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// AgentResult is what one conversational turn produced.
//
//nolint:govet // Field order optimized for readability over memory alignment
type AgentResult struct {
	FinalMessage         string
	ToolsUsed            []string
	HighSeverityActions  []string
	IntentClassification string
	ConfidenceScore      float64

	// Iterations is the number of inference calls made.
	Iterations int

	// Stopped is ErrIterationLimit when the ceiling ended the turn, nil otherwise.
	Stopped error
}
