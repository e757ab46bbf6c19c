package deploy

import (
	"time"

	"github.com/alexisbeaulieu97/pipez/internal/operator"
)

// State is the coarse, externally observed state of one operator instance.
type State string

const (
	StateUnknown    State = "Unknown"
	StatePending    State = "Pending"
	StateRunning    State = "Running"
	StateCompleted  State = "Completed"
	StateFailed     State = "Failed"
	StateTerminated State = "Terminated"
)

// Terminal reports whether no further change is expected without a restart.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTerminated:
		return true
	}
	return false
}

func (s State) String() string { return string(s) }

// FromTransition maps a lifecycle transition to a deployment state.
// Terminated becomes Terminated rather than Completed when the instance was
// interrupted.
func FromTransition(t operator.Transition) State {
	switch t.To {
	case operator.StateInit:
		return StatePending
	case operator.StateRunning, operator.StateShuttingDown:
		return StateRunning
	case operator.StateTerminated:
		if t.Interrupted {
			return StateTerminated
		}
		return StateCompleted
	case operator.StateErrored:
		return StateFailed
	}
	return StateUnknown
}

// StateChange is one journaled state change of one instance.
type StateChange struct {
	Pipeline string    `json:"pipeline"`
	Operator string    `json:"operator"`
	From     State     `json:"from"`
	To       State     `json:"to"`
	Seq      uint64    `json:"seq"`
	At       time.Time `json:"at"`
}

// OnStateChange receives state changes during Attach. A returned error is
// logged and does not stop the wait.
type OnStateChange func(change StateChange) error
