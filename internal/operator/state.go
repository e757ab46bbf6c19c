package operator

import "time"

// State is the in-process lifecycle state of an operator instance.
type State string

const (
	StateNone         State = ""
	StateInit         State = "init"
	StateRunning      State = "running"
	StateShuttingDown State = "shutting_down"
	StateTerminated   State = "terminated"
	StateErrored      State = "errored"
)

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == StateTerminated || s == StateErrored
}

var displayNames = map[State]string{
	StateNone:         "None",
	StateInit:         "Init",
	StateRunning:      "Running",
	StateShuttingDown: "ShuttingDown",
	StateTerminated:   "Terminated",
	StateErrored:      "Errored",
}

// DisplayName returns the capitalized name used in reports.
func (s State) DisplayName() string {
	if name, ok := displayNames[s]; ok {
		return name
	}
	return string(s)
}

var transitions = map[State][]State{
	StateNone:         {StateInit},
	StateInit:         {StateRunning, StateShuttingDown, StateErrored},
	StateRunning:      {StateShuttingDown, StateErrored},
	StateShuttingDown: {StateTerminated, StateErrored},
}

// CanTransition reports whether from → to is a legal forward transition.
func CanTransition(from, to State) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition is one observed state change.
type Transition struct {
	Operator    string
	From        State
	To          State
	At          time.Time
	Interrupted bool
	Cause       error
}
