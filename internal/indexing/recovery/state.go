package recovery

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for a state change not in ValidTransitions.
var ErrInvalidTransition = errors.New("invalid recovery state transition")

// State of a recovery pass.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateCompleted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ValidTransitions lists the states reachable from each state. An aborted
// pass may run again when the retry policy allows it.
var ValidTransitions = map[State][]State{
	StateIdle:      {StateRunning},
	StateRunning:   {StateCompleted, StateAborted},
	StateAborted:   {StateRunning},
	StateCompleted: {},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
