package pipeline

import (
	"fmt"

	"github.com/TheMichaelB/obseal/internal/models"
)

// State is a step of one pipeline run.
type State string

const (
	StateIdle          State = "idle"
	StateLoading       State = "loading"
	StateDigesting     State = "digesting"
	StateCompressing   State = "compressing"
	StateDecompressing State = "decompressing"
	StateCiphering     State = "ciphering"
	StateObfuscating   State = "obfuscating"
	StateVerifying     State = "verifying"
	StatePersisting    State = "persisting"
	StateCompleted     State = "completed"
	StateDismissed     State = "dismissed" // save was declined
	StateFailed        State = "failed"
)

// IsTerminal reports whether the state ends a run.
func IsTerminal(s State) bool {
	switch s {
	case StateCompleted, StateDismissed, StateFailed:
		return true
	default:
		return false
	}
}

var sealPath = []State{
	StateIdle, StateLoading, StateDigesting, StateCompressing,
	StateCiphering, StateObfuscating, StatePersisting, StateCompleted,
}

var unsealPath = []State{
	StateIdle, StateLoading, StateObfuscating, StateCiphering,
	StateDecompressing, StateVerifying, StatePersisting, StateCompleted,
}

// Machine tracks the linear state sequence of one run. It is not safe for
// concurrent use; each run owns its own.
type Machine struct {
	path    []State
	pos     int
	current State
	history []State
}

// NewMachine creates a machine in StateIdle for the given direction.
func NewMachine(dir models.Direction) *Machine {
	path := sealPath
	if dir == models.DirectionUnseal {
		path = unsealPath
	}
	return &Machine{
		path:    path,
		current: StateIdle,
		history: []State{StateIdle},
	}
}

// State returns the current state.
func (m *Machine) State() State {
	return m.current
}

// History returns every state entered, in order.
func (m *Machine) History() []State {
	return append([]State(nil), m.history...)
}

// Advance moves to the next state. Only the immediate successor on the
// direction's path is allowed, plus Persisting -> Dismissed.
func (m *Machine) Advance(to State) error {
	if IsTerminal(m.current) {
		return fmt.Errorf("invalid transition: %s is terminal", m.current)
	}

	switch {
	case m.current == StatePersisting && to == StateDismissed:
	case m.pos+1 < len(m.path) && m.path[m.pos+1] == to:
		m.pos++
	default:
		return fmt.Errorf("disallowed transition: %s -> %s", m.current, to)
	}

	m.current = to
	m.history = append(m.history, to)
	return nil
}

// Fail moves any non-terminal state to StateFailed.
func (m *Machine) Fail() error {
	if IsTerminal(m.current) {
		return fmt.Errorf("cannot fail from terminal state %s", m.current)
	}
	m.current = StateFailed
	m.history = append(m.history, StateFailed)
	return nil
}
