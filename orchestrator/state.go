package orchestrator

// State is a channel lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateActive  State = "active"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// transitions lists the allowed moves. Any state may move to Stopped.
var transitions = map[State][]State{
	StateIdle:    {StateLoading},
	StateLoading: {StateReady},
	StateReady:   {StateActive},
	StateActive:  {StatePaused},
	StatePaused:  {StateActive},
	StateStopped: {StateLoading},
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to State) bool {
	if to == StateStopped {
		return from != StateStopped
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// acquired reports whether the channel holds its resource in state s.
func (s State) acquired() bool {
	return s == StateReady || s == StateActive || s == StatePaused
}
