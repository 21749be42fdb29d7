package scanner

// State is a progression controller state.
type State string

const (
	StateIdle             State = "IDLE"
	StateGathering        State = "GATHERING"
	StateAnalyzing        State = "ANALYZING"
	StateAwaitingBreakout State = "AWAITING_BREAKOUT"
	StateSimulating       State = "SIMULATING"
	StateValidating       State = "VALIDATING"
	StateTransitioning    State = "TRANSITIONING"
	StateCompleted        State = "COMPLETED"
	StateStopped          State = "STOPPED"
)

// Terminal reports whether no further transition can leave the state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateStopped
}

// PerTimeframe reports whether the state belongs to a timeframe cycle.
func (s State) PerTimeframe() bool {
	switch s {
	case StateGathering, StateAnalyzing, StateAwaitingBreakout, StateSimulating, StateValidating:
		return true
	}
	return false
}

// transitions lists the states reachable from each state. Stopped is
// reachable from every non-terminal state and is not listed.
var transitions = map[State][]State{
	StateIdle:             {StateGathering},
	StateGathering:        {StateAnalyzing, StateValidating},
	StateAnalyzing:        {StateAwaitingBreakout, StateValidating},
	StateAwaitingBreakout: {StateSimulating, StateValidating},
	StateSimulating:       {StateValidating},
	StateValidating:       {StateTransitioning},
	StateTransitioning:    {StateGathering, StateCompleted},
}

// CanTransition reports whether the controller may move from s to next.
func (s State) CanTransition(next State) bool {
	if s.Terminal() {
		return false
	}
	if next == StateStopped {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
