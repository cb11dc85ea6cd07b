package agent

// State is a node of the conversation state machine.
type State int

const (
	StateDeciding State = iota
	StateActing
	StateDone
)

func (s State) String() string {
	switch s {
	case StateDeciding:
		return "deciding"
	case StateActing:
		return "acting"
	case StateDone:
		return "done"
	}
	return "unknown"
}

type event int

const (
	eventToolCalls event = iota // the model asked for tools
	eventAnswer                 // the model answered
	eventRoundCap
	eventTimeout
	eventToolsDone
)

var transitions = map[State]map[event]State{
	StateDeciding: {
		eventToolCalls: StateActing,
		eventAnswer:    StateDone,
		eventRoundCap:  StateDone,
		eventTimeout:   StateDone,
	},
	StateActing: {
		eventToolsDone: StateDeciding,
	},
}

// transition returns the next state. Events a state does not expect end
// the conversation.
func transition(s State, ev event) State {
	if next, ok := transitions[s][ev]; ok {
		return next
	}
	return StateDone
}
