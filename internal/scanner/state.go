package scanner

// State is the scanner lifecycle state.
type State int

const (
	Idle State = iota
	Acquiring
	Scanning
	ResultPending
	Error
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Acquiring:
		return "acquiring"
	case Scanning:
		return "scanning"
	case ResultPending:
		return "result-pending"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name in JSON and TOML output.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

type event string

const (
	eventStart         event = "start"
	eventAcquired      event = "acquired"
	eventAcquireFailed event = "acquire-failed"
	eventDecoded       event = "decoded"
	eventCancel        event = "cancel"
	eventStreamFailed  event = "stream-failed"
	eventDismiss       event = "dismiss"
	eventRetry         event = "retry"
)

// transitions lists every legal move. Teardown is handled separately since
// it is legal from every state.
var transitions = map[State]map[event]State{
	Idle: {
		eventStart: Acquiring,
	},
	Acquiring: {
		eventAcquired:      Scanning,
		eventAcquireFailed: Error,
		eventCancel:        Idle,
	},
	Scanning: {
		eventDecoded:      ResultPending,
		eventCancel:       Idle,
		eventStreamFailed: Error,
	},
	ResultPending: {
		eventDismiss: Idle,
	},
	Error: {
		eventRetry:  Acquiring,
		eventCancel: Idle,
	},
}

func nextState(from State, ev event) (State, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}
