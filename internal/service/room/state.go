package room

// State is the lifecycle position of a room connection.
type State int

const (
	Idle State = iota
	Connecting
	Open
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Live reports whether the state counts against the single-connection limit.
func (s State) Live() bool {
	return s == Connecting || s == Open
}

// Status is the snapshot the manager publishes on every transition.
type Status struct {
	Room      string
	State     State
	Connected bool
}
