package timing

// State is the lifecycle of a trigger generator or session.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateStoppedByLimit
	StateStoppedByUser
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStoppedByLimit:
		return "stopped_by_limit"
	case StateStoppedByUser:
		return "stopped_by_user"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}
