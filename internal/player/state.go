package player

// State is the lifecycle state of the player and of each of its streams.
type State int32

const (
	StateIdle State = iota
	StateOpened
	StateRunning
	StateSeeking
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateOpened:
		return "opened"
	case StateRunning:
		return "running"
	case StateSeeking:
		return "seeking"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
