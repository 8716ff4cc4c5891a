package runner

// State is the lifecycle state of a Runner.
type State int32

const (
	StateStarting State = iota
	StateAttached
	StateRunning
	StateDraining
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateAttached:
		return "attached"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the runner will not change state again.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateFailed
}
