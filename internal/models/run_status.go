package models

// RunStatus represents the current state of a run in its lifecycle.
type RunStatus string

const (
	StatusQueued    RunStatus = "queued"
	StatusBuilding  RunStatus = "building"
	StatusDeploying RunStatus = "deploying"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusStopped   RunStatus = "stopped"
)

// validTransitions defines the allowed state transitions for runs.
// The state machine is: queued → building → deploying → succeeded,
// with failed reachable from queued, building and deploying, and
// stopped reachable from any non-terminal state.
var validTransitions = map[RunStatus][]RunStatus{
	StatusQueued:    {StatusBuilding, StatusDeploying, StatusFailed, StatusStopped},
	StatusBuilding:  {StatusBuilding, StatusDeploying, StatusFailed, StatusStopped},
	StatusDeploying: {StatusSucceeded, StatusFailed, StatusStopped},
	StatusSucceeded: {},
	StatusFailed:    {},
	StatusStopped:   {},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status accepts no further transitions.
func (s RunStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusStopped
}

// Valid reports whether the value is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusBuilding, StatusDeploying, StatusSucceeded, StatusFailed, StatusStopped:
		return true
	}
	return false
}
