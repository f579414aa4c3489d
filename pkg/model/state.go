package model

// ProcessState represents the scheduling state of a Process.
type ProcessState string

const (
	ProcessStateReady      ProcessState = "READY"
	ProcessStateBlocked    ProcessState = "BLOCKED"
	ProcessStateRunning    ProcessState = "RUNNING"
	ProcessStateWaiting    ProcessState = "WAITING"
	ProcessStateTerminated ProcessState = "TERMINATED"
)

// String returns the string representation of the process state.
func (s ProcessState) String() string {
	return string(s)
}

// IsTerminal returns true if the process can never run again.
func (s ProcessState) IsTerminal() bool {
	return s == ProcessStateTerminated
}

// IsSuspended returns true for states that leave the run queue until a wake.
func (s ProcessState) IsSuspended() bool {
	return s == ProcessStateBlocked || s == ProcessStateWaiting
}

// ValidProcessTransitions defines the allowed state transitions for Processes.
// TERMINATED has no entry: it is absorbing.
var ValidProcessTransitions = map[ProcessState][]ProcessState{
	ProcessStateReady:   {ProcessStateRunning},
	ProcessStateRunning: {ProcessStateReady, ProcessStateBlocked, ProcessStateWaiting, ProcessStateTerminated},
	ProcessStateBlocked: {ProcessStateReady},
	ProcessStateWaiting: {ProcessStateReady},
}

// CanTransitionTo returns true if moving from the current state to next is valid.
func (s ProcessState) CanTransitionTo(next ProcessState) bool {
	for _, allowed := range ValidProcessTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ParseProcessState converts an API string into a ProcessState.
func ParseProcessState(s string) (ProcessState, bool) {
	switch st := ProcessState(s); st {
	case ProcessStateReady, ProcessStateBlocked, ProcessStateRunning, ProcessStateWaiting, ProcessStateTerminated:
		return st, true
	}
	return "", false
}
