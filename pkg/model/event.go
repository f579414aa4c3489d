package model

// EventKind identifies a scheduler event reported to diagnostics.
type EventKind string

const (
	EventCreate   EventKind = "create"
	EventDispatch EventKind = "dispatch"
	EventPreempt  EventKind = "preempt"
	EventYield    EventKind = "yield"
	EventBlock    EventKind = "block"
	EventWait     EventKind = "wait"
	EventWake     EventKind = "wake"
	EventExit     EventKind = "exit"
	EventPanic    EventKind = "panic"
	EventIdle     EventKind = "idle"
	EventReclaim  EventKind = "reclaim"
	EventPriority EventKind = "priority"
)

// Event is one structured diagnostic record. Err carries the error value
// (a *TaskPanicError for EventPanic); Error is its persisted text.
type Event struct {
	Seq    uint64       `json:"seq"`
	Tick   uint64       `json:"tick"`
	Kind   EventKind    `json:"kind"`
	PID    uint32       `json:"pid,omitempty"`
	Name   string       `json:"name,omitempty"`
	State  ProcessState `json:"state,omitempty"`
	Detail string       `json:"detail,omitempty"`
	Error  string       `json:"error,omitempty"`
	Err    error        `json:"-"`
}
