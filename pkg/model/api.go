package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination holds pagination metadata for list endpoints.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions configures list queries with pagination and filtering.
type ListOptions struct {
	Limit  int
	Offset int
	Kind   string // Optional event kind filter
	PID    uint32 // Optional pid filter (0 = all)
}

// DefaultListOptions returns sensible defaults.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 50, Offset: 0}
}

// Clamp enforces limits (max 500, min 1).
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// CreateProcessRequest is the body of POST /api/v1/processes.
type CreateProcessRequest struct {
	Name     string           `json:"name"`
	UID      uint32           `json:"uid"`
	Priority uint8            `json:"priority"`
	Program  string           `json:"program,omitempty"`
	Script   string           `json:"script,omitempty"`
	Args     map[string]int64 `json:"args,omitempty"`
}

// SetPriorityRequest is the body of PUT /api/v1/processes/{pid}/priority.
type SetPriorityRequest struct {
	Priority uint8 `json:"priority"`
}

// Run is one recorded machine run in the trace store.
type Run struct {
	ID         string     `json:"id"`
	Config     string     `json:"config"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Ticks      uint64     `json:"ticks"`
}
