package model

import "fmt"

// ErrorCode represents a structured error code.
type ErrorCode string

// API error codes.
const (
	ErrValidation  ErrorCode = "VALIDATION_ERROR"
	ErrNotFound    ErrorCode = "NOT_FOUND"
	ErrConflict    ErrorCode = "CONFLICT"
	ErrUnavailable ErrorCode = "UNAVAILABLE"
	ErrInternal    ErrorCode = "INTERNAL_ERROR"
)

// Runtime error codes.
const (
	CodeTaskQueueFull         ErrorCode = "TASK_QUEUE_FULL"
	CodeRuntimeNotInitialized ErrorCode = "RUNTIME_NOT_INITIALIZED"
	CodeAlreadyInitialized    ErrorCode = "ALREADY_INITIALIZED"
	CodeNoCurrentProcess      ErrorCode = "NO_CURRENT_PROCESS"
	CodeInvalidImage          ErrorCode = "INVALID_IMAGE"
	CodeTaskPanic             ErrorCode = "TASK_PANIC"
)

// RuntimeError is an error surfaced by the scheduler to its immediate caller.
// Two RuntimeErrors match under errors.Is when their codes are equal.
type RuntimeError struct {
	Code    ErrorCode
	Message string
}

func (e *RuntimeError) Error() string {
	return e.Message
}

// Is reports whether target is a RuntimeError with the same code.
func (e *RuntimeError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	return ok && t.Code == e.Code
}

var (
	// ErrTaskQueueFull is returned when the process table is at capacity.
	ErrTaskQueueFull = &RuntimeError{Code: CodeTaskQueueFull, Message: "task queue is full"}

	// ErrRuntimeNotInitialized is returned by gated operations invoked before Init.
	ErrRuntimeNotInitialized = &RuntimeError{Code: CodeRuntimeNotInitialized, Message: "runtime not initialized"}

	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = &RuntimeError{Code: CodeAlreadyInitialized, Message: "runtime already initialized"}

	// ErrNoCurrentProcess is returned by operations on the running process
	// while the core is idle.
	ErrNoCurrentProcess = &RuntimeError{Code: CodeNoCurrentProcess, Message: "no process is running"}

	// ErrInvalidImage is wrapped by CreateProcess validation failures.
	ErrInvalidImage = &RuntimeError{Code: CodeInvalidImage, Message: "invalid process image"}
)

// TaskPanicError records an unrecoverable fault of a running process.
// The scheduler terminates the process and keeps scheduling others.
type TaskPanicError struct {
	PID   uint32
	Name  string
	Cause error
}

func (e *TaskPanicError) Error() string {
	return fmt.Sprintf("task panicked: pid %d (%s): %v", e.PID, e.Name, e.Cause)
}

func (e *TaskPanicError) Unwrap() error {
	return e.Cause
}

// Is matches a RuntimeError carrying CodeTaskPanic.
func (e *TaskPanicError) Is(target error) bool {
	t, ok := target.(*RuntimeError)
	return ok && t.Code == CodeTaskPanic
}

// ErrTaskPanic matches any *TaskPanicError under errors.Is.
var ErrTaskPanic = &RuntimeError{Code: CodeTaskPanic, Message: "task panicked"}

// ProcessNotFoundError is returned when a pid is not live.
type ProcessNotFoundError struct {
	PID uint32
}

func (e *ProcessNotFoundError) Error() string {
	return fmt.Sprintf("process %d not found", e.PID)
}

// InvalidTransitionError is returned when a state transition is invalid.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}

// NewProcessTransitionError builds an InvalidTransitionError for a process.
func NewProcessTransitionError(pid uint32, from, to ProcessState) *InvalidTransitionError {
	return &InvalidTransitionError{
		Entity: "process",
		ID:     fmt.Sprintf("%d", pid),
		From:   from.String(),
		To:     to.String(),
	}
}

// APIError is a structured error returned by the inspection API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}
