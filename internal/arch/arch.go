// Package arch defines the narrow interface between the scheduler and the
// architecture-specific context-switch primitive. The scheduler never sees
// register layouts; it only moves the CPU between Contexts.
package arch

import (
	"errors"
	"fmt"
)

// Context is one saved execution context, bound to the core that created it.
type Context interface {
	// Save pushes the live register file onto the context's stack and
	// records the resulting stack pointer.
	Save() error

	// Restore loads the live register file from the frame at the saved
	// stack pointer and resumes at its saved instruction pointer.
	Restore() error

	// SetEntry synthesizes the first-dispatch frame for a never-run
	// process so that Restore starts it at entry.
	SetEntry(entry uint64) error

	// StackPointer returns the saved stack pointer, 0 if nothing was saved.
	StackPointer() uint64
}

// Core is one logical CPU as seen by the scheduler.
type Core interface {
	// NewContext binds a context to the stack [base, base+size).
	NewContext(base, size uint64) (Context, error)

	// Switch stores the live registers into old and loads them from new.
	// It must be called with interrupts disabled and is not reentrant.
	// enabled is the interrupt state old had before the caller masked
	// interrupts; it is saved with old and comes back when old is resumed.
	// After a completed switch the interrupt state is the one saved with
	// new, so the caller must not restore its own.
	Switch(old, new Context, enabled bool) error

	// Resume loads new without saving anything, discarding the outgoing
	// context. Same preconditions and interrupt handling as Switch.
	Resume(new Context) error

	// DisableInterrupts masks interrupts and reports whether they were
	// enabled before the call.
	DisableInterrupts() bool

	// RestoreInterrupts re-enables interrupts if enabled is true.
	RestoreInterrupts(enabled bool)

	// WaitForInterrupt parks the core until the next interrupt.
	WaitForInterrupt()
}

var (
	ErrInterruptsEnabled = errors.New("context switch with interrupts enabled")
	ErrReentrantSwitch   = errors.New("reentrant context switch")
	ErrForeignContext    = errors.New("context belongs to another core")
	ErrNoSavedFrame      = errors.New("context has no saved frame")
	ErrStackOverflow     = errors.New("kernel stack overflow")
	ErrStackCorrupt      = errors.New("saved stack pointer outside its stack")
	ErrMisalignedStack   = errors.New("stack top is not 16-byte aligned")
	ErrZeroEntry         = errors.New("entry point is zero")
)

// SwitchPhase identifies which half of a switch failed.
type SwitchPhase string

const (
	PhaseSave    SwitchPhase = "save"
	PhaseRestore SwitchPhase = "restore"
)

// SwitchError reports a failed save or restore. A failed save leaves the
// live registers untouched; a failed restore happens after old was saved.
type SwitchError struct {
	Phase SwitchPhase
	Err   error
}

func (e *SwitchError) Error() string {
	return fmt.Sprintf("context switch %s: %v", e.Phase, e.Err)
}

func (e *SwitchError) Unwrap() error {
	return e.Err
}
