package scheduler

import (
	"fmt"
	"log/slog"

	"github.com/me/kernsim/pkg/model"
)

// Config holds scheduler configuration.
type Config struct {
	MaxProcesses     int    // Process table capacity (default 256)
	DefaultTimeSlice uint8  // Quantum in ticks granted on each dispatch (default 5)
	MaxPriority      uint8  // Highest accepted priority; higher runs first
	KernelStackSize  uint64 // Required kernel stack size in bytes (default 8 KiB)
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		MaxProcesses:     256,
		DefaultTimeSlice: 5,
		MaxPriority:      255,
		KernelStackSize:  8 * 1024,
	}
}

// Validate checks the configuration for values the scheduler cannot run with.
func (c Config) Validate() error {
	if c.MaxProcesses <= 0 {
		return fmt.Errorf("max processes must be positive, got %d", c.MaxProcesses)
	}
	if c.DefaultTimeSlice == 0 {
		return fmt.Errorf("default time slice must be positive")
	}
	if c.KernelStackSize == 0 || c.KernelStackSize%16 != 0 {
		return fmt.Errorf("kernel stack size must be a positive multiple of 16, got %d", c.KernelStackSize)
	}
	return nil
}

// Diagnostics receives structured scheduler events. The scheduler never
// prints; faults arrive here as events carrying a *model.TaskPanicError.
type Diagnostics interface {
	Report(ev model.Event)
}

// DiagnosticsFunc adapts a function to Diagnostics.
type DiagnosticsFunc func(ev model.Event)

// Report calls f(ev).
func (f DiagnosticsFunc) Report(ev model.Event) { f(ev) }

type nopDiagnostics struct{}

func (nopDiagnostics) Report(model.Event) {}

// Option configures optional Scheduler dependencies.
type Option func(*Scheduler)

// WithLogger sets the debug logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger.With("component", "scheduler")
	}
}

// WithDiagnostics sets the event sink.
func WithDiagnostics(d Diagnostics) Option {
	return func(s *Scheduler) {
		s.diag = d
	}
}
