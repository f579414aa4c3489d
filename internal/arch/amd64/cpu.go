package amd64

import (
	"sync/atomic"

	"github.com/me/kernsim/internal/arch"
)

// CPU is a simulated x86-64 core. Regs is the live register file; the
// process currently on the core reads and writes it directly.
//
// Interrupt masking is the IF bit of Regs.RFLAGS, so a saved frame carries
// the interrupt state of the context it was saved from.
type CPU struct {
	Regs Registers

	mem       Memory
	switching atomic.Bool
	halts     atomic.Uint64
	switches  atomic.Uint64
}

var _ arch.Core = (*CPU)(nil)

// NewCPU returns a core with interrupts enabled, running on the boot stack
// whose top is bootStackTop.
func NewCPU(mem Memory, bootStackTop uint64) *CPU {
	return &CPU{
		Regs: Registers{RSP: bootStackTop, RFLAGS: InitialFlags},
		mem:  mem,
	}
}

// NewContext binds a context to the stack [base, base+size).
func (c *CPU) NewContext(base, size uint64) (arch.Context, error) {
	if size < FrameSize {
		return nil, arch.ErrStackOverflow
	}
	return &Context{cpu: c, base: base, top: base + size}, nil
}

// InterruptsEnabled reports the IF bit of the live RFLAGS.
func (c *CPU) InterruptsEnabled() bool {
	return c.Regs.RFLAGS&FlagIF != 0
}

// DisableInterrupts clears IF and returns its previous value.
func (c *CPU) DisableInterrupts() bool {
	was := c.InterruptsEnabled()
	c.Regs.RFLAGS &^= FlagIF
	return was
}

// RestoreInterrupts sets IF again if enabled is true.
func (c *CPU) RestoreInterrupts(enabled bool) {
	if enabled {
		c.Regs.RFLAGS |= FlagIF
	}
}

// WaitForInterrupt models hlt. The simulated core has nothing to do until
// the next interrupt is delivered, so it only counts the halt.
func (c *CPU) WaitForInterrupt() {
	c.halts.Add(1)
}

// Halts returns how many times the core halted.
func (c *CPU) Halts() uint64 {
	return c.halts.Load()
}

// Switches returns how many switches and resumes completed.
func (c *CPU) Switches() uint64 {
	return c.switches.Load()
}

// Switch saves the live registers into old, with IF set to enabled, and
// loads new including its saved IF.
func (c *CPU) Switch(old, new arch.Context, enabled bool) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.switching.Store(false)

	o, err := c.own(old)
	if err != nil {
		return &arch.SwitchError{Phase: arch.PhaseSave, Err: err}
	}
	n, err := c.own(new)
	if err != nil {
		return &arch.SwitchError{Phase: arch.PhaseSave, Err: err}
	}
	flags := c.Regs.RFLAGS &^ FlagIF
	if enabled {
		flags |= FlagIF
	}
	if err := o.save(flags); err != nil {
		return &arch.SwitchError{Phase: arch.PhaseSave, Err: err}
	}
	if err := n.Restore(); err != nil {
		return &arch.SwitchError{Phase: arch.PhaseRestore, Err: err}
	}
	c.switches.Add(1)
	return nil
}

// Resume loads new without saving the outgoing registers.
func (c *CPU) Resume(new arch.Context) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.switching.Store(false)

	n, err := c.own(new)
	if err != nil {
		return &arch.SwitchError{Phase: arch.PhaseRestore, Err: err}
	}
	if err := n.Restore(); err != nil {
		return &arch.SwitchError{Phase: arch.PhaseRestore, Err: err}
	}
	c.switches.Add(1)
	return nil
}

func (c *CPU) enter() error {
	if c.InterruptsEnabled() {
		return arch.ErrInterruptsEnabled
	}
	if !c.switching.CompareAndSwap(false, true) {
		return arch.ErrReentrantSwitch
	}
	return nil
}

func (c *CPU) own(ctx arch.Context) (*Context, error) {
	x, ok := ctx.(*Context)
	if !ok || x == nil || x.cpu != c {
		return nil, arch.ErrForeignContext
	}
	return x, nil
}
