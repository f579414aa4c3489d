package amd64

import (
	"fmt"

	"github.com/me/kernsim/internal/arch"
)

// Context is a saved execution context: the stack pointer of a frame on a
// kernel stack owned by one process (or by the idle loop).
type Context struct {
	cpu  *CPU
	base uint64
	top  uint64
	sp   uint64
}

var _ arch.Context = (*Context)(nil)

// StackPointer returns the saved stack pointer, 0 if no frame is pending.
func (x *Context) StackPointer() uint64 {
	return x.sp
}

// Bounds returns the stack region [base, top).
func (x *Context) Bounds() (base, top uint64) {
	return x.base, x.top
}

// SetEntry builds the first-dispatch frame at the top of the stack.
func (x *Context) SetEntry(entry uint64) error {
	sp, err := BuildInitialFrame(x.cpu.mem, x.top, entry)
	if err != nil {
		return err
	}
	x.sp = sp
	return nil
}

// Save pushes a frame of the live registers below the live RSP.
func (x *Context) Save() error {
	return x.save(x.cpu.Regs.RFLAGS)
}

// save is Save with rflags stored in place of the live RFLAGS.
func (x *Context) save(rflags uint64) error {
	rsp := x.cpu.Regs.RSP
	if rsp > x.top || rsp < x.base+FrameSize {
		return fmt.Errorf("%w: rsp %#x, stack [%#x, %#x)", arch.ErrStackOverflow, rsp, x.base, x.top)
	}
	sp := rsp - FrameSize
	regs := x.cpu.Regs
	regs.RFLAGS = rflags
	if err := writeFrame(x.cpu.mem, sp, &regs); err != nil {
		return fmt.Errorf("save frame at %#x: %w", sp, err)
	}
	x.sp = sp
	return nil
}

// Restore pops the saved frame into the live registers. The register file
// is only replaced once the whole frame was read. A frame is consumed by
// Restore; the context is resumable again only after the next Save.
func (x *Context) Restore() error {
	if x.sp == 0 {
		return arch.ErrNoSavedFrame
	}
	if x.sp < x.base || x.sp+FrameSize > x.top {
		return fmt.Errorf("%w: sp %#x, stack [%#x, %#x)", arch.ErrStackCorrupt, x.sp, x.base, x.top)
	}
	var regs Registers
	if err := readFrame(x.cpu.mem, x.sp, &regs); err != nil {
		return fmt.Errorf("restore frame at %#x: %w", x.sp, err)
	}
	regs.RSP = x.sp + FrameSize
	x.cpu.Regs = regs
	x.sp = 0
	return nil
}
