package amd64

import (
	"fmt"

	"github.com/me/kernsim/internal/arch"
)

// BuildInitialFrame writes the first-dispatch frame of a never-run process
// at the top of its kernel stack and returns the resulting stack pointer.
//
// From the top down: the entry point in the RIP slot, InitialFlags in the
// RFLAGS slot, then zero for every general-purpose slot. Restoring this
// frame is indistinguishable from resuming a process that was switched out
// at entry with a cleared register file.
func BuildInitialFrame(mem Memory, stackTop, entry uint64) (uint64, error) {
	if entry == 0 {
		return 0, arch.ErrZeroEntry
	}
	if stackTop == 0 || stackTop%16 != 0 {
		return 0, fmt.Errorf("%w: top %#x", arch.ErrMisalignedStack, stackTop)
	}
	if stackTop < FrameSize {
		return 0, arch.ErrStackOverflow
	}

	regs := Registers{RIP: entry, RFLAGS: InitialFlags}
	sp := stackTop - FrameSize
	if err := writeFrame(mem, sp, &regs); err != nil {
		return 0, fmt.Errorf("write initial frame: %w", err)
	}
	return sp, nil
}
