package amd64

// WordSize is the width of one stack slot.
const WordSize = 8

// Slot indexes one word of a saved frame, counted upward from the saved
// stack pointer. RSP itself is never stored: it is the frame address.
type Slot int

const (
	SlotR15 Slot = iota
	SlotR14
	SlotR13
	SlotR12
	SlotR11
	SlotR10
	SlotR9
	SlotR8
	SlotRBP
	SlotRDI
	SlotRSI
	SlotRDX
	SlotRCX
	SlotRBX
	SlotRAX
	SlotRFLAGS
	SlotRIP

	// FrameWords is the number of slots in a saved frame.
	FrameWords
)

// FrameSize is the size in bytes of a saved frame (0x88).
const FrameSize = uint64(FrameWords) * WordSize

// Offset returns the byte offset of the slot from the saved stack pointer.
func (s Slot) Offset() uint64 {
	return uint64(s) * WordSize
}

// frameSlots maps each slot to its register, in slot order.
var frameSlots = [FrameWords]func(r *Registers) *uint64{
	SlotR15:    func(r *Registers) *uint64 { return &r.R15 },
	SlotR14:    func(r *Registers) *uint64 { return &r.R14 },
	SlotR13:    func(r *Registers) *uint64 { return &r.R13 },
	SlotR12:    func(r *Registers) *uint64 { return &r.R12 },
	SlotR11:    func(r *Registers) *uint64 { return &r.R11 },
	SlotR10:    func(r *Registers) *uint64 { return &r.R10 },
	SlotR9:     func(r *Registers) *uint64 { return &r.R9 },
	SlotR8:     func(r *Registers) *uint64 { return &r.R8 },
	SlotRBP:    func(r *Registers) *uint64 { return &r.RBP },
	SlotRDI:    func(r *Registers) *uint64 { return &r.RDI },
	SlotRSI:    func(r *Registers) *uint64 { return &r.RSI },
	SlotRDX:    func(r *Registers) *uint64 { return &r.RDX },
	SlotRCX:    func(r *Registers) *uint64 { return &r.RCX },
	SlotRBX:    func(r *Registers) *uint64 { return &r.RBX },
	SlotRAX:    func(r *Registers) *uint64 { return &r.RAX },
	SlotRFLAGS: func(r *Registers) *uint64 { return &r.RFLAGS },
	SlotRIP:    func(r *Registers) *uint64 { return &r.RIP },
}

// Memory is the simulated physical memory the frames live in.
type Memory interface {
	Load64(addr uint64) (uint64, error)
	Store64(addr, val uint64) error
}

// writeFrame stores regs as a frame at sp.
func writeFrame(mem Memory, sp uint64, regs *Registers) error {
	for s, reg := range frameSlots {
		if err := mem.Store64(sp+Slot(s).Offset(), *reg(regs)); err != nil {
			return err
		}
	}
	return nil
}

// readFrame loads the frame at sp into regs. RSP is left untouched.
func readFrame(mem Memory, sp uint64, regs *Registers) error {
	for s, reg := range frameSlots {
		v, err := mem.Load64(sp + Slot(s).Offset())
		if err != nil {
			return err
		}
		*reg(regs) = v
	}
	return nil
}
