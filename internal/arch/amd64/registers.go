// Package amd64 is the software-simulated x86-64 core behind arch.Core.
//
// The register file, the saved frame layout and the first-dispatch
// trampoline share one slot table (frameSlots), which is the bit-exact
// contract a hardware port of Switch would have to honour.
package amd64

// RFLAGS bits used by the scheduler.
const (
	FlagReserved uint64 = 1 << 1 // always one
	FlagIF       uint64 = 1 << 9 // interrupt enable

	// InitialFlags is the RFLAGS image of a never-run process: interrupts
	// enabled plus the reserved bit (0x202).
	InitialFlags = FlagIF | FlagReserved
)

// Registers is the live general-purpose register file plus RIP and RFLAGS.
type Registers struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP, RSP uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP                uint64
	RFLAGS             uint64
}

// Named returns the registers keyed by lower-case name.
func (r *Registers) Named() map[string]uint64 {
	m := make(map[string]uint64, len(registerNames))
	for _, n := range registerNames {
		m[n] = *r.byName(n)
	}
	return m
}

// Set assigns a register by lower-case name. Unknown names return false.
func (r *Registers) Set(name string, v uint64) bool {
	p := r.byName(name)
	if p == nil {
		return false
	}
	*p = v
	return true
}

var registerNames = []string{
	"rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
	"rip", "rflags",
}

func (r *Registers) byName(name string) *uint64 {
	switch name {
	case "rax":
		return &r.RAX
	case "rbx":
		return &r.RBX
	case "rcx":
		return &r.RCX
	case "rdx":
		return &r.RDX
	case "rsi":
		return &r.RSI
	case "rdi":
		return &r.RDI
	case "rbp":
		return &r.RBP
	case "rsp":
		return &r.RSP
	case "r8":
		return &r.R8
	case "r9":
		return &r.R9
	case "r10":
		return &r.R10
	case "r11":
		return &r.R11
	case "r12":
		return &r.R12
	case "r13":
		return &r.R13
	case "r14":
		return &r.R14
	case "r15":
		return &r.R15
	case "rip":
		return &r.RIP
	case "rflags":
		return &r.RFLAGS
	}
	return nil
}
