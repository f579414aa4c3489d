package model

// Process is the process control block: identity, scheduling state and the
// location of the saved execution context of one task.
type Process struct {
	PID   uint32       `json:"pid"`
	Name  string       `json:"name"`
	UID   uint32       `json:"uid"`
	State ProcessState `json:"state"`

	Priority  uint8 `json:"priority"`
	TimeSlice uint8 `json:"time_slice"`

	KernelStackBase    uint64 `json:"kernel_stack_base"`
	KernelStackSize    uint64 `json:"kernel_stack_size"`
	KernelStackPointer uint64 `json:"kernel_stack_pointer"`
	UserStackBase      uint64 `json:"user_stack_base"`
	UserStackSize      uint64 `json:"user_stack_size"`
	UserStackPointer   uint64 `json:"user_stack_pointer"`

	// PML4PhysAddr is the address-space root. It is owned by the memory
	// subsystem and never interpreted by the scheduler.
	PML4PhysAddr uint64 `json:"pml4_phys_addr"`

	// EntryPoint is only meaningful until the first dispatch; after that
	// the saved context supersedes it.
	EntryPoint uint64 `json:"entry_point"`

	CPUTime      uint64 `json:"cpu_time"`
	LastDispatch uint64 `json:"last_dispatch"`
	Dispatches   uint64 `json:"dispatches"`
	CreatedTick  uint64 `json:"created_tick"`

	BlockReason string `json:"block_reason,omitempty"`
	WakeTick    uint64 `json:"wake_tick,omitempty"`
	ExitStatus  int    `json:"exit_status"`
	ExitCause   string `json:"exit_cause,omitempty"`
}

// KernelStackTop returns the first address above the kernel stack.
func (p *Process) KernelStackTop() uint64 {
	return p.KernelStackBase + p.KernelStackSize
}

// StackPointerInBounds reports whether KernelStackPointer lies inside the
// kernel stack region.
func (p *Process) StackPointerInBounds() bool {
	return p.KernelStackPointer >= p.KernelStackBase && p.KernelStackPointer < p.KernelStackTop()
}

// StackRegion is a contiguous stack allocation handed out by the memory
// subsystem. Stacks grow down from Base+Size.
type StackRegion struct {
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
}

// Top returns the first address above the region.
func (r StackRegion) Top() uint64 {
	return r.Base + r.Size
}

// ProcessImage is what the loader supplies to create a process.
type ProcessImage struct {
	Name         string      `json:"name"`
	UID          uint32      `json:"uid"`
	Priority     uint8       `json:"priority"`
	EntryPoint   uint64      `json:"entry_point"`
	KernelStack  StackRegion `json:"kernel_stack"`
	UserStack    StackRegion `json:"user_stack"`
	PML4PhysAddr uint64      `json:"pml4_phys_addr"`
}

// Stats summarizes scheduler activity.
type Stats struct {
	Ticks      uint64 `json:"ticks"`
	IdleTicks  uint64 `json:"idle_ticks"`
	Dispatches uint64 `json:"dispatches"`
	Switches   uint64 `json:"switches"`
	Preempts   uint64 `json:"preempts"`
	Faults     uint64 `json:"faults"`
	Live       int    `json:"live"`
	Ready      int    `json:"ready"`
	Capacity   int    `json:"capacity"`
	CurrentPID uint32 `json:"current_pid"`

	// Filled in by the machine, not the scheduler.
	Reaped      uint64 `json:"reaped"`
	MemoryUsed  uint64 `json:"memory_used"`
	MemoryTotal uint64 `json:"memory_total"`
	RunID       string `json:"run_id,omitempty"`
}
