// Package proctable is the fixed-capacity registry of process control
// blocks: the source of truth for pid allocation, lookup and reclaim.
package proctable

import (
	"sort"
	"strconv"

	"github.com/me/kernsim/internal/arch"
	"github.com/me/kernsim/pkg/model"
)

// DefaultCapacity is the reference process table size.
const DefaultCapacity = 256

type entry struct {
	proc *model.Process
	ctx  arch.Context
}

// Table maps live pids to their PCB and saved context. It is not safe for
// concurrent use; the scheduler owns it.
type Table struct {
	capacity int
	entries  map[uint32]*entry
	nextPID  uint32
}

// New creates an empty table holding at most capacity live processes.
func New(capacity int) *Table {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Table{
		capacity: capacity,
		entries:  make(map[uint32]*entry, capacity),
		nextPID:  1,
	}
}

// Allocate assigns a fresh pid and stores a READY PCB built from img.
// It fails with model.ErrTaskQueueFull at capacity and leaves the table
// unchanged on any failure.
func (t *Table) Allocate(img model.ProcessImage, ctx arch.Context) (*model.Process, error) {
	if t.Full() {
		return nil, model.ErrTaskQueueFull
	}
	pid := t.nextFreePID()
	p := &model.Process{
		PID:                pid,
		Name:               img.Name,
		UID:                img.UID,
		State:              model.ProcessStateReady,
		Priority:           img.Priority,
		KernelStackBase:    img.KernelStack.Base,
		KernelStackSize:    img.KernelStack.Size,
		KernelStackPointer: ctx.StackPointer(),
		UserStackBase:      img.UserStack.Base,
		UserStackSize:      img.UserStack.Size,
		UserStackPointer:   img.UserStack.Top(),
		PML4PhysAddr:       img.PML4PhysAddr,
		EntryPoint:         img.EntryPoint,
	}
	t.entries[pid] = &entry{proc: p, ctx: ctx}
	t.nextPID = pid + 1
	return p, nil
}

// nextFreePID returns the next pid in sequence, skipping 0 and live pids.
// Pids are handed out monotonically, so a reclaimed pid only comes back
// after the 32-bit space wraps.
func (t *Table) nextFreePID() uint32 {
	pid := t.nextPID
	for {
		if pid == 0 {
			pid = 1
		}
		if _, live := t.entries[pid]; !live {
			return pid
		}
		pid++
	}
}

// Lookup returns the live PCB for pid.
func (t *Table) Lookup(pid uint32) (*model.Process, error) {
	e, ok := t.entries[pid]
	if !ok {
		return nil, &model.ProcessNotFoundError{PID: pid}
	}
	return e.proc, nil
}

// Context returns the saved context of pid.
func (t *Table) Context(pid uint32) (arch.Context, error) {
	e, ok := t.entries[pid]
	if !ok {
		return nil, &model.ProcessNotFoundError{PID: pid}
	}
	return e.ctx, nil
}

// Reclaim removes a TERMINATED process and returns its PCB so the owning
// collaborators can release its stacks and address space.
func (t *Table) Reclaim(pid uint32) (*model.Process, error) {
	e, ok := t.entries[pid]
	if !ok {
		return nil, &model.ProcessNotFoundError{PID: pid}
	}
	if e.proc.State != model.ProcessStateTerminated {
		return nil, &model.InvalidTransitionError{
			Entity: "process",
			ID:     strconv.FormatUint(uint64(pid), 10),
			From:   e.proc.State.String(),
			To:     "RECLAIMED",
		}
	}
	delete(t.entries, pid)
	return e.proc, nil
}

// Len returns the number of live processes.
func (t *Table) Len() int { return len(t.entries) }

// Cap returns the table capacity.
func (t *Table) Cap() int { return t.capacity }

// Full reports whether no more processes can be allocated.
func (t *Table) Full() bool { return len(t.entries) >= t.capacity }

// Each calls fn for every live PCB in pid order until fn returns false.
func (t *Table) Each(fn func(p *model.Process) bool) {
	for _, pid := range t.pids() {
		if !fn(t.entries[pid].proc) {
			return
		}
	}
}

// Snapshot returns copies of all live PCBs in pid order.
func (t *Table) Snapshot() []model.Process {
	out := make([]model.Process, 0, len(t.entries))
	t.Each(func(p *model.Process) bool {
		out = append(out, *p)
		return true
	})
	return out
}

func (t *Table) pids() []uint32 {
	pids := make([]uint32, 0, len(t.entries))
	for pid := range t.entries {
		pids = append(pids, pid)
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}
