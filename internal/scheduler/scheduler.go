// Package scheduler is the scheduling core: it owns the process table and
// the run queue, performs every process state transition and drives the
// context-switch primitive.
//
// All operations run with interrupts disabled on the core for their whole
// duration, which makes them mutually exclusive with the tick handler.
package scheduler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/me/kernsim/internal/arch"
	"github.com/me/kernsim/internal/proctable"
	"github.com/me/kernsim/pkg/model"
)

// Scheduler is the owned handle returned by Init. A Scheduler that did not
// come from Init rejects every operation with model.ErrRuntimeNotInitialized.
type Scheduler struct {
	core     arch.Core
	cfg      Config
	table    *proctable.Table
	queue    *runQueue
	sleepers map[uint32]*model.Process
	idle     arch.Context
	current  *model.Process
	logger   *slog.Logger
	diag     Diagnostics

	// Interrupt state of the critical section in progress: IF as it was
	// on entry, and whether the core has since moved to another context.
	irqWas   bool
	switched bool

	ticks    uint64
	seq      uint64
	eventSeq uint64
	stats    model.Stats
}

// Init builds the scheduler for core. boot is the stack the core is running
// on right now; it becomes the idle context the core parks in when no
// process is READY.
func Init(core arch.Core, boot model.StackRegion, cfg Config, opts ...Option) (*Scheduler, error) {
	if core == nil {
		return nil, fmt.Errorf("init scheduler: nil core")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("init scheduler: %w", err)
	}
	idle, err := core.NewContext(boot.Base, boot.Size)
	if err != nil {
		return nil, fmt.Errorf("init scheduler: idle context: %w", err)
	}

	s := &Scheduler{
		core:     core,
		cfg:      cfg,
		table:    proctable.New(cfg.MaxProcesses),
		queue:    newRunQueue(cfg.MaxProcesses),
		sleepers: make(map[uint32]*model.Process),
		idle:     idle,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		diag:     nopDiagnostics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Scheduler) initialized() error {
	if s == nil || s.table == nil {
		return model.ErrRuntimeNotInitialized
	}
	return nil
}

// critical runs fn with interrupts disabled. Once fn has switched the
// core, the interrupt state is the one the incoming context was saved with.
func (s *Scheduler) critical(fn func() error) error {
	if err := s.initialized(); err != nil {
		return err
	}
	s.irqWas = s.core.DisableInterrupts()
	s.switched = false
	defer func() {
		if !s.switched {
			s.core.RestoreInterrupts(s.irqWas)
		}
	}()
	return fn()
}

// CreateProcess builds the first-dispatch frame on the image's kernel stack
// and registers a READY process. It fails with model.ErrTaskQueueFull when
// the table is at capacity.
func (s *Scheduler) CreateProcess(img model.ProcessImage) (uint32, error) {
	var pid uint32
	err := s.critical(func() error {
		if err := s.validate(img); err != nil {
			return err
		}
		if s.table.Full() {
			return model.ErrTaskQueueFull
		}
		ctx, err := s.core.NewContext(img.KernelStack.Base, img.KernelStack.Size)
		if err != nil {
			return fmt.Errorf("%w: kernel stack: %w", model.ErrInvalidImage, err)
		}
		if err := ctx.SetEntry(img.EntryPoint); err != nil {
			return fmt.Errorf("%w: initial frame: %w", model.ErrInvalidImage, err)
		}
		p, err := s.table.Allocate(img, ctx)
		if err != nil {
			return err
		}
		p.CreatedTick = s.ticks
		s.queue.enqueue(p)
		s.report(model.EventCreate, p, "", nil)
		pid = p.PID
		return nil
	})
	return pid, err
}

func (s *Scheduler) validate(img model.ProcessImage) error {
	switch {
	case img.Name == "":
		return fmt.Errorf("%w: empty name", model.ErrInvalidImage)
	case img.EntryPoint == 0:
		return fmt.Errorf("%w: zero entry point", model.ErrInvalidImage)
	case img.Priority > s.cfg.MaxPriority:
		return fmt.Errorf("%w: priority %d above maximum %d", model.ErrInvalidImage, img.Priority, s.cfg.MaxPriority)
	case img.KernelStack.Base == 0:
		return fmt.Errorf("%w: kernel stack not allocated", model.ErrInvalidImage)
	case img.KernelStack.Size != s.cfg.KernelStackSize:
		return fmt.Errorf("%w: kernel stack is %d bytes, want %d", model.ErrInvalidImage, img.KernelStack.Size, s.cfg.KernelStackSize)
	}
	return nil
}

// Tick is the timer interrupt handler. It wakes WAITING processes whose
// wake tick arrived, charges the running process one unit and preempts it
// once its time slice is used up. On an idle core it dispatches the next
// READY process, if any.
func (s *Scheduler) Tick() error {
	return s.critical(func() error {
		s.ticks++
		s.stats.Ticks++
		s.wakeSleepers()

		cur := s.current
		if cur == nil {
			if err := s.reschedule(nil); err != nil {
				return err
			}
			if s.current == nil {
				s.stats.IdleTicks++
			}
			return nil
		}

		cur.CPUTime++
		if cur.TimeSlice > 0 {
			cur.TimeSlice--
		}
		if cur.TimeSlice > 0 {
			return nil
		}
		if err := s.transition(cur, model.ProcessStateReady); err != nil {
			return err
		}
		s.queue.enqueue(cur)
		s.stats.Preempts++
		s.report(model.EventPreempt, cur, "", nil)
		return s.reschedule(cur)
	})
}

// YieldCurrent gives up the rest of the running process's time slice.
func (s *Scheduler) YieldCurrent() error {
	return s.critical(func() error {
		cur, err := s.running()
		if err != nil {
			return err
		}
		if err := s.transition(cur, model.ProcessStateReady); err != nil {
			return err
		}
		s.queue.enqueue(cur)
		s.report(model.EventYield, cur, "", nil)
		return s.reschedule(cur)
	})
}

// BlockCurrent parks the running process until Wake is called for it.
func (s *Scheduler) BlockCurrent(reason string) error {
	return s.critical(func() error {
		cur, err := s.running()
		if err != nil {
			return err
		}
		if err := s.transition(cur, model.ProcessStateBlocked); err != nil {
			return err
		}
		cur.BlockReason = reason
		s.report(model.EventBlock, cur, reason, nil)
		return s.reschedule(cur)
	})
}

// WaitCurrent parks the running process for ticks timer ticks. Wake ends
// the wait early.
func (s *Scheduler) WaitCurrent(ticks uint64) error {
	return s.critical(func() error {
		cur, err := s.running()
		if err != nil {
			return err
		}
		if ticks == 0 {
			ticks = 1
		}
		if err := s.transition(cur, model.ProcessStateWaiting); err != nil {
			return err
		}
		cur.WakeTick = s.ticks + ticks
		s.sleepers[cur.PID] = cur
		s.report(model.EventWait, cur, fmt.Sprintf("until tick %d", cur.WakeTick), nil)
		return s.reschedule(cur)
	})
}

// Wake makes a BLOCKED or WAITING process READY. Waking a READY or RUNNING
// process is a no-op. An idle core dispatches the woken process at once; a
// busy core is not preempted.
func (s *Scheduler) Wake(pid uint32) error {
	return s.critical(func() error {
		p, err := s.table.Lookup(pid)
		if err != nil {
			return err
		}
		switch {
		case p.State == model.ProcessStateReady, p.State == model.ProcessStateRunning:
			return nil
		case !p.State.IsSuspended():
			return model.NewProcessTransitionError(pid, p.State, model.ProcessStateReady)
		}
		s.makeReady(p, "wake")
		if s.current == nil {
			return s.reschedule(nil)
		}
		return nil
	})
}

// ExitCurrent terminates the running process with an exit status.
func (s *Scheduler) ExitCurrent(status int) error {
	return s.critical(func() error {
		cur, err := s.running()
		if err != nil {
			return err
		}
		if err := s.transition(cur, model.ProcessStateTerminated); err != nil {
			return err
		}
		cur.ExitStatus = status
		cur.TimeSlice = 0
		s.report(model.EventExit, cur, fmt.Sprintf("status %d", status), nil)
		return s.reschedule(cur)
	})
}

// TerminateCurrent terminates the running process because of cause. A nil
// cause is a normal exit; any other cause is recorded as a TaskPanic and
// handled here: the process is terminated and the core moves on. The
// panic is reported to Diagnostics, not returned.
func (s *Scheduler) TerminateCurrent(cause error) error {
	if cause == nil {
		return s.ExitCurrent(0)
	}
	return s.critical(func() error {
		cur, err := s.running()
		if err != nil {
			return err
		}
		s.fault(cur, cause)
		return s.reschedule(cur)
	})
}

// SetPriority changes the priority of a live process. It takes effect at
// the next selection; the running process is not preempted.
func (s *Scheduler) SetPriority(pid uint32, priority uint8) error {
	return s.critical(func() error {
		if priority > s.cfg.MaxPriority {
			return fmt.Errorf("%w: priority %d above maximum %d", model.ErrInvalidImage, priority, s.cfg.MaxPriority)
		}
		p, err := s.table.Lookup(pid)
		if err != nil {
			return err
		}
		if p.State.IsTerminal() {
			return model.NewProcessTransitionError(pid, p.State, p.State)
		}
		p.Priority = priority
		s.queue.fix(p)
		s.report(model.EventPriority, p, fmt.Sprintf("priority %d", priority), nil)
		return nil
	})
}

// Reclaim removes a TERMINATED process from the table and returns its final
// PCB; releasing its stacks and address space is up to the caller.
func (s *Scheduler) Reclaim(pid uint32) (model.Process, error) {
	var out model.Process
	err := s.critical(func() error {
		p, err := s.table.Reclaim(pid)
		if err != nil {
			return err
		}
		out = *p
		s.report(model.EventReclaim, p, "", nil)
		return nil
	})
	return out, err
}

// Lookup returns a copy of the PCB for pid.
func (s *Scheduler) Lookup(pid uint32) (model.Process, error) {
	if err := s.initialized(); err != nil {
		return model.Process{}, err
	}
	p, err := s.table.Lookup(pid)
	if err != nil {
		return model.Process{}, err
	}
	return *p, nil
}

// Current returns a copy of the running process; false when idle.
func (s *Scheduler) Current() (model.Process, bool) {
	if s.initialized() != nil || s.current == nil {
		return model.Process{}, false
	}
	return *s.current, true
}

// Processes returns copies of every live PCB in pid order.
func (s *Scheduler) Processes() ([]model.Process, error) {
	if err := s.initialized(); err != nil {
		return nil, err
	}
	return s.table.Snapshot(), nil
}

// Ticks returns the number of timer ticks handled.
func (s *Scheduler) Ticks() uint64 {
	if s.initialized() != nil {
		return 0
	}
	return s.ticks
}

// Stats returns scheduler counters.
func (s *Scheduler) Stats() (model.Stats, error) {
	if err := s.initialized(); err != nil {
		return model.Stats{}, err
	}
	st := s.stats
	st.Live = s.table.Len()
	st.Ready = s.queue.Len()
	st.Capacity = s.table.Cap()
	if s.current != nil {
		st.CurrentPID = s.current.PID
	}
	return st, nil
}

func (s *Scheduler) running() (*model.Process, error) {
	if s.current == nil {
		return nil, model.ErrNoCurrentProcess
	}
	return s.current, nil
}

func (s *Scheduler) transition(p *model.Process, to model.ProcessState) error {
	if !p.State.CanTransitionTo(to) {
		return model.NewProcessTransitionError(p.PID, p.State, to)
	}
	p.State = to
	return nil
}

func (s *Scheduler) makeReady(p *model.Process, detail string) {
	p.State = model.ProcessStateReady
	p.BlockReason = ""
	p.WakeTick = 0
	delete(s.sleepers, p.PID)
	s.queue.enqueue(p)
	s.report(model.EventWake, p, detail, nil)
}

func (s *Scheduler) wakeSleepers() {
	if len(s.sleepers) == 0 {
		return
	}
	var due []*model.Process
	for _, p := range s.sleepers {
		if p.WakeTick <= s.ticks {
			due = append(due, p)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].PID < due[j].PID })
	for _, p := range due {
		s.makeReady(p, "timeout")
	}
}

// fault terminates p with a TaskPanic. p is the process that owned the CPU
// when the fault happened; the operation in progress may already have
// moved it to READY, BLOCKED or WAITING, which the fault overrides.
func (s *Scheduler) fault(p *model.Process, cause error) {
	tp := &model.TaskPanicError{PID: p.PID, Name: p.Name, Cause: cause}
	s.queue.remove(p.PID)
	delete(s.sleepers, p.PID)
	p.State = model.ProcessStateTerminated
	p.TimeSlice = 0
	p.ExitStatus = -1
	p.ExitCause = tp.Error()
	s.stats.Faults++
	s.report(model.EventPanic, p, "", tp)
}

// dispatch moves next from READY to RUNNING and grants a fresh quantum.
func (s *Scheduler) dispatch(next *model.Process) error {
	if err := s.transition(next, model.ProcessStateRunning); err != nil {
		return err
	}
	next.TimeSlice = s.cfg.DefaultTimeSlice
	s.seq++
	next.LastDispatch = s.seq
	next.Dispatches++
	s.stats.Dispatches++
	s.report(model.EventDispatch, next, "", nil)
	return nil
}

// reschedule transfers the CPU to the preferred READY process, or to the
// idle context when the run queue is empty. from is the process leaving
// the CPU with its new state already set, nil when the core is idle.
func (s *Scheduler) reschedule(from *model.Process) error {
	fromCtx := s.idle
	save := true
	if from != nil {
		ctx, err := s.table.Context(from.PID)
		if err != nil {
			return err
		}
		fromCtx = ctx
		save = !from.State.IsTerminal()
	}

	for {
		next := s.queue.dequeue()
		if next == nil {
			return s.enterIdle(from, fromCtx, save)
		}
		if err := s.dispatch(next); err != nil {
			s.logger.Debug("skip undispatchable process", "pid", next.PID, "error", err)
			continue
		}
		if next == from {
			s.current = next
			return nil
		}
		nextCtx, err := s.table.Context(next.PID)
		if err != nil {
			return err
		}

		err = s.transfer(fromCtx, nextCtx, save)
		var swErr *arch.SwitchError
		if err != nil && errors.As(err, &swErr) && swErr.Phase == arch.PhaseSave {
			if from == nil {
				return fmt.Errorf("save idle context: %w", err)
			}
			s.fault(from, err)
			save = false
			err = s.transfer(fromCtx, nextCtx, save)
		}
		if err == nil {
			s.saved(from, fromCtx, save)
			s.current = next
			return nil
		}
		if !errors.As(err, &swErr) {
			return err
		}

		// The incoming context is unusable. Whatever had to be saved is
		// saved by now, so later attempts only restore.
		s.saved(from, fromCtx, save)
		s.fault(next, err)
		save = false
	}
}

// enterIdle parks the core on the idle context.
func (s *Scheduler) enterIdle(from *model.Process, fromCtx arch.Context, save bool) error {
	if from != nil {
		err := s.transfer(fromCtx, s.idle, save)
		var swErr *arch.SwitchError
		if err != nil && errors.As(err, &swErr) && swErr.Phase == arch.PhaseSave {
			s.fault(from, err)
			save = false
			err = s.transfer(fromCtx, s.idle, save)
		}
		if err != nil {
			s.current = nil
			return fmt.Errorf("resume idle context: %w", err)
		}
		s.saved(from, fromCtx, save)
		s.report(model.EventIdle, nil, "", nil)
	}
	s.current = nil
	s.core.WaitForInterrupt()
	return nil
}

func (s *Scheduler) transfer(fromCtx, toCtx arch.Context, save bool) error {
	var err error
	if save {
		err = s.core.Switch(fromCtx, toCtx, s.irqWas)
	} else {
		err = s.core.Resume(toCtx)
	}
	if err == nil {
		s.switched = true
		s.stats.Switches++
	}
	return err
}

// saved records the stack pointer of a switched-out process in its PCB.
func (s *Scheduler) saved(from *model.Process, fromCtx arch.Context, save bool) {
	if from != nil && save {
		from.KernelStackPointer = fromCtx.StackPointer()
	}
}

func (s *Scheduler) report(kind model.EventKind, p *model.Process, detail string, err error) {
	s.eventSeq++
	ev := model.Event{
		Seq:    s.eventSeq,
		Tick:   s.ticks,
		Kind:   kind,
		Detail: detail,
		Err:    err,
	}
	if p != nil {
		ev.PID = p.PID
		ev.Name = p.Name
		ev.State = p.State
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.logger.Debug("event", "kind", kind, "pid", ev.PID, "tick", ev.Tick, "state", ev.State)
	s.diag.Report(ev)
}
