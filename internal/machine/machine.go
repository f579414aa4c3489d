// Package machine assembles a simulated single-core computer around the
// scheduler: physical memory, the CPU, the loader, the programs processes
// run, simulated devices and the trace store. One goroutine owns all of
// it; other goroutines submit work through Do.
package machine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/me/kernsim/internal/arch/amd64"
	"github.com/me/kernsim/internal/config"
	"github.com/me/kernsim/internal/loader"
	"github.com/me/kernsim/internal/memory"
	"github.com/me/kernsim/internal/scheduler"
	"github.com/me/kernsim/internal/store"
	"github.com/me/kernsim/internal/workload"
	"github.com/me/kernsim/pkg/model"
)

// ArenaBase is the physical address simulated memory starts at.
const ArenaBase = 0x100000

// ErrStopped is returned by Do after the loop has stopped.
var ErrStopped = errors.New("machine stopped")

type deviceWake struct {
	pid uint32
	due uint64
}

type command struct {
	fn   func() error
	done chan error
}

// Machine is a simulated computer. Create it with New and Boot it before
// use; Step advances it by one timer tick.
type Machine struct {
	cfg      config.MachineConfig
	store    store.Store
	registry *workload.Registry
	logger   *slog.Logger

	mu       sync.Mutex
	guard    scheduler.Guard
	sched    *scheduler.Scheduler
	cpu      *amd64.CPU
	arena    *memory.Arena
	loader   *loader.Loader
	programs map[uint32]workload.Program
	devices  []deviceWake
	pending  []model.Event
	runID    string
	reaped   uint64

	running atomic.Bool
	cmdCh   chan command
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates an unbooted machine. st may be nil to skip persisting the
// trace.
func New(cfg config.MachineConfig, st store.Store, registry *workload.Registry, logger *slog.Logger) *Machine {
	if registry == nil {
		registry = workload.NewRegistry()
	}
	return &Machine{
		cfg:      cfg,
		store:    st,
		registry: registry,
		logger:   logger.With("component", "machine"),
		programs: make(map[uint32]workload.Program),
		cmdCh:    make(chan command),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Boot allocates memory, brings up the CPU on its boot stack, initializes
// the scheduler, opens a trace run and creates the given processes.
func (m *Machine) Boot(ctx context.Context, procs []config.ProcessSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.guard.Initialized() {
		return model.ErrAlreadyInitialized
	}
	if err := m.cfg.Validate(); err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	arena, err := memory.NewArena(ArenaBase, m.cfg.MemorySize, m.logger)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	boot, err := arena.Alloc(m.cfg.KernelStackSize, memory.PageSize, memory.KindBootStack)
	if err != nil {
		return fmt.Errorf("boot: allocate boot stack: %w", err)
	}
	cpu := amd64.NewCPU(arena, boot.End())

	sched, err := m.guard.Init(cpu, model.StackRegion{Base: boot.Base, Size: boot.Size}, scheduler.Config{
		MaxProcesses:     m.cfg.MaxProcesses,
		DefaultTimeSlice: m.cfg.DefaultTimeSlice,
		MaxPriority:      m.cfg.MaxPriority,
		KernelStackSize:  m.cfg.KernelStackSize,
	},
		scheduler.WithLogger(m.logger),
		scheduler.WithDiagnostics(scheduler.DiagnosticsFunc(m.report)),
	)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}

	m.arena = arena
	m.cpu = cpu
	m.sched = sched
	m.loader = loader.New(arena, m.registry, m.cfg, m.logger)
	m.runID = "run_" + uuid.NewString()

	if m.store != nil {
		cfgText, err := yaml.Marshal(m.cfg)
		if err != nil {
			return fmt.Errorf("boot: encode config: %w", err)
		}
		run := &model.Run{ID: m.runID, Config: string(cfgText), StartedAt: time.Now().UTC()}
		if err := m.store.CreateRun(ctx, run); err != nil {
			return fmt.Errorf("boot: create run: %w", err)
		}
	}
	m.logger.Info("booted", "run_id", m.runID, "memory", m.cfg.MemorySize, "max_processes", m.cfg.MaxProcesses)

	for _, spec := range procs {
		if _, err := m.create(spec); err != nil {
			return fmt.Errorf("boot: create %q: %w", spec.Name, err)
		}
	}
	return m.flush(ctx)
}

// RunID returns the trace run id, empty before Boot.
func (m *Machine) RunID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runID
}

// CPU returns the simulated core, nil before Boot.
func (m *Machine) CPU() *amd64.CPU {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cpu
}

// Step advances the machine by one timer tick: the timer interrupt runs the
// scheduler, due device completions are delivered, the running process
// executes one step of its program, and terminated processes are reaped.
func (m *Machine) Step(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.step(ctx)
}

func (m *Machine) step(ctx context.Context) error {
	if !m.guard.Initialized() {
		return model.ErrRuntimeNotInitialized
	}

	if err := m.guard.Tick(); err != nil {
		return fmt.Errorf("tick %d: %w", m.sched.Ticks(), err)
	}
	if err := m.deliverDevices(m.sched.Ticks()); err != nil {
		return err
	}
	if err := m.execute(); err != nil {
		return err
	}
	if err := m.reap(ctx); err != nil {
		return err
	}
	return m.flush(ctx)
}

// execute runs one step of the current process's program and applies the
// request it makes.
func (m *Machine) execute() error {
	cur, ok := m.sched.Current()
	if !ok {
		return nil
	}
	prog, ok := m.programs[cur.PID]
	if !ok {
		return m.guard.TerminateCurrent(fmt.Errorf("pid %d has no program", cur.PID))
	}

	res, err := workload.Run(prog, &m.cpu.Regs)
	if err != nil {
		return m.guard.TerminateCurrent(err)
	}
	switch res.Action {
	case workload.Continue:
		return nil
	case workload.Yield:
		return m.guard.YieldCurrent()
	case workload.Block:
		if res.Ticks > 0 {
			m.devices = append(m.devices, deviceWake{pid: cur.PID, due: m.sched.Ticks() + res.Ticks})
		}
		return m.guard.BlockCurrent(res.Reason)
	case workload.Wait:
		return m.guard.WaitCurrent(res.Ticks)
	case workload.Exit:
		return m.guard.ExitCurrent(res.ExitCode)
	default:
		return m.guard.TerminateCurrent(fmt.Errorf("unknown action %s", res.Action))
	}
}

// deliverDevices raises the completion interrupt of every device request
// due at or before tick. A completion for an idle core dispatches the
// woken process right away.
func (m *Machine) deliverDevices(tick uint64) error {
	if len(m.devices) == 0 {
		return nil
	}
	var due []deviceWake
	keep := m.devices[:0]
	for _, d := range m.devices {
		if d.due <= tick {
			due = append(due, d)
		} else {
			keep = append(keep, d)
		}
	}
	m.devices = keep
	sort.Slice(due, func(i, j int) bool { return due[i].pid < due[j].pid })

	for _, d := range due {
		err := m.guard.Wake(d.pid)
		var nf *model.ProcessNotFoundError
		var tr *model.InvalidTransitionError
		if errors.As(err, &nf) || errors.As(err, &tr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("device wake pid %d: %w", d.pid, err)
		}
	}
	return nil
}

func (m *Machine) dropDevices(pid uint32) {
	keep := m.devices[:0]
	for _, d := range m.devices {
		if d.pid != pid {
			keep = append(keep, d)
		}
	}
	m.devices = keep
}

// reap reclaims terminated processes, frees their memory and stores their
// final accounting.
func (m *Machine) reap(ctx context.Context) error {
	procs, err := m.sched.Processes()
	if err != nil {
		return err
	}
	for _, p := range procs {
		if p.State != model.ProcessStateTerminated {
			continue
		}
		final, err := m.sched.Reclaim(p.PID)
		if err != nil {
			return fmt.Errorf("reclaim pid %d: %w", p.PID, err)
		}
		delete(m.programs, p.PID)
		m.dropDevices(p.PID)
		m.reaped++
		if err := m.loader.Release(final); err != nil {
			m.logger.Warn("release process memory", "pid", p.PID, "error", err)
		}
		if m.store != nil {
			if err := m.store.SaveProcess(ctx, m.runID, final); err != nil {
				return fmt.Errorf("save pid %d: %w", p.PID, err)
			}
		}
		m.logger.Info("process reaped", "pid", final.PID, "name", final.Name,
			"exit_status", final.ExitStatus, "cpu_time", final.CPUTime)
	}
	return nil
}

// report is the scheduler's diagnostics sink.
func (m *Machine) report(ev model.Event) {
	if ev.Kind == model.EventPanic {
		m.logger.Warn("task panic", "pid", ev.PID, "name", ev.Name, "tick", ev.Tick, "error", ev.Error)
	}
	m.pending = append(m.pending, ev)
}

func (m *Machine) flush(ctx context.Context) error {
	if len(m.pending) == 0 {
		return nil
	}
	events := m.pending
	m.pending = nil
	if m.store == nil {
		return nil
	}
	if err := m.store.RecordEvents(ctx, m.runID, events); err != nil {
		return fmt.Errorf("record events: %w", err)
	}
	return nil
}

func (m *Machine) create(spec config.ProcessSpec) (model.Process, error) {
	if !m.guard.Initialized() {
		return model.Process{}, model.ErrRuntimeNotInitialized
	}
	img, err := m.loader.Load(spec)
	if err != nil {
		return model.Process{}, err
	}
	pid, err := m.guard.CreateProcess(img.ProcessImage)
	if err != nil {
		if uerr := m.loader.Unload(img); uerr != nil {
			m.logger.Warn("unload rejected image", "name", spec.Name, "error", uerr)
		}
		return model.Process{}, err
	}
	m.programs[pid] = img.Program
	return m.sched.Lookup(pid)
}

// Shutdown flushes pending events and closes the trace run.
func (m *Machine) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.guard.Initialized() {
		return nil
	}
	if err := m.flush(ctx); err != nil {
		return err
	}
	if m.store == nil {
		return nil
	}
	return m.store.FinishRun(ctx, m.runID, m.sched.Ticks(), time.Now().UTC())
}
