package scheduler

import (
	"sync"
	"sync/atomic"

	"github.com/me/kernsim/internal/arch"
	"github.com/me/kernsim/pkg/model"
)

// Guard is the initialization gate at the kernel entry boundary. Until Init
// succeeds every gated operation fails with model.ErrRuntimeNotInitialized
// and changes nothing; Init succeeds at most once.
type Guard struct {
	mu    sync.Mutex
	sched atomic.Pointer[Scheduler]
}

// Init builds the scheduler exactly once and returns the owned handle.
func (g *Guard) Init(core arch.Core, boot model.StackRegion, cfg Config, opts ...Option) (*Scheduler, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.sched.Load() != nil {
		return nil, model.ErrAlreadyInitialized
	}
	s, err := Init(core, boot, cfg, opts...)
	if err != nil {
		return nil, err
	}
	g.sched.Store(s)
	return s, nil
}

// Initialized reports whether Init has succeeded.
func (g *Guard) Initialized() bool {
	return g.sched.Load() != nil
}

// Scheduler returns the handle built by Init.
func (g *Guard) Scheduler() (*Scheduler, error) {
	s := g.sched.Load()
	if s == nil {
		return nil, model.ErrRuntimeNotInitialized
	}
	return s, nil
}

// CreateProcess forwards to Scheduler.CreateProcess.
func (g *Guard) CreateProcess(img model.ProcessImage) (uint32, error) {
	s, err := g.Scheduler()
	if err != nil {
		return 0, err
	}
	return s.CreateProcess(img)
}

// Tick forwards to Scheduler.Tick.
func (g *Guard) Tick() error {
	s, err := g.Scheduler()
	if err != nil {
		return err
	}
	return s.Tick()
}

// YieldCurrent forwards to Scheduler.YieldCurrent.
func (g *Guard) YieldCurrent() error {
	s, err := g.Scheduler()
	if err != nil {
		return err
	}
	return s.YieldCurrent()
}

// BlockCurrent forwards to Scheduler.BlockCurrent.
func (g *Guard) BlockCurrent(reason string) error {
	s, err := g.Scheduler()
	if err != nil {
		return err
	}
	return s.BlockCurrent(reason)
}

// WaitCurrent forwards to Scheduler.WaitCurrent.
func (g *Guard) WaitCurrent(ticks uint64) error {
	s, err := g.Scheduler()
	if err != nil {
		return err
	}
	return s.WaitCurrent(ticks)
}

// Wake forwards to Scheduler.Wake.
func (g *Guard) Wake(pid uint32) error {
	s, err := g.Scheduler()
	if err != nil {
		return err
	}
	return s.Wake(pid)
}

// TerminateCurrent forwards to Scheduler.TerminateCurrent.
func (g *Guard) TerminateCurrent(cause error) error {
	s, err := g.Scheduler()
	if err != nil {
		return err
	}
	return s.TerminateCurrent(cause)
}

// ExitCurrent forwards to Scheduler.ExitCurrent.
func (g *Guard) ExitCurrent(status int) error {
	s, err := g.Scheduler()
	if err != nil {
		return err
	}
	return s.ExitCurrent(status)
}
