package machine

import (
	"context"
	"time"

	"github.com/me/kernsim/internal/config"
	"github.com/me/kernsim/pkg/model"
)

// Start runs the machine in real time, one Step per tick interval, and
// serves Do requests in between. Blocks until ctx is cancelled or Stop is
// called.
func (m *Machine) Start(ctx context.Context) error {
	m.logger.Info("machine started", "tick_interval", m.cfg.TickInterval)
	ticker := time.NewTicker(m.cfg.TickInterval)
	defer ticker.Stop()

	m.running.Store(true)
	defer m.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("machine stopping (context cancelled)")
			close(m.doneCh)
			return ctx.Err()
		case <-m.stopCh:
			m.logger.Info("machine stopping (stop called)")
			close(m.doneCh)
			return nil
		case cmd := <-m.cmdCh:
			m.mu.Lock()
			err := cmd.fn()
			m.mu.Unlock()
			cmd.done <- err
		case <-ticker.C:
			if err := m.Step(ctx); err != nil {
				m.logger.Error("step error", "error", err)
			}
		}
	}
}

// Stop shuts the loop down and waits for the current step to finish.
func (m *Machine) Stop() error {
	close(m.stopCh)
	<-m.doneCh
	return nil
}

// Do runs fn with exclusive access to the machine: on the loop goroutine
// while Start is running, directly otherwise.
func (m *Machine) Do(ctx context.Context, fn func() error) error {
	if !m.running.Load() {
		m.mu.Lock()
		defer m.mu.Unlock()
		return fn()
	}

	cmd := command{fn: fn, done: make(chan error, 1)}
	select {
	case m.cmdCh <- cmd:
	case <-m.doneCh:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunFor steps the machine up to ticks times. With untilIdle it stops
// early once no process is left. It returns the number of steps taken.
func (m *Machine) RunFor(ctx context.Context, ticks uint64, untilIdle bool) (uint64, error) {
	var n uint64
	for n < ticks {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := m.Step(ctx); err != nil {
			return n, err
		}
		n++
		if untilIdle {
			st, err := m.Stats(ctx)
			if err != nil {
				return n, err
			}
			if st.Live == 0 {
				break
			}
		}
	}
	return n, nil
}

// CreateProcess loads spec and creates a READY process for it.
func (m *Machine) CreateProcess(ctx context.Context, spec config.ProcessSpec) (model.Process, error) {
	var p model.Process
	err := m.Do(ctx, func() error {
		var err error
		p, err = m.create(spec)
		if err != nil {
			return err
		}
		return m.flush(ctx)
	})
	return p, err
}

// Wake makes a BLOCKED or WAITING process READY, cancelling any device
// request it was waiting on.
func (m *Machine) Wake(ctx context.Context, pid uint32) error {
	return m.Do(ctx, func() error {
		if err := m.guard.Wake(pid); err != nil {
			return err
		}
		m.dropDevices(pid)
		return m.flush(ctx)
	})
}

// SetPriority changes the priority of a live process.
func (m *Machine) SetPriority(ctx context.Context, pid uint32, priority uint8) error {
	return m.Do(ctx, func() error {
		if !m.guard.Initialized() {
			return model.ErrRuntimeNotInitialized
		}
		if err := m.sched.SetPriority(pid, priority); err != nil {
			return err
		}
		return m.flush(ctx)
	})
}

// Processes returns every live process in pid order.
func (m *Machine) Processes(ctx context.Context) ([]model.Process, error) {
	var out []model.Process
	err := m.Do(ctx, func() error {
		if !m.guard.Initialized() {
			return model.ErrRuntimeNotInitialized
		}
		var err error
		out, err = m.sched.Processes()
		return err
	})
	return out, err
}

// Lookup returns one live process.
func (m *Machine) Lookup(ctx context.Context, pid uint32) (model.Process, error) {
	var out model.Process
	err := m.Do(ctx, func() error {
		if !m.guard.Initialized() {
			return model.ErrRuntimeNotInitialized
		}
		var err error
		out, err = m.sched.Lookup(pid)
		return err
	})
	return out, err
}

// Stats returns scheduler counters plus memory usage.
func (m *Machine) Stats(ctx context.Context) (model.Stats, error) {
	var out model.Stats
	err := m.Do(ctx, func() error {
		if !m.guard.Initialized() {
			return model.ErrRuntimeNotInitialized
		}
		st, err := m.sched.Stats()
		if err != nil {
			return err
		}
		st.Reaped = m.reaped
		st.MemoryUsed, st.MemoryTotal = m.arena.Usage()
		st.RunID = m.runID
		out = st
		return nil
	})
	return out, err
}
