// Package loader turns process specs into images the scheduler can create:
// it builds the program body and allocates the code page, stacks and
// address space from simulated physical memory.
package loader

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/me/kernsim/internal/config"
	"github.com/me/kernsim/internal/memory"
	"github.com/me/kernsim/internal/workload"
	"github.com/me/kernsim/pkg/model"
)

// Image is a loaded process: the memory the scheduler needs plus the body
// the machine steps.
type Image struct {
	model.ProcessImage
	Program workload.Program
}

// Loader allocates process memory from an arena.
type Loader struct {
	arena           *memory.Arena
	programs        *workload.Registry
	kernelStackSize uint64
	userStackSize   uint64
	logger          *slog.Logger
}

// New creates a loader using the stack sizes of cfg.
func New(arena *memory.Arena, programs *workload.Registry, cfg config.MachineConfig, logger *slog.Logger) *Loader {
	return &Loader{
		arena:           arena,
		programs:        programs,
		kernelStackSize: cfg.KernelStackSize,
		userStackSize:   cfg.UserStackSize,
		logger:          logger.With("component", "loader"),
	}
}

// Load builds the program for spec and allocates its memory. Nothing stays
// allocated when Load fails.
func (l *Loader) Load(spec config.ProcessSpec) (*Image, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidImage, err)
	}
	prog, err := l.program(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrInvalidImage, err)
	}

	var allocated []uint64
	rollback := func() {
		for _, base := range allocated {
			if ferr := l.arena.Free(base); ferr != nil {
				l.logger.Warn("rollback free failed", "base", base, "error", ferr)
			}
		}
	}
	alloc := func(size, align uint64, kind memory.Kind) (memory.Region, error) {
		r, err := l.arena.Alloc(size, align, kind)
		if err != nil {
			return memory.Region{}, fmt.Errorf("allocate %s for %q: %w", kind, spec.Name, err)
		}
		allocated = append(allocated, r.Base)
		return r, nil
	}

	code, err := alloc(memory.PageSize, memory.PageSize, memory.KindCode)
	if err != nil {
		rollback()
		return nil, err
	}
	kstack, err := alloc(l.kernelStackSize, memory.PageSize, memory.KindKernelStack)
	if err != nil {
		rollback()
		return nil, err
	}
	ustack, err := alloc(l.userStackSize, memory.PageSize, memory.KindUserStack)
	if err != nil {
		rollback()
		return nil, err
	}
	root, err := l.arena.NewAddressSpace()
	if err != nil {
		rollback()
		return nil, fmt.Errorf("allocate address space for %q: %w", spec.Name, err)
	}

	img := &Image{
		ProcessImage: model.ProcessImage{
			Name:         spec.Name,
			UID:          spec.UID,
			Priority:     spec.Priority,
			EntryPoint:   code.Base,
			KernelStack:  model.StackRegion{Base: kstack.Base, Size: kstack.Size},
			UserStack:    model.StackRegion{Base: ustack.Base, Size: ustack.Size},
			PML4PhysAddr: root,
		},
		Program: prog,
	}
	l.logger.Debug("loaded", "name", spec.Name, "entry", code.Base, "kernel_stack", kstack.Base, "pml4", root)
	return img, nil
}

// Unload frees the memory of an image that never became a process.
func (l *Loader) Unload(img *Image) error {
	return l.free(img.EntryPoint, img.KernelStack.Base, img.UserStack.Base, img.PML4PhysAddr)
}

// Release frees the memory of a reclaimed process.
func (l *Loader) Release(p model.Process) error {
	if err := l.free(p.EntryPoint, p.KernelStackBase, p.UserStackBase, p.PML4PhysAddr); err != nil {
		return fmt.Errorf("release pid %d: %w", p.PID, err)
	}
	return nil
}

func (l *Loader) free(code, kstack, ustack, root uint64) error {
	var errs []error
	for _, base := range []uint64{code, kstack, ustack} {
		if base == 0 {
			continue
		}
		if err := l.arena.Free(base); err != nil {
			errs = append(errs, err)
		}
	}
	if root != 0 {
		if err := l.arena.FreeAddressSpace(root); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (l *Loader) program(spec config.ProcessSpec) (workload.Program, error) {
	if spec.Script != "" {
		return workload.NewScript(spec.Name+".js", spec.Script, spec.Args)
	}
	return l.programs.New(spec.Program, spec.Args)
}
