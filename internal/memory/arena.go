// Package memory simulates the physical memory subsystem the scheduler
// collaborates with: it hands out stack regions, code pages and
// address-space roots, and backs them with real bytes so saved frames can
// be read back exactly as written.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// PageSize is the allocation granule for code pages and address spaces.
const PageSize = 4096

var (
	ErrOutOfMemory  = errors.New("out of physical memory")
	ErrUnmapped     = errors.New("access to unmapped address")
	ErrInvalidFree  = errors.New("free of unallocated region")
	ErrInvalidAlign = errors.New("alignment must be a power of two")
)

// Kind labels what a region was allocated for.
type Kind string

const (
	KindKernelStack  Kind = "kernel_stack"
	KindUserStack    Kind = "user_stack"
	KindCode         Kind = "code"
	KindAddressSpace Kind = "address_space"
	KindBootStack    Kind = "boot_stack"
)

// Region is an allocated range [Base, Base+Size).
type Region struct {
	Base uint64 `json:"base"`
	Size uint64 `json:"size"`
	Kind Kind   `json:"kind"`
}

// End returns the first address above the region.
func (r Region) End() uint64 {
	return r.Base + r.Size
}

type region struct {
	Region
	data []byte
}

// Arena is a range of simulated physical memory with first-fit allocation.
type Arena struct {
	mu      sync.Mutex
	base    uint64
	limit   uint64
	regions []*region // sorted by Base
	used    uint64
	logger  *slog.Logger
}

// NewArena creates an arena covering [base, base+size). base must be non-zero
// so that no allocation can ever produce a null address.
func NewArena(base, size uint64, logger *slog.Logger) (*Arena, error) {
	if base == 0 {
		return nil, fmt.Errorf("arena base must be non-zero")
	}
	if size == 0 || base+size < base {
		return nil, fmt.Errorf("invalid arena size %d", size)
	}
	return &Arena{
		base:   base,
		limit:  base + size,
		logger: logger.With("component", "memory"),
	}, nil
}

// Alloc reserves size bytes aligned to align and zero-fills them.
func (a *Arena) Alloc(size, align uint64, kind Kind) (Region, error) {
	if align == 0 {
		align = 1
	}
	if align&(align-1) != 0 {
		return Region{}, ErrInvalidAlign
	}
	if size == 0 {
		return Region{}, fmt.Errorf("alloc %s: zero size", kind)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cursor := a.base
	idx := 0
	for ; idx <= len(a.regions); idx++ {
		start := alignUp(cursor, align)
		end := a.limit
		if idx < len(a.regions) {
			end = a.regions[idx].Base
		}
		if start >= cursor && start+size >= start && start+size <= end {
			r := &region{
				Region: Region{Base: start, Size: size, Kind: kind},
				data:   make([]byte, size),
			}
			a.regions = append(a.regions, nil)
			copy(a.regions[idx+1:], a.regions[idx:])
			a.regions[idx] = r
			a.used += size
			a.logger.Debug("alloc", "kind", kind, "base", fmt.Sprintf("%#x", start), "size", size)
			return r.Region, nil
		}
		if idx < len(a.regions) {
			cursor = a.regions[idx].End()
		}
	}
	return Region{}, fmt.Errorf("%w: %s of %d bytes (used %d of %d)", ErrOutOfMemory, kind, size, a.used, a.limit-a.base)
}

// Free releases the region starting at base.
func (a *Arena) Free(base uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	i := sort.Search(len(a.regions), func(i int) bool { return a.regions[i].Base >= base })
	if i == len(a.regions) || a.regions[i].Base != base {
		return fmt.Errorf("%w: %#x", ErrInvalidFree, base)
	}
	r := a.regions[i]
	a.regions = append(a.regions[:i], a.regions[i+1:]...)
	a.used -= r.Size
	a.logger.Debug("free", "kind", r.Kind, "base", fmt.Sprintf("%#x", base), "size", r.Size)
	return nil
}

// Load64 reads a little-endian word.
func (a *Arena) Load64(addr uint64) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, err := a.slice(addr, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// Store64 writes a little-endian word.
func (a *Arena) Store64(addr, val uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	buf, err := a.slice(addr, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(buf, val)
	return nil
}

// NewAddressSpace allocates a zeroed top-level page table page and returns
// its physical address, the opaque root handed to the scheduler.
func (a *Arena) NewAddressSpace() (uint64, error) {
	r, err := a.Alloc(PageSize, PageSize, KindAddressSpace)
	if err != nil {
		return 0, err
	}
	return r.Base, nil
}

// FreeAddressSpace releases a root returned by NewAddressSpace.
func (a *Arena) FreeAddressSpace(root uint64) error {
	return a.Free(root)
}

// Usage returns bytes allocated and the arena size.
func (a *Arena) Usage() (used, total uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.used, a.limit - a.base
}

// Regions returns a copy of the allocated regions in address order.
func (a *Arena) Regions() []Region {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Region, len(a.regions))
	for i, r := range a.regions {
		out[i] = r.Region
	}
	return out
}

// slice returns the n bytes at addr; the range must lie in one region.
func (a *Arena) slice(addr, n uint64) ([]byte, error) {
	i := sort.Search(len(a.regions), func(i int) bool { return a.regions[i].End() > addr })
	if i == len(a.regions) || addr < a.regions[i].Base || addr+n > a.regions[i].End() {
		return nil, fmt.Errorf("%w: %#x", ErrUnmapped, addr)
	}
	off := addr - a.regions[i].Base
	return a.regions[i].data[off : off+n], nil
}

func alignUp(v, align uint64) uint64 {
	return (v + align - 1) &^ (align - 1)
}
