package loader

import (
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/me/kernsim/internal/config"
	"github.com/me/kernsim/internal/memory"
	"github.com/me/kernsim/internal/workload"
	"github.com/me/kernsim/pkg/model"
)

func newTestLoader(t *testing.T, size uint64) (*Loader, *memory.Arena) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	arena, err := memory.NewArena(0x100000, size, logger)
	if err != nil {
		t.Fatalf("NewArena: %v", err)
	}
	return New(arena, workload.NewRegistry(), config.DefaultMachineConfig(), logger), arena
}

func TestLoad_AllocatesImage(t *testing.T) {
	l, arena := newTestLoader(t, 1<<20)

	img, err := l.Load(config.ProcessSpec{Name: "init", UID: 0, Priority: 4, Program: "counter"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if img.Program == nil {
		t.Fatal("no program")
	}
	if img.EntryPoint == 0 || img.EntryPoint%memory.PageSize != 0 {
		t.Errorf("EntryPoint = %#x", img.EntryPoint)
	}
	if img.KernelStack.Size != 8192 || img.KernelStack.Top()%16 != 0 {
		t.Errorf("KernelStack = %+v", img.KernelStack)
	}
	if img.UserStack.Size != 16384 {
		t.Errorf("UserStack = %+v", img.UserStack)
	}
	if img.PML4PhysAddr == 0 {
		t.Error("PML4PhysAddr not set")
	}

	kinds := map[memory.Kind]int{}
	for _, r := range arena.Regions() {
		kinds[r.Kind]++
	}
	for _, k := range []memory.Kind{memory.KindCode, memory.KindKernelStack, memory.KindUserStack, memory.KindAddressSpace} {
		if kinds[k] != 1 {
			t.Errorf("%s regions = %d, want 1", k, kinds[k])
		}
	}
}

func TestLoad_Script(t *testing.T) {
	l, _ := newTestLoader(t, 1<<20)
	img, err := l.Load(config.ProcessSpec{Name: "js", Script: `function step(r) { return "yield"; }`})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := img.Program.(*workload.ScriptProgram); !ok {
		t.Errorf("Program = %T, want *workload.ScriptProgram", img.Program)
	}
}

func TestLoad_InvalidSpecAllocatesNothing(t *testing.T) {
	l, arena := newTestLoader(t, 1<<20)
	for _, spec := range []config.ProcessSpec{
		{Name: "x"},
		{Name: "x", Program: "nonexistent"},
		{Name: "x", Script: "function ("},
	} {
		if _, err := l.Load(spec); !errors.Is(err, model.ErrInvalidImage) {
			t.Errorf("Load(%+v) err = %v, want ErrInvalidImage", spec, err)
		}
	}
	if used, _ := arena.Usage(); used != 0 {
		t.Errorf("used = %d after failed loads", used)
	}
}

func TestLoad_OutOfMemoryRollsBack(t *testing.T) {
	// Room for the code page and kernel stack but not the user stack.
	l, arena := newTestLoader(t, 16*1024)
	_, err := l.Load(config.ProcessSpec{Name: "big", Program: "spin"})
	if !errors.Is(err, memory.ErrOutOfMemory) {
		t.Fatalf("err = %v, want ErrOutOfMemory", err)
	}
	if used, _ := arena.Usage(); used != 0 {
		t.Errorf("used = %d, want 0 after rollback", used)
	}
}

func TestRelease(t *testing.T) {
	l, arena := newTestLoader(t, 1<<20)
	img, err := l.Load(config.ProcessSpec{Name: "a", Program: "spin"})
	if err != nil {
		t.Fatal(err)
	}
	p := model.Process{
		PID:             1,
		EntryPoint:      img.EntryPoint,
		KernelStackBase: img.KernelStack.Base,
		UserStackBase:   img.UserStack.Base,
		PML4PhysAddr:    img.PML4PhysAddr,
	}
	if err := l.Release(p); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if used, _ := arena.Usage(); used != 0 {
		t.Errorf("used = %d after release", used)
	}
	if err := l.Release(p); !errors.Is(err, memory.ErrInvalidFree) {
		t.Errorf("double release err = %v, want ErrInvalidFree", err)
	}
}

func TestUnload(t *testing.T) {
	l, arena := newTestLoader(t, 1<<20)
	img, err := l.Load(config.ProcessSpec{Name: "a", Program: "spin"})
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Unload(img); err != nil {
		t.Fatalf("Unload: %v", err)
	}
	if len(arena.Regions()) != 0 {
		t.Errorf("regions left: %+v", arena.Regions())
	}
}
