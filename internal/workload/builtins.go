package workload

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/me/kernsim/internal/arch/amd64"
)

// Factory builds a program from its integer arguments.
type Factory func(args map[string]int64) (Program, error)

// Registry maps builtin program names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the builtin programs.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("counter", newCounter)
	r.Register("yielder", newYielder)
	r.Register("sleeper", newSleeper)
	r.Register("io", newIO)
	r.Register("faulty", newFaulty)
	r.Register("spin", newSpin)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds the named program.
func (r *Registry) New(name string, args map[string]int64) (Program, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown program %q", name)
	}
	p, err := f(args)
	if err != nil {
		return nil, fmt.Errorf("program %s: %w", name, err)
	}
	return p, nil
}

// Names returns the registered program names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ErrProtectionFault is the fault raised by the faulty builtin.
var ErrProtectionFault = errors.New("general protection fault")

func arg(args map[string]int64, name string, def int64) (int64, error) {
	v, ok := args[name]
	if !ok {
		return def, nil
	}
	if v < 0 {
		return 0, fmt.Errorf("argument %s must not be negative, got %d", name, v)
	}
	return v, nil
}

// The builtins keep all of their state in registers, so it survives only
// if the context switch preserves it.

// counter increments RAX once per step and exits when it reaches limit.
// The exit status is RAX's low byte.
func newCounter(args map[string]int64) (Program, error) {
	limit, err := arg(args, "limit", 100)
	if err != nil {
		return nil, err
	}
	return ProgramFunc(func(regs *amd64.Registers) (Result, error) {
		regs.RAX++
		if regs.RAX >= uint64(limit) {
			return Result{Action: Exit, ExitCode: int(regs.RAX & 0xff)}, nil
		}
		return Result{Action: Continue}, nil
	}), nil
}

// yielder counts its steps in RBX and yields after each one. With a
// non-zero limit it exits after limit steps.
func newYielder(args map[string]int64) (Program, error) {
	limit, err := arg(args, "limit", 0)
	if err != nil {
		return nil, err
	}
	return ProgramFunc(func(regs *amd64.Registers) (Result, error) {
		regs.RBX++
		if limit > 0 && regs.RBX >= uint64(limit) {
			return Result{Action: Exit}, nil
		}
		return Result{Action: Yield}, nil
	}), nil
}

// sleeper waits ticks timer ticks per round, counting rounds in RCX.
func newSleeper(args map[string]int64) (Program, error) {
	ticks, err := arg(args, "ticks", 10)
	if err != nil {
		return nil, err
	}
	rounds, err := arg(args, "rounds", 0)
	if err != nil {
		return nil, err
	}
	return ProgramFunc(func(regs *amd64.Registers) (Result, error) {
		if rounds > 0 && regs.RCX >= uint64(rounds) {
			return Result{Action: Exit}, nil
		}
		regs.RCX++
		return Result{Action: Wait, Ticks: uint64(ticks)}, nil
	}), nil
}

// io blocks on a simulated device that completes after ticks ticks,
// counting requests in RSI.
func newIO(args map[string]int64) (Program, error) {
	ticks, err := arg(args, "ticks", 3)
	if err != nil {
		return nil, err
	}
	rounds, err := arg(args, "rounds", 0)
	if err != nil {
		return nil, err
	}
	return ProgramFunc(func(regs *amd64.Registers) (Result, error) {
		if rounds > 0 && regs.RSI >= uint64(rounds) {
			return Result{Action: Exit}, nil
		}
		regs.RSI++
		return Result{Action: Block, Reason: "io", Ticks: uint64(ticks)}, nil
	}), nil
}

// faulty runs after steps and then faults: with panic=1 through a Go
// panic, otherwise by returning ErrProtectionFault.
func newFaulty(args map[string]int64) (Program, error) {
	after, err := arg(args, "after", 3)
	if err != nil {
		return nil, err
	}
	usePanic := args["panic"] != 0
	return ProgramFunc(func(regs *amd64.Registers) (Result, error) {
		regs.RDX++
		if regs.RDX <= uint64(after) {
			return Result{Action: Continue}, nil
		}
		if usePanic {
			panic(fmt.Sprintf("invalid opcode at %#x", regs.RIP))
		}
		return Result{}, fmt.Errorf("%w at %#x", ErrProtectionFault, regs.RIP)
	}), nil
}

// spin never gives up the CPU on its own.
func newSpin(map[string]int64) (Program, error) {
	return ProgramFunc(func(regs *amd64.Registers) (Result, error) {
		regs.R8++
		return Result{Action: Continue}, nil
	}), nil
}
