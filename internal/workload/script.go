package workload

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/me/kernsim/internal/arch/amd64"
)

// DefaultStepTimeout bounds one step of a script program.
const DefaultStepTimeout = 100 * time.Millisecond

// ErrStepTimeout interrupts a script step that ran too long.
var ErrStepTimeout = errors.New("script step timed out")

// ScriptProgram runs a process body written in JavaScript. The script
// defines step(regs); regs holds the live registers under lower-case names
// (rax, rbx, ..., rip, rflags) and writes to it land in the register file.
// The return value is a step result string as accepted by ParseResult;
// returning nothing continues. A thrown exception is a fault.
//
// Register values cross into JavaScript as numbers, so values above 2^53
// lose precision if the script rewrites them. Registers the script leaves
// untouched are never written back.
type ScriptProgram struct {
	vm      *goja.Runtime
	step    goja.Callable
	timeout time.Duration
}

// ScriptOption configures a ScriptProgram.
type ScriptOption func(*ScriptProgram)

// WithStepTimeout overrides DefaultStepTimeout.
func WithStepTimeout(d time.Duration) ScriptOption {
	return func(p *ScriptProgram) { p.timeout = d }
}

// NewScript compiles src and looks up its step function. args is exposed
// to the script as the global object args.
func NewScript(name, src string, args map[string]int64, opts ...ScriptOption) (*ScriptProgram, error) {
	vm := goja.New()
	if args == nil {
		args = map[string]int64{}
	}
	if err := vm.Set("args", args); err != nil {
		return nil, fmt.Errorf("set args: %w", err)
	}
	if _, err := vm.RunScript(name, src); err != nil {
		return nil, fmt.Errorf("load script %s: %w", name, err)
	}
	step, ok := goja.AssertFunction(vm.Get("step"))
	if !ok {
		return nil, fmt.Errorf("script %s does not define a step(regs) function", name)
	}

	p := &ScriptProgram{vm: vm, step: step, timeout: DefaultStepTimeout}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Step calls step(regs) once.
func (p *ScriptProgram) Step(regs *amd64.Registers) (Result, error) {
	before := regs.Named()
	obj := p.vm.NewObject()
	for name, v := range before {
		if err := obj.Set(name, v); err != nil {
			return Result{}, fmt.Errorf("set register %s: %w", name, err)
		}
	}

	dl := startDeadline(p.vm, p.timeout)
	ret, err := p.step(goja.Undefined(), obj)
	dl.finish()
	if err != nil {
		return Result{}, fmt.Errorf("script step: %w", err)
	}

	for name, old := range before {
		v := obj.Get(name)
		if v == nil || goja.IsUndefined(v) || v.SameAs(p.vm.ToValue(old)) {
			continue
		}
		regs.Set(name, uint64(v.ToInteger()))
	}

	if ret == nil || goja.IsUndefined(ret) || goja.IsNull(ret) {
		return Result{Action: Continue}, nil
	}
	res, err := ParseResult(ret.String())
	if err != nil {
		return Result{}, fmt.Errorf("script step: %w", err)
	}
	return res, nil
}

// deadline interrupts vm when a step outlives its timeout. A callback that
// is already running when the step finishes must not interrupt the next
// step, so firing and finishing are serialized.
type deadline struct {
	mu    sync.Mutex
	vm    *goja.Runtime
	done  bool
	timer *time.Timer
}

func startDeadline(vm *goja.Runtime, timeout time.Duration) *deadline {
	d := &deadline{vm: vm}
	d.timer = time.AfterFunc(timeout, d.fire)
	return d
}

func (d *deadline) fire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.done {
		d.vm.Interrupt(ErrStepTimeout)
	}
}

// finish stops the timer and clears an interrupt that fired too late to
// stop the step.
func (d *deadline) finish() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.done = true
	d.timer.Stop()
	d.vm.ClearInterrupt()
}
