// Package workload provides the bodies that simulated processes run. A
// Program executes one step at a time against the live register file and
// tells the machine what the process asked for: keep running, yield,
// block, wait or exit.
package workload

import (
	"fmt"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/me/kernsim/internal/arch/amd64"
)

// Action is what a process requests at the end of a step.
type Action int

const (
	Continue Action = iota
	Yield
	Block
	Wait
	Exit
)

func (a Action) String() string {
	switch a {
	case Continue:
		return "continue"
	case Yield:
		return "yield"
	case Block:
		return "block"
	case Wait:
		return "wait"
	case Exit:
		return "exit"
	default:
		return "action(" + strconv.Itoa(int(a)) + ")"
	}
}

// Result is the outcome of one step.
type Result struct {
	Action   Action
	Reason   string // Block: what the process waits on
	Ticks    uint64 // Block: device latency (0 waits for an explicit wake); Wait: duration
	ExitCode int    // Exit
}

// Program is a process body. Step runs one unit of work on the registers of
// the running process. A returned error is a fault.
type Program interface {
	Step(regs *amd64.Registers) (Result, error)
}

// ProgramFunc adapts a function to Program.
type ProgramFunc func(regs *amd64.Registers) (Result, error)

// Step calls f(regs).
func (f ProgramFunc) Step(regs *amd64.Registers) (Result, error) { return f(regs) }

// PanicError is a Go panic raised inside a program step.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("program panic: %v", e.Value)
}

// Run executes one step of p and turns a panic into a *PanicError.
func Run(p Program, regs *amd64.Registers) (res Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{}
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return p.Step(regs)
}

// ParseResult decodes the textual form of a step result:
//
//	"" | "continue"
//	"yield"
//	"block[:<reason>[:<ticks>]]"
//	"wait[:<ticks>]"
//	"exit[:<status>]"
func ParseResult(s string) (Result, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	verb := strings.ToLower(parts[0])
	args := parts[1:]

	switch verb {
	case "", "continue":
		if len(args) > 0 {
			break
		}
		return Result{Action: Continue}, nil
	case "yield":
		if len(args) > 0 {
			break
		}
		return Result{Action: Yield}, nil
	case "block":
		if len(args) > 2 {
			break
		}
		res := Result{Action: Block, Reason: "event"}
		if len(args) > 0 && args[0] != "" {
			res.Reason = args[0]
		}
		if len(args) > 1 {
			n, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return Result{}, fmt.Errorf("block %q: bad ticks: %w", s, err)
			}
			res.Ticks = n
		}
		return res, nil
	case "wait":
		if len(args) > 1 {
			break
		}
		res := Result{Action: Wait, Ticks: 1}
		if len(args) == 1 {
			n, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return Result{}, fmt.Errorf("wait %q: bad ticks: %w", s, err)
			}
			res.Ticks = n
		}
		return res, nil
	case "exit":
		if len(args) > 1 {
			break
		}
		res := Result{Action: Exit}
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return Result{}, fmt.Errorf("exit %q: bad status: %w", s, err)
			}
			res.ExitCode = n
		}
		return res, nil
	}
	return Result{}, fmt.Errorf("unknown step result %q", s)
}
