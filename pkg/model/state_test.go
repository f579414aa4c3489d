package model

import "testing"

func TestProcessState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    ProcessState
		terminal bool
	}{
		{ProcessStateReady, false},
		{ProcessStateBlocked, false},
		{ProcessStateRunning, false},
		{ProcessStateWaiting, false},
		{ProcessStateTerminated, true},
	}
	for _, tt := range tests {
		if got := tt.state.IsTerminal(); got != tt.terminal {
			t.Errorf("ProcessState(%q).IsTerminal() = %v, want %v", tt.state, got, tt.terminal)
		}
	}
}

func TestProcessState_IsSuspended(t *testing.T) {
	states := []ProcessState{ProcessStateReady, ProcessStateRunning, ProcessStateBlocked, ProcessStateWaiting, ProcessStateTerminated}
	for _, s := range states {
		want := s == ProcessStateBlocked || s == ProcessStateWaiting
		if got := s.IsSuspended(); got != want {
			t.Errorf("ProcessState(%q).IsSuspended() = %v, want %v", s, got, want)
		}
	}
}

func TestProcessState_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from  ProcessState
		to    ProcessState
		valid bool
	}{
		// Valid transitions
		{ProcessStateReady, ProcessStateRunning, true},
		{ProcessStateRunning, ProcessStateReady, true},
		{ProcessStateRunning, ProcessStateBlocked, true},
		{ProcessStateRunning, ProcessStateWaiting, true},
		{ProcessStateRunning, ProcessStateTerminated, true},
		{ProcessStateBlocked, ProcessStateReady, true},
		{ProcessStateWaiting, ProcessStateReady, true},

		// Invalid transitions
		{ProcessStateBlocked, ProcessStateRunning, false},
		{ProcessStateWaiting, ProcessStateRunning, false},
		{ProcessStateReady, ProcessStateTerminated, false},
		{ProcessStateReady, ProcessStateBlocked, false},
		{ProcessStateTerminated, ProcessStateReady, false},
		{ProcessStateTerminated, ProcessStateRunning, false},
		{ProcessStateRunning, ProcessStateRunning, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.valid {
			t.Errorf("ProcessState(%q).CanTransitionTo(%q) = %v, want %v", tt.from, tt.to, got, tt.valid)
		}
	}
}

func TestParseProcessState(t *testing.T) {
	if st, ok := ParseProcessState("WAITING"); !ok || st != ProcessStateWaiting {
		t.Errorf("ParseProcessState(WAITING) = %q, %v", st, ok)
	}
	if _, ok := ParseProcessState("ZOMBIE"); ok {
		t.Error("ParseProcessState(ZOMBIE) should fail")
	}
}

func TestProcess_StackPointerInBounds(t *testing.T) {
	p := Process{KernelStackBase: 0x1000, KernelStackSize: 0x2000}
	tests := []struct {
		sp uint64
		ok bool
	}{
		{0x1000, true},
		{0x2f78, true},
		{0x2fff, true},
		{0x3000, false},
		{0x0fff, false},
	}
	for _, tt := range tests {
		p.KernelStackPointer = tt.sp
		if got := p.StackPointerInBounds(); got != tt.ok {
			t.Errorf("sp=%#x: StackPointerInBounds() = %v, want %v", tt.sp, got, tt.ok)
		}
	}
}
