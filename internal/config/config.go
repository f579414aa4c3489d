// Package config holds the machine configuration and the YAML machine file
// format: machine settings plus the processes to create at boot.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MachineConfig holds configuration for a simulated machine.
type MachineConfig struct {
	MaxProcesses     int           `yaml:"max_processes"`      // Process table capacity (default 256)
	DefaultTimeSlice uint8         `yaml:"default_time_slice"` // Quantum in ticks (default 5)
	MaxPriority      uint8         `yaml:"max_priority"`       // Highest accepted priority (default 255)
	KernelStackSize  uint64        `yaml:"kernel_stack_size"`  // Bytes per kernel stack (default 8 KiB)
	UserStackSize    uint64        `yaml:"user_stack_size"`    // Bytes per user stack (default 16 KiB)
	MemorySize       uint64        `yaml:"memory_size"`        // Simulated physical memory (default 16 MiB)
	TickInterval     time.Duration `yaml:"tick_interval"`      // Real-time tick period for serve (default 10ms)
	LogLevel         string        `yaml:"log_level"`          // Log level: debug, info, warn, error
	LogFormat        string        `yaml:"log_format"`         // Log format: text, json
	DBPath           string        `yaml:"db_path"`            // SQLite trace database (default ~/.kernsim/kernsim.db, ":memory:" for testing)
	Addr             string        `yaml:"addr"`               // API listen address (default ":8080")
}

// DefaultMachineConfig returns sensible defaults.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		MaxProcesses:     256,
		DefaultTimeSlice: 5,
		MaxPriority:      255,
		KernelStackSize:  8 * 1024,
		UserStackSize:    16 * 1024,
		MemorySize:       16 << 20,
		TickInterval:     10 * time.Millisecond,
		LogLevel:         "info",
		LogFormat:        "text",
		Addr:             ":8080",
	}
}

// Validate checks for settings the machine cannot boot with.
func (c MachineConfig) Validate() error {
	var errs []error
	if c.MaxProcesses <= 0 {
		errs = append(errs, fmt.Errorf("max_processes must be positive, got %d", c.MaxProcesses))
	}
	if c.DefaultTimeSlice == 0 {
		errs = append(errs, errors.New("default_time_slice must be positive"))
	}
	if c.KernelStackSize < 1024 || c.KernelStackSize%16 != 0 {
		errs = append(errs, fmt.Errorf("kernel_stack_size must be a multiple of 16 and at least 1024, got %d", c.KernelStackSize))
	}
	if c.UserStackSize == 0 || c.UserStackSize%16 != 0 {
		errs = append(errs, fmt.Errorf("user_stack_size must be a positive multiple of 16, got %d", c.UserStackSize))
	}
	if c.MemorySize < 1<<20 {
		errs = append(errs, fmt.Errorf("memory_size must be at least 1 MiB, got %d", c.MemorySize))
	}
	if c.TickInterval <= 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be positive, got %s", c.TickInterval))
	}
	return errors.Join(errs...)
}

// ProcessSpec describes a process to create: either a builtin program
// looked up by name, or a JavaScript step function.
type ProcessSpec struct {
	Name     string           `yaml:"name" json:"name"`
	UID      uint32           `yaml:"uid" json:"uid"`
	Priority uint8            `yaml:"priority" json:"priority"`
	Program  string           `yaml:"program,omitempty" json:"program,omitempty"`
	Script   string           `yaml:"script,omitempty" json:"script,omitempty"`
	Args     map[string]int64 `yaml:"args,omitempty" json:"args,omitempty"`
}

// Validate checks that the spec names exactly one body.
func (p ProcessSpec) Validate() error {
	switch {
	case p.Name == "":
		return errors.New("process name is required")
	case p.Program == "" && p.Script == "":
		return fmt.Errorf("process %q: one of program or script is required", p.Name)
	case p.Program != "" && p.Script != "":
		return fmt.Errorf("process %q: program and script are mutually exclusive", p.Name)
	}
	return nil
}

// File is a machine file.
type File struct {
	Machine   MachineConfig `yaml:"machine"`
	Processes []ProcessSpec `yaml:"processes"`
}

// Load reads and parses a machine file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read machine file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a machine file. Unset machine settings keep their defaults
// and unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	f := &File{Machine: DefaultMachineConfig()}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse machine file: %w", err)
	}
	if err := f.Machine.Validate(); err != nil {
		return nil, err
	}
	for i, p := range f.Processes {
		if err := p.Validate(); err != nil {
			return nil, fmt.Errorf("processes[%d]: %w", i, err)
		}
	}
	return f, nil
}
