package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/me/kernsim/internal/config"
	"github.com/me/kernsim/internal/machine"
	"github.com/me/kernsim/internal/server"
	"github.com/me/kernsim/internal/store"
	"github.com/me/kernsim/internal/workload"
)

const testMachine = `
machine:
  memory_size: 4194304
  default_time_slice: 4
processes:
  - name: alpha
    program: counter
    args: {limit: 12}
  - name: beta
    program: counter
    args: {limit: 9}
  - name: broken
    program: faulty
    args: {after: 2}
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := root.Execute()
	return out.String(), err
}

// startTestServer boots a machine with an in-memory store behind the API
// and returns the URL. The machine is not started; tests step it.
func startTestServer(t *testing.T) (string, *machine.Machine) {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultMachineConfig()
	cfg.MemorySize = 4 << 20
	cfg.TickInterval = time.Millisecond
	m := machine.New(cfg, st, workload.NewRegistry(), srvLogger)
	if err := m.Boot(context.Background(), nil); err != nil {
		t.Fatalf("boot: %v", err)
	}

	ts := httptest.NewServer(server.New(m, st, srvLogger).Handler())
	t.Cleanup(ts.Close)
	return ts.URL, m
}

func TestRunCommand(t *testing.T) {
	cfgPath := writeFile(t, "machine.yaml", testMachine)
	db := filepath.Join(t.TempDir(), "trace.db")

	out, err := runCLI(t, "--db", db, "-c", cfgPath, "run")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	for _, want := range []string{"Run:        run_", "3 reaped, 0 live, 1 faulted", "alpha", "beta", "fault"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if !regexp.MustCompile(`alpha\s+TERMINATED.*\s12\n`).MatchString(out) {
		t.Errorf("alpha should exit with status 12:\n%s", out)
	}

	out, err = runCLI(t, "--db", db, "runs")
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if !strings.Contains(out, "run_") || !strings.Contains(out, "finished") {
		t.Errorf("runs output:\n%s", out)
	}

	out, err = runCLI(t, "--db", db, "events", "latest", "--kind", "exit")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if n := strings.Count(out, " exit "); n != 2 {
		t.Errorf("exit events = %d, want 2:\n%s", n, out)
	}

	out, err = runCLI(t, "--db", db, "events", "latest", "--kind", "panic")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if !strings.Contains(out, "general protection fault") {
		t.Errorf("panic event missing:\n%s", out)
	}
}

func TestRunCommand_Ticks(t *testing.T) {
	cfgPath := writeFile(t, "machine.yaml", `
processes:
  - name: forever
    program: spin
`)
	out, err := runCLI(t, "--db", "none", "-c", cfgPath, "run", "--ticks", "25")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "Ticks:      25 ") {
		t.Errorf("output:\n%s", out)
	}
	if strings.Contains(out, "Run:") {
		t.Errorf("untraced run printed a run id:\n%s", out)
	}
	if !strings.Contains(out, "0 reaped, 1 live") {
		t.Errorf("output:\n%s", out)
	}
}

func TestRunCommand_BadConfig(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown key", "machine:\n  cores: 4\n"},
		{"no body", "processes:\n  - name: x\n"},
		{"bad slice", "machine:\n  default_time_slice: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfgPath := writeFile(t, "machine.yaml", tt.content)
			if _, err := runCLI(t, "--db", "none", "-c", cfgPath, "run"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRunCommand_UnknownProgram(t *testing.T) {
	cfgPath := writeFile(t, "machine.yaml", "processes:\n  - name: x\n    program: warp\n")
	_, err := runCLI(t, "--db", "none", "-c", cfgPath, "run")
	if err == nil || !strings.Contains(err.Error(), "unknown program") {
		t.Errorf("err = %v", err)
	}
}

func TestEventsCommand_NoRuns(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")
	if _, err := runCLI(t, "--db", db, "events", "latest"); err == nil {
		t.Error("expected error for empty database")
	}
	if _, err := runCLI(t, "--db", db, "events", "run_missing"); err == nil {
		t.Error("expected error for unknown run")
	}
	out, err := runCLI(t, "--db", db, "runs")
	if err != nil || !strings.Contains(out, "No runs found.") {
		t.Errorf("runs = %q, %v", out, err)
	}
}

func TestProgramsCommand(t *testing.T) {
	out, err := runCLI(t, "programs")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"counter", "faulty", "io", "sleeper", "spin", "yielder"} {
		if !strings.Contains(out, name) {
			t.Errorf("missing %s:\n%s", name, out)
		}
	}
}

func TestRemoteCommands(t *testing.T) {
	url, m := startTestServer(t)

	out, err := runCLI(t, "--server", url, "spawn", "worker", "--program", "counter", "--arg", "limit=50", "--priority", "3")
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !strings.Contains(out, "Process created: pid 1 (worker)") {
		t.Errorf("spawn output: %s", out)
	}

	script := writeFile(t, "tty.js", `function step(r) { return "block:tty"; }`)
	if _, err := runCLI(t, "--server", url, "spawn", "tty", "--script-file", script, "--priority", "9"); err != nil {
		t.Fatalf("spawn script: %v", err)
	}

	// tty runs first at priority 9 and blocks.
	if _, err := m.RunFor(context.Background(), 2, false); err != nil {
		t.Fatal(err)
	}

	out, err = runCLI(t, "--server", url, "ps")
	if err != nil {
		t.Fatalf("ps: %v", err)
	}
	if !regexp.MustCompile(`tty\s+BLOCKED`).MatchString(out) || !regexp.MustCompile(`worker\s+RUNNING`).MatchString(out) {
		t.Errorf("ps output:\n%s", out)
	}

	out, err = runCLI(t, "--server", url, "ps", "--state", "blocked")
	if err != nil || strings.Contains(out, "worker") {
		t.Errorf("ps --state blocked: %v\n%s", err, out)
	}

	out, err = runCLI(t, "--server", url, "wake", "2")
	if err != nil {
		t.Fatalf("wake: %v", err)
	}
	if !strings.Contains(out, "pid 2 is READY") {
		t.Errorf("wake output: %s", out)
	}

	out, err = runCLI(t, "--server", url, "nice", "1", "12")
	if err != nil || !strings.Contains(out, "pid 1 priority 12") {
		t.Errorf("nice: %v %s", err, out)
	}

	out, err = runCLI(t, "--server", url, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if !strings.Contains(out, "Current:    pid 1") || !strings.Contains(out, "Memory:") {
		t.Errorf("stats output:\n%s", out)
	}
}

func TestRemoteCommands_Errors(t *testing.T) {
	url, _ := startTestServer(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown pid", []string{"wake", "7"}, "not found"},
		{"bad pid", []string{"wake", "seven"}, "invalid pid"},
		{"bad priority", []string{"nice", "1", "300"}, "invalid priority"},
		{"no body", []string{"spawn", "x"}, "program"},
		{"unknown program", []string{"spawn", "x", "--program", "warp"}, "unknown program"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, append([]string{"--server", url}, tt.args...)...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}
