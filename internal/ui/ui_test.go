package ui

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/kernsim/internal/store"
	"github.com/me/kernsim/pkg/model"
)

type fakeMachine struct {
	procs []model.Process
	stats model.Stats
	err   error
}

func (f *fakeMachine) Processes(ctx context.Context) ([]model.Process, error) {
	return f.procs, f.err
}

func (f *fakeMachine) Stats(ctx context.Context) (model.Stats, error) {
	return f.stats, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, m Machine, st store.Store) http.Handler {
	t.Helper()
	r := chi.NewRouter()
	New(m, st, testLogger(), Config{}).RegisterRoutes(r)
	return r
}

func testStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func get(t *testing.T, h http.Handler, path string, wantStatus int) string {
	t.Helper()
	req := httptest.NewRequest("GET", path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("GET %s: status=%d, want %d, body=%s", path, w.Code, wantStatus, w.Body.String())
	}
	return w.Body.String()
}

func seedRun(t *testing.T, st store.Store) string {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	run := &model.Run{ID: "run_test", Config: "max_processes: 4\n", StartedAt: now}
	if err := st.CreateRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	events := []model.Event{
		{Seq: 1, Tick: 0, Kind: model.EventCreate, PID: 1, Name: "init", State: model.ProcessStateReady},
		{Seq: 2, Tick: 1, Kind: model.EventDispatch, PID: 1, Name: "init", State: model.ProcessStateRunning},
		{Seq: 3, Tick: 4, Kind: model.EventPanic, PID: 1, Name: "init", State: model.ProcessStateTerminated, Error: "task panicked: pid 1 (init): general protection fault"},
	}
	if err := st.RecordEvents(ctx, run.ID, events); err != nil {
		t.Fatal(err)
	}
	p := model.Process{PID: 1, Name: "init", State: model.ProcessStateTerminated, ExitStatus: -1, ExitCause: "general protection fault", CPUTime: 4}
	if err := st.SaveProcess(ctx, run.ID, p); err != nil {
		t.Fatal(err)
	}
	if err := st.FinishRun(ctx, run.ID, 5, now.Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	return run.ID
}

func TestDashboard(t *testing.T) {
	m := &fakeMachine{
		procs: []model.Process{
			{PID: 1, Name: "init", State: model.ProcessStateRunning, Priority: 3, CPUTime: 1234},
			{PID: 2, Name: "tty", State: model.ProcessStateBlocked, BlockReason: "keyboard"},
		},
		stats: model.Stats{Ticks: 12345, Live: 2, Capacity: 256, MemoryUsed: 3 << 20, MemoryTotal: 16 << 20},
	}
	st := testStore(t)
	seedRun(t, st)
	body := get(t, newTestRouter(t, m, st), "/", http.StatusOK)

	for _, want := range []string{"12,345", "1,234", "init", "keyboard", "3.0 MiB", "16 MiB", "run_test", `hx-get="/fragments/processes"`} {
		if !strings.Contains(body, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
}

func TestDashboard_MachineUnavailable(t *testing.T) {
	m := &fakeMachine{err: errors.New("runtime not initialized")}
	body := get(t, newTestRouter(t, m, nil), "/", http.StatusOK)
	if !strings.Contains(body, "Machine unavailable: runtime not initialized") {
		t.Error("dashboard does not report the machine error")
	}
	if strings.Contains(body, "Recent runs") {
		t.Error("runs shown without a store")
	}
}

func TestProcessTableFragment(t *testing.T) {
	m := &fakeMachine{procs: []model.Process{{PID: 7, Name: "worker", State: model.ProcessStateReady, KernelStackPointer: 0x104f78}}}
	body := get(t, newTestRouter(t, m, nil), "/fragments/processes", http.StatusOK)
	if strings.Contains(body, "<html") {
		t.Error("fragment rendered inside the layout")
	}
	if !strings.Contains(body, "worker") || !strings.Contains(body, "0x104f78") {
		t.Errorf("fragment = %s", body)
	}

	m.err = errors.New("down")
	get(t, newTestRouter(t, m, nil), "/fragments/processes", http.StatusServiceUnavailable)
}

func TestRunPages(t *testing.T) {
	st := testStore(t)
	id := seedRun(t, st)
	h := newTestRouter(t, &fakeMachine{}, st)

	body := get(t, h, "/runs", http.StatusOK)
	if !strings.Contains(body, id) {
		t.Error("run list does not contain the run")
	}

	body = get(t, h, "/runs/"+id, http.StatusOK)
	for _, want := range []string{"max_processes: 4", "general protection fault", "dispatch", "3 events"} {
		if !strings.Contains(body, want) {
			t.Errorf("run detail missing %q", want)
		}
	}

	body = get(t, h, "/runs/"+id+"?kind=panic", http.StatusOK)
	if !strings.Contains(body, "1 events") {
		t.Error("kind filter not applied")
	}

	get(t, h, "/runs/run_missing", http.StatusNotFound)
}

func TestRunPages_TracingDisabled(t *testing.T) {
	h := newTestRouter(t, &fakeMachine{}, nil)
	get(t, h, "/runs", http.StatusNotFound)
	get(t, h, "/runs/run_x", http.StatusNotFound)
}

func TestParseAllPages(t *testing.T) {
	for name := range templates {
		if name == "layout" || strings.HasPrefix(name, "components/") {
			continue
		}
		if _, err := parsePage(name); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
	if _, err := parsePage("missing"); err == nil {
		t.Error("expected error for unknown page")
	}
}

func TestErrorPage(t *testing.T) {
	var sb strings.Builder
	if err := renderTemplate(&sb, "error", map[string]any{"Title": "Oops", "Message": "<b>bad</b>"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(sb.String(), "&lt;b&gt;bad&lt;/b&gt;") {
		t.Error("message not escaped")
	}
}
