package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/me/kernsim/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleRun(id string, started time.Time) *model.Run {
	return &model.Run{
		ID:        id,
		Config:    `{"max_processes":256}`,
		StartedAt: started,
	}
}

func sampleEvents() []model.Event {
	return []model.Event{
		{Seq: 1, Tick: 0, Kind: model.EventCreate, PID: 1, Name: "init", State: model.ProcessStateReady},
		{Seq: 2, Tick: 0, Kind: model.EventCreate, PID: 2, Name: "shell", State: model.ProcessStateReady},
		{Seq: 3, Tick: 1, Kind: model.EventDispatch, PID: 1, Name: "init", State: model.ProcessStateRunning},
		{Seq: 4, Tick: 3, Kind: model.EventPanic, PID: 1, Name: "init", State: model.ProcessStateTerminated,
			Error: "task panicked: pid 1 (init): general protection fault"},
		{Seq: 5, Tick: 3, Kind: model.EventDispatch, PID: 2, Name: "shell", State: model.ProcessStateRunning},
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestRunLifecycle(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	started := time.Now().UTC().Truncate(time.Millisecond)

	if err := st.CreateRun(ctx, sampleRun("run_a", started)); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	got, err := st.GetRun(ctx, "run_a")
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got == nil || got.FinishedAt != nil || !got.StartedAt.Equal(started) {
		t.Fatalf("GetRun = %+v", got)
	}
	if got.Config != `{"max_processes":256}` {
		t.Errorf("Config = %q", got.Config)
	}

	finished := started.Add(2 * time.Second)
	if err := st.FinishRun(ctx, "run_a", 1234, finished); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	got, _ = st.GetRun(ctx, "run_a")
	if got.Ticks != 1234 || got.FinishedAt == nil || !got.FinishedAt.Equal(finished) {
		t.Errorf("finished run = %+v", got)
	}

	if err := st.FinishRun(ctx, "run_missing", 1, finished); err == nil {
		t.Error("FinishRun of unknown run should fail")
	}
	missing, err := st.GetRun(ctx, "run_missing")
	if err != nil || missing != nil {
		t.Errorf("GetRun(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestListRuns_NewestFirst(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		if err := st.CreateRun(ctx, sampleRun(fmt.Sprintf("run_%d", i), base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	runs, total, err := st.ListRuns(ctx, model.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if total != 5 || len(runs) != 2 {
		t.Fatalf("total = %d, len = %d", total, len(runs))
	}
	if runs[0].ID != "run_4" || runs[1].ID != "run_3" {
		t.Errorf("order = %s, %s", runs[0].ID, runs[1].ID)
	}
}

func TestEvents_RecordAndFilter(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.CreateRun(ctx, sampleRun("run_ev", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}
	if err := st.RecordEvents(ctx, "run_ev", sampleEvents()); err != nil {
		t.Fatalf("RecordEvents: %v", err)
	}
	if err := st.RecordEvents(ctx, "run_ev", nil); err != nil {
		t.Errorf("RecordEvents(nil): %v", err)
	}

	tests := []struct {
		name  string
		opts  model.ListOptions
		total int
		seqs  []uint64
	}{
		{"all", model.ListOptions{}, 5, []uint64{1, 2, 3, 4, 5}},
		{"kind", model.ListOptions{Kind: "dispatch"}, 2, []uint64{3, 5}},
		{"pid", model.ListOptions{PID: 1}, 3, []uint64{1, 3, 4}},
		{"kind and pid", model.ListOptions{Kind: "dispatch", PID: 2}, 1, []uint64{5}},
		{"page", model.ListOptions{Limit: 2, Offset: 2}, 5, []uint64{3, 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			evs, total, err := st.ListEvents(ctx, "run_ev", tt.opts)
			if err != nil {
				t.Fatalf("ListEvents: %v", err)
			}
			if total != tt.total || len(evs) != len(tt.seqs) {
				t.Fatalf("total = %d, len = %d; want %d, %d", total, len(evs), tt.total, len(tt.seqs))
			}
			for i, ev := range evs {
				if ev.Seq != tt.seqs[i] {
					t.Errorf("evs[%d].Seq = %d, want %d", i, ev.Seq, tt.seqs[i])
				}
			}
		})
	}

	evs, _, _ := st.ListEvents(ctx, "run_ev", model.ListOptions{Kind: "panic"})
	if len(evs) != 1 || evs[0].State != model.ProcessStateTerminated || evs[0].Error == "" {
		t.Errorf("panic event = %+v", evs)
	}
}

func TestEvents_UnknownRunRejected(t *testing.T) {
	st := testStore(t)
	err := st.RecordEvents(context.Background(), "run_nope", sampleEvents())
	if err == nil {
		t.Fatal("expected foreign key violation")
	}
	evs, total, err := st.ListEvents(context.Background(), "run_nope", model.ListOptions{})
	if err != nil || total != 0 || len(evs) != 0 {
		t.Errorf("partial batch persisted: %d events, err %v", total, err)
	}
}

func TestProcesses_SaveAndList(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	if err := st.CreateRun(ctx, sampleRun("run_p", time.Now().UTC())); err != nil {
		t.Fatal(err)
	}

	procs := []model.Process{
		{PID: 2, Name: "shell", UID: 1000, Priority: 5, State: model.ProcessStateTerminated, EntryPoint: 0x401000, CPUTime: 17, Dispatches: 4, CreatedTick: 0},
		{PID: 1, Name: "init", State: model.ProcessStateTerminated, EntryPoint: 0x400000, CPUTime: 3, ExitStatus: -1, ExitCause: "task panicked"},
	}
	for _, p := range procs {
		if err := st.SaveProcess(ctx, "run_p", p); err != nil {
			t.Fatalf("SaveProcess: %v", err)
		}
	}
	// Saving again replaces the row.
	procs[0].CPUTime = 20
	if err := st.SaveProcess(ctx, "run_p", procs[0]); err != nil {
		t.Fatal(err)
	}

	got, err := st.ListProcesses(ctx, "run_p")
	if err != nil {
		t.Fatalf("ListProcesses: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d", len(got))
	}
	if got[0].PID != 1 || got[0].ExitStatus != -1 || got[0].ExitCause != "task panicked" {
		t.Errorf("got[0] = %+v", got[0])
	}
	if got[1].CPUTime != 20 || got[1].UID != 1000 || got[1].EntryPoint != 0x401000 || got[1].Dispatches != 4 {
		t.Errorf("got[1] = %+v", got[1])
	}
}
