package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/me/kernsim/internal/config"
	"github.com/me/kernsim/internal/machine"
	"github.com/me/kernsim/internal/store"
	"github.com/me/kernsim/internal/workload"
	"github.com/me/kernsim/pkg/model"
)

type testEnv struct {
	srv     *Server
	machine *machine.Machine
	store   *store.SQLiteStore
}

func newTestEnv(t *testing.T, mutate func(*config.MachineConfig)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st, err := store.NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	cfg := config.DefaultMachineConfig()
	cfg.MemorySize = 4 << 20
	cfg.TickInterval = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	m := machine.New(cfg, st, workload.NewRegistry(), logger)
	if err := m.Boot(context.Background(), nil); err != nil {
		t.Fatalf("boot: %v", err)
	}
	return &testEnv{
		srv:     New(m, st, logger, WithPollInterval(2*time.Millisecond)),
		machine: m,
		store:   st,
	}
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, h http.Handler, method, path, body string, wantStatus int) envelope {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	return v
}

func TestDiscovery(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := do(t, env.srv, "GET", "/api/v1/", "", http.StatusOK)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.RequestID == "" {
		t.Error("request_id is empty")
	}
	data := decode[discoveryResponse](t, resp.Data)
	if data.Name != "kernsim API" {
		t.Errorf("name = %q", data.Name)
	}
	if len(data.Endpoints) < 8 {
		t.Errorf("endpoints count = %d, want >= 8", len(data.Endpoints))
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := do(t, env.srv, "GET", "/api/v1/health", "", http.StatusOK)
	data := decode[healthResponse](t, resp.Data)
	if data.Status != "healthy" || data.Store != "sqlite" || data.GoVersion == "" {
		t.Errorf("health = %+v", data)
	}
}

func TestHealth_NotBooted(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := New(machine.New(config.DefaultMachineConfig(), nil, nil, logger), nil, logger)

	data := decode[healthResponse](t, do(t, srv, "GET", "/api/v1/health", "", http.StatusOK).Data)
	if data.Status != "degraded" || data.Store != "disabled" {
		t.Errorf("health = %+v", data)
	}
	resp := do(t, srv, "GET", "/api/v1/processes", "", http.StatusServiceUnavailable)
	if resp.Error == nil || resp.Error.Code != model.ErrUnavailable {
		t.Errorf("error = %+v", resp.Error)
	}
	do(t, srv, "GET", "/api/v1/runs", "", http.StatusServiceUnavailable)
}

func TestRequestIDHeader(t *testing.T) {
	env := newTestEnv(t, nil)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	req.Header.Set("X-Request-ID", "req_caller")
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); got != "req_caller" {
		t.Errorf("X-Request-ID = %q", got)
	}
	var resp envelope
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.RequestID != "req_caller" {
		t.Errorf("request_id = %q", resp.RequestID)
	}
}

func TestCreateAndGetProcess(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := do(t, env.srv, "POST", "/api/v1/processes",
		`{"name":"init","uid":0,"priority":7,"program":"counter","args":{"limit":10}}`, http.StatusCreated)
	created := decode[model.Process](t, resp.Data)
	if created.PID == 0 || created.State != model.ProcessStateReady || created.Priority != 7 {
		t.Fatalf("created = %+v", created)
	}
	if created.KernelStackPointer == 0 || created.EntryPoint == 0 {
		t.Errorf("image not set up: %+v", created)
	}

	got := decode[model.Process](t, do(t, env.srv, "GET", "/api/v1/processes/1", "", http.StatusOK).Data)
	if got.Name != "init" {
		t.Errorf("got = %+v", got)
	}

	list := do(t, env.srv, "GET", "/api/v1/processes", "", http.StatusOK)
	if list.Pagination == nil || list.Pagination.Total != 1 {
		t.Errorf("pagination = %+v", list.Pagination)
	}
	ready := do(t, env.srv, "GET", "/api/v1/processes?state=ready", "", http.StatusOK)
	if procs := decode[[]model.Process](t, ready.Data); len(procs) != 1 {
		t.Errorf("ready = %+v", procs)
	}
	blocked := do(t, env.srv, "GET", "/api/v1/processes?state=BLOCKED", "", http.StatusOK)
	if procs := decode[[]model.Process](t, blocked.Data); len(procs) != 0 {
		t.Errorf("blocked = %+v", procs)
	}
	do(t, env.srv, "GET", "/api/v1/processes?state=zombie", "", http.StatusBadRequest)
}

func TestCreateProcess_Errors(t *testing.T) {
	env := newTestEnv(t, func(c *config.MachineConfig) { c.MaxProcesses = 1 })

	tests := []struct {
		name   string
		body   string
		status int
		code   model.ErrorCode
	}{
		{"bad json", `{"name":`, http.StatusBadRequest, model.ErrValidation},
		{"no body", `{"name":"x"}`, http.StatusBadRequest, model.ErrValidation},
		{"unknown program", `{"name":"x","program":"warp"}`, http.StatusBadRequest, model.ErrValidation},
		{"bad script", `{"name":"x","script":"function ("}`, http.StatusBadRequest, model.ErrValidation},
		{"first ok", `{"name":"a","program":"spin"}`, http.StatusCreated, ""},
		{"table full", `{"name":"b","program":"spin"}`, http.StatusConflict, model.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := do(t, env.srv, "POST", "/api/v1/processes", tt.body, tt.status)
			if tt.code == "" {
				return
			}
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %s", resp.Error, tt.code)
			}
		})
	}
}

func TestGetProcess_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := do(t, env.srv, "GET", "/api/v1/processes/42", "", http.StatusNotFound)
	if resp.Error.Code != model.ErrNotFound {
		t.Errorf("code = %s", resp.Error.Code)
	}
	do(t, env.srv, "GET", "/api/v1/processes/abc", "", http.StatusBadRequest)
	do(t, env.srv, "GET", "/api/v1/processes/0", "", http.StatusBadRequest)
	do(t, env.srv, "POST", "/api/v1/processes/42/wake", "", http.StatusNotFound)
}

func TestWakeProcess(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	do(t, env.srv, "POST", "/api/v1/processes",
		`{"name":"tty","script":"var n = 0; function step(r) { n++; return n == 1 ? \"block:keyboard\" : undefined; }"}`,
		http.StatusCreated)

	if _, err := env.machine.RunFor(ctx, 3, false); err != nil {
		t.Fatal(err)
	}
	p := decode[model.Process](t, do(t, env.srv, "GET", "/api/v1/processes/1", "", http.StatusOK).Data)
	if p.State != model.ProcessStateBlocked {
		t.Fatalf("state = %s, want BLOCKED", p.State)
	}

	woken := decode[model.Process](t, do(t, env.srv, "POST", "/api/v1/processes/1/wake", "", http.StatusOK).Data)
	if woken.State != model.ProcessStateRunning {
		t.Errorf("woken on idle core = %s, want RUNNING", woken.State)
	}
	// Waking a running process is a no-op.
	do(t, env.srv, "POST", "/api/v1/processes/1/wake", "", http.StatusOK)
}

func TestSetPriority(t *testing.T) {
	env := newTestEnv(t, func(c *config.MachineConfig) { c.MaxPriority = 50 })
	do(t, env.srv, "POST", "/api/v1/processes", `{"name":"a","program":"spin"}`, http.StatusCreated)

	p := decode[model.Process](t, do(t, env.srv, "PUT", "/api/v1/processes/1/priority", `{"priority":9}`, http.StatusOK).Data)
	if p.Priority != 9 {
		t.Errorf("priority = %d", p.Priority)
	}
	do(t, env.srv, "PUT", "/api/v1/processes/1/priority", `{"priority":51}`, http.StatusBadRequest)
	do(t, env.srv, "PUT", "/api/v1/processes/1/priority", `nope`, http.StatusBadRequest)
}

func TestStats(t *testing.T) {
	env := newTestEnv(t, nil)
	do(t, env.srv, "POST", "/api/v1/processes", `{"name":"a","program":"counter","args":{"limit":3}}`, http.StatusCreated)
	if _, err := env.machine.RunFor(context.Background(), 10, true); err != nil {
		t.Fatal(err)
	}

	st := decode[model.Stats](t, do(t, env.srv, "GET", "/api/v1/stats", "", http.StatusOK).Data)
	if st.Reaped != 1 || st.Ticks == 0 || st.MemoryTotal != 4<<20 || st.RunID == "" {
		t.Errorf("stats = %+v", st)
	}
}

func TestRunsAndEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	do(t, env.srv, "POST", "/api/v1/processes", `{"name":"a","program":"counter","args":{"limit":4}}`, http.StatusCreated)
	do(t, env.srv, "POST", "/api/v1/processes", `{"name":"b","program":"faulty","args":{"after":1}}`, http.StatusCreated)
	if _, err := env.machine.RunFor(ctx, 50, true); err != nil {
		t.Fatal(err)
	}
	runID := env.machine.RunID()

	runs := do(t, env.srv, "GET", "/api/v1/runs", "", http.StatusOK)
	if runs.Pagination.Total != 1 {
		t.Fatalf("runs total = %d", runs.Pagination.Total)
	}

	detail := decode[struct {
		ID        string          `json:"id"`
		Processes []model.Process `json:"processes"`
	}](t, do(t, env.srv, "GET", "/api/v1/runs/"+runID, "", http.StatusOK).Data)
	if detail.ID != runID || len(detail.Processes) != 2 {
		t.Errorf("detail = %+v", detail)
	}

	all := do(t, env.srv, "GET", "/api/v1/runs/"+runID+"/events?limit=500", "", http.StatusOK)
	events := decode[[]model.Event](t, all.Data)
	if len(events) == 0 || events[0].Kind != model.EventCreate {
		t.Fatalf("events = %+v", events)
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq <= events[i-1].Seq {
			t.Fatalf("events out of order at %d", i)
		}
	}

	panics := decode[[]model.Event](t, do(t, env.srv, "GET", "/api/v1/runs/"+runID+"/events?kind=panic", "", http.StatusOK).Data)
	if len(panics) != 1 || panics[0].Name != "b" || !strings.Contains(panics[0].Error, "general protection fault") {
		t.Errorf("panics = %+v", panics)
	}

	page := do(t, env.srv, "GET", "/api/v1/runs/"+runID+"/events?limit=2&offset=1", "", http.StatusOK)
	if page.Pagination.Limit != 2 || page.Pagination.Offset != 1 || !page.Pagination.HasMore {
		t.Errorf("pagination = %+v", page.Pagination)
	}

	do(t, env.srv, "GET", "/api/v1/runs/run_missing", "", http.StatusNotFound)
	do(t, env.srv, "GET", "/api/v1/runs/run_missing/events", "", http.StatusNotFound)
	do(t, env.srv, "GET", "/api/v1/runs/"+runID+"/events?limit=x", "", http.StatusBadRequest)
}

func TestSSEProcess(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	do(t, env.srv, "POST", "/api/v1/processes", `{"name":"short","program":"counter","args":{"limit":20}}`, http.StatusCreated)

	go env.machine.Start(ctx)
	defer env.machine.Stop()

	req := httptest.NewRequest("GET", "/api/v1/sse/processes/1", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)

	body := w.Body.String()
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.HasPrefix(body, "event: init\n") {
		t.Errorf("stream does not start with init: %q", body)
	}
	if !strings.Contains(body, "event: complete\n") {
		t.Errorf("stream never completed: %q", body)
	}
	if ctx.Err() != nil {
		t.Error("stream ended by timeout")
	}
}

func TestSSEProcess_NotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	var buf bytes.Buffer
	req := httptest.NewRequest("GET", "/api/v1/sse/processes/9", nil)
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	buf.Write(w.Body.Bytes())
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, body = %s", w.Code, buf.String())
	}
}

func TestWebUIMounted(t *testing.T) {
	env := newTestEnv(t, nil)
	do(t, env.srv, "POST", "/api/v1/processes", `{"name":"shell","program":"spin"}`, http.StatusCreated)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	env.srv.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("GET / status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(w.Body.String(), "shell") {
		t.Error("dashboard does not list the process")
	}
}
