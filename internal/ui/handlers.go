package ui

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/kernsim/pkg/model"
)

// HandleDashboard renders machine counters, the live process table and the
// most recent runs.
func (ui *UI) HandleDashboard(w http.ResponseWriter, r *http.Request) {
	data := map[string]any{
		"Title":   "Dashboard - kernsim",
		"Refresh": ui.refresh.Milliseconds(),
		"Uptime":  time.Since(ui.startTime).Round(time.Second).String(),
	}

	stats, err := ui.machine.Stats(r.Context())
	if err != nil {
		data["MachineError"] = err.Error()
	} else {
		data["Stats"] = stats
		procs, err := ui.machine.Processes(r.Context())
		if err != nil {
			ui.renderError(w, "Failed to list processes", err)
			return
		}
		data["Processes"] = procs
	}

	if ui.store != nil {
		runs, total, err := ui.store.ListRuns(r.Context(), model.ListOptions{Limit: 5})
		if err != nil {
			ui.renderError(w, "Failed to list runs", err)
			return
		}
		data["RecentRuns"] = runs
		data["RunCount"] = total
	}
	ui.render(w, http.StatusOK, "dashboard", data)
}

// HandleProcessTable renders only the live process table, for polling.
func (ui *UI) HandleProcessTable(w http.ResponseWriter, r *http.Request) {
	procs, err := ui.machine.Processes(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	ui.renderFragment(w, "process_table", procs)
}

// HandleRunList renders the recorded runs.
func (ui *UI) HandleRunList(w http.ResponseWriter, r *http.Request) {
	if ui.store == nil {
		ui.renderNotFound(w, "Tracing is disabled on this machine")
		return
	}
	opts := ui.parseListOptions(r, 20)
	runs, total, err := ui.store.ListRuns(r.Context(), opts)
	if err != nil {
		ui.renderError(w, "Failed to list runs", err)
		return
	}
	ui.render(w, http.StatusOK, "runs", map[string]any{
		"Title":      "Runs - kernsim",
		"Runs":       runs,
		"Pagination": ui.buildPagination(opts, total),
	})
}

// HandleRunDetail renders one run: its configuration, the final accounting
// of every reaped process and a page of the event trace.
func (ui *UI) HandleRunDetail(w http.ResponseWriter, r *http.Request) {
	if ui.store == nil {
		ui.renderNotFound(w, "Tracing is disabled on this machine")
		return
	}
	id := chi.URLParam(r, "id")

	run, err := ui.store.GetRun(r.Context(), id)
	if err != nil {
		ui.renderError(w, "Failed to get run", err)
		return
	}
	if run == nil {
		ui.renderNotFound(w, "Run not found: "+id)
		return
	}
	procs, err := ui.store.ListProcesses(r.Context(), id)
	if err != nil {
		ui.renderError(w, "Failed to list processes", err)
		return
	}

	opts := ui.parseListOptions(r, 100)
	events, total, err := ui.store.ListEvents(r.Context(), id, opts)
	if err != nil {
		ui.renderError(w, "Failed to list events", err)
		return
	}

	ui.render(w, http.StatusOK, "run_detail", map[string]any{
		"Title":      "Run " + id + " - kernsim",
		"Run":        run,
		"Processes":  procs,
		"Events":     events,
		"Kind":       opts.Kind,
		"PID":        opts.PID,
		"Pagination": ui.buildPagination(opts, total),
	})
}

func (ui *UI) parseListOptions(r *http.Request, defLimit int) model.ListOptions {
	opts := model.ListOptions{
		Limit:  defLimit,
		Offset: 0,
	}

	q := r.URL.Query()
	if limit := q.Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 && n <= 500 {
			opts.Limit = n
		}
	}
	if offset := q.Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n >= 0 {
			opts.Offset = n
		}
	}
	if pid := q.Get("pid"); pid != "" {
		if n, err := strconv.ParseUint(pid, 10, 32); err == nil {
			opts.PID = uint32(n)
		}
	}
	opts.Kind = q.Get("kind")

	return opts
}

func (ui *UI) buildPagination(opts model.ListOptions, total int) map[string]any {
	hasMore := opts.Offset+opts.Limit < total
	hasPrev := opts.Offset > 0

	return map[string]any{
		"Total":      total,
		"Limit":      opts.Limit,
		"Offset":     opts.Offset,
		"HasMore":    hasMore,
		"HasPrev":    hasPrev,
		"NextOffset": opts.Offset + opts.Limit,
		"PrevOffset": max(0, opts.Offset-opts.Limit),
	}
}
