// Package ui serves a read-only HTML dashboard for a running machine and
// its recorded traces.
package ui

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/me/kernsim/internal/store"
	"github.com/me/kernsim/pkg/model"
)

// Machine is what the dashboard reads from the running machine.
type Machine interface {
	Processes(ctx context.Context) ([]model.Process, error)
	Stats(ctx context.Context) (model.Stats, error)
}

// UI handles the web user interface.
type UI struct {
	machine   Machine
	store     store.Store // nil when tracing is disabled
	logger    *slog.Logger
	startTime time.Time
	refresh   time.Duration
}

// Config holds UI configuration.
type Config struct {
	Refresh time.Duration // Live process table refresh period (default 1s)
}

// New creates a new UI handler.
func New(m Machine, st store.Store, logger *slog.Logger, cfg Config) *UI {
	if cfg.Refresh <= 0 {
		cfg.Refresh = time.Second
	}
	return &UI{
		machine:   m,
		store:     st,
		logger:    logger.With("component", "ui"),
		startTime: time.Now(),
		refresh:   cfg.Refresh,
	}
}

func (ui *UI) render(w http.ResponseWriter, status int, template string, data map[string]any) {
	var buf bytes.Buffer
	if err := renderTemplate(&buf, template, data); err != nil {
		ui.logger.Error("template render failed", "template", template, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

func (ui *UI) renderFragment(w http.ResponseWriter, name string, data any) {
	var buf bytes.Buffer
	if err := renderComponent(&buf, name, data); err != nil {
		ui.logger.Error("fragment render failed", "fragment", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func (ui *UI) renderError(w http.ResponseWriter, message string, err error) {
	ui.logger.Error(message, "error", err)
	ui.render(w, http.StatusInternalServerError, "error", map[string]any{
		"Title":   "Error - kernsim",
		"Message": message,
	})
}

func (ui *UI) renderNotFound(w http.ResponseWriter, message string) {
	ui.render(w, http.StatusNotFound, "error", map[string]any{
		"Title":   "Not Found - kernsim",
		"Message": message,
	})
}
