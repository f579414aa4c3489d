package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/me/kernsim/pkg/model"
)

// handleSSEProcess streams state changes of one process via Server-Sent
// Events until it terminates or is reaped.
// GET /api/v1/sse/processes/{pid}
func (s *Server) handleSSEProcess(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}

	p, err := s.machine.Lookup(r.Context(), pid)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	if err := sendSSEEvent(w, flusher, "init", p); err != nil {
		s.logger.Debug("sse client disconnected", "pid", pid, "error", err)
		return
	}
	if p.State.IsTerminal() {
		sendSSEEvent(w, flusher, "complete", p)
		return
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	last := p
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			p, err := s.machine.Lookup(r.Context(), pid)
			var nf *model.ProcessNotFoundError
			if errors.As(err, &nf) {
				// Reaped between polls; the last state seen is final.
				sendSSEEvent(w, flusher, "complete", last)
				return
			}
			if err != nil {
				s.logger.Error("sse lookup error", "pid", pid, "error", err)
				continue
			}

			if p.State != last.State {
				if err := sendSSEEvent(w, flusher, "update", p); err != nil {
					s.logger.Debug("sse client disconnected", "pid", pid)
					return
				}
			} else {
				fmt.Fprintf(w, ": heartbeat\n\n")
				flusher.Flush()
			}
			last = p

			if p.State.IsTerminal() {
				sendSSEEvent(w, flusher, "complete", p)
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
