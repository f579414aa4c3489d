package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/me/kernsim/internal/config"
	"github.com/me/kernsim/pkg/model"
)

// pidParam parses the {pid} URL parameter, writing a 400 on failure.
func pidParam(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	raw := chi.URLParam(r, "pid")
	pid, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || pid == 0 {
		respondError(w, RequestIDFromContext(r.Context()), http.StatusBadRequest,
			model.NewValidationError("invalid pid", model.FieldError{Field: "pid", Message: "must be a positive integer, got " + strconv.Quote(raw)}))
		return 0, false
	}
	return uint32(pid), true
}

func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	procs, err := s.machine.Processes(r.Context())
	if err != nil {
		respondErr(w, reqID, err)
		return
	}

	if state := r.URL.Query().Get("state"); state != "" {
		want, ok := model.ParseProcessState(strings.ToUpper(state))
		if !ok {
			respondError(w, reqID, http.StatusBadRequest,
				model.NewValidationError("invalid state filter", model.FieldError{Field: "state", Message: "unknown state " + strconv.Quote(state)}))
			return
		}
		filtered := procs[:0]
		for _, p := range procs {
			if p.State == want {
				filtered = append(filtered, p)
			}
		}
		procs = filtered
	}
	if procs == nil {
		procs = []model.Process{}
	}

	respondList(w, reqID, procs, &model.Pagination{
		Total:   len(procs),
		Limit:   len(procs),
		Offset:  0,
		HasMore: false,
	})
}

func (s *Server) handleCreateProcess(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req model.CreateProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}

	spec := config.ProcessSpec{
		Name:     req.Name,
		UID:      req.UID,
		Priority: req.Priority,
		Program:  req.Program,
		Script:   req.Script,
		Args:     req.Args,
	}
	if err := spec.Validate(); err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	p, err := s.machine.CreateProcess(r.Context(), spec)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.logger.Info("process created", "pid", p.PID, "name", p.Name, "request_id", reqID)
	respondCreated(w, reqID, p)
}

func (s *Server) handleGetProcess(w http.ResponseWriter, r *http.Request) {
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
	respondOK(w, reqID, p)
}

func (s *Server) handleWakeProcess(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}

	if err := s.machine.Wake(r.Context(), pid); err != nil {
		respondErr(w, reqID, err)
		return
	}
	p, err := s.machine.Lookup(r.Context(), pid)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, p)
}

func (s *Server) handleSetPriority(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	pid, ok := pidParam(w, r)
	if !ok {
		return
	}

	var req model.SetPriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.ErrValidation,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}

	if err := s.machine.SetPriority(r.Context(), pid, req.Priority); err != nil {
		respondErr(w, reqID, err)
		return
	}
	p, err := s.machine.Lookup(r.Context(), pid)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, p)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	st, err := s.machine.Stats(r.Context())
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, st)
}
