package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/me/kernsim/pkg/model"
)

// listOptions reads limit, offset, kind and pid query parameters.
func listOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	var details []model.FieldError

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "limit", Message: "must be an integer"})
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			details = append(details, model.FieldError{Field: "offset", Message: "must be an integer"})
		}
		opts.Offset = n
	}
	if v := q.Get("pid"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			details = append(details, model.FieldError{Field: "pid", Message: "must be a positive integer"})
		}
		opts.PID = uint32(n)
	}
	opts.Kind = q.Get("kind")

	if len(details) > 0 {
		return opts, model.NewValidationError("invalid query parameters", details...)
	}
	opts.Clamp()
	return opts, nil
}

func (s *Server) storeAvailable(w http.ResponseWriter, reqID string) bool {
	if s.store == nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			&model.APIError{Code: model.ErrUnavailable, Message: "trace store is disabled"})
		return false
	}
	return true
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.storeAvailable(w, reqID) {
		return
	}
	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if runs == nil {
		runs = []*model.Run{}
	}

	respondList(w, reqID, runs, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(runs) < total,
	})
}

type runDetail struct {
	*model.Run
	Processes []model.Process `json:"processes"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.storeAvailable(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}
	procs, err := s.store.ListProcesses(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if procs == nil {
		procs = []model.Process{}
	}
	respondOK(w, reqID, runDetail{Run: run, Processes: procs})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.storeAvailable(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")
	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}

	run, err := s.store.GetRun(r.Context(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if run == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("run", id))
		return
	}

	events, total, err := s.store.ListEvents(r.Context(), id, opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.ErrInternal, Message: err.Error()})
		return
	}
	if events == nil {
		events = []model.Event{}
	}

	respondList(w, reqID, events, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+len(events) < total,
	})
}
