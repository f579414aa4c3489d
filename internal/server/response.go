package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/me/kernsim/pkg/model"
)

// requestID generates a unique request identifier.
func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

// respondOK writes a success response with the standard envelope.
func respondOK(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusOK, reqID, data, nil, nil)
}

// respondCreated writes a 201 response with the standard envelope.
func respondCreated(w http.ResponseWriter, reqID string, data any) {
	respondJSON(w, http.StatusCreated, reqID, data, nil, nil)
}

// respondList writes a success response with pagination.
func respondList(w http.ResponseWriter, reqID string, data any, pg *model.Pagination) {
	respondJSON(w, http.StatusOK, reqID, data, pg, nil)
}

// respondError writes an error response with the standard envelope.
func respondError(w http.ResponseWriter, reqID string, status int, apiErr *model.APIError) {
	respondJSON(w, status, reqID, nil, nil, apiErr)
}

// respondErr maps a machine or scheduler error to a status code and error
// code and writes it.
func respondErr(w http.ResponseWriter, reqID string, err error) {
	var (
		notFound   *model.ProcessNotFoundError
		transition *model.InvalidTransitionError
	)
	switch {
	case errors.As(err, &notFound):
		respondError(w, reqID, http.StatusNotFound, &model.APIError{Code: model.ErrNotFound, Message: err.Error()})
	case errors.As(err, &transition):
		respondError(w, reqID, http.StatusConflict, &model.APIError{Code: model.ErrConflict, Message: err.Error()})
	case errors.Is(err, model.ErrTaskQueueFull):
		respondError(w, reqID, http.StatusConflict, &model.APIError{Code: model.ErrConflict, Message: err.Error()})
	case errors.Is(err, model.ErrInvalidImage):
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error()))
	case errors.Is(err, model.ErrRuntimeNotInitialized):
		respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{Code: model.ErrUnavailable, Message: err.Error()})
	default:
		respondError(w, reqID, http.StatusInternalServerError, &model.APIError{Code: model.ErrInternal, Message: err.Error()})
	}
}

func respondJSON(w http.ResponseWriter, status int, reqID string, data any, pg *model.Pagination, apiErr *model.APIError) {
	resp := model.Response{
		RequestID:  reqID,
		Timestamp:  time.Now().UTC(),
		Data:       data,
		Pagination: pg,
		Error:      apiErr,
	}
	if apiErr != nil {
		resp.Status = "error"
	} else {
		resp.Status = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
