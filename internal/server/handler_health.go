package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Machine   string `json:"machine"`
	Store     string `json:"store"`
	Ticks     uint64 `json:"ticks"`
	Live      int    `json:"live"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	resp := healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Machine:   "running",
		Store:     "sqlite",
	}
	if s.store == nil {
		resp.Store = "disabled"
	}
	st, err := s.machine.Stats(r.Context())
	if err != nil {
		resp.Status = "degraded"
		resp.Machine = err.Error()
	} else {
		resp.Ticks = st.Ticks
		resp.Live = st.Live
	}
	respondOK(w, reqID, resp)
}
