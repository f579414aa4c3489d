package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "kernsim API",
		Version:     "v1",
		Description: "Process scheduling on a simulated amd64 core",
		Endpoints: []endpointInfo{
			{"/api/v1/processes", []string{"GET", "POST"}, "List live processes or create one from a builtin program or script"},
			{"/api/v1/processes/{pid}", []string{"GET"}, "Single process control block"},
			{"/api/v1/processes/{pid}/wake", []string{"POST"}, "Wake a BLOCKED or WAITING process"},
			{"/api/v1/processes/{pid}/priority", []string{"PUT"}, "Change a process priority"},
			{"/api/v1/stats", []string{"GET"}, "Scheduler counters and memory usage"},
			{"/api/v1/runs", []string{"GET"}, "Recorded machine runs"},
			{"/api/v1/runs/{id}", []string{"GET"}, "Run detail with reaped process accounting"},
			{"/api/v1/runs/{id}/events", []string{"GET"}, "Scheduler event trace; filters: kind, pid"},
			{"/api/v1/sse/processes/{pid}", []string{"GET"}, "Stream process state changes"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
