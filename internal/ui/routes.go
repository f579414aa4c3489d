package ui

import "github.com/go-chi/chi/v5"

// RegisterRoutes registers all UI routes on the given router.
func (ui *UI) RegisterRoutes(r chi.Router) {
	// Machine
	r.Get("/", ui.HandleDashboard)
	r.Get("/fragments/processes", ui.HandleProcessTable)

	// Recorded runs
	r.Route("/runs", func(r chi.Router) {
		r.Get("/", ui.HandleRunList)
		r.Get("/{id}", ui.HandleRunDetail)
	})
}
