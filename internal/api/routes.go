package api

import "github.com/go-chi/chi/v5"

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	r.Get("/connection", s.HandleConnection)

	r.Route("/schedules", func(r chi.Router) {
		r.Get("/", s.HandleListSchedules)
		r.Get("/{id}", s.HandleGetSchedule)
		if s.sources.ScheduleIntake != nil {
			r.Put("/{id}", s.HandlePutSchedule)
		}
	})

	r.Route("/devices", func(r chi.Router) {
		r.Get("/", s.HandleListDevices)
		r.Get("/{id}", s.HandleGetDevice)
		if s.sources.DeviceIntake != nil {
			r.Put("/{id}", s.HandlePutDevice)
		}
	})

	r.Get("/blocks", s.HandleListBlocks)
	r.Get("/logs", s.HandleRecentLogs)
}
