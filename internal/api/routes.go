package api

import (
	"github.com/go-chi/chi/v5"
)

// setupAPIRoutes sets up API v1 routes
func (s *RESTServer) setupAPIRoutes(r chi.Router) {
	// Health check
	r.Get("/health", s.HandleHealth)
	r.Get("/", s.HandleRoot)

	// Auth routes (public)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", s.HandleLogin)
		r.Post("/refresh", s.HandleRefresh)
	})

	// CWMP intake. Devices authenticate with HTTP-level credentials
	// handled upstream, not with operator JWTs.
	r.Route("/cwmp", func(r chi.Router) {
		r.Post("/devices/{id}/inform", s.HandleInform)
		r.Post("/sessions/{id}/next", s.HandleSessionNext)
		r.Post("/sessions/{id}/close", s.HandleSessionClose)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		// Users
		r.Route("/users", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/", s.HandleCreateUser)
			r.Get("/me", s.HandleGetCurrentUser)
			r.Get("/{id}", s.HandleGetUser)
		})

		// Devices
		r.Route("/devices", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListDevices)
			r.Post("/", s.HandleCreateDevice)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetDevice)
				r.Put("/", s.HandleUpdateDevice)
				r.Delete("/", s.HandleDeleteDevice)

				// Command delivery
				r.Post("/commands", s.HandleSendCommand)
				r.Get("/commands", s.HandleListDeviceCommands)

				// Connection request
				r.Post("/connection-request", s.HandleConnectionRequest)
				r.Post("/connection-request/test", s.HandleTestConnectionRequest)

				// Validation
				r.Post("/validate", s.HandleValidateParameters)
			})
		})

		// Commands
		r.Route("/commands", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/stats", s.HandleCommandStats)
			r.Post("/clean", s.HandleCleanCommands)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.HandleGetCommand)
				r.Delete("/", s.HandleCancelCommand)
				r.Post("/retry", s.HandleRetryCommand)
			})
		})

		// Sessions
		r.Route("/sessions", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/stats", s.HandleSessionStats)
			r.Post("/cleanup", s.HandleSessionCleanup)
			r.Get("/{id}", s.HandleGetSession)
		})

		// Templates
		r.Route("/templates", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/", s.HandleCreateTemplate)
			r.Get("/{id}", s.HandleGetTemplate)
			r.Post("/{id}/validate", s.HandleValidateTemplate)
		})

		// Events
		r.Route("/events", func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/", s.HandleListEvents)
		})
	})
}
