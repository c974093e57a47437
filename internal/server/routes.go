package server

import "github.com/go-chi/chi/v5"

// setupRoutes registers all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.health)
	s.router.Get("/event", s.allEvents)

	s.router.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)
		r.Post("/", s.createSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Delete("/", s.deleteSession)
			r.Get("/event", s.sessionEvents)
			r.Post("/message", s.sendMessage)
			r.Post("/confirm", s.confirmToolCall)
			r.Post("/abort", s.abortSession)
			r.Post("/terminate", s.terminateSession)
			r.Post("/snapshot", s.importSnapshot)
		})
	})
}
