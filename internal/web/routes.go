package web

import (
	"github.com/go-chi/chi/v5"

	"votegate/internal/web/handlers"
)

func (s *Server) setupRoutes() {
	sessionsHandler := handlers.NewSessionsHandler(s.engine)
	streamHandler := handlers.NewStreamHandler(s.engine, s.broker)
	votesHandler := handlers.NewVotesHandler(s.engine)

	// Health check
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	// API routes
	s.router.Route("/api/v1", func(r chi.Router) {
		// Verification sessions
		r.Post("/sessions", sessionsHandler.Create)
		r.Get("/sessions/{id}", sessionsHandler.Get)
		r.Post("/sessions/{id}/image", sessionsHandler.SubmitImage)

		// Live session events (WebSocket for browsers, SSE fallback)
		r.Get("/sessions/{id}/ws", streamHandler.WebSocket)
		r.Get("/sessions/{id}/events", streamHandler.Events)

		// Ballots and the election hash chain
		r.Post("/elections/{electionID}/votes", votesHandler.Cast)
		r.Get("/elections/{electionID}/chain", votesHandler.Chain)
		r.Get("/elections/{electionID}/chain/verify", votesHandler.Verify)
	})
}
