package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes builds the router for the chat server.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.handleWebSocket)
	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)

	r.Route("/chats", func(r chi.Router) {
		r.Get("/", s.handleListChats)
		r.Post("/", s.handleCreateChat)
		r.Delete("/", s.handleDeleteChat)
		r.Get("/{id}", s.handleGetChat)
		r.Get("/{id}/creator", s.handleChatCreator)
		r.Get("/{id}/members", s.handleChatMembers)
	})
	return r
}
