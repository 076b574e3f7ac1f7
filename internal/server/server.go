// Copyright (C) 2025-2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server is the admission HTTP layer fronting the Workflow
// Orchestration Service (C8): it decodes the commands in internal/protocol
// from REST requests, calls straight into orchestration.Service/
// taskqueue.Queue/collaborators, and mounts the WebSocket Bridge (C10) for
// the event side of the contract. Handlers never touch the event bus
// directly — state changes reach clients because the collaborators they
// call publish to it, and the bridge is already subscribed.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/stepflow/stepflow/internal/config"
	"github.com/stepflow/stepflow/internal/wsbridge"

	"github.com/go-chi/chi/v5"
)

// Server is the REST + WebSocket API server.
type Server struct {
	httpServer *http.Server
	bridge     *wsbridge.Bridge
}

// New creates and wires up the API server. It does NOT start listening —
// call Run() for that.
func New(cfg *config.ServerConfig, bridge *wsbridge.Bridge, handlers *Handlers) *Server {
	r := chi.NewRouter()

	r.Use(Recovery)
	r.Use(RequestID)
	r.Use(Logger)
	r.Use(CORS(cfg.AllowedOrigins))
	r.Use(MaxBodySize(1 << 20)) // 1 MB default

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/projects/{id}", func(r chi.Router) {
			r.Get("/", handlers.GetProject)
			r.Get("/tasks", handlers.GetTasks)
			r.Post("/tasks", handlers.CreateTask)
			r.Delete("/tasks/{taskId}", handlers.DeleteTask)

			r.Get("/queue", handlers.GetQueueStatus)
			r.Post("/queue/bulk", handlers.BulkQueueItems)
			r.Post("/queue/{itemId}/pause", handlers.PauseQueueItem)
			r.Post("/queue/{itemId}/resume", handlers.ResumeQueueItem)
			r.Post("/queue/{itemId}/cancel", handlers.CancelQueueItem)
			r.Post("/queue/{itemId}/reorder", handlers.ReorderQueueItem)

			r.Post("/workflows", handlers.ExecuteWorkflow)

			r.Post("/analysis", handlers.RunAnalysis)
			r.Get("/analysis", handlers.GetAnalyses)

			r.Get("/chats", handlers.GetChatHistory)
		})

		r.Route("/ide", func(r chi.Router) {
			r.Get("/", handlers.ListIDEs)
			r.Post("/", handlers.LaunchIDE)
			r.Delete("/{port}", handlers.StopIDE)
			r.Post("/{port}/chat", handlers.SendChatMessage)
		})
	})

	r.Get("/ws", bridge.Handler(cfg.AllowedOrigins))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		bridge: bridge,
	}
}

// Run starts the WebSocket bridge's dispatch loop and the HTTP server.
// Blocks until Shutdown is called; ctx is not consulted, so cancelling it
// does not stop the server.
func (s *Server) Run(ctx context.Context) error {
	s.bridge.Start()

	getLog().Info().Str("addr", s.httpServer.Addr).Msg("API server listening")
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server and the WebSocket bridge.
func (s *Server) Shutdown(ctx context.Context) error {
	s.bridge.Stop()
	return s.httpServer.Shutdown(ctx)
}
