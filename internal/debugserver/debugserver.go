// Package debugserver exposes a small, read-only HTTP surface for operators
// to observe Watch Multiplexer state from outside the process. It is never
// used by the multiplexer itself and carries no application UI.
package debugserver

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/clusterglass/clusterglass/internal/commandsurface"
)

// pushInterval is how often /debug/stream pushes a fresh snapshot, matching
// the teacher's SSE heartbeat cadence for the same kind of low-frequency
// status push.
const pushInterval = 5 * time.Second

// Server is the debug/introspection HTTP server.
type Server struct {
	router  *chi.Mux
	surface *commandsurface.Surface
	upgrade websocket.Upgrader
}

// New builds a Server wrapping surface's Debug operation.
func New(surface *commandsurface.Surface) *Server {
	s := &Server{
		router:  chi.NewRouter(),
		surface: surface,
		upgrade: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := s.router
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:*", "http://127.0.0.1:*"},
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/debug", s.handleDebug)
	r.Get("/debug/stream", s.handleDebugStream)
}

// Handler returns the server's http.Handler for embedding into a parent mux
// or handing to http.ListenAndServe directly.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleDebug(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.surface.Debug()); err != nil {
		log.Printf("debugserver: failed to encode snapshot: %v", err)
	}
}

func (s *Server) handleDebugStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("debugserver: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(pushInterval)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(s.surface.Debug()); err != nil {
			return
		}
	}
}
