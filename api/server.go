// Package api exposes the ZPLC runtime over HTTP: task management,
// program loading, the debug command surface, and a WebSocket stream
// of debugchan frames. Adapted from the teacher's api/server.go route
// table and CORS middleware, generalized from "assembly debug
// sessions" to "one scheduler instance, no sessions" — ZPLC has
// exactly one running program per process, so there is nothing here
// analogous to the teacher's SessionManager.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/zplc/zplc-core/debugchan"
	"github.com/zplc/zplc-core/scheduler"
)

// Server is the ZPLC HTTP/WebSocket API.
type Server struct {
	sched *scheduler.Scheduler
	debug *debugchan.Channel

	mux    *http.ServeMux
	server *http.Server
	addr   string
}

// NewServer creates a Server bound to sched and debug, listening on
// addr (e.g. "127.0.0.1:7780", per config.Config.API.ListenAddr).
func NewServer(sched *scheduler.Scheduler, debug *debugchan.Channel, addr string) *Server {
	s := &Server{
		sched: sched,
		debug: debug,
		mux:   http.NewServeMux(),
		addr:  addr,
	}
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler with CORS middleware applied.
func (s *Server) Handler() http.Handler {
	return s.corsMiddleware(s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/api/v1/ws", s.handleWebSocket)
	s.mux.HandleFunc("/api/v1/command", s.handleCommand)
	s.mux.HandleFunc("/api/v1/program", s.handleLoadProgram)
	s.mux.HandleFunc("/api/v1/tasks", s.handleTasks)
	s.mux.HandleFunc("/api/v1/tasks/", s.handleTaskRoute)
	s.mux.HandleFunc("/api/v1/lifecycle/", s.handleLifecycle)
	s.mux.HandleFunc("/api/v1/memory", s.handleMemory)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	log.Printf("api: listening on http://%s", s.addr)
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// corsMiddleware restricts cross-origin requests to localhost origins,
// the same policy the teacher applies to its own local debug API.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if isAllowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func isAllowedOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	if strings.HasPrefix(origin, "file://") {
		return true
	}
	return strings.HasPrefix(origin, "http://localhost") ||
		strings.HasPrefix(origin, "https://localhost") ||
		strings.HasPrefix(origin, "http://127.0.0.1") ||
		strings.HasPrefix(origin, "https://127.0.0.1")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		State:       s.sched.State().String(),
		TaskCount:   s.sched.TaskCount(),
		Subscribers: s.debug.SubscriberCount(),
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: http.StatusText(status), Message: message, Code: status})
}

func readJSON(r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20)) // 1MB limit
	return decoder.Decode(v)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed string) bool {
	if r.Method != allowed {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return true
	}
	return false
}
