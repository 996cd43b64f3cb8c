// Package server exposes a Scheduler over HTTP so an external signal
// controller or simulator can drive it tick by tick.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/signal-sim/signal-sim/internal/tracestore"
	"github.com/signal-sim/signal-sim/sim"
)

// Config holds optional collaborators of the server.
type Config struct {
	Store *tracestore.Store // nil: decisions live only in the scheduler's trace
	RunID string            // run the store records ticks under
}

// Server serialises HTTP requests onto one Scheduler.
type Server struct {
	mu    sync.Mutex
	sched *sim.Scheduler

	store     *tracestore.Store
	runID     string
	router    chi.Router
	startTime time.Time
}

// New creates a server around sched and sets up its routes.
func New(sched *sim.Scheduler, cfg Config) *Server {
	s := &Server{
		sched:     sched,
		store:     cfg.Store,
		runID:     cfg.RunID,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleState)
		r.Post("/tick", s.handleTick)
		r.Post("/explain", s.handleExplain)
		r.Route("/trace", func(r chi.Router) {
			r.Get("/summary", s.handleTraceSummary)
			r.Get("/ticks", s.handleTraceTicks)
		})
	})
}
