package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/PRsofteng/start-control-access/internal/events"
	"github.com/PRsofteng/start-control-access/internal/portunus/service"
)

type Dependencies struct {
	Logger      *slog.Logger
	Addr        string
	Coordinator *service.Coordinator
	Directory   *service.Directory
	Hub         *events.Hub

	// RateLimit is requests per second per client IP; 0 disables it.
	RateLimit rate.Limit
	RateBurst int

	// KeepAlive is the SSE comment interval. Defaults to 15s.
	KeepAlive time.Duration
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	router      chi.Router
	coordinator *service.Coordinator
	directory   *service.Directory
	hub         *events.Hub
	keepAlive   time.Duration
}

func NewServer(d Dependencies) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.KeepAlive <= 0 {
		d.KeepAlive = 15 * time.Second
	}

	r := chi.NewRouter()
	s := &Server{
		logger:      d.Logger,
		router:      r,
		coordinator: d.Coordinator,
		directory:   d.Directory,
		hub:         d.Hub,
		keepAlive:   d.KeepAlive,
	}

	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(d.Logger))
	r.Use(middleware.Recoverer)
	if d.RateLimit > 0 {
		r.Use(newIPRateLimiter(d.RateLimit, d.RateBurst).middleware)
	}

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/access_request", s.handleAccessRequest)
		r.Post("/exit", s.handleExit)

		r.Get("/door", s.handleDoorStatus)
		r.Post("/door/open", s.handleManualOpen)

		r.Get("/occupancy", s.handleOccupancy)
		r.Get("/occupancy/{personID}", s.handlePersonOccupancy)

		r.Get("/access_events", s.handleListEvents)
		r.Get("/stats", s.handleStats)
		r.Get("/stream", s.handleStream)

		r.Mount("/persons", s.personRoutes())
		r.Mount("/tags", s.tagRoutes())
	})

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.Ping(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "directory_unavailable", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"door":   s.coordinator.DoorStatus().State,
	})
}
