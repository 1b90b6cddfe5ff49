// Package api exposes a planning session over HTTP: JSON endpoints for
// every console action and a websocket stream of session snapshots.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/gorilla/websocket"
	"github.com/signalsfoundry/gridplanner/internal/logging"
	"github.com/signalsfoundry/gridplanner/internal/session"
	"github.com/signalsfoundry/gridplanner/kb"
)

// HTTPMetrics records request outcomes. *observability.ConsoleCollector
// implements it.
type HTTPMetrics interface {
	ObserveHTTP(route, method string, code int, d time.Duration)
}

// Server routes HTTP requests onto one planning session.
type Server struct {
	session *session.Session
	catalog *kb.SectorCatalog
	log     logging.Logger
	metrics HTTPMetrics

	upgrader     websocket.Upgrader
	pingInterval time.Duration
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(l logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithMetrics records every request on m.
func WithMetrics(m HTTPMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAllowedOrigins restricts websocket upgrades to the given origins.
// With no origins every origin is accepted.
func WithAllowedOrigins(origins ...string) Option {
	return func(s *Server) {
		if len(origins) == 0 {
			return
		}
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			allowed[o] = struct{}{}
		}
		s.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		}
	}
}

// WithPingInterval sets how often idle stream connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.pingInterval = d
		}
	}
}

// New builds a server for sess. catalog resolves sector selections.
func New(sess *session.Session, catalog *kb.SectorCatalog, opts ...Option) *Server {
	s := &Server{
		session:      sess,
		catalog:      catalog,
		log:          logging.Noop(),
		pingInterval: 30 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(logging.String("component", "api"))
	return s
}

// Router returns the HTTP handler for the console API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.operationID)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Get("/sectors", s.handleListSectors)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.handleSnapshot)
		r.Post("/sector", s.handleSelectSector)
		r.Post("/reset", s.handleReset)
		r.Post("/mode", s.handleSetMode)
		r.Post("/clicks", s.handleClick)
		r.Post("/plan", s.handleComputePlan)
		r.Get("/analytics", s.handleAnalytics)
		r.Post("/simulate", s.handleSetSimulate)
		r.Post("/drone", s.handleDispatchDrone)
		r.Post("/failures", s.handleKillNode)
		r.Get("/stream", s.handleStream)
	})
	return r
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "console api listening", logging.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{"status": "ok"})
}
