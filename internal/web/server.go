// Package web serves the HTTP surface of tgsaver serve: the collector API,
// the downloads folder, the event websocket, metrics and the login flow.
package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blockedby/tgsaver/internal/logger"
)

// Version is reported by /health.
var Version = "dev"

// Config holds server configuration
type Config struct {
	Port     int
	FilesDir string // downloads root, browsable under /files/ when set
}

// Server is the chi router plus its http.Server.
type Server struct {
	router *chi.Mux
	config *Config
	hub    *Hub
	log    *logger.Logger

	mu         sync.Mutex
	listener   net.Listener
	httpServer *http.Server
}

// NewServer creates a new HTTP server. api and hub may be nil.
func NewServer(cfg *Config, api http.Handler, hub *Hub) *Server {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		hub:    hub,
		log:    logger.Get().With("web"),
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.logRequests)
	s.router.Use(middleware.Recoverer)

	if cfg.FilesDir != "" {
		files := http.FileServer(http.Dir(cfg.FilesDir))
		s.router.Handle("/files/*", http.StripPrefix("/files/", files))
	}
	if hub != nil {
		s.router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
			ServeWs(hub, w, r)
		})
	}
	s.router.Get("/health", health)

	// api routes get the timeout and compression, websockets must not
	if api != nil {
		s.router.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(middleware.Compress(5))
			r.Handle("/api/*", api)
		})
	}
	return s
}

func health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = fmt.Fprintf(w, `{"status":"ok","version":%q}`, Version)
}

// logRequests writes one debug line per request; errors go out at warn.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		ev := s.log.Debug()
		if ww.Status() >= http.StatusInternalServerError {
			ev = s.log.Warn()
		}
		ev.Str("method", r.Method).Str("path", r.URL.Path).Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).Msg("web: request")
	})
}

// RegisterAuthHandler registers the telegram login endpoints.
func (s *Server) RegisterAuthHandler(h *AuthHandler) {
	s.router.Route("/api/v1/auth", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/qr", h.StartQR)
		r.Delete("/qr", h.CancelQR)
	})
}

// RegisterMetrics exposes the collectors under /metrics on a private registry.
func (s *Server) RegisterMetrics(collectors ...prometheus.Collector) error {
	reg := prometheus.NewRegistry()
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return nil
}

// Listen binds the port. Port 0 picks a free one, see BaseURL.
func (s *Server) Listen() error {
	l, err := net.Listen("tcp", fmt.Sprintf(":%d", s.config.Port))
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.mu.Lock()
	s.listener = l
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Unlock()
	return nil
}

// Serve blocks serving on the bound listener until Stop.
func (s *Server) Serve() error {
	s.mu.Lock()
	srv, l := s.httpServer, s.listener
	s.mu.Unlock()
	if srv == nil {
		return fmt.Errorf("serve: Listen was not called")
	}
	return srv.Serve(l)
}

// Start is Listen followed by Serve.
func (s *Server) Start() error {
	if err := s.Listen(); err != nil {
		return err
	}
	return s.Serve()
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// BaseURL returns the server's base URL
func (s *Server) BaseURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return "http://" + s.listener.Addr().String()
	}
	return fmt.Sprintf("http://localhost:%d", s.config.Port)
}

// Router returns the underlying chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}
