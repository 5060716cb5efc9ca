// Package server wires handlers and middleware into chi routers and runs them
// with graceful shutdown.
//
// TWO ROUTERS:
// The action host and the monitor feed are separate binaries in production,
// each with its own port:
//
//	NewActionRouter  → POST /api/execute, POST /api/echo, GET /files/*, /mcp
//	NewMonitorRouter → GET|POST /update_monitor, GET /ws, GET /
//
// Both expose GET /metrics and GET /healthz.
//
// COMPOSITION ROOT:
// Dependencies are built in cmd/*/main.go and passed in. The routers only
// decide which URL goes where and what middleware runs.
package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/actionrunner/internal/handler"
	"github.com/sakif/actionrunner/internal/mcptools"
	"github.com/sakif/actionrunner/internal/metrics"
	"github.com/sakif/actionrunner/internal/middleware"
	"github.com/sakif/actionrunner/internal/monitor/feed"
	"github.com/sakif/actionrunner/internal/service"
	"github.com/sakif/actionrunner/internal/storage"
)

// ActionDeps is everything the action host router needs.
type ActionDeps struct {
	Service    *service.ActionService
	Translator *storage.Translator
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// MonitorDeps is everything the monitor router needs.
type MonitorDeps struct {
	Feed      *feed.Feed
	Hub       *feed.Hub
	Templates fs.FS
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// MIDDLEWARE ORDER:
// RequestID → RealIP → Logger → Metrics → Recoverer. A recovered panic is
// still logged and counted as a 500.
func baseRouter(m *metrics.Metrics, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics(m))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", m.Handler())
	return r
}

// NewActionRouter builds the action host routes.
func NewActionRouter(d ActionDeps) http.Handler {
	r := baseRouter(d.Metrics, d.Logger)

	actions := handler.NewActionHandler(d.Service, d.Logger)
	r.Route("/api", func(r chi.Router) {
		r.Post("/execute", actions.HandleExecute)
		r.Post("/echo", actions.HandleEcho)
	})

	files := handler.NewFilesHandler(d.Translator, d.Logger)
	r.Get("/files/*", files.HandleFile)

	mcpHandler := mcptools.Handler(mcptools.NewServer(d.Service, d.Logger))
	r.Handle("/mcp", mcpHandler)
	r.Handle("/mcp/*", mcpHandler)

	return r
}

// NewMonitorRouter builds the monitor feed routes.
func NewMonitorRouter(d MonitorDeps) (http.Handler, error) {
	r := baseRouter(d.Metrics, d.Logger)

	mon := handler.NewMonitorHandler(d.Feed, d.Hub, d.Logger)
	r.Get("/update_monitor", mon.HandleUpdate)
	r.Post("/update_monitor", mon.HandleUpdate)
	r.Get("/ws", mon.HandleViewer)

	dashboard, err := handler.NewDashboardHandler(d.Templates, d.Feed, d.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating dashboard handler: %w", err)
	}
	r.Get("/", dashboard.HandleDashboard)

	return r, nil
}

// Server runs one router on one port.
type Server struct {
	name    string
	port    int
	handler http.Handler
	logger  *slog.Logger
	// WriteTimeout must outlast the execution timeout on the action host.
	WriteTimeout time.Duration
}

func New(name string, port int, h http.Handler, logger *slog.Logger) *Server {
	return &Server{
		name:         name,
		port:         port,
		handler:      h,
		logger:       logger,
		WriteTimeout: 15 * time.Second,
	}
}

// Start serves until SIGINT/SIGTERM, then gives in-flight requests 30 seconds
// to finish.
func (s *Server) Start() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.Run(ctx)
}

// Run serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: s.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.String("server", s.name),
			slog.Int("port", s.port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.port)),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case <-ctx.Done():
		s.logger.Info("shutdown signal received", slog.String("server", s.name))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully", slog.String("server", s.name))
	}

	return nil
}

// ExitOnError is the tail of every main: log and exit non-zero.
func ExitOnError(logger *slog.Logger, msg string, err error) {
	if err == nil {
		return
	}
	logger.Error(msg, slog.String("error", err.Error()))
	os.Exit(1)
}
