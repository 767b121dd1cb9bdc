// Package ops serves the health and metrics endpoints.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/abjtutorial/tutorbot/core/buildinfo"
	"github.com/abjtutorial/tutorbot/core/logger"
	"github.com/abjtutorial/tutorbot/core/metrics"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// Server is the operational HTTP endpoint.
type Server struct {
	httpServer *http.Server
	router     *chi.Mux
	checks     map[string]Check
}

// New builds the router. checks are run by /healthz.
func New(listen string, m *metrics.Metrics, checks map[string]Check) *Server {
	s := &Server{router: chi.NewRouter(), checks: checks}
	s.router.Use(
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(10*time.Second),
	)
	s.router.Get("/healthz", s.healthz)
	s.router.Get("/version", version)
	s.router.Method(http.MethodGet, "/metrics", m.Handler())

	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	logger.Ops.Info("ops listening",
		slog.String("event", "ops.start"),
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(s.checks))}
	code := http.StatusOK
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			logger.LogEvent(ctx, logger.Ops, slog.LevelWarn, "ops.check_failed",
				slog.String("check", name),
				slog.String("err", err.Error()),
			)
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}

func version(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"version": buildinfo.Version,
		"commit":  buildinfo.Commit,
		"date":    buildinfo.Date,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
