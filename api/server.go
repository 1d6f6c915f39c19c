package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"incident-registry/api/handlers"
	"incident-registry/config"
	"incident-registry/core/incidents"
	"incident-registry/core/rbac"
)

// BackgroundWorker runs alongside the HTTP server for the lifetime of Run.
type BackgroundWorker interface {
	StartWithContext(ctx context.Context) error
	StopWithContext(ctx context.Context) error
}

type ServerDeps struct {
	Incidents *incidents.Service
	Policy    *rbac.Policy
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Health reports readiness of the store for /healthz.
	Health func(ctx context.Context) error
	// SchemaVersion is reported by /healthz when set.
	SchemaVersion func(ctx context.Context) (int64, error)
}

type Server struct {
	cfg            *config.AppConfig
	logger         *slog.Logger
	policy         *rbac.Policy
	incidentsSvc   *incidents.Service
	metricsHandler http.Handler
	health         func(ctx context.Context) error
	schemaVersion  func(ctx context.Context) (int64, error)
	verifyLimiter  *requestLimiter
	workers        []BackgroundWorker
}

func NewServer(cfg *config.AppConfig, deps ServerDeps, workers []BackgroundWorker, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:            cfg,
		logger:         logger,
		policy:         deps.Policy,
		incidentsSvc:   deps.Incidents,
		metricsHandler: deps.Metrics,
		health:         deps.Health,
		schemaVersion:  deps.SchemaVersion,
		workers:        workers,
	}
	if cfg != nil && cfg.Verify.RateLimitPerWindow > 0 {
		window := cfg.Verify.RateLimitWindow
		if window <= 0 {
			window = time.Minute
		}
		s.verifyLimiter = newLimiter(cfg.Verify.RateLimitPerWindow, window)
	}
	return s
}

// Run serves until ctx is cancelled, then drains requests and stops the workers.
func (s *Server) Run(ctx context.Context) error {
	for _, w := range s.workers {
		if err := w.StartWithContext(ctx); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
	}
	httpCfg := config.HTTPConfig{}
	addr := ":8080"
	if s.cfg != nil {
		httpCfg = s.cfg.HTTP
		addr = s.cfg.ListenAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadTimeout:       httpCfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      httpCfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	timeout := httpCfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
	for _, w := range s.workers {
		if err := w.StopWithContext(shutdownCtx); err != nil {
			s.logger.Warn("worker stop", "error", err)
		}
	}
	s.logger.Info("http server stopped")
	return serveErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if s.health != nil {
		if err := s.health(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			handlers.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	body := map[string]any{"status": "ok"}
	if s.schemaVersion != nil {
		version, err := s.schemaVersion(ctx)
		if err != nil {
			s.logger.Warn("schema version check failed", "error", err)
			handlers.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		body["schema_version"] = version
	}
	handlers.WriteJSON(w, http.StatusOK, body)
}
