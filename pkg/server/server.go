// Package server assembles the HTTP API: the quarantine review surface, run
// status and control, health probes and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/bgross0/data-migrator-sub001/pkg/middleware"
	"github.com/bgross0/data-migrator-sub001/pkg/routes/health"
	"github.com/bgross0/data-migrator-sub001/pkg/routes/quarantine"
	"github.com/bgross0/data-migrator-sub001/pkg/routes/runs"
)

type Config struct {
	AppName           string
	Port              int
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	MaxHeaderBytes    int
	AllowOrigins      []string
	AllowMethods      []string
	// ShutdownTimeout bounds graceful shutdown. Default 15s.
	ShutdownTimeout time.Duration
}

// Routes are the handlers mounted under /api/v1. Nil handlers are skipped.
type Routes struct {
	Health     *health.Checker
	Quarantine *quarantine.Handler
	Runs       *runs.Handler
}

func New(cfg Config, routes Routes, logger ectologger.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)

	e.Use(echomw.Recover())
	if len(cfg.AllowOrigins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: cfg.AllowOrigins,
			AllowMethods: cfg.AllowMethods,
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestID, middleware.HeaderOperator},
		}))
	}
	if cfg.AppName != "" {
		e.Use(otelecho.Middleware(cfg.AppName))
	}
	e.Use(middleware.Context())
	e.Use(middleware.Metrics())
	e.Use(middleware.Logger(logger))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	if routes.Health != nil {
		routes.Health.RegisterRoutes(e)
	}

	api := e.Group("/api/v1")
	if routes.Quarantine != nil {
		routes.Quarantine.Register(api.Group("/quarantine"))
	}
	if routes.Runs != nil {
		routes.Runs.Register(api.Group("/runs"))
	}
	return e
}

// Serve runs e until ctx is done, then shuts down gracefully.
func Serve(ctx context.Context, e *echo.Echo, cfg Config, logger ectologger.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           e,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithContext(ctx).WithFields(map[string]any{"addr": srv.Addr}).Info("HTTP server listening")
		if err := e.StartServer(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	logger.WithContext(ctx).Info("Shutting down HTTP server")
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
