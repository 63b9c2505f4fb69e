// Package httpcontroller assembles the HTTP server hosting the dashboard
// API.
package httpcontroller

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	api "github.com/chiroscope/chiroscope/internal/api/v1"
	"github.com/chiroscope/chiroscope/internal/batapi"
	"github.com/chiroscope/chiroscope/internal/conf"
	"github.com/chiroscope/chiroscope/internal/imageprovider"
	"github.com/chiroscope/chiroscope/internal/logging"
	"github.com/chiroscope/chiroscope/internal/observability"
	"github.com/chiroscope/chiroscope/internal/refresh"
	"github.com/chiroscope/chiroscope/internal/session"
	"github.com/chiroscope/chiroscope/internal/store"
)

// Server ties together the echo instance, the classification service client
// and the API controller.
type Server struct {
	Echo     *echo.Echo
	Settings *conf.Settings
	Client   *batapi.Client
	Results  *store.ResultStore
	Session  *session.State
	APIV1    *api.Controller

	refresher *refresh.Refresher
	poller    *refresh.Poller
	metrics   *observability.Metrics
	webLogger *slog.Logger
	cancel    context.CancelFunc
}

// New builds a fully wired server. The caller owns the client's lifetime.
func New(settings *conf.Settings, client *batapi.Client) (*Server, error) {
	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	client.SetMetrics(metrics)

	results := store.New()
	refresher := refresh.NewRefresher(client, results)
	refresher.SetMetrics(metrics)
	poller := refresh.NewPoller(client, settings.Poll.HealthInterval)

	images := imageprovider.New(imageprovider.NewResultProvider(nil))
	refresher.SetImages(images)

	webLogger := logging.ForService("httpcontroller")
	if webLogger == nil {
		webLogger = slog.Default().With("service", "httpcontroller")
	}

	s := &Server{
		Echo:      echo.New(),
		Settings:  settings,
		Client:    client,
		Results:   results,
		Session:   session.New(),
		refresher: refresher,
		poller:    poller,
		metrics:   metrics,
		webLogger: webLogger,
	}

	s.Echo.HideBanner = true
	s.Echo.IPExtractor = echo.ExtractIPFromXFFHeader()
	s.configureMiddleware()

	s.APIV1 = api.New(s.Echo, settings, client, results, s.Session, images,
		refresher, poller, log.Default(), metrics)

	s.Echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	return s, nil
}

// configureMiddleware installs the middleware stack.
func (s *Server) configureMiddleware() {
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.Gzip())
	if s.Settings.Server.EnableCORS {
		s.Echo.Use(middleware.CORS())
	}
	if s.Settings.Server.LogRequests {
		s.Echo.Use(s.loggingMiddleware())
	}
}

// loggingMiddleware logs each request through the structured web logger.
func (s *Server) loggingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			level := slog.LevelInfo
			status := c.Response().Status
			if err != nil || status >= http.StatusInternalServerError {
				level = slog.LevelError
			} else if status >= http.StatusBadRequest {
				level = slog.LevelWarn
			}

			s.webLogger.Log(c.Request().Context(), level, "http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", status,
				"ip", c.RealIP(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return err
		}
	}
}

// Start begins serving and launches the background health poller and an
// initial result load. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	go s.poller.StartPolling(ctx)

	go func() {
		loadCtx, loadCancel := context.WithTimeout(ctx, s.Settings.Service.Timeout)
		defer loadCancel()
		if err := s.refresher.Refresh(loadCtx); err != nil {
			s.webLogger.Warn("initial result load failed", "error", err)
		} else {
			s.metrics.SetResultsStored(s.Results.Len())
		}
	}()

	addr := s.Settings.Server.Host + ":" + s.Settings.Server.Port
	s.webLogger.Info("HTTP server starting", "addr", addr)
	err := s.Echo.Start(addr)
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Shutdown stops the poller and drains the HTTP server.
func (s *Server) Shutdown() error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.APIV1 != nil {
		s.APIV1.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("HTTP server shutdown failed: %w", err)
	}
	s.webLogger.Info("HTTP server stopped")
	return nil
}
