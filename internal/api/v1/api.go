// Package api implements the JSON API v1 for the analysis dashboard.
package api

import (
	"context"
	"io"
	"log"
	"net/http"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/chiroscope/chiroscope/internal/batapi"
	"github.com/chiroscope/chiroscope/internal/buildinfo"
	"github.com/chiroscope/chiroscope/internal/conf"
	"github.com/chiroscope/chiroscope/internal/errors"
	"github.com/chiroscope/chiroscope/internal/imageprovider"
	"github.com/chiroscope/chiroscope/internal/logging"
	"github.com/chiroscope/chiroscope/internal/model"
	"github.com/chiroscope/chiroscope/internal/observability"
	"github.com/chiroscope/chiroscope/internal/refresh"
	"github.com/chiroscope/chiroscope/internal/session"
	"github.com/chiroscope/chiroscope/internal/store"
)

// Service is the subset of the classification service client the API needs.
type Service interface {
	Health(ctx context.Context) (*model.HealthStatus, error)
	Stats(ctx context.Context) (*model.Stats, error)
	Results(ctx context.Context) ([]model.AnalysisResult, error)
	DeleteResult(ctx context.Context, fileID string) error
	Chat(ctx context.Context, message string, history []model.AnalysisResult, stats *model.Stats) (string, error)
	AnalyzeAudio(ctx context.Context, filename string, file io.Reader, opts batapi.AnalyzeOptions) (*model.AnalysisResult, error)
	AnalyzeSpectrogram(ctx context.Context, filename string, file io.Reader, opts batapi.AnalyzeOptions) (*model.AnalysisResult, error)
	AnalyzeBatch(ctx context.Context, files []batapi.BatchFile, opts batapi.AnalyzeOptions) (*model.BatchSummary, error)
	DownloadCSV(ctx context.Context) (io.ReadCloser, string, error)
	DownloadPDF(ctx context.Context, fileID string) (io.ReadCloser, string, error)
}

// Controller manages the API routes and handlers.
type Controller struct {
	Echo      *echo.Echo
	Group     *echo.Group
	Settings  *conf.Settings
	Service   Service
	Results   *store.ResultStore
	Session   *session.State
	Images    *imageprovider.SpeciesImageCache
	Refresher *refresh.Refresher
	Poller    *refresh.Poller

	logger         *log.Logger
	apiLogger      *slog.Logger
	apiLevelVar    *slog.LevelVar
	apiLoggerClose func() error
	metrics        *observability.Metrics
	startTime      time.Time
}

// New creates the API controller and registers its routes on e.
func New(e *echo.Echo, settings *conf.Settings, svc Service, results *store.ResultStore,
	sess *session.State, images *imageprovider.SpeciesImageCache,
	refresher *refresh.Refresher, poller *refresh.Poller,
	logger *log.Logger, metrics *observability.Metrics) *Controller {

	if logger == nil {
		logger = log.Default()
	}

	c := &Controller{
		Echo:      e,
		Group:     e.Group("/api/v1"),
		Settings:  settings,
		Service:   svc,
		Results:   results,
		Session:   sess,
		Images:    images,
		Refresher: refresher,
		Poller:    poller,
		logger:    logger,
		metrics:   metrics,
		startTime: time.Now(),
	}

	c.apiLevelVar = new(slog.LevelVar)
	c.apiLevelVar.Set(slog.LevelInfo)
	if settings != nil && settings.Debug {
		c.apiLevelVar.Set(slog.LevelDebug)
	}

	apiLogger, closeFunc, err := logging.NewFileLogger("logs/web.log", "api", c.apiLevelVar)
	if err != nil {
		logger.Printf("Warning: failed to initialize API structured logger: %v", err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: c.apiLevelVar})
		c.apiLogger = slog.New(fbHandler).With("service", "api")
		c.apiLoggerClose = func() error { return nil }
	} else {
		c.apiLogger = apiLogger
		c.apiLoggerClose = closeFunc
	}

	c.initRoutes()
	return c
}

// initRoutes registers all API endpoints.
func (c *Controller) initRoutes() {
	c.Group.GET("/health", c.HealthCheck)

	c.initResultRoutes()
	c.initAnalyticsRoutes()
	c.initAnalyzeRoutes()
	c.initChatRoutes()
	c.initExportRoutes()
	c.initSessionRoutes()
}

// HealthCheck reports the dashboard's own liveness plus the remote
// classification service state as seen by the health poller.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	response := map[string]any{
		"status":         "healthy",
		"version":        buildinfo.Version(),
		"build_date":     buildinfo.BuildDate(),
		"timestamp":      time.Now().Format(time.RFC3339),
		"results_stored": c.Results.Len(),
		"uptime_seconds": time.Since(c.startTime).Seconds(),
	}

	serviceStatus := "offline"
	if c.Poller != nil && c.Poller.Online() {
		serviceStatus = "online"
		if last := c.Poller.Last(); last != nil {
			response["service_detail"] = last
		}
	}
	response["service_status"] = serviceStatus

	if cm, ok := c.Service.(interface{ GetMetrics() batapi.Metrics }); ok {
		response["client_metrics"] = cm.GetMetrics()
	}

	return ctx.JSON(http.StatusOK, response)
}

// Shutdown releases controller resources.
func (c *Controller) Shutdown() {
	if c.apiLoggerClose != nil {
		if err := c.apiLoggerClose(); err != nil {
			c.logger.Printf("Error closing API log file: %v", err)
		}
	}
}

// ErrorResponse is the JSON body returned for failed requests.
type ErrorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	Code          int    `json:"code"`
	CorrelationID string `json:"correlation_id"`
}

// NewErrorResponse creates an API error response with a correlation ID for
// log lookup.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	return &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: uuid.NewString(),
	}
}

// HandleError logs err and writes a JSON error response with the given
// status code.
func (c *Controller) HandleError(ctx echo.Context, err error, message string, code int) error {
	errorResp := NewErrorResponse(err, message, code)

	c.logger.Printf("API Error [%s] from %s: %s: %v",
		errorResp.CorrelationID, ctx.RealIP(), message, err)

	if c.apiLogger != nil {
		c.apiLogger.Error("API Error",
			"correlation_id", errorResp.CorrelationID,
			"message", message,
			"error", errorResp.Error,
			"code", code,
			"path", ctx.Request().URL.Path,
			"method", ctx.Request().Method,
			"ip", ctx.RealIP(),
		)
	}

	return ctx.JSON(code, errorResp)
}

// HandleServiceError maps an error from the classification service client to
// an HTTP status and writes the response.
func (c *Controller) HandleServiceError(ctx echo.Context, err error, message string) error {
	return c.HandleError(ctx, err, message, statusFromError(err))
}

// statusFromError picks an HTTP status code from an error's category.
func statusFromError(err error) int {
	var ee *errors.EnhancedError
	if !errors.As(err, &ee) {
		return http.StatusInternalServerError
	}
	switch ee.Category {
	case errors.CategoryValidation:
		return http.StatusBadRequest
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryLimit:
		return http.StatusTooManyRequests
	case errors.CategoryTimeout:
		return http.StatusGatewayTimeout
	case errors.CategoryNetwork, errors.CategoryHTTP:
		return http.StatusBadGateway
	case errors.CategoryCancellation:
		return http.StatusServiceUnavailable
	case errors.CategoryConfiguration:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Debug logs a debug message when debug mode is enabled.
func (c *Controller) Debug(format string, v ...any) {
	if c.Settings != nil && c.Settings.Debug {
		c.logger.Printf(format, v...)
	}
}

func (c *Controller) countAnalysis(kind, status string) {
	if c.metrics != nil {
		c.metrics.RecordAnalysis(kind, status)
	}
}

func (c *Controller) countDeletion(status string) {
	if c.metrics != nil {
		c.metrics.RecordDeletion(status)
	}
}

func (c *Controller) countChat(status string) {
	if c.metrics != nil {
		c.metrics.RecordChatMessage(status)
	}
}

func (c *Controller) updateStoreGauge() {
	if c.metrics != nil {
		c.metrics.SetResultsStored(c.Results.Len())
	}
}
