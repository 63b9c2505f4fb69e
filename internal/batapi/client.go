// Package batapi is the HTTP client for the remote bat classification
// service. It is the only component that talks to the service; responses are
// normalized into canonical model types before they leave this package.
//
// There is deliberately no retry logic anywhere in this client: every
// failure is terminal for that attempt and requires explicit user re-action.
package batapi

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/chiroscope/chiroscope/internal/errors"
	"github.com/chiroscope/chiroscope/internal/logging"
	"github.com/chiroscope/chiroscope/internal/model"
	"github.com/chiroscope/chiroscope/internal/normalize"
	"github.com/chiroscope/chiroscope/internal/observability"
)

// Package-level logger specific to the classification service client
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar) // Dynamic level control
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "batapi.log")
	initialLevel := slog.LevelDebug
	serviceLevelVar.Set(initialLevel)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "batapi", serviceLevelVar)
	if err != nil {
		log.Printf("FATAL: Failed to initialize batapi file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "batapi")
		closeLogger = func() error { return nil }
	}
}

const statsCacheKey = "stats"

// Client provides methods for interacting with the classification service API
type Client struct {
	config     Config
	base       *url.URL
	httpClient *http.Client
	cache      *cache.Cache
	limiter    *rate.Limiter
	debug      bool
	observe    *observability.Metrics

	// Metrics
	metrics struct {
		apiCalls      int64
		cacheHits     int64
		cacheMisses   int64
		apiErrors     int64
		totalDuration time.Duration
		mu            sync.RWMutex
	}
}

// NewClient creates a new classification service client
func NewClient(config Config) (*Client, error) {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = DefaultConfig().CacheTTL
	}
	if config.RateLimitMS == 0 {
		config.RateLimitMS = DefaultConfig().RateLimitMS
	}

	base, err := url.Parse(config.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Newf("classification service base URL is invalid: %q", config.BaseURL).
			Category(errors.CategoryConfiguration).
			Context("base_url", config.BaseURL).
			Component("batapi").
			Build()
	}

	client := &Client{
		config: config,
		base:   base,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		cache:   cache.New(config.CacheTTL, config.CacheTTL*2),
		limiter: rate.NewLimiter(rate.Every(time.Duration(config.RateLimitMS)*time.Millisecond), 1),
		debug:   config.Debug,
	}

	logger.Info("classification service client initialized",
		"base_url", config.BaseURL,
		"cache_ttl", config.CacheTTL,
		"rate_limit_ms", config.RateLimitMS,
		"debug", config.Debug)

	return client, nil
}

// SetMetrics attaches Prometheus collectors. Every request outcome and
// duration is recorded per operation once set. Safe to leave unset.
func (c *Client) SetMetrics(m *observability.Metrics) {
	c.observe = m
}

// recordOutcome feeds one finished request into the attached collectors.
func (c *Client) recordOutcome(operation, status string, category errors.ErrorCategory, start time.Time) {
	if c.observe == nil {
		return
	}
	c.observe.RecordServiceRequest(operation, status)
	if status == "error" {
		c.observe.RecordServiceError(operation, string(category))
	}
	c.observe.RecordServiceDuration(operation, time.Since(start).Seconds())
}

// countDrops records result entries discarded during normalization.
func (c *Client) countDrops(n int) {
	if n > 0 && c.observe != nil {
		c.observe.RecordNormalizationDrops(n)
	}
}

// Close cleans up client resources
func (c *Client) Close() {
	logger.Info("Closing classification service client")
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing batapi logger: %v", err)
		}
	}
}

// BaseURL returns the parsed service base address.
func (c *Client) BaseURL() *url.URL {
	return c.base
}

// HTTPClient exposes the underlying HTTP client so tests can install a mock
// transport.
func (c *Client) HTTPClient() *http.Client {
	return c.httpClient
}

// endpoint joins the base address with an API path.
func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.base.String(), "/") + path
}

// Health retrieves the detailed liveness report. Never cached: the health
// poller depends on fresh answers.
func (c *Client) Health(ctx context.Context) (*model.HealthStatus, error) {
	var health model.HealthStatus
	if err := c.doJSON(ctx, http.MethodGet, "health", c.endpoint("/api/health/detailed"), nil, "", &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Stats retrieves global statistics, cached for the configured TTL.
func (c *Client) Stats(ctx context.Context) (*model.Stats, error) {
	if cached, found := c.cache.Get(statsCacheKey); found {
		if stats, ok := cached.(*model.Stats); ok {
			c.countCacheHit()
			logger.Debug("stats cache hit")
			return stats, nil
		}
	}
	c.countCacheMiss()

	var stats model.Stats
	if err := c.doJSON(ctx, http.MethodGet, "stats", c.endpoint("/api/stats"), nil, "", &stats); err != nil {
		return nil, err
	}

	c.cache.Set(statsCacheKey, &stats, cache.DefaultExpiration)
	return &stats, nil
}

// InvalidateStats drops the cached statistics, forcing the next Stats call
// to hit the service. Called after any mutation (analyze, delete).
func (c *Client) InvalidateStats() {
	c.cache.Delete(statsCacheKey)
}

// Results retrieves the full analysis history. Every entry passes through
// the normalizer so mixed confidence encodings never escape this package.
func (c *Client) Results(ctx context.Context) ([]model.AnalysisResult, error) {
	body, err := c.doRaw(ctx, http.MethodGet, "results", c.endpoint("/api/results"), nil, "")
	if err != nil {
		return nil, err
	}
	results, dropped, err := normalize.ResultList(body, c.base)
	if err != nil {
		return nil, err
	}
	c.countDrops(dropped)

	logger.Debug("results fetched", "count", len(results), "dropped", dropped)
	return results, nil
}

// DeleteResult asks the service to remove one result. The local collection
// is left to the caller: remove only after this returns nil.
func (c *Client) DeleteResult(ctx context.Context, fileID string) error {
	if fileID == "" {
		return errors.Newf("file id is required for deletion").
			Category(errors.CategoryValidation).
			Component("batapi").
			Build()
	}
	if err := c.doJSON(ctx, http.MethodDelete, "delete", c.endpoint("/api/results/"+url.PathEscape(fileID)), nil, "", nil); err != nil {
		return err
	}
	c.InvalidateStats()
	logger.Info("result deleted", "file_id", fileID)
	return nil
}

// Chat sends an assistant query over the current result set.
func (c *Client) Chat(ctx context.Context, message string, history []model.AnalysisResult, stats *model.Stats) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.Newf("chat message must not be empty").
			Category(errors.CategoryValidation).
			Component("batapi").
			Build()
	}

	payload, err := json.Marshal(ChatRequest{
		Message:    message,
		History:    history,
		Statistics: stats,
	})
	if err != nil {
		return "", errors.Newf("failed to encode chat request: %w", err).
			Category(errors.CategoryValidation).
			Component("batapi").
			Build()
	}

	var reply ChatResponse
	if err := c.doJSON(ctx, http.MethodPost, "chat", c.endpoint("/api/chat"), strings.NewReader(string(payload)), "application/json", &reply); err != nil {
		return "", err
	}
	return reply.Response, nil
}

// doJSON performs a request and unmarshals the JSON response into result
// when result is non-nil.
func (c *Client) doJSON(ctx context.Context, method, operation, requestURL string, body io.Reader, contentType string, result any) error {
	bodyBytes, err := c.doRaw(ctx, method, operation, requestURL, body, contentType)
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, result); err != nil {
		preview := string(bodyBytes)
		if len(preview) > 500 {
			preview = preview[:500] + "..."
		}
		logger.Error("Failed to parse service response",
			"error", err,
			"url", requestURL,
			"response_size", len(bodyBytes),
			"response_preview", preview)
		return errors.Newf("failed to parse response: %w", err).
			Category(errors.CategoryNormalization).
			Context("url", requestURL).
			Context("response_size", len(bodyBytes)).
			Component("batapi").
			Build()
	}
	return nil
}

// doRaw performs a request with rate limiting and returns the raw response
// body. Non-2xx statuses become categorized errors; there is no retry.
func (c *Client) doRaw(ctx context.Context, method, operation, requestURL string, body io.Reader, contentType string) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Newf("request cancelled while waiting for rate limiter: %w", err).
			Category(errors.CategoryCancellation).
			Context("url", requestURL).
			Component("batapi").
			Build()
	}

	start := time.Now()
	c.countAPICall()

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, requestURL, body)
	if err != nil {
		c.countAPIError()
		c.recordOutcome(operation, "error", errors.CategoryNetwork, start)
		return nil, errors.Newf("failed to create HTTP request: %w", err).
			Category(errors.CategoryNetwork).
			Context("method", method).
			Context("url", requestURL).
			Component("batapi").
			Build()
	}

	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if c.debug {
		logger.Debug("service request", "method", method, "url", requestURL)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.countAPIError()
		c.recordOutcome(operation, "error", errors.CategoryNetwork, start)
		logger.Error("service request failed",
			"error", err,
			"method", method,
			"url", requestURL)
		return nil, errors.Newf("HTTP request failed: %w", err).
			Category(errors.CategoryNetwork).
			Context("method", method).
			Context("url", requestURL).
			Component("batapi").
			Build()
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		c.countAPIError()
		c.recordOutcome(operation, "error", errors.CategoryNetwork, start)
		return nil, errors.Newf("failed to read response body: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", requestURL).
			Context("status_code", resp.StatusCode).
			Component("batapi").
			Build()
	}

	if resp.StatusCode >= 400 {
		c.countAPIError()
		c.recordOutcome(operation, "error", errors.CategoryFromStatus(resp.StatusCode), start)
		logger.Warn("service error response",
			"status_code", resp.StatusCode,
			"method", method,
			"url", requestURL,
			"response_body", truncate(string(bodyBytes), 500))
		return nil, errors.Newf("classification service error (status %d): %s", resp.StatusCode, truncate(string(bodyBytes), 200)).
			Category(errors.CategoryFromStatus(resp.StatusCode)).
			Context("status_code", resp.StatusCode).
			Context("url", requestURL).
			Component("batapi").
			Build()
	}

	duration := time.Since(start)
	if c.debug {
		logger.Debug("service response",
			"status_code", resp.StatusCode,
			"url", requestURL,
			"duration_ms", duration.Milliseconds(),
			"response_size", len(bodyBytes))
	}
	c.countDuration(duration)
	c.recordOutcome(operation, "success", "", start)

	return bodyBytes, nil
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

// ClearCache clears all cached responses
func (c *Client) ClearCache() {
	c.cache.Flush()
	logger.Info("client cache cleared")
}

// Metrics represents client performance metrics
type Metrics struct {
	APICalls      int64         `json:"api_calls"`
	CacheHits     int64         `json:"cache_hits"`
	CacheMisses   int64         `json:"cache_misses"`
	APIErrors     int64         `json:"api_errors"`
	TotalDuration time.Duration `json:"total_duration"`
	AvgDuration   time.Duration `json:"avg_duration"`
}

// GetMetrics returns current client metrics
func (c *Client) GetMetrics() Metrics {
	c.metrics.mu.RLock()
	defer c.metrics.mu.RUnlock()

	metrics := Metrics{
		APICalls:      c.metrics.apiCalls,
		CacheHits:     c.metrics.cacheHits,
		CacheMisses:   c.metrics.cacheMisses,
		APIErrors:     c.metrics.apiErrors,
		TotalDuration: c.metrics.totalDuration,
	}
	if metrics.APICalls > 0 {
		metrics.AvgDuration = time.Duration(int64(metrics.TotalDuration) / metrics.APICalls)
	}
	return metrics
}

func (c *Client) countAPICall() {
	c.metrics.mu.Lock()
	c.metrics.apiCalls++
	c.metrics.mu.Unlock()
}

func (c *Client) countAPIError() {
	c.metrics.mu.Lock()
	c.metrics.apiErrors++
	c.metrics.mu.Unlock()
}

func (c *Client) countCacheHit() {
	c.metrics.mu.Lock()
	c.metrics.cacheHits++
	c.metrics.mu.Unlock()
}

func (c *Client) countCacheMiss() {
	c.metrics.mu.Lock()
	c.metrics.cacheMisses++
	c.metrics.mu.Unlock()
}

func (c *Client) countDuration(d time.Duration) {
	c.metrics.mu.Lock()
	c.metrics.totalDuration += d
	c.metrics.mu.Unlock()
}
