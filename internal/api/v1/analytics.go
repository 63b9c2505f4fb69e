package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/chiroscope/chiroscope/internal/analytics"
)

// initAnalyticsRoutes registers analytics endpoints.
func (c *Controller) initAnalyticsRoutes() {
	c.Group.GET("/analytics", c.GetAnalytics)
	c.Group.GET("/analytics/species/:name", c.GetSpeciesAnalytics)
	c.Group.GET("/analytics/top", c.GetTopSpecies)
	c.Group.GET("/stats", c.GetStats)
}

// GetAnalytics computes collection-wide statistics from the local store.
func (c *Controller) GetAnalytics(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, analytics.Global(c.Results.All()))
}

// GetSpeciesAnalytics returns per-species chart series. Only results whose
// top match is the requested species contribute.
func (c *Controller) GetSpeciesAnalytics(ctx echo.Context) error {
	name, err := url.PathUnescape(ctx.Param("name"))
	if err != nil || name == "" {
		return c.HandleError(ctx, err, "Invalid species name", http.StatusBadRequest)
	}

	sa := analytics.ForSpecies(c.Results.All(), name)

	avgFreq, freqOK := sa.AvgPeakFrequency()
	avgDur, durOK := sa.AvgPulseDuration()

	response := map[string]any{
		"analytics": sa,
	}
	if freqOK {
		response["avg_peak_frequency_khz"] = avgFreq
	}
	if durOK {
		response["avg_pulse_duration_ms"] = avgDur
	}
	return ctx.JSON(http.StatusOK, response)
}

// GetTopSpecies returns the top-N species ranking. n defaults to 5.
func (c *Controller) GetTopSpecies(ctx echo.Context) error {
	n := 5
	if raw := ctx.QueryParam("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.HandleError(ctx, err, "Invalid top species count", http.StatusBadRequest)
		}
		n = parsed
	}

	stats := analytics.Global(c.Results.All())
	return ctx.JSON(http.StatusOK, map[string]any{
		"top_species": analytics.TopN(stats.TopSpecies, n),
	})
}

// GetStats merges the classification service's global statistics with the
// locally computed view. The service is authoritative for storage-wide
// numbers; the local block reflects what is loaded right now.
func (c *Controller) GetStats(ctx echo.Context) error {
	local := analytics.Global(c.Results.All())

	remote, err := c.Service.Stats(ctx.Request().Context())
	if err != nil {
		// local stats still render when the service is down
		c.apiLogger.Warn("service stats unavailable, serving local only", "error", err)
		return ctx.JSON(http.StatusOK, map[string]any{
			"local":             local,
			"service_available": false,
		})
	}

	return ctx.JSON(http.StatusOK, map[string]any{
		"local":             local,
		"service":           remote,
		"service_available": true,
	})
}
