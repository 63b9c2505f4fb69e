package api

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/chiroscope/chiroscope/internal/store"
)

// initResultRoutes registers result collection endpoints.
func (c *Controller) initResultRoutes() {
	c.Group.GET("/results", c.GetResults)
	c.Group.GET("/results/species", c.GetSpecies)
	c.Group.GET("/results/:id", c.GetResult)
	c.Group.GET("/results/:id/detections", c.GetDetections)
	c.Group.DELETE("/results/:id", c.DeleteResult)
	c.Group.POST("/results/refresh", c.RefreshResults)
}

// GetResults returns the stored result collection, optionally filtered by
// species. The filter matches a species anywhere in a result's detection
// list, not just the top match.
func (c *Controller) GetResults(ctx echo.Context) error {
	species := ctx.QueryParam("species")
	if species == "" {
		species = store.FilterAll
	}

	results := c.Results.FilterBySpecies(species)

	return ctx.JSON(http.StatusOK, map[string]any{
		"results": results,
		"total":   c.Results.Len(),
		"shown":   len(results),
		"species": species,
	})
}

// GetSpecies returns the unique species present in the collection, in first
// detection order, with resolved image URLs.
func (c *Controller) GetSpecies(ctx echo.Context) error {
	names := c.Results.UniqueSpecies()

	type speciesEntry struct {
		Species  string `json:"species"`
		ImageURL string `json:"image_url"`
	}
	entries := make([]speciesEntry, 0, len(names))
	for _, name := range names {
		entry := speciesEntry{Species: name}
		if c.Images != nil {
			entry.ImageURL = c.Images.Get(name)
		}
		entries = append(entries, entry)
	}

	return ctx.JSON(http.StatusOK, map[string]any{"species": entries})
}

// GetResult returns a single analysis result by file ID.
func (c *Controller) GetResult(ctx echo.Context) error {
	id, err := url.PathUnescape(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Invalid result ID", http.StatusBadRequest)
	}

	result, ok := c.Results.Get(id)
	if !ok {
		return c.HandleError(ctx, nil, "Result not found", http.StatusNotFound)
	}
	return ctx.JSON(http.StatusOK, result)
}

// GetDetections returns a result's detections above a confidence threshold.
// An empty list is a valid answer, not an error: it renders as the "no
// species above threshold" state.
func (c *Controller) GetDetections(ctx echo.Context) error {
	id, err := url.PathUnescape(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Invalid result ID", http.StatusBadRequest)
	}
	result, ok := c.Results.Get(id)
	if !ok {
		return c.HandleError(ctx, nil, "Result not found", http.StatusNotFound)
	}

	threshold := result.ActiveThreshold(c.Settings.Analysis.Threshold)
	if raw := ctx.QueryParam("threshold"); raw != "" {
		parsed, parseErr := strconv.ParseFloat(raw, 64)
		if parseErr != nil || parsed < 0 || parsed > 1 {
			return c.HandleError(ctx, parseErr, "threshold must be a fraction between 0 and 1", http.StatusBadRequest)
		}
		threshold = parsed
	}

	detections := result.DetectionsAbove(threshold)
	return ctx.JSON(http.StatusOK, map[string]any{
		"file_id":    id,
		"threshold":  threshold,
		"detections": detections,
		"empty":      len(detections) == 0,
	})
}

// DeleteResult removes a result. The remote service is asked first; the
// local copy and any session state referring to it go away only after the
// service confirms.
func (c *Controller) DeleteResult(ctx echo.Context) error {
	id, err := url.PathUnescape(ctx.Param("id"))
	if err != nil {
		return c.HandleError(ctx, err, "Invalid result ID", http.StatusBadRequest)
	}
	if _, ok := c.Results.Get(id); !ok {
		return c.HandleError(ctx, nil, "Result not found", http.StatusNotFound)
	}

	if err := c.Service.DeleteResult(ctx.Request().Context(), id); err != nil {
		c.countDeletion("error")
		return c.HandleServiceError(ctx, err, "Failed to delete result")
	}

	c.Results.Remove(id)
	c.Session.CollapseRemoved(func(fileID string) bool {
		_, ok := c.Results.Get(fileID)
		return ok
	})
	if playingID, playing := c.Session.Playback.Current(); playing && playingID == id {
		c.Session.Playback.Stop()
		c.Debug("stopped playback of deleted result %s", id)
	}
	c.countDeletion("success")
	c.updateStoreGauge()

	c.apiLogger.Info("result deleted", "file_id", id, "remaining", c.Results.Len())
	return ctx.JSON(http.StatusOK, map[string]any{
		"deleted": id,
		"total":   c.Results.Len(),
	})
}

// RefreshResults reloads the collection from the classification service.
// Stale completions are discarded inside the refresher, so concurrent
// refreshes are safe.
func (c *Controller) RefreshResults(ctx echo.Context) error {
	// a user-triggered refresh wants a fully fresh view, cached service
	// responses included
	if flusher, ok := c.Service.(interface{ ClearCache() }); ok {
		flusher.ClearCache()
	}

	if err := c.Refresher.Refresh(ctx.Request().Context()); err != nil {
		return c.HandleServiceError(ctx, err, "Failed to refresh results")
	}

	c.Session.CollapseRemoved(func(fileID string) bool {
		_, ok := c.Results.Get(fileID)
		return ok
	})
	c.updateStoreGauge()

	return ctx.JSON(http.StatusOK, map[string]any{
		"total": c.Results.Len(),
	})
}
