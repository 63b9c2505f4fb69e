package api

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"

	"github.com/chiroscope/chiroscope/internal/session"
)

// initSessionRoutes registers UI session state endpoints.
func (c *Controller) initSessionRoutes() {
	c.Group.GET("/session", c.GetSession)
	c.Group.PUT("/session/page", c.SetPage)
	c.Group.PUT("/session/filter", c.SetFilter)
	c.Group.PUT("/session/species", c.SetSelectedSpecies)
	c.Group.POST("/session/expand/:id", c.ToggleExpanded)
	c.Group.POST("/session/playback/:id", c.StartPlayback)
	c.Group.POST("/session/playback/:id/ended", c.PlaybackEnded)
	c.Group.DELETE("/session/playback", c.StopPlayback)
}

func (c *Controller) sessionSnapshot() map[string]any {
	playingID, playing := c.Session.Playback.Current()
	snapshot := map[string]any{
		"page":             c.Session.Page(),
		"expanded":         c.Session.ExpandedIDs(),
		"filter_species":   c.Session.FilterSpecies(),
		"selected_species": c.Session.SelectedSpecies(),
		"playing":          playing,
	}
	if playing {
		snapshot["playing_id"] = playingID
	}
	return snapshot
}

// GetSession returns the current UI session state.
func (c *Controller) GetSession(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, c.sessionSnapshot())
}

type pageRequest struct {
	Page string `json:"page"`
}

// SetPage switches the active dashboard page. Unknown pages are rejected
// rather than silently ignored so a client typo is visible.
func (c *Controller) SetPage(ctx echo.Context) error {
	var req pageRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid page request", http.StatusBadRequest)
	}
	if !session.ValidPage(session.Page(req.Page)) {
		return c.HandleError(ctx, nil, "Unknown page: "+req.Page, http.StatusBadRequest)
	}
	c.Session.SetPage(session.Page(req.Page))
	return ctx.JSON(http.StatusOK, c.sessionSnapshot())
}

type filterRequest struct {
	Species string `json:"species"`
}

// SetFilter sets the history species filter. An empty species resets the
// filter to all.
func (c *Controller) SetFilter(ctx echo.Context) error {
	var req filterRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid filter request", http.StatusBadRequest)
	}
	c.Session.SetFilterSpecies(req.Species)
	return ctx.JSON(http.StatusOK, c.sessionSnapshot())
}

// SetSelectedSpecies sets the species shown on the analytics page.
func (c *Controller) SetSelectedSpecies(ctx echo.Context) error {
	var req filterRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid species request", http.StatusBadRequest)
	}
	c.Session.SetSelectedSpecies(req.Species)
	return ctx.JSON(http.StatusOK, c.sessionSnapshot())
}

// ToggleExpanded flips the expanded state of one result card.
func (c *Controller) ToggleExpanded(ctx echo.Context) error {
	id, err := url.PathUnescape(ctx.Param("id"))
	if err != nil || id == "" {
		return c.HandleError(ctx, err, "Invalid result ID", http.StatusBadRequest)
	}
	if _, ok := c.Results.Get(id); !ok {
		return c.HandleError(ctx, nil, "Result not found", http.StatusNotFound)
	}

	expanded := c.Session.ToggleExpanded(id)
	return ctx.JSON(http.StatusOK, map[string]any{
		"file_id":  id,
		"expanded": expanded,
	})
}

// StartPlayback claims the single playback slot for a result. Starting the
// result that is already playing stops it instead.
func (c *Controller) StartPlayback(ctx echo.Context) error {
	id, err := url.PathUnescape(ctx.Param("id"))
	if err != nil || id == "" {
		return c.HandleError(ctx, err, "Invalid result ID", http.StatusBadRequest)
	}
	result, ok := c.Results.Get(id)
	if !ok {
		return c.HandleError(ctx, nil, "Result not found", http.StatusNotFound)
	}

	released, nowPlaying := c.Session.Playback.Start(id)
	response := map[string]any{
		"playing": nowPlaying,
	}
	if nowPlaying {
		response["playing_id"] = id
		response["audio_url"] = result.AudioURL
	}
	if released != "" {
		response["released_id"] = released
	}
	return ctx.JSON(http.StatusOK, response)
}

// PlaybackEnded reports that audio playback finished on its own. A stale
// report for a result no longer playing changes nothing.
func (c *Controller) PlaybackEnded(ctx echo.Context) error {
	id, err := url.PathUnescape(ctx.Param("id"))
	if err != nil || id == "" {
		return c.HandleError(ctx, err, "Invalid result ID", http.StatusBadRequest)
	}
	c.Session.Playback.Ended(id)
	return ctx.JSON(http.StatusOK, c.sessionSnapshot())
}

// StopPlayback releases the playback slot unconditionally.
func (c *Controller) StopPlayback(ctx echo.Context) error {
	c.Session.Playback.Stop()
	return ctx.JSON(http.StatusOK, c.sessionSnapshot())
}
