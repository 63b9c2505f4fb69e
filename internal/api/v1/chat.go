package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/chiroscope/chiroscope/internal/analytics"
	"github.com/chiroscope/chiroscope/internal/model"
	"github.com/chiroscope/chiroscope/internal/session"
)

// initChatRoutes registers assistant chat endpoints.
func (c *Controller) initChatRoutes() {
	c.Group.POST("/chat", c.PostChat)
	c.Group.GET("/chat/history", c.GetChatHistory)
}

type chatRequest struct {
	Message string `json:"message"`
}

// PostChat sends a message to the analysis assistant. The user message is
// recorded in the transcript before the service call; a failed call appends
// an error placeholder instead of rolling the user message back.
func (c *Controller) PostChat(ctx echo.Context) error {
	var req chatRequest
	if err := ctx.Bind(&req); err != nil {
		return c.HandleError(ctx, err, "Invalid chat request", http.StatusBadRequest)
	}
	if strings.TrimSpace(req.Message) == "" {
		return c.HandleError(ctx, nil, "Chat message must not be empty", http.StatusBadRequest)
	}

	c.Session.AppendUser(req.Message)

	reqCtx := ctx.Request().Context()
	results := c.Results.All()

	// the service answers best with the current statistics attached; a
	// stats failure degrades to results-only context
	stats, err := c.Service.Stats(reqCtx)
	if err != nil {
		c.apiLogger.Warn("stats unavailable for chat context", "error", err)
		local := analytics.Global(results)
		stats = &model.Stats{
			TotalAnalyses:         local.TotalResults,
			TotalDurationHours:    local.TotalDurationHours,
			UniqueSpeciesDetected: local.UniqueSpecies,
			TopSpecies:            local.TopSpecies,
		}
	}

	reply, err := c.Service.Chat(reqCtx, req.Message, results, stats)
	if err != nil {
		c.Session.AppendAssistantError()
		c.countChat("error")
		c.apiLogger.Error("chat request failed", "error", err)
		return ctx.JSON(http.StatusOK, map[string]any{
			"response":   session.ChatErrorPlaceholder,
			"failed":     true,
			"transcript": c.Session.Transcript(),
		})
	}

	c.Session.AppendAssistant(reply)
	c.countChat("success")

	return ctx.JSON(http.StatusOK, map[string]any{
		"response":   reply,
		"failed":     false,
		"transcript": c.Session.Transcript(),
	})
}

// GetChatHistory returns the session transcript.
func (c *Controller) GetChatHistory(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]any{
		"transcript": c.Session.Transcript(),
	})
}
