package api

import (
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
)

// initExportRoutes registers download endpoints.
func (c *Controller) initExportRoutes() {
	c.Group.GET("/export/csv", c.ExportCSV)
	c.Group.GET("/export/pdf/:id", c.ExportPDF)
}

// ExportCSV streams the full analysis history as CSV. The filename carries
// the export date.
func (c *Controller) ExportCSV(ctx echo.Context) error {
	body, filename, err := c.Service.DownloadCSV(ctx.Request().Context())
	if err != nil {
		return c.HandleServiceError(ctx, err, "CSV export failed")
	}
	defer func() {
		_ = body.Close()
	}()

	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return ctx.Stream(http.StatusOK, "text/csv", body)
}

// ExportPDF streams the PDF report for one result. The filename carries the
// result's file ID.
func (c *Controller) ExportPDF(ctx echo.Context) error {
	id, err := url.PathUnescape(ctx.Param("id"))
	if err != nil || id == "" {
		return c.HandleError(ctx, err, "Invalid result ID", http.StatusBadRequest)
	}

	body, filename, err := c.Service.DownloadPDF(ctx.Request().Context(), id)
	if err != nil {
		return c.HandleServiceError(ctx, err, "PDF export failed")
	}
	defer func() {
		_ = body.Close()
	}()

	ctx.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="`+filename+`"`)
	return ctx.Stream(http.StatusOK, "application/pdf", body)
}
