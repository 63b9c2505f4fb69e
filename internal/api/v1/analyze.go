package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/chiroscope/chiroscope/internal/batapi"
	"github.com/chiroscope/chiroscope/internal/model"
)

// initAnalyzeRoutes registers analysis submission endpoints.
func (c *Controller) initAnalyzeRoutes() {
	c.Group.POST("/analyze/audio", c.AnalyzeAudio)
	c.Group.POST("/analyze/spectrogram", c.AnalyzeSpectrogram)
	c.Group.POST("/analyze/batch", c.AnalyzeBatch)
}

// analyzeOptions reads analysis parameters from the request form, falling
// back to configured defaults.
func (c *Controller) analyzeOptions(ctx echo.Context) (batapi.AnalyzeOptions, error) {
	opts := batapi.AnalyzeOptions{
		Theme:        c.Settings.Analysis.Theme,
		Threshold:    c.Settings.Analysis.Threshold,
		MaxThreshold: c.Settings.Analysis.MaxThreshold,
		MaxFreqKHz:   c.Settings.Analysis.MaxFreqKHz,
	}

	if theme := ctx.FormValue("theme"); theme != "" {
		if !model.ValidTheme(theme) {
			return opts, echo.NewHTTPError(http.StatusBadRequest, "unknown spectrogram theme: "+theme)
		}
		opts.Theme = theme
	}
	if raw := ctx.FormValue("threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			return opts, echo.NewHTTPError(http.StatusBadRequest, "threshold must be a fraction between 0 and 1")
		}
		opts.Threshold = v
	}
	if raw := ctx.FormValue("max_threshold"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v > 1 {
			return opts, echo.NewHTTPError(http.StatusBadRequest, "max_threshold must be a fraction between 0 and 1")
		}
		opts.MaxThreshold = v
	}
	if raw := ctx.FormValue("max_freq"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return opts, echo.NewHTTPError(http.StatusBadRequest, "max_freq must be a positive frequency in kHz")
		}
		opts.MaxFreqKHz = v
	}

	// validated as a pair: either field alone can push the final options
	// out of order
	if opts.Threshold > opts.MaxThreshold {
		return opts, echo.NewHTTPError(http.StatusBadRequest, "threshold must not exceed max_threshold")
	}
	return opts, nil
}

// AnalyzeAudio submits an uploaded recording for classification.
func (c *Controller) AnalyzeAudio(ctx echo.Context) error {
	return c.analyzeSingle(ctx, "audio")
}

// AnalyzeSpectrogram submits an uploaded spectrogram image for
// classification.
func (c *Controller) AnalyzeSpectrogram(ctx echo.Context) error {
	return c.analyzeSingle(ctx, "spectrogram")
}

func (c *Controller) analyzeSingle(ctx echo.Context, kind string) error {
	opts, err := c.analyzeOptions(ctx)
	if err != nil {
		return err
	}

	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return c.HandleError(ctx, err, "An uploaded file is required", http.StatusBadRequest)
	}
	file, err := fileHeader.Open()
	if err != nil {
		return c.HandleError(ctx, err, "Failed to read uploaded file", http.StatusBadRequest)
	}
	defer func() {
		_ = file.Close()
	}()

	reqCtx := ctx.Request().Context()

	var result *model.AnalysisResult
	if kind == "spectrogram" {
		result, err = c.Service.AnalyzeSpectrogram(reqCtx, fileHeader.Filename, file, opts)
	} else {
		result, err = c.Service.AnalyzeAudio(reqCtx, fileHeader.Filename, file, opts)
	}
	if err != nil {
		c.countAnalysis(kind, "error")
		return c.HandleServiceError(ctx, err, "Analysis failed")
	}
	c.countAnalysis(kind, "success")

	// pull the enlarged collection; a stale completion is dropped by the
	// refresher, never applied out of order
	if refreshErr := c.Refresher.Refresh(reqCtx); refreshErr != nil {
		c.apiLogger.Warn("post-analysis refresh failed", "error", refreshErr)
	}
	c.updateStoreGauge()

	c.apiLogger.Info("analysis completed",
		"kind", kind,
		"filename", fileHeader.Filename,
		"file_id", result.FileID,
		"detections", len(result.SpeciesDetected))

	return ctx.JSON(http.StatusOK, result)
}

// AnalyzeBatch submits multiple files in one request.
func (c *Controller) AnalyzeBatch(ctx echo.Context) error {
	opts, err := c.analyzeOptions(ctx)
	if err != nil {
		return err
	}

	switch ctx.FormValue("input_type") {
	case "", string(model.InputAudio):
		opts.InputType = model.InputAudio
	case string(model.InputImage):
		opts.InputType = model.InputImage
	default:
		return c.HandleError(ctx, nil, "input_type must be audio or image", http.StatusBadRequest)
	}

	form, err := ctx.MultipartForm()
	if err != nil {
		return c.HandleError(ctx, err, "A multipart form is required", http.StatusBadRequest)
	}
	fileHeaders := form.File["files"]
	if len(fileHeaders) == 0 {
		return c.HandleError(ctx, nil, "At least one file is required", http.StatusBadRequest)
	}

	files := make([]batapi.BatchFile, 0, len(fileHeaders))
	closers := make([]func() error, 0, len(fileHeaders))
	defer func() {
		for _, closeFn := range closers {
			_ = closeFn()
		}
	}()
	for _, fh := range fileHeaders {
		f, openErr := fh.Open()
		if openErr != nil {
			return c.HandleError(ctx, openErr, "Failed to read uploaded file "+fh.Filename, http.StatusBadRequest)
		}
		closers = append(closers, f.Close)
		files = append(files, batapi.BatchFile{Name: fh.Filename, Reader: f})
	}

	reqCtx := ctx.Request().Context()
	summary, err := c.Service.AnalyzeBatch(reqCtx, files, opts)
	if err != nil {
		c.countAnalysis("batch", "error")
		return c.HandleServiceError(ctx, err, "Batch analysis failed")
	}
	c.countAnalysis("batch", "success")

	if refreshErr := c.Refresher.Refresh(reqCtx); refreshErr != nil {
		c.apiLogger.Warn("post-batch refresh failed", "error", refreshErr)
	}
	c.updateStoreGauge()

	c.apiLogger.Info("batch analysis completed",
		"total_files", summary.TotalFiles,
		"completed", summary.Completed,
		"failed", summary.Failed)

	return ctx.JSON(http.StatusOK, summary)
}
