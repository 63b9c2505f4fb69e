package batapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/chiroscope/chiroscope/internal/errors"
)

// DownloadCSV streams the full-history CSV export. The returned filename is
// date-stamped client-side; the caller owns closing the reader.
func (c *Client) DownloadCSV(ctx context.Context) (io.ReadCloser, string, error) {
	filename := fmt.Sprintf("bat_analysis_%s.csv", time.Now().Format("2006-01-02"))
	body, err := c.download(ctx, "download_csv", c.endpoint("/api/download/csv"))
	if err != nil {
		return nil, "", err
	}
	return body, filename, nil
}

// DownloadPDF streams the single-result report for fileID. The returned
// filename is id-stamped client-side.
func (c *Client) DownloadPDF(ctx context.Context, fileID string) (io.ReadCloser, string, error) {
	if fileID == "" {
		return nil, "", errors.Newf("file id is required for a PDF report").
			Category(errors.CategoryValidation).
			Component("batapi").
			Build()
	}
	filename := fmt.Sprintf("bat_report_%s.pdf", fileID)
	body, err := c.download(ctx, "download_pdf", c.endpoint("/api/download/pdf/"+url.PathEscape(fileID)))
	if err != nil {
		return nil, "", err
	}
	return body, filename, nil
}

// download performs a streaming GET. Unlike doRaw the body is handed to the
// caller unread; exports can be large, so the request goes through a client
// without a deadline. c.httpClient's Timeout covers the full body read and
// would cut off a large export mid-stream. ctx still cancels the transfer.
func (c *Client) download(ctx context.Context, operation, requestURL string) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, errors.Newf("request cancelled while waiting for rate limiter: %w", err).
			Category(errors.CategoryCancellation).
			Context("url", requestURL).
			Component("batapi").
			Build()
	}

	start := time.Now()
	c.countAPICall()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		c.countAPIError()
		c.recordOutcome(operation, "error", errors.CategoryNetwork, start)
		return nil, errors.Newf("failed to create download request: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", requestURL).
			Component("batapi").
			Build()
	}

	// built per request so it shares whatever transport is installed on the
	// regular client
	streamClient := &http.Client{Transport: c.httpClient.Transport}

	resp, err := streamClient.Do(req)
	if err != nil {
		c.countAPIError()
		c.recordOutcome(operation, "error", errors.CategoryNetwork, start)
		logger.Error("download request failed", "error", err, "url", requestURL)
		return nil, errors.Newf("download failed: %w", err).
			Category(errors.CategoryNetwork).
			Context("url", requestURL).
			Component("batapi").
			Build()
	}

	if resp.StatusCode >= 400 {
		_ = resp.Body.Close()
		c.countAPIError()
		c.recordOutcome(operation, "error", errors.CategoryFromStatus(resp.StatusCode), start)
		return nil, errors.Newf("download failed with status %d", resp.StatusCode).
			Category(errors.CategoryFromStatus(resp.StatusCode)).
			Context("status_code", resp.StatusCode).
			Context("url", requestURL).
			Component("batapi").
			Build()
	}

	c.recordOutcome(operation, "success", "", start)
	return resp.Body, nil
}
