package batapi

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiroscope/chiroscope/internal/errors"
	"github.com/chiroscope/chiroscope/internal/model"
	"github.com/chiroscope/chiroscope/internal/observability"
)

const testBaseURL = "http://svc.test:8000"

func newTestClient(t *testing.T) *Client {
	t.Helper()

	c, err := NewClient(Config{
		BaseURL:     testBaseURL,
		Timeout:     5 * time.Second,
		CacheTTL:    time.Minute,
		RateLimitMS: 1,
	})
	require.NoError(t, err)

	httpmock.ActivateNonDefault(c.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)
	return c
}

func TestNewClientInvalidBaseURL(t *testing.T) {
	_, err := NewClient(Config{BaseURL: "://not-a-url"})
	require.Error(t, err)

	var ee *errors.EnhancedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, errors.CategoryConfiguration, ee.Category)
}

func TestHealth(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/health/detailed",
		httpmock.NewStringResponder(200, `{"status": "ok", "services": {"model": "loaded", "storage": "online", "chat": "offline"}}`))

	health, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "loaded", health.Services["model"])
	assert.False(t, model.ServiceHealthy(health.Services["chat"]))
}

func TestResultsNormalized(t *testing.T) {
	c := newTestClient(t)

	// one fraction-encoded and one percentage-encoded confidence in the
	// same response
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/results",
		httpmock.NewStringResponder(200, `{"results": [
			{"file_id": "a", "spectrogram_url": "/spec/a.png", "species_detected": [{"species": "Myotis daubentonii", "confidence": 0.87}]},
			{"file_id": "b", "species_detected": [{"species": "Pipistrellus pipistrellus", "confidence": 87}]}
		]}`))

	results, err := c.Results(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.InDelta(t, 87.0, results[0].SpeciesDetected[0].Confidence, 1e-9)
	assert.InDelta(t, 87.0, results[1].SpeciesDetected[0].Confidence, 1e-9)
	assert.Equal(t, testBaseURL+"/spec/a.png", results[0].SpectrogramURL)
}

func TestStatsCached(t *testing.T) {
	c := newTestClient(t)

	calls := 0
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/stats",
		func(req *http.Request) (*http.Response, error) {
			calls++
			return httpmock.NewStringResponse(200, `{"total_analyses": 12, "total_duration_hours": 1.5, "unique_species_detected": 4, "storage_type": "cloud", "top_species": []}`), nil
		})

	first, err := c.Stats(context.Background())
	require.NoError(t, err)
	second, err := c.Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 12, first.TotalAnalyses)
	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)

	c.InvalidateStats()
	_, err = c.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestDeleteResult(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodDelete, testBaseURL+"/api/results/gone",
		httpmock.NewStringResponder(200, `{}`))

	require.NoError(t, c.DeleteResult(context.Background(), "gone"))
}

func TestDeleteResultNotFound(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodDelete, testBaseURL+"/api/results/ghost",
		httpmock.NewStringResponder(404, `{"detail": "no such result"}`))

	err := c.DeleteResult(context.Background(), "ghost")
	require.Error(t, err)

	var ee *errors.EnhancedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, errors.CategoryNotFound, ee.Category)
}

func TestDeleteResultEmptyID(t *testing.T) {
	c := newTestClient(t)

	err := c.DeleteResult(context.Background(), "")
	require.Error(t, err)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

// A failing request is attempted exactly once; the client never retries.
func TestNoRetryOnServerError(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/results",
		httpmock.NewStringResponder(503, `{"detail": "overloaded"}`))

	_, err := c.Results(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())

	var ee *errors.EnhancedError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, errors.CategoryNetwork, ee.Category)
}

func TestAnalyzeAudioMultipart(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/analyze/audio",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))

			assert.Equal(t, "dark_viridis", req.FormValue("theme"))
			assert.Equal(t, "0.01", req.FormValue("threshold"))
			assert.Equal(t, "0.5", req.FormValue("max_threshold"))
			assert.Equal(t, "250", req.FormValue("max_freq"))
			// input_type is batch only
			assert.Empty(t, req.FormValue("input_type"))

			file, header, err := req.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			assert.Equal(t, "night.wav", header.Filename)
			content, err := io.ReadAll(file)
			require.NoError(t, err)
			assert.Equal(t, "RIFFdata", string(content))

			return httpmock.NewStringResponse(200,
				`{"result": {"file_id": "new-1", "species_detected": [{"species": "Nyctalus noctula", "confidence": 0.66}]}}`), nil
		})

	result, err := c.AnalyzeAudio(context.Background(), "night.wav", strings.NewReader("RIFFdata"), AnalyzeOptions{
		Theme:        "dark_viridis",
		Threshold:    0.01,
		MaxThreshold: 0.5,
		MaxFreqKHz:   250,
	})
	require.NoError(t, err)
	assert.Equal(t, "new-1", result.FileID)
	assert.InDelta(t, 66.0, result.SpeciesDetected[0].Confidence, 1e-9)
}

func TestAnalyzeAudioRequiresFile(t *testing.T) {
	c := newTestClient(t)

	_, err := c.AnalyzeAudio(context.Background(), "", nil, AnalyzeOptions{})
	require.Error(t, err)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestAnalyzeBatch(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/analyze/batch",
		func(req *http.Request) (*http.Response, error) {
			require.NoError(t, req.ParseMultipartForm(1<<20))

			assert.Equal(t, "audio", req.FormValue("input_type"))
			require.Len(t, req.MultipartForm.File["files"], 2)

			return httpmock.NewStringResponse(200, `{
				"total_files": 2, "completed": 1, "failed": 1,
				"results": [{"file_id": "b1", "species_detected": [{"species": "Plecotus auritus", "confidence": 91}]}]
			}`), nil
		})

	summary, err := c.AnalyzeBatch(context.Background(), []BatchFile{
		{Name: "one.wav", Reader: strings.NewReader("a")},
		{Name: "two.wav", Reader: strings.NewReader("b")},
	}, AnalyzeOptions{InputType: model.InputAudio})
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalFiles)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 1)
}

func TestAnalyzeBatchRequiresFiles(t *testing.T) {
	c := newTestClient(t)

	_, err := c.AnalyzeBatch(context.Background(), nil, AnalyzeOptions{})
	require.Error(t, err)
}

func TestChat(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodPost, testBaseURL+"/api/chat",
		func(req *http.Request) (*http.Response, error) {
			body, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			assert.Contains(t, string(body), `"message":"how many bats?"`)
			assert.Contains(t, string(body), `"history"`)
			assert.Contains(t, string(body), `"statistics"`)
			return httpmock.NewStringResponse(200, `{"response": "Two species were active tonight."}`), nil
		})

	reply, err := c.Chat(context.Background(), "how many bats?", []model.AnalysisResult{{FileID: "a"}}, &model.Stats{TotalAnalyses: 2})
	require.NoError(t, err)
	assert.Equal(t, "Two species were active tonight.", reply)
}

func TestChatEmptyMessage(t *testing.T) {
	c := newTestClient(t)

	_, err := c.Chat(context.Background(), "   ", nil, nil)
	require.Error(t, err)
	assert.Zero(t, httpmock.GetTotalCallCount())
}

func TestDownloadCSV(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/download/csv",
		httpmock.NewStringResponder(200, "file_id,species\na,Myotis\n"))

	body, filename, err := c.DownloadCSV(context.Background())
	require.NoError(t, err)
	defer body.Close()

	want := fmt.Sprintf("bat_analysis_%s.csv", time.Now().Format("2006-01-02"))
	assert.Equal(t, want, filename)

	content, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Myotis")
}

func TestDownloadPDF(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/download/pdf/abc-123",
		httpmock.NewStringResponder(200, "%PDF-1.7"))

	body, filename, err := c.DownloadPDF(context.Background(), "abc-123")
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, "bat_report_abc-123.pdf", filename)
}

func TestDownloadPDFFailure(t *testing.T) {
	c := newTestClient(t)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/download/pdf/none",
		httpmock.NewStringResponder(404, "not found"))

	_, _, err := c.DownloadPDF(context.Background(), "none")
	require.Error(t, err)
}

// The configured request timeout covers header-to-body reads in doRaw; a
// streamed export must not be cut off by it.
func TestDownloadNotBoundByClientTimeout(t *testing.T) {
	c, err := NewClient(Config{
		BaseURL:     testBaseURL,
		Timeout:     time.Nanosecond,
		CacheTTL:    time.Minute,
		RateLimitMS: 1,
	})
	require.NoError(t, err)
	httpmock.ActivateNonDefault(c.HTTPClient())
	t.Cleanup(httpmock.DeactivateAndReset)

	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/download/csv",
		httpmock.NewStringResponder(200, "file_id,species\na,Myotis\n"))

	body, _, err := c.DownloadCSV(context.Background())
	require.NoError(t, err)
	defer body.Close()

	content, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(content), "Myotis")
}

func TestClientRecordsServiceMetrics(t *testing.T) {
	c := newTestClient(t)

	m, err := observability.NewMetrics()
	require.NoError(t, err)
	c.SetMetrics(m)

	// one well-formed entry, one dropped by the normalizer
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/results",
		httpmock.NewStringResponder(200, `{"results": [
			{"file_id": "a", "species_detected": [{"species": "Myotis daubentonii", "confidence": 0.87}]},
			{"nonsense": true}
		]}`))
	httpmock.RegisterResponder(http.MethodGet, testBaseURL+"/api/stats",
		httpmock.NewStringResponder(503, `{"error": "unavailable"}`))

	_, err = c.Results(context.Background())
	require.NoError(t, err)
	_, err = c.Stats(context.Background())
	require.Error(t, err)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	exposition := rec.Body.String()

	assert.Contains(t, exposition, `batservice_requests_total{operation="results",status="success"} 1`)
	assert.Contains(t, exposition, `batservice_requests_total{operation="stats",status="error"} 1`)
	assert.Contains(t, exposition, `batservice_errors_total{category="network",operation="stats"} 1`)
	assert.Contains(t, exposition, "normalization_dropped_results_total 1")
}
