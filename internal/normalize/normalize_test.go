package normalize

import (
	"fmt"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const resultBody = `{
	"file_id": "abc-123",
	"original_filename": "night_recording_01.wav",
	"timestamp": 1700000000,
	"duration": 4.2,
	"sample_rate": 384000,
	"spectrogram_url": "/spectrograms/abc-123.png",
	"audio_url": "/audio/abc-123.wav",
	"species_detected": [
		{"species": "Myotis daubentonii", "confidence": 0.87},
		{"species": "Pipistrellus pipistrellus", "confidence": 12.5}
	],
	"call_parameters": {
		"start_frequency": 78.0,
		"end_frequency": 35.5,
		"peak_frequency": 45.2,
		"bandwidth": 42.5,
		"pulse_duration": 3.1,
		"intensity": -42.0,
		"shape": "FM-CF"
	}
}`

func mustBase(t *testing.T) *url.URL {
	t.Helper()
	base, err := url.Parse("http://localhost:8000")
	require.NoError(t, err)
	return base
}

// Every envelope shape must yield the same canonical result.
func TestResultEnvelopeShapes(t *testing.T) {
	t.Parallel()

	base := mustBase(t)
	shapes := map[string]string{
		"flat":         resultBody,
		"under_result": fmt.Sprintf(`{"result": %s}`, resultBody),
		"under_data":   fmt.Sprintf(`{"data": %s}`, resultBody),
	}

	for name, body := range shapes {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			r, err := Result([]byte(body), base)
			require.NoError(t, err)
			assert.Equal(t, "abc-123", r.FileID)
			assert.Equal(t, "night_recording_01.wav", r.OriginalFilename)
			require.Len(t, r.SpeciesDetected, 2)
			assert.Equal(t, "Myotis daubentonii", r.SpeciesDetected[0].Species)
		})
	}
}

func TestResultPrefersResultOverData(t *testing.T) {
	t.Parallel()

	body := fmt.Sprintf(`{"result": %s, "data": {"file_id": "other"}}`, resultBody)
	r, err := Result([]byte(body), mustBase(t))
	require.NoError(t, err)
	assert.Equal(t, "abc-123", r.FileID)
}

func TestConfidenceCanonicalization(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want float64
	}{
		{0.87, 87.0},
		{87, 87.0},
		{1.0, 100.0},
		{0, 0},
		{100, 100},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Confidence(tt.in), 1e-9, "Confidence(%v)", tt.in)
	}

	// idempotent: re-normalizing a percentage is a no-op
	assert.InDelta(t, 87.0, Confidence(Confidence(0.87)), 1e-9)
}

// Mixed encodings within one response normalize independently per detection.
func TestResultMixedConfidenceEncodings(t *testing.T) {
	t.Parallel()

	r, err := Result([]byte(resultBody), mustBase(t))
	require.NoError(t, err)
	assert.InDelta(t, 87.0, r.SpeciesDetected[0].Confidence, 1e-9)
	assert.InDelta(t, 12.5, r.SpeciesDetected[1].Confidence, 1e-9)
}

func TestResultResolvesRelativeURLs(t *testing.T) {
	t.Parallel()

	r, err := Result([]byte(resultBody), mustBase(t))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8000/spectrograms/abc-123.png", r.SpectrogramURL)
	assert.Equal(t, "http://localhost:8000/audio/abc-123.wav", r.AudioURL)
}

func TestResultAbsoluteURLPassthrough(t *testing.T) {
	t.Parallel()

	body := `{"file_id": "x", "species_image_url": "https://images.example.org/bat.jpg"}`
	r, err := Result([]byte(body), mustBase(t))
	require.NoError(t, err)
	assert.Equal(t, "https://images.example.org/bat.jpg", r.SpeciesImageURL)
}

func TestResultMissingOptionalFields(t *testing.T) {
	t.Parallel()

	body := `{"file_id": "min-1", "species_detected": [{"species": "Nyctalus noctula", "confidence": 0.5}]}`
	r, err := Result([]byte(body), mustBase(t))
	require.NoError(t, err)
	assert.Empty(t, r.AudioURL)
	assert.Empty(t, r.SpeciesImageURL)
	assert.Nil(t, r.CallParameters.Intensity)
	assert.InDelta(t, 50.0, r.SpeciesDetected[0].Confidence, 1e-9)
}

func TestResultUnrecognizedShapeFails(t *testing.T) {
	t.Parallel()

	for name, body := range map[string]string{
		"no_file_id": `{"status": "ok"}`,
		"not_object": `[1, 2, 3]`,
		"garbage":    `not json at all`,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Result([]byte(body), mustBase(t))
			assert.Error(t, err)
		})
	}
}

func TestResultIntensityPresent(t *testing.T) {
	t.Parallel()

	r, err := Result([]byte(resultBody), mustBase(t))
	require.NoError(t, err)
	require.NotNil(t, r.CallParameters.Intensity)
	assert.InDelta(t, -42.0, *r.CallParameters.Intensity, 1e-9)
	assert.Equal(t, "FM-CF", r.CallParameters.Shape)
}

func TestResultList(t *testing.T) {
	t.Parallel()

	body := fmt.Sprintf(`{"results": [%s, {"file_id": "def-456", "species_detected": [{"species": "Plecotus auritus", "confidence": 0.42}]}]}`, resultBody)
	results, dropped, err := ResultList([]byte(body), mustBase(t))
	require.NoError(t, err)
	assert.Zero(t, dropped)
	require.Len(t, results, 2)
	assert.Equal(t, "abc-123", results[0].FileID)
	assert.InDelta(t, 42.0, results[1].SpeciesDetected[0].Confidence, 1e-9)
}

func TestResultListDropsMalformedEntries(t *testing.T) {
	t.Parallel()

	body := fmt.Sprintf(`{"results": [{"nonsense": true}, %s]}`, resultBody)
	results, dropped, err := ResultList([]byte(body), mustBase(t))
	require.NoError(t, err)
	assert.Equal(t, 1, dropped)
	require.Len(t, results, 1)
	assert.Equal(t, "abc-123", results[0].FileID)
}

func TestResultListMissingArrayFails(t *testing.T) {
	t.Parallel()

	_, _, err := ResultList([]byte(`{"total": 3}`), mustBase(t))
	assert.Error(t, err)
}

func TestBatchWithCounters(t *testing.T) {
	t.Parallel()

	body := fmt.Sprintf(`{"total_files": 5, "completed": 4, "failed": 1, "results": [%s]}`, resultBody)
	summary, dropped, err := Batch([]byte(body), mustBase(t))
	require.NoError(t, err)
	assert.Zero(t, dropped)
	assert.Equal(t, 5, summary.TotalFiles)
	assert.Equal(t, 4, summary.Completed)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Results, 1)
}

func TestBatchBareResults(t *testing.T) {
	t.Parallel()

	body := fmt.Sprintf(`{"results": [%s]}`, resultBody)
	summary, _, err := Batch([]byte(body), mustBase(t))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalFiles)
	assert.Equal(t, 1, summary.Completed)
	assert.Equal(t, 0, summary.Failed)
}

func TestURLResolution(t *testing.T) {
	t.Parallel()

	base := mustBase(t)
	assert.Equal(t, "http://localhost:8000/a/b.png", URL(base, "/a/b.png"))
	assert.Equal(t, "https://cdn.example.org/x.png", URL(base, "https://cdn.example.org/x.png"))
	assert.Equal(t, "", URL(base, ""))
	assert.Equal(t, "/a.png", URL(nil, "/a.png"))
}
