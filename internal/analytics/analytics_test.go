package analytics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiroscope/chiroscope/internal/model"
)

func resultAt(fileID, topSpecies string, confidence float64, ts time.Time) model.AnalysisResult {
	return model.AnalysisResult{
		FileID:           fileID,
		OriginalFilename: "recording_" + fileID + "_long_name.wav",
		Timestamp:        float64(ts.Unix()),
		Duration:         4.5,
		SpeciesDetected: []model.SpeciesDetection{
			{Species: topSpecies, Confidence: confidence},
			{Species: "Eptesicus serotinus", Confidence: confidence / 2},
		},
		CallParameters: model.CallParameters{
			StartFrequency: 70,
			EndFrequency:   35,
			PeakFrequency:  45,
			Bandwidth:      35,
			PulseDuration:  3.2,
			Shape:          "FM",
		},
	}
}

func TestGlobal(t *testing.T) {
	t.Parallel()

	now := time.Now()
	results := []model.AnalysisResult{
		resultAt("r1", "Myotis daubentonii", 90, now),
		resultAt("r2", "Pipistrellus pipistrellus", 85, now),
		resultAt("r3", "Myotis daubentonii", 80, now),
	}

	stats := Global(results)
	assert.Equal(t, 3, stats.TotalResults)
	// secondary detections count toward unique species
	assert.Equal(t, 3, stats.UniqueSpecies)
	assert.InDelta(t, 13.5, stats.TotalDurationSeconds, 1e-9)
	assert.InDelta(t, 13.5/3600, stats.TotalDurationHours, 1e-9)

	require.Len(t, stats.TopSpecies, 2)
	assert.Equal(t, model.SpeciesCount{Species: "Myotis daubentonii", Count: 2}, stats.TopSpecies[0])
	assert.Equal(t, model.SpeciesCount{Species: "Pipistrellus pipistrellus", Count: 1}, stats.TopSpecies[1])
}

func TestGlobalTieBrokenByFirstSeen(t *testing.T) {
	t.Parallel()

	now := time.Now()
	results := []model.AnalysisResult{
		resultAt("r1", "Plecotus auritus", 90, now),
		resultAt("r2", "Barbastella barbastellus", 88, now),
	}

	stats := Global(results)
	require.Len(t, stats.TopSpecies, 2)
	assert.Equal(t, "Plecotus auritus", stats.TopSpecies[0].Species)
	assert.Equal(t, "Barbastella barbastellus", stats.TopSpecies[1].Species)
}

func TestGlobalEmpty(t *testing.T) {
	t.Parallel()

	stats := Global(nil)
	assert.Equal(t, 0, stats.TotalResults)
	assert.Equal(t, 0, stats.UniqueSpecies)
	assert.Empty(t, stats.TopSpecies)
}

func TestTopN(t *testing.T) {
	t.Parallel()

	ranking := []model.SpeciesCount{
		{Species: "a", Count: 5},
		{Species: "b", Count: 3},
		{Species: "c", Count: 1},
	}
	assert.Len(t, TopN(ranking, 2), 2)
	assert.Len(t, TopN(ranking, 8), 3)
}

// Count must match the number of results whose top match is the species,
// for every species that appears anywhere.
func TestForSpeciesCountProperty(t *testing.T) {
	t.Parallel()

	now := time.Now()
	results := []model.AnalysisResult{
		resultAt("r1", "Myotis daubentonii", 90, now),
		resultAt("r2", "Pipistrellus pipistrellus", 85, now),
		resultAt("r3", "Myotis daubentonii", 80, now),
	}

	assert.Equal(t, 2, ForSpecies(results, "Myotis daubentonii").Count)
	assert.Equal(t, 1, ForSpecies(results, "Pipistrellus pipistrellus").Count)
	// appears only as a secondary detection: top-match rule excludes it
	assert.Equal(t, 0, ForSpecies(results, "Eptesicus serotinus").Count)
}

func TestForSpeciesSeries(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 6, 14, 23, 30, 0, 0, time.UTC)
	results := []model.AnalysisResult{resultAt("r1", "Myotis daubentonii", 91.5, ts)}

	a := ForSpecies(results, "Myotis daubentonii")
	require.Len(t, a.TimeSeries, 1)
	assert.Equal(t, 1, a.TimeSeries[0].Count)
	assert.InDelta(t, 91.5, a.TimeSeries[0].Confidence, 1e-9)

	require.Len(t, a.FreqSeries, 1)
	assert.Equal(t, "recording_r1_lo", a.FreqSeries[0].Label) // first 15 chars
	assert.InDelta(t, 45, a.FreqSeries[0].Peak, 1e-9)
	assert.InDelta(t, 70, a.FreqSeries[0].Start, 1e-9)
	assert.InDelta(t, 35, a.FreqSeries[0].End, 1e-9)

	require.Len(t, a.DurationSeries, 1)
	assert.InDelta(t, 3.2, a.DurationSeries[0].Duration, 1e-9)
}

// Two results on the same date stay two points; the series is not binned.
func TestForSpeciesSameDateNotMerged(t *testing.T) {
	t.Parallel()

	ts := time.Date(2025, 6, 14, 10, 0, 0, 0, time.UTC)
	results := []model.AnalysisResult{
		resultAt("r1", "Myotis daubentonii", 90, ts),
		resultAt("r2", "Myotis daubentonii", 85, ts.Add(time.Hour)),
	}

	a := ForSpecies(results, "Myotis daubentonii")
	require.Len(t, a.TimeSeries, 2)
	assert.Equal(t, a.TimeSeries[0].Date, a.TimeSeries[1].Date)
}

func TestAveragesEmptySubset(t *testing.T) {
	t.Parallel()

	a := ForSpecies(nil, "Myotis daubentonii")
	assert.Equal(t, 0, a.Count)

	_, ok := a.AvgPeakFrequency()
	assert.False(t, ok)
	_, ok = a.AvgPulseDuration()
	assert.False(t, ok)
}

func TestAverages(t *testing.T) {
	t.Parallel()

	now := time.Now()
	results := []model.AnalysisResult{
		resultAt("r1", "Myotis daubentonii", 90, now),
		resultAt("r2", "Myotis daubentonii", 85, now),
	}

	a := ForSpecies(results, "Myotis daubentonii")

	avgPeak, ok := a.AvgPeakFrequency()
	require.True(t, ok)
	assert.InDelta(t, 45, avgPeak, 1e-9)

	avgDur, ok := a.AvgPulseDuration()
	require.True(t, ok)
	assert.InDelta(t, 3.2, avgDur, 1e-9)
}
