// Package analytics derives statistics and per-species views from a snapshot
// of the result collection. Every function here is a pure transform of its
// input slice; nothing mutates shared state.
package analytics

import (
	"sort"

	"github.com/chiroscope/chiroscope/internal/model"
)

// GlobalStats summarizes the whole collection.
type GlobalStats struct {
	TotalResults         int                  `json:"total_results"`
	UniqueSpecies        int                  `json:"unique_species"`
	TotalDurationSeconds float64              `json:"total_duration_seconds"`
	TotalDurationHours   float64              `json:"total_duration_hours"`
	TopSpecies           []model.SpeciesCount `json:"top_species"`
}

// Global computes collection-wide statistics. The top-species ranking counts
// top matches only, descending by count, ties broken by first-seen order.
func Global(results []model.AnalysisResult) GlobalStats {
	stats := GlobalStats{TotalResults: len(results)}

	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	anywhere := make(map[string]bool)

	for i, r := range results {
		stats.TotalDurationSeconds += r.Duration
		for _, d := range r.SpeciesDetected {
			anywhere[d.Species] = true
		}
		top, ok := r.TopMatch()
		if !ok {
			continue
		}
		if _, seen := firstSeen[top.Species]; !seen {
			firstSeen[top.Species] = i
		}
		counts[top.Species]++
	}

	stats.UniqueSpecies = len(anywhere)
	stats.TotalDurationHours = stats.TotalDurationSeconds / 3600

	stats.TopSpecies = make([]model.SpeciesCount, 0, len(counts))
	for species, count := range counts {
		stats.TopSpecies = append(stats.TopSpecies, model.SpeciesCount{Species: species, Count: count})
	}
	sort.SliceStable(stats.TopSpecies, func(i, j int) bool {
		a, b := stats.TopSpecies[i], stats.TopSpecies[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return firstSeen[a.Species] < firstSeen[b.Species]
	})

	return stats
}

// TopN returns the first n entries of a top-species ranking.
func TopN(ranking []model.SpeciesCount, n int) []model.SpeciesCount {
	if n > len(ranking) {
		n = len(ranking)
	}
	return ranking[:n]
}

// TimePoint is one observation in a species time series. One point per
// result, sharing a date key with other points from the same day; duplicate
// dates are intentionally not merged.
type TimePoint struct {
	Date       string  `json:"date"`
	Count      int     `json:"count"`
	Confidence float64 `json:"confidence"`
}

// FreqPoint carries the frequency descriptors of one recording.
type FreqPoint struct {
	Label string  `json:"label"`
	Peak  float64 `json:"peak"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// DurationPoint carries the pulse duration of one recording.
type DurationPoint struct {
	Label    string  `json:"label"`
	Duration float64 `json:"duration"`
}

// SpeciesAnalytics is the per-species report derived from the results whose
// top match is that species. Note the asymmetry with the store's species
// filter, which matches anywhere in the ranked list; the two rules are kept
// separate on purpose because unifying them would change displayed numbers.
type SpeciesAnalytics struct {
	Species        string          `json:"species"`
	Count          int             `json:"count"`
	TimeSeries     []TimePoint     `json:"time_series"`
	FreqSeries     []FreqPoint     `json:"freq_series"`
	DurationSeries []DurationPoint `json:"duration_series"`
}

// labelRunes is how much of a filename survives as a chart label.
const labelRunes = 15

func label(filename string) string {
	runes := []rune(filename)
	if len(runes) > labelRunes {
		runes = runes[:labelRunes]
	}
	return string(runes)
}

// ForSpecies builds the per-species report for the results whose top-ranked
// detection equals species.
func ForSpecies(results []model.AnalysisResult, species string) SpeciesAnalytics {
	a := SpeciesAnalytics{
		Species:        species,
		TimeSeries:     []TimePoint{},
		FreqSeries:     []FreqPoint{},
		DurationSeries: []DurationPoint{},
	}

	for _, r := range results {
		top, ok := r.TopMatch()
		if !ok || top.Species != species {
			continue
		}
		a.Count++
		a.TimeSeries = append(a.TimeSeries, TimePoint{
			Date:       r.Time().Format("2006-01-02"),
			Count:      1,
			Confidence: top.Confidence,
		})
		a.FreqSeries = append(a.FreqSeries, FreqPoint{
			Label: label(r.OriginalFilename),
			Peak:  r.CallParameters.PeakFrequency,
			Start: r.CallParameters.StartFrequency,
			End:   r.CallParameters.EndFrequency,
		})
		a.DurationSeries = append(a.DurationSeries, DurationPoint{
			Label:    label(r.OriginalFilename),
			Duration: r.CallParameters.PulseDuration,
		})
	}

	return a
}

// AvgPeakFrequency averages the peak frequency over the subset. ok is false
// when the subset is empty; callers must check it instead of dividing by
// zero.
func (a SpeciesAnalytics) AvgPeakFrequency() (avg float64, ok bool) {
	if len(a.FreqSeries) == 0 {
		return 0, false
	}
	var sum float64
	for _, p := range a.FreqSeries {
		sum += p.Peak
	}
	return sum / float64(len(a.FreqSeries)), true
}

// AvgPulseDuration averages the pulse duration over the subset. ok is false
// when the subset is empty.
func (a SpeciesAnalytics) AvgPulseDuration() (avg float64, ok bool) {
	if len(a.DurationSeries) == 0 {
		return 0, false
	}
	var sum float64
	for _, p := range a.DurationSeries {
		sum += p.Duration
	}
	return sum / float64(len(a.DurationSeries)), true
}
