// Package normalize maps the heterogeneous payload shapes returned by the
// classification service onto the canonical model types. The service nests
// analysis payloads under "result" or "data" depending on endpoint, and mixes
// fraction and percentage confidence encodings, sometimes within a single
// batch response. Everything downstream of this package sees one shape only.
package normalize

import (
	"net/url"
	"strings"

	"github.com/antonholmquist/jason"

	"github.com/chiroscope/chiroscope/internal/errors"
	"github.com/chiroscope/chiroscope/internal/model"
)

// Confidence canonicalizes a confidence value to a percentage in [0, 100].
// Values at or below 1.0 are treated as fractions and scaled; anything above
// is already a percentage. The rule is applied per detection because batch
// responses have been observed mixing encodings across entries.
func Confidence(c float64) float64 {
	if c <= 1.0 {
		return c * 100
	}
	return c
}

// URL resolves a possibly relative resource locator against the service base
// address. Absolute URLs pass through untouched; empty stays empty.
func URL(base *url.URL, ref string) string {
	if ref == "" || base == nil {
		return ref
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}

// unwrapEnvelope picks the analysis payload out of a response document.
// Resolution order is "result", then "data", then the document itself; the
// first key holding an object wins.
func unwrapEnvelope(root *jason.Object) *jason.Object {
	if obj, err := root.GetObject("result"); err == nil {
		return obj
	}
	if obj, err := root.GetObject("data"); err == nil {
		return obj
	}
	return root
}

// Result parses a raw single-analysis response into a canonical
// AnalysisResult. A document that matches none of the known shapes fails with
// a normalization error instead of yielding a half-empty result.
func Result(raw []byte, base *url.URL) (*model.AnalysisResult, error) {
	root, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		return nil, errors.Newf("response is not a JSON object: %w", err).
			Category(errors.CategoryNormalization).
			Component("normalize").
			Build()
	}
	return resultFromObject(unwrapEnvelope(root), base)
}

// resultFromObject builds a canonical result from an unwrapped payload
// object. Missing optional fields (audio_url, species_image_url, intensity)
// are not errors; a missing file_id is.
func resultFromObject(obj *jason.Object, base *url.URL) (*model.AnalysisResult, error) {
	fileID, err := obj.GetString("file_id")
	if err != nil || fileID == "" {
		return nil, errors.Newf("analysis payload has no file_id, unrecognized response shape").
			Category(errors.CategoryNormalization).
			Component("normalize").
			Build()
	}

	r := &model.AnalysisResult{FileID: fileID}

	r.OriginalFilename, _ = obj.GetString("original_filename")
	r.Timestamp, _ = obj.GetFloat64("timestamp")
	r.Duration, _ = obj.GetFloat64("duration")
	r.SampleRate, _ = obj.GetFloat64("sample_rate")

	if s, err := obj.GetString("spectrogram_url"); err == nil {
		r.SpectrogramURL = URL(base, s)
	}
	if s, err := obj.GetString("audio_url"); err == nil {
		r.AudioURL = URL(base, s)
	}
	if s, err := obj.GetString("species_image_url"); err == nil {
		r.SpeciesImageURL = URL(base, s)
	}
	if v, err := obj.GetFloat64("threshold"); err == nil {
		r.Threshold = &v
	}
	if v, err := obj.GetFloat64("max_threshold"); err == nil {
		r.MaxThreshold = &v
	}

	detections, err := obj.GetObjectArray("species_detected")
	if err == nil {
		r.SpeciesDetected = make([]model.SpeciesDetection, 0, len(detections))
		for _, d := range detections {
			species, err := d.GetString("species")
			if err != nil || species == "" {
				continue
			}
			confidence, _ := d.GetFloat64("confidence")
			r.SpeciesDetected = append(r.SpeciesDetected, model.SpeciesDetection{
				Species:    species,
				Confidence: Confidence(confidence),
			})
		}
	}

	if params, err := obj.GetObject("call_parameters"); err == nil {
		r.CallParameters = callParametersFromObject(params)
	}

	return r, nil
}

func callParametersFromObject(obj *jason.Object) model.CallParameters {
	var p model.CallParameters
	p.StartFrequency, _ = obj.GetFloat64("start_frequency")
	p.EndFrequency, _ = obj.GetFloat64("end_frequency")
	p.PeakFrequency, _ = obj.GetFloat64("peak_frequency")
	p.Bandwidth, _ = obj.GetFloat64("bandwidth")
	p.PulseDuration, _ = obj.GetFloat64("pulse_duration")
	if v, err := obj.GetFloat64("intensity"); err == nil {
		p.Intensity = &v
	}
	p.Shape, _ = obj.GetString("shape")
	return p
}

// ResultList parses a history response of shape {"results": [...]} into
// canonical results, running every entry through the same normalization as
// single-analysis responses. Entries with unrecognized shapes are dropped,
// not fatal: one malformed historical record must not hide the rest. The
// number of dropped entries is returned so callers can account for them.
func ResultList(raw []byte, base *url.URL) ([]model.AnalysisResult, int, error) {
	root, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		return nil, 0, errors.Newf("results response is not a JSON object: %w", err).
			Category(errors.CategoryNormalization).
			Component("normalize").
			Build()
	}

	entries, err := root.GetObjectArray("results")
	if err != nil {
		return nil, 0, errors.Newf("results response has no results array").
			Category(errors.CategoryNormalization).
			Component("normalize").
			Build()
	}

	out := make([]model.AnalysisResult, 0, len(entries))
	dropped := 0
	for _, e := range entries {
		r, err := resultFromObject(e, base)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, *r)
	}
	return out, dropped, nil
}

// Batch parses a batch-analysis response. The service returns either a bare
// {"results": [...]} or the richer {"total_files", "completed", "failed",
// "results"} document; both map onto BatchSummary. When the summary counters
// are absent they are derived from the results themselves.
func Batch(raw []byte, base *url.URL) (*model.BatchSummary, int, error) {
	root, err := jason.NewObjectFromBytes(raw)
	if err != nil {
		return nil, 0, errors.Newf("batch response is not a JSON object: %w", err).
			Category(errors.CategoryNormalization).
			Component("normalize").
			Build()
	}

	results, dropped, err := ResultList(raw, base)
	if err != nil {
		return nil, 0, err
	}

	summary := &model.BatchSummary{Results: results}

	if v, err := root.GetInt64("total_files"); err == nil {
		summary.TotalFiles = int(v)
	} else {
		summary.TotalFiles = len(results)
	}
	if v, err := root.GetInt64("completed"); err == nil {
		summary.Completed = int(v)
	} else {
		summary.Completed = len(results)
	}
	if v, err := root.GetInt64("failed"); err == nil {
		summary.Failed = int(v)
	}

	return summary, dropped, nil
}
