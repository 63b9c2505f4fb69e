// Package model defines the canonical data types shared across chiroscope:
// analysis results as returned by the classification service after
// normalization, aggregate statistics, health reports and chat messages.
package model

import (
	"time"
)

// SpeciesDetection is a single ranked classification candidate. Confidence is
// always a percentage in [0, 100] after normalization, regardless of how the
// service encoded it on the wire.
type SpeciesDetection struct {
	Species    string  `json:"species"`
	Confidence float64 `json:"confidence"`
}

// CallParameters holds derived acoustic descriptors for a recording. They are
// computed by the classification service and passed through untouched.
type CallParameters struct {
	StartFrequency float64  `json:"start_frequency"`
	EndFrequency   float64  `json:"end_frequency"`
	PeakFrequency  float64  `json:"peak_frequency"`
	Bandwidth      float64  `json:"bandwidth"`
	PulseDuration  float64  `json:"pulse_duration"`
	Intensity      *float64 `json:"intensity,omitempty"`
	Shape          string   `json:"shape"`
}

// AnalysisResult is one completed classification event. FileID is assigned by
// the classification service and is the primary key everywhere.
type AnalysisResult struct {
	FileID           string             `json:"file_id"`
	OriginalFilename string             `json:"original_filename"`
	Timestamp        float64            `json:"timestamp"` // seconds since epoch
	Duration         float64            `json:"duration"`
	SampleRate       float64            `json:"sample_rate"`
	SpectrogramURL   string             `json:"spectrogram_url"`
	AudioURL         string             `json:"audio_url,omitempty"`
	SpeciesImageURL  string             `json:"species_image_url,omitempty"`
	SpeciesDetected  []SpeciesDetection `json:"species_detected"`
	CallParameters   CallParameters     `json:"call_parameters"`
	Threshold        *float64           `json:"threshold,omitempty"`
	MaxThreshold     *float64           `json:"max_threshold,omitempty"`
}

// TopMatch returns the highest ranked detection. ok is false when the result
// carries no detections at all.
func (r *AnalysisResult) TopMatch() (SpeciesDetection, bool) {
	if len(r.SpeciesDetected) == 0 {
		return SpeciesDetection{}, false
	}
	return r.SpeciesDetected[0], true
}

// Time converts the epoch timestamp to a time.Time.
func (r *AnalysisResult) Time() time.Time {
	sec := int64(r.Timestamp)
	nsec := int64((r.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}

// DetectionsAbove returns the detections whose confidence, expressed as a
// fraction, is at or above the given threshold. An empty return is a valid
// state ("no species above threshold"), not an error.
func (r *AnalysisResult) DetectionsAbove(threshold float64) []SpeciesDetection {
	out := make([]SpeciesDetection, 0, len(r.SpeciesDetected))
	for _, d := range r.SpeciesDetected {
		if d.Confidence/100 >= threshold {
			out = append(out, d)
		}
	}
	return out
}

// ActiveThreshold returns the threshold the result was analyzed with when
// the service reported one, otherwise fallback.
func (r *AnalysisResult) ActiveThreshold(fallback float64) float64 {
	if r.Threshold != nil {
		return *r.Threshold
	}
	return fallback
}

// SpeciesCount pairs a species name with its occurrence count.
type SpeciesCount struct {
	Species string `json:"species"`
	Count   int    `json:"count"`
}

// Stats is the global statistics document returned by the classification
// service.
type Stats struct {
	TotalAnalyses         int            `json:"total_analyses"`
	TotalDurationHours    float64        `json:"total_duration_hours"`
	UniqueSpeciesDetected int            `json:"unique_species_detected"`
	StorageType           string         `json:"storage_type"`
	TopSpecies            []SpeciesCount `json:"top_species"`
}

// HealthStatus is the detailed liveness report of the classification service.
type HealthStatus struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthyStates are subsystem status values that count as healthy.
var healthyStates = map[string]bool{
	"online":    true,
	"enabled":   true,
	"loaded":    true,
	"connected": true,
	"ok":        true,
}

// ServiceHealthy reports whether a subsystem status string counts as healthy.
func ServiceHealthy(status string) bool {
	return healthyStates[status]
}

// BatchSummary is the outcome of a batch analysis request. Failed entries
// produce no result so len(Results) may be below TotalFiles.
type BatchSummary struct {
	TotalFiles int              `json:"total_files"`
	Completed  int              `json:"completed"`
	Failed     int              `json:"failed"`
	Results    []AnalysisResult `json:"results"`
}

// ChatRole identifies the author of a chat message.
type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
)

// ChatMessage is one entry in the assistant transcript.
type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// InputType selects between audio and spectrogram-image analysis.
type InputType string

const (
	InputAudio InputType = "audio"
	InputImage InputType = "image"
)
