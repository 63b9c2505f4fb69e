package batapi

import (
	"io"
	"time"

	"github.com/chiroscope/chiroscope/internal/model"
)

// Config holds the classification service client configuration
type Config struct {
	BaseURL     string        // base address of the classification service
	Timeout     time.Duration // per-request timeout
	CacheTTL    time.Duration // TTL for cached statistics responses
	RateLimitMS int           // minimum spacing between requests in milliseconds
	Debug       bool          // enable verbose request logging
}

// DefaultConfig returns the default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL:     "http://localhost:8000",
		Timeout:     30 * time.Second,
		CacheTTL:    time.Minute,
		RateLimitMS: 100,
	}
}

// AnalyzeOptions carries the recognized analysis form fields. The zero value
// omits every optional field and lets the service apply its own defaults.
type AnalyzeOptions struct {
	Theme        string          // spectrogram color scheme
	Threshold    float64         // minimum confidence, fraction in [0, 1]
	MaxThreshold float64         // upper confidence cutoff, fraction in [0, 1]
	MaxFreqKHz   int             // maximum frequency in kHz
	InputType    model.InputType // batch only: audio or image
}

// BatchFile is one entry of a batch analysis upload.
type BatchFile struct {
	Name   string
	Reader io.Reader
}

// ChatRequest is the JSON document posted to the assistant endpoint. The
// full result history and current statistics ride along as context for the
// model.
type ChatRequest struct {
	Message    string                 `json:"message"`
	History    []model.AnalysisResult `json:"history"`
	Statistics *model.Stats           `json:"statistics"`
}

// ChatResponse is the assistant's reply envelope.
type ChatResponse struct {
	Response string `json:"response"`
}
