package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiroscope/chiroscope/internal/errors"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Service.BaseURL = "http://localhost:8000"
	s.Service.Timeout = 30 * time.Second
	s.Analysis.Theme = "dark_viridis"
	s.Analysis.Threshold = 0.01
	s.Analysis.MaxThreshold = 0.5
	s.Analysis.MaxFreqKHz = 250
	s.Server.Port = "8080"
	return s
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Validate(validSettings()))
}

func TestValidateRejectsBadSettings(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"relative base url", func(s *Settings) { s.Service.BaseURL = "/api" }},
		{"unsupported scheme", func(s *Settings) { s.Service.BaseURL = "ftp://host" }},
		{"zero timeout", func(s *Settings) { s.Service.Timeout = 0 }},
		{"unknown theme", func(s *Settings) { s.Analysis.Theme = "neon_rainbow" }},
		{"threshold above one", func(s *Settings) { s.Analysis.Threshold = 1.5 }},
		{"negative threshold", func(s *Settings) { s.Analysis.Threshold = -0.1 }},
		{"max below min threshold", func(s *Settings) { s.Analysis.MaxThreshold = 0.001 }},
		{"zero max frequency", func(s *Settings) { s.Analysis.MaxFreqKHz = 0 }},
		{"empty port", func(s *Settings) { s.Server.Port = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)

			err := Validate(s)
			require.Error(t, err)

			var ee *errors.EnhancedError
			require.True(t, errors.As(err, &ee))
			assert.Equal(t, errors.CategoryValidation, ee.Category)
		})
	}
}

func TestSetSettingsRoundTrip(t *testing.T) {
	prev := GetSettings()
	t.Cleanup(func() { SetSettings(prev) })

	s := validSettings()
	SetSettings(s)
	assert.Same(t, s, GetSettings())
}

func TestGetDefaultConfigPaths(t *testing.T) {
	paths, err := GetDefaultConfigPaths()
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.Contains(t, paths[0], "chiroscope")
	assert.Equal(t, ".", paths[1])
}
