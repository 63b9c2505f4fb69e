package conf

import (
	"net/url"

	"github.com/chiroscope/chiroscope/internal/errors"
	"github.com/chiroscope/chiroscope/internal/model"
)

// Validate checks settings for consistency before they are applied.
func Validate(s *Settings) error {
	if err := validateService(s); err != nil {
		return err
	}
	if err := validateAnalysis(s); err != nil {
		return err
	}
	return validateServer(s)
}

func validateService(s *Settings) error {
	u, err := url.Parse(s.Service.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Newf("service.baseurl must be an absolute http(s) URL, got %q", s.Service.BaseURL).
			Category(errors.CategoryValidation).
			Context("base_url", s.Service.BaseURL).
			Component("conf").
			Build()
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.Newf("service.baseurl scheme must be http or https, got %q", u.Scheme).
			Category(errors.CategoryValidation).
			Component("conf").
			Build()
	}
	if s.Service.Timeout <= 0 {
		return errors.Newf("service.timeout must be positive").
			Category(errors.CategoryValidation).
			Component("conf").
			Build()
	}
	return nil
}

func validateAnalysis(s *Settings) error {
	if !model.ValidTheme(s.Analysis.Theme) {
		return errors.Newf("analysis.theme %q is not a recognized spectrogram theme", s.Analysis.Theme).
			Category(errors.CategoryValidation).
			Context("theme", s.Analysis.Theme).
			Component("conf").
			Build()
	}
	if s.Analysis.Threshold < 0 || s.Analysis.Threshold > 1 {
		return errors.Newf("analysis.threshold must be within [0, 1], got %v", s.Analysis.Threshold).
			Category(errors.CategoryValidation).
			Component("conf").
			Build()
	}
	if s.Analysis.MaxThreshold < s.Analysis.Threshold {
		return errors.Newf("analysis.maxthreshold must not be below analysis.threshold").
			Category(errors.CategoryValidation).
			Context("threshold", s.Analysis.Threshold).
			Context("max_threshold", s.Analysis.MaxThreshold).
			Component("conf").
			Build()
	}
	if s.Analysis.MaxFreqKHz <= 0 {
		return errors.Newf("analysis.maxfreqkhz must be positive, got %d", s.Analysis.MaxFreqKHz).
			Category(errors.CategoryValidation).
			Component("conf").
			Build()
	}
	return nil
}

func validateServer(s *Settings) error {
	if s.Server.Port == "" {
		return errors.Newf("server.port must not be empty").
			Category(errors.CategoryValidation).
			Component("conf").
			Build()
	}
	return nil
}
