// Package conf loads and validates chiroscope runtime settings from YAML
// config files, environment variables and command line flags via viper.
package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/chiroscope/chiroscope/internal/errors"
)

// Log rotation types
type RotationType string

const (
	RotationDaily  RotationType = "daily"
	RotationWeekly RotationType = "weekly"
	RotationSize   RotationType = "size"
)

// LogConfig defines the configuration for a log file
type LogConfig struct {
	Enabled  bool         // true to enable this log
	Path     string       // path to log file
	Rotation RotationType // rotation type
	MaxSize  int64        // max size in bytes for size rotation
}

// Settings contains all runtime configuration
type Settings struct {
	Debug bool // true to enable debug mode

	Main struct {
		Name string    // name of this chiroscope node
		Log  LogConfig // main log settings, shared by file loggers
	}

	Service struct {
		BaseURL     string        // base address of the classification service
		Timeout     time.Duration // per-request timeout
		RateLimitMS int           // minimum spacing between requests in milliseconds
		CacheTTL    time.Duration // TTL for cached stats and health responses
	}

	Analysis struct {
		Theme        string  // spectrogram color scheme
		Threshold    float64 // minimum confidence for reported detections
		MaxThreshold float64 // upper confidence cutoff
		MaxFreqKHz   int     // maximum frequency in kHz
	}

	Poll struct {
		HealthInterval time.Duration // interval between background health checks
	}

	Images struct {
		CacheTTL    time.Duration // TTL for cached species image lookups
		Placeholder string        // asset served when a species has no image
	}

	Server struct {
		Host        string // address to bind the dashboard API to
		Port        string // port to listen on
		EnableCORS  bool   // true to allow cross-origin dashboard requests
		LogRequests bool   // true to log every HTTP request
	}
}

var (
	settingsInstance *Settings
	once             sync.Once
	settingsMutex    sync.RWMutex
)

// Load reads the configuration into a Settings struct
func Load() (*Settings, error) {
	settings := &Settings{}

	if err := initViper(); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	if err := viper.Unmarshal(settings); err != nil {
		return nil, errors.Newf("error unmarshaling config into struct: %w", err).
			Category(errors.CategoryConfiguration).
			Component("conf").
			Build()
	}

	if err := Validate(settings); err != nil {
		return nil, err
	}

	settingsMutex.Lock()
	settingsInstance = settings
	settingsMutex.Unlock()

	return settings, nil
}

func initViper() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return err
	}
	for _, path := range configPaths {
		viper.AddConfigPath(path)
	}

	viper.SetEnvPrefix("CHIROSCOPE")
	viper.AutomaticEnv()

	setDefaultConfig()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("fatal error reading config file: %w", err)
		}
		// No config file found, create one from defaults
		return createDefaultConfig(configPaths[0])
	}

	return nil
}

// createDefaultConfig writes the default settings as a YAML config file
func createDefaultConfig(configPath string) error {
	if err := os.MkdirAll(configPath, 0o755); err != nil {
		return errors.Newf("error creating config directory: %w", err).
			Category(errors.CategoryFileIO).
			Context("path", configPath).
			Component("conf").
			Build()
	}

	defaults := viper.AllSettings()
	out, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("error marshaling default config: %w", err)
	}

	configFile := filepath.Join(configPath, "config.yaml")
	if err := os.WriteFile(configFile, out, 0o644); err != nil {
		return errors.Newf("error writing default config: %w", err).
			Category(errors.CategoryFileIO).
			Context("path", configFile).
			Component("conf").
			Build()
	}

	return viper.ReadInConfig()
}

func setDefaultConfig() {
	viper.SetDefault("debug", false)
	viper.SetDefault("main.name", "chiroscope")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/chiroscope.log")
	viper.SetDefault("main.log.rotation", string(RotationSize))
	viper.SetDefault("main.log.maxsize", int64(100*1024*1024))

	viper.SetDefault("service.baseurl", "http://localhost:8000")
	viper.SetDefault("service.timeout", "30s")
	viper.SetDefault("service.ratelimitms", 100)
	viper.SetDefault("service.cachettl", "1m")

	viper.SetDefault("analysis.theme", "dark_viridis")
	viper.SetDefault("analysis.threshold", 0.01)
	viper.SetDefault("analysis.maxthreshold", 0.5)
	viper.SetDefault("analysis.maxfreqkhz", 250)

	viper.SetDefault("poll.healthinterval", "30s")

	viper.SetDefault("images.cachettl", "15m")
	viper.SetDefault("images.placeholder", "/assets/images/bat-placeholder.svg")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.enablecors", true)
	viper.SetDefault("server.logrequests", true)
}

// GetDefaultConfigPaths returns the list of directories searched for config.yaml
func GetDefaultConfigPaths() ([]string, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("error fetching user config directory: %w", err)
	}
	return []string{
		filepath.Join(configDir, "chiroscope"),
		".",
	}, nil
}

// Setting returns the global settings instance, loading it on first use.
func Setting() *Settings {
	once.Do(func() {
		settingsMutex.RLock()
		loaded := settingsInstance != nil
		settingsMutex.RUnlock()
		if !loaded {
			if _, err := Load(); err != nil {
				panic(fmt.Errorf("error loading settings: %w", err))
			}
		}
	})

	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// GetSettings returns the current settings without triggering a load.
// Returns nil if Load has not been called.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SetSettings replaces the global settings instance. Intended for tests.
func SetSettings(s *Settings) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()
	settingsInstance = s
}
