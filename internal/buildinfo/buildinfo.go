// Package buildinfo carries build-time metadata injected via ldflags.
package buildinfo

import "sync"

var (
	mu        sync.RWMutex
	version   = "dev"
	buildDate = "unknown"
)

// Set records the version and build date. Called once at startup from main.
func Set(v, date string) {
	mu.Lock()
	defer mu.Unlock()
	if v != "" {
		version = v
	}
	if date != "" {
		buildDate = date
	}
}

// Version returns the build version string.
func Version() string {
	mu.RLock()
	defer mu.RUnlock()
	return version
}

// BuildDate returns when the binary was built.
func BuildDate() string {
	mu.RLock()
	defer mu.RUnlock()
	return buildDate
}
