// Package imageprovider resolves representative images for bat species.
package imageprovider

import (
	"log/slog"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/chiroscope/chiroscope/internal/conf"
	"github.com/chiroscope/chiroscope/internal/logging"
	"github.com/chiroscope/chiroscope/internal/model"
)

// ImageProvider fetches an image URL for a species by name.
type ImageProvider interface {
	Fetch(species string) (string, error)
}

// SpeciesImageCache caches resolved species image URLs. Lookups fall back to
// the configured placeholder so callers always get a renderable URL.
type SpeciesImageCache struct {
	provider    ImageProvider
	cache       *gocache.Cache
	placeholder string
	logger      *slog.Logger

	mu sync.Mutex // serializes fetches per cache miss
}

// New creates a species image cache backed by the given provider. A nil
// provider is allowed; every lookup then resolves to the placeholder.
func New(provider ImageProvider) *SpeciesImageCache {
	settings := conf.Setting()
	ttl := settings.Images.CacheTTL
	if ttl <= 0 {
		ttl = cacheTTLFallback
	}
	logger := logging.ForService("imageprovider")
	if logger == nil {
		logger = slog.Default().With("service", "imageprovider")
	}
	return &SpeciesImageCache{
		provider:    provider,
		cache:       gocache.New(ttl, ttl*2),
		placeholder: settings.Images.Placeholder,
		logger:      logger,
	}
}

// Get returns the image URL for a species, consulting the cache first. A
// failed or empty fetch resolves to the placeholder; the placeholder is
// cached too so an unavailable provider is asked at most once per TTL.
func (c *SpeciesImageCache) Get(species string) string {
	if species == "" {
		return c.placeholder
	}

	if cached, found := c.cache.Get(species); found {
		if imageURL, ok := cached.(string); ok {
			return imageURL
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// another caller may have filled the entry while we waited
	if cached, found := c.cache.Get(species); found {
		if imageURL, ok := cached.(string); ok {
			return imageURL
		}
	}

	imageURL := c.placeholder
	if c.provider != nil {
		fetched, err := c.provider.Fetch(species)
		switch {
		case err != nil:
			c.logger.Warn("species image fetch failed", "species", species, "error", err)
		case fetched != "":
			imageURL = fetched
		}
	}

	c.cache.Set(species, imageURL, gocache.DefaultExpiration)
	return imageURL
}

// Update feeds a fresh result set into the cache: the backing provider gets
// the new snapshot when it resolves images from results, and URLs the service
// already attached are seeded so lookups never wait on a fetch.
func (c *SpeciesImageCache) Update(results []model.AnalysisResult) {
	if up, ok := c.provider.(interface{ Update([]model.AnalysisResult) }); ok {
		up.Update(results)
	}
	c.Seed(results)
}

// Seed records image URLs already present in analysis results so they can be
// served without asking the provider.
func (c *SpeciesImageCache) Seed(results []model.AnalysisResult) {
	for i := range results {
		r := &results[i]
		if r.SpeciesImageURL == "" {
			continue
		}
		top, ok := r.TopMatch()
		if !ok {
			continue
		}
		c.cache.Set(top.Species, r.SpeciesImageURL, gocache.DefaultExpiration)
	}
}

// Placeholder returns the fallback image URL.
func (c *SpeciesImageCache) Placeholder() string {
	return c.placeholder
}

// Clear drops all cached entries.
func (c *SpeciesImageCache) Clear() {
	c.cache.Flush()
}

// ResultProvider resolves species images from a snapshot of analysis
// results, preferring the image the classification service already attached.
type ResultProvider struct {
	mu     sync.RWMutex
	byName map[string]string
}

// NewResultProvider builds a provider over the given results.
func NewResultProvider(results []model.AnalysisResult) *ResultProvider {
	p := &ResultProvider{byName: make(map[string]string)}
	p.Update(results)
	return p
}

// Update replaces the provider's view of the result set.
func (p *ResultProvider) Update(results []model.AnalysisResult) {
	byName := make(map[string]string)
	for i := range results {
		r := &results[i]
		if r.SpeciesImageURL == "" {
			continue
		}
		top, ok := r.TopMatch()
		if !ok {
			continue
		}
		if _, seen := byName[top.Species]; !seen {
			byName[top.Species] = r.SpeciesImageURL
		}
	}

	p.mu.Lock()
	p.byName = byName
	p.mu.Unlock()
}

// Fetch implements ImageProvider.
func (p *ResultProvider) Fetch(species string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.byName[species], nil
}

var _ ImageProvider = (*ResultProvider)(nil)

// cacheTTLFallback guards against a zero TTL from an unvalidated config.
const cacheTTLFallback = 15 * time.Minute
