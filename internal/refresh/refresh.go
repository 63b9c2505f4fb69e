// Package refresh keeps the local result collection and the service health
// flag in sync with the remote classification service.
package refresh

import (
	"context"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chiroscope/chiroscope/internal/errors"
	"github.com/chiroscope/chiroscope/internal/logging"
	"github.com/chiroscope/chiroscope/internal/model"
	"github.com/chiroscope/chiroscope/internal/observability"
	"github.com/chiroscope/chiroscope/internal/store"
)

var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "refresh.log")
	serviceLevelVar.Set(slog.LevelDebug)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "refresh", serviceLevelVar)
	if err != nil {
		log.Printf("FATAL: Failed to initialize refresh file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "refresh")
		closeLogger = func() error { return nil }
	}
}

type healthFetcher interface {
	Health(ctx context.Context) (*model.HealthStatus, error)
}

// Poller periodically checks service health and records whether the remote
// service is reachable. A failed check flips the flag to offline without any
// retry; the next tick is the retry.
type Poller struct {
	fetcher  healthFetcher
	interval time.Duration

	online atomic.Bool

	mu   sync.RWMutex
	last *model.HealthStatus
}

// NewPoller creates a health poller. The poller starts pessimistic: the
// service is considered offline until the first successful check.
func NewPoller(fetcher healthFetcher, interval time.Duration) *Poller {
	return &Poller{
		fetcher:  fetcher,
		interval: interval,
	}
}

// StartPolling runs the health check loop until ctx is cancelled. An initial
// check runs immediately so the online flag settles before the first tick.
func (p *Poller) StartPolling(ctx context.Context) {
	logger.Info("Starting health polling", "interval", p.interval)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.check(ctx)

	for {
		select {
		case <-ticker.C:
			p.check(ctx)
		case <-ctx.Done():
			logger.Info("Stopping health polling")
			return
		}
	}
}

// Check performs a single health probe and updates the online flag.
func (p *Poller) Check(ctx context.Context) {
	p.check(ctx)
}

func (p *Poller) check(ctx context.Context) {
	health, err := p.fetcher.Health(ctx)
	if err != nil {
		wasOnline := p.online.Swap(false)
		if wasOnline {
			logger.Warn("service went offline", "error", err)
		} else {
			logger.Debug("service still offline", "error", err)
		}
		p.setLast(nil)
		return
	}

	wasOnline := p.online.Swap(true)
	if !wasOnline {
		logger.Info("service online", "status", health.Status)
	}
	p.setLast(health)
}

func (p *Poller) setLast(health *model.HealthStatus) {
	p.mu.Lock()
	p.last = health
	p.mu.Unlock()
}

// Online reports whether the last health check succeeded.
func (p *Poller) Online() bool {
	return p.online.Load()
}

// Last returns the most recent health report, or nil while offline.
func (p *Poller) Last() *model.HealthStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

type resultsFetcher interface {
	Results(ctx context.Context) ([]model.AnalysisResult, error)
}

// resultSink receives the fetched result set after each applied refresh.
type resultSink interface {
	Update(results []model.AnalysisResult)
}

// Refresher reloads the result collection from the service. Each refresh is
// numbered; a completion whose number is no longer current is discarded so a
// slow early fetch can never overwrite the outcome of a later one.
type Refresher struct {
	fetcher resultsFetcher
	results *store.ResultStore
	metrics *observability.Metrics
	images  resultSink

	seq     atomic.Uint64
	applyMu sync.Mutex
}

// NewRefresher creates a refresher that replaces the contents of results on
// every successful refresh.
func NewRefresher(fetcher resultsFetcher, results *store.ResultStore) *Refresher {
	return &Refresher{
		fetcher: fetcher,
		results: results,
	}
}

// SetMetrics attaches metric collectors. Safe to leave unset.
func (r *Refresher) SetMetrics(m *observability.Metrics) {
	r.metrics = m
}

// SetImages attaches a sink fed the result set after every applied refresh,
// typically the species image cache. Stale completions never reach it. Safe
// to leave unset.
func (r *Refresher) SetImages(sink resultSink) {
	r.images = sink
}

// Refresh fetches the full result list and replaces the store contents.
// When a newer Refresh started while this one was in flight, the fetched
// data is dropped and Refresh returns nil.
func (r *Refresher) Refresh(ctx context.Context) error {
	seq := r.seq.Add(1)

	fetched, err := r.fetcher.Results(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordRefresh("error")
		}
		return errors.Newf("result refresh failed: %w", err).
			Category(errors.CategoryNetwork).
			Context("refresh_seq", seq).
			Component("refresh").
			Build()
	}

	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	if r.seq.Load() != seq {
		logger.Debug("discarding stale refresh completion",
			"refresh_seq", seq,
			"current_seq", r.seq.Load(),
			"count", len(fetched))
		if r.metrics != nil {
			r.metrics.RecordStaleRefresh()
		}
		return nil
	}

	r.results.ReplaceAll(fetched)
	if r.images != nil {
		r.images.Update(fetched)
	}
	if r.metrics != nil {
		r.metrics.RecordRefresh("success")
		r.metrics.SetResultsStored(r.results.Len())
	}
	logger.Debug("results refreshed", "refresh_seq", seq, "count", len(fetched))
	return nil
}

// Close releases the package log file.
func Close() {
	if closeLogger != nil {
		if err := closeLogger(); err != nil {
			log.Printf("Error closing refresh logger: %v", err)
		}
	}
}
