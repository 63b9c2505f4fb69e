package refresh

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chiroscope/chiroscope/internal/model"
	"github.com/chiroscope/chiroscope/internal/store"
)

type fakeHealth struct {
	mu     sync.Mutex
	err    error
	status *model.HealthStatus
	calls  int
}

func (f *fakeHealth) Health(_ context.Context) (*model.HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.status, nil
}

func (f *fakeHealth) set(status *model.HealthStatus, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = status
	f.err = err
}

func TestPollerStartsOffline(t *testing.T) {
	p := NewPoller(&fakeHealth{}, time.Second)
	assert.False(t, p.Online())
	assert.Nil(t, p.Last())
}

func TestPollerCheckTransitions(t *testing.T) {
	fake := &fakeHealth{status: &model.HealthStatus{Status: "ok", Services: map[string]string{"model": "loaded"}}}
	p := NewPoller(fake, time.Second)

	p.Check(context.Background())
	assert.True(t, p.Online())
	require.NotNil(t, p.Last())
	assert.Equal(t, "ok", p.Last().Status)

	fake.set(nil, fmt.Errorf("connection refused"))
	p.Check(context.Background())
	assert.False(t, p.Online())
	assert.Nil(t, p.Last())

	// next probe brings it back, no backoff or retry in between
	fake.set(&model.HealthStatus{Status: "ok"}, nil)
	p.Check(context.Background())
	assert.True(t, p.Online())
}

func TestPollerStopsOnCancel(t *testing.T) {
	fake := &fakeHealth{status: &model.HealthStatus{Status: "ok"}}
	p := NewPoller(fake, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.StartPolling(ctx)
		close(done)
	}()

	assert.Eventually(t, p.Online, time.Second, time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop after context cancellation")
	}
}

type scriptedFetcher struct {
	mu      sync.Mutex
	pending []chan []model.AnalysisResult
}

// Results blocks until the test releases the corresponding call.
func (s *scriptedFetcher) Results(_ context.Context) ([]model.AnalysisResult, error) {
	s.mu.Lock()
	release := make(chan []model.AnalysisResult)
	s.pending = append(s.pending, release)
	s.mu.Unlock()
	return <-release, nil
}

func (s *scriptedFetcher) release(call int, results []model.AnalysisResult) {
	s.mu.Lock()
	ch := s.pending[call]
	s.mu.Unlock()
	ch <- results
}

func (s *scriptedFetcher) waitForCalls(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return len(s.pending) >= n
	}, time.Second, time.Millisecond)
}

type errFetcher struct{}

func (errFetcher) Results(_ context.Context) ([]model.AnalysisResult, error) {
	return nil, fmt.Errorf("boom")
}

func TestRefreshReplacesStore(t *testing.T) {
	results := store.New()
	results.ReplaceAll([]model.AnalysisResult{{FileID: "old"}})

	fetcher := &scriptedFetcher{}
	r := NewRefresher(fetcher, results)

	done := make(chan error, 1)
	go func() { done <- r.Refresh(context.Background()) }()

	fetcher.waitForCalls(t, 1)
	fetcher.release(0, []model.AnalysisResult{{FileID: "a"}, {FileID: "b"}})

	require.NoError(t, <-done)
	assert.Equal(t, 2, results.Len())
	_, ok := results.Get("old")
	assert.False(t, ok)
}

func TestRefreshErrorLeavesStoreUntouched(t *testing.T) {
	results := store.New()
	results.ReplaceAll([]model.AnalysisResult{{FileID: "keep"}})

	r := NewRefresher(errFetcher{}, results)
	require.Error(t, r.Refresh(context.Background()))
	assert.Equal(t, 1, results.Len())
}

type recordingSink struct {
	mu      sync.Mutex
	updates [][]model.AnalysisResult
}

func (s *recordingSink) Update(results []model.AnalysisResult) {
	s.mu.Lock()
	s.updates = append(s.updates, results)
	s.mu.Unlock()
}

func TestRefreshFeedsImageSink(t *testing.T) {
	results := store.New()
	fetcher := &scriptedFetcher{}
	sink := &recordingSink{}

	r := NewRefresher(fetcher, results)
	r.SetImages(sink)

	done := make(chan error, 1)
	go func() { done <- r.Refresh(context.Background()) }()
	fetcher.waitForCalls(t, 1)
	fetcher.release(0, []model.AnalysisResult{{FileID: "a", SpeciesImageURL: "http://svc/img/a.jpg"}})
	require.NoError(t, <-done)

	require.Len(t, sink.updates, 1)
	assert.Equal(t, "a", sink.updates[0][0].FileID)
}

func TestRefreshFailureSkipsImageSink(t *testing.T) {
	sink := &recordingSink{}
	r := NewRefresher(errFetcher{}, store.New())
	r.SetImages(sink)

	require.Error(t, r.Refresh(context.Background()))
	assert.Empty(t, sink.updates)
}

// A refresh that started first but finished last must not clobber the
// results of the newer refresh.
func TestStaleRefreshCompletionDiscarded(t *testing.T) {
	results := store.New()
	fetcher := &scriptedFetcher{}
	sink := &recordingSink{}
	r := NewRefresher(fetcher, results)
	r.SetImages(sink)

	first := make(chan error, 1)
	go func() { first <- r.Refresh(context.Background()) }()
	fetcher.waitForCalls(t, 1)

	second := make(chan error, 1)
	go func() { second <- r.Refresh(context.Background()) }()
	fetcher.waitForCalls(t, 2)

	// the newer refresh completes first
	fetcher.release(1, []model.AnalysisResult{{FileID: "new"}})
	require.NoError(t, <-second)

	// the older one straggles in afterwards and is dropped
	fetcher.release(0, []model.AnalysisResult{{FileID: "stale-1"}, {FileID: "stale-2"}})
	require.NoError(t, <-first)

	assert.Equal(t, 1, results.Len())
	_, ok := results.Get("new")
	assert.True(t, ok)

	// the sink only ever saw the applied set
	require.Len(t, sink.updates, 1)
	assert.Equal(t, "new", sink.updates[0][0].FileID)
}
