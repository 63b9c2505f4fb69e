// Package store holds the canonical, deduplicated collection of analysis
// results fetched from the classification service. Insertion order is the
// service-returned order, not timestamp order; results may arrive out of
// order via batch upload and consumers sort explicitly when order matters.
package store

import (
	"slices"
	"sync"

	"github.com/chiroscope/chiroscope/internal/model"
)

// FilterAll is the sentinel species filter matching every result.
const FilterAll = "all"

// ResultStore is a mutex-guarded in-memory result collection keyed by
// file_id.
type ResultStore struct {
	mu      sync.RWMutex
	results []model.AnalysisResult
	byID    map[string]int // file_id -> index into results
}

// New creates an empty ResultStore.
func New() *ResultStore {
	return &ResultStore{
		byID: make(map[string]int),
	}
}

// ReplaceAll atomically replaces the entire collection. Stale entries not
// present in the new set disappear; duplicated file_ids keep the first
// occurrence. This is the only ingestion path after a full fetch, there is no
// incremental merge.
func (s *ResultStore) ReplaceAll(results []model.AnalysisResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.results = make([]model.AnalysisResult, 0, len(results))
	s.byID = make(map[string]int, len(results))
	for _, r := range results {
		if _, dup := s.byID[r.FileID]; dup {
			continue
		}
		s.byID[r.FileID] = len(s.results)
		s.results = append(s.results, r)
	}
}

// Remove deletes a result by id. Removing an absent id is a no-op; the
// caller is expected to have confirmed server-side deletion first.
func (s *ResultStore) Remove(fileID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.byID[fileID]
	if !ok {
		return
	}
	s.results = slices.Delete(s.results, idx, idx+1)
	delete(s.byID, fileID)
	for i := idx; i < len(s.results); i++ {
		s.byID[s.results[i].FileID] = i
	}
}

// Get looks up a result by id.
func (s *ResultStore) Get(fileID string) (model.AnalysisResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.byID[fileID]
	if !ok {
		return model.AnalysisResult{}, false
	}
	return s.results[idx], true
}

// All returns a copy of the collection in insertion order.
func (s *ResultStore) All() []model.AnalysisResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.results)
}

// Len returns the number of stored results.
func (s *ResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

// FilterBySpecies returns the results whose ranked detection list contains
// the given species anywhere, not only as the top match. The FilterAll
// sentinel returns the full collection.
func (s *ResultStore) FilterBySpecies(species string) []model.AnalysisResult {
	if species == FilterAll {
		return s.All()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.AnalysisResult, 0, len(s.results))
	for _, r := range s.results {
		for _, d := range r.SpeciesDetected {
			if d.Species == species {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// UniqueSpecies returns every species name appearing anywhere in any
// result's detection list, deduplicated, in first-seen order for
// deterministic output.
func (s *ResultStore) UniqueSpecies() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, r := range s.results {
		for _, d := range r.SpeciesDetected {
			if d.Species == "" || seen[d.Species] {
				continue
			}
			seen[d.Species] = true
			out = append(out, d.Species)
		}
	}
	return out
}
