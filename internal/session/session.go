// Package session tracks the transient interactive state of one dashboard
// session: the active page, the set of expanded results, the audio playback
// slot, the species filter and the chat transcript. None of it is persisted;
// everything server-side lives in the classification service.
package session

import (
	"slices"
	"sync"

	"github.com/chiroscope/chiroscope/internal/model"
)

// Page identifies the active dashboard view. Exactly one page is active at a
// time; switching pages has no side effects on any other session state.
type Page string

const (
	PageDashboard Page = "dashboard"
	PageAnalyze   Page = "analyze"
	PageBatch     Page = "batch"
	PageHistory   Page = "history"
	PageAnalytics Page = "analytics"
	PageChat      Page = "chat"
)

// ValidPage reports whether p names a dashboard view.
func ValidPage(p Page) bool {
	switch p {
	case PageDashboard, PageAnalyze, PageBatch, PageHistory, PageAnalytics, PageChat:
		return true
	}
	return false
}

// State is the per-session interactive state. Independent toggles rather
// than one exclusive automaton; created once per session and torn down on
// session end.
type State struct {
	mu              sync.RWMutex
	page            Page
	expanded        map[string]struct{}
	filterSpecies   string
	selectedSpecies string
	transcript      []model.ChatMessage

	Playback PlaybackSlot
}

// New creates a session starting on the dashboard page with the species
// filter wide open.
func New() *State {
	return &State{
		page:          PageDashboard,
		expanded:      make(map[string]struct{}),
		filterSpecies: "all",
	}
}

// SetPage activates a page. Unknown pages are ignored so a stale client
// cannot wedge the session.
func (s *State) SetPage(p Page) {
	if !ValidPage(p) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.page = p
}

// Page returns the active page.
func (s *State) Page() Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page
}

// ToggleExpanded flips membership of fileID in the expansion set and
// returns the new membership. Toggling twice restores the original set.
func (s *State) ToggleExpanded(fileID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.expanded[fileID]; ok {
		delete(s.expanded, fileID)
		return false
	}
	s.expanded[fileID] = struct{}{}
	return true
}

// IsExpanded reports whether fileID is currently expanded.
func (s *State) IsExpanded(fileID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.expanded[fileID]
	return ok
}

// ExpandedIDs returns the expansion set sorted for deterministic output.
func (s *State) ExpandedIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.expanded))
	for id := range s.expanded {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// CollapseRemoved drops ids from the expansion set that are no longer part
// of the collection, e.g. after a delete or a full refresh.
func (s *State) CollapseRemoved(exists func(fileID string) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.expanded {
		if !exists(id) {
			delete(s.expanded, id)
		}
	}
}

// SetFilterSpecies sets the history species filter; "all" matches everything.
func (s *State) SetFilterSpecies(species string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if species == "" {
		species = "all"
	}
	s.filterSpecies = species
}

// FilterSpecies returns the active species filter.
func (s *State) FilterSpecies() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filterSpecies
}

// SetSelectedSpecies records the species opened on the analytics page.
func (s *State) SetSelectedSpecies(species string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selectedSpecies = species
}

// SelectedSpecies returns the species opened on the analytics page.
func (s *State) SelectedSpecies() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedSpecies
}

// AppendUser appends the user's chat message. The append happens before the
// assistant request is sent and is never rolled back, even when that request
// fails.
func (s *State) AppendUser(content string) {
	s.append(model.ChatMessage{Role: model.RoleUser, Content: content})
}

// AppendAssistant appends the assistant's reply.
func (s *State) AppendAssistant(content string) {
	s.append(model.ChatMessage{Role: model.RoleAssistant, Content: content})
}

// ChatErrorPlaceholder is appended in place of an assistant reply when the
// chat request fails.
const ChatErrorPlaceholder = "Sorry, I encountered an error. Please try again."

// AppendAssistantError appends the error placeholder entry.
func (s *State) AppendAssistantError() {
	s.AppendAssistant(ChatErrorPlaceholder)
}

func (s *State) append(msg model.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transcript = append(s.transcript, msg)
}

// Transcript returns a copy of the chat transcript in append order.
func (s *State) Transcript() []model.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.transcript)
}
