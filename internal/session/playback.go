package session

import "sync"

// PlaybackSlot models the single shared audio output resource. At most one
// file may hold the slot at any time; starting playback for a new file
// releases the previous holder first. It is a single-slot mutex over the
// resource, not a queue.
type PlaybackSlot struct {
	mu      sync.Mutex
	playing string
}

// Start acquires the slot for fileID and returns the id it released, if any.
// Starting the id that already holds the slot is a toggle: the slot is
// released instead.
func (p *PlaybackSlot) Start(fileID string) (released string, nowPlaying bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	previous := p.playing
	if previous == fileID {
		p.playing = ""
		return previous, false
	}
	p.playing = fileID
	return previous, true
}

// Stop releases the slot unconditionally.
func (p *PlaybackSlot) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = ""
}

// Ended clears the slot when playback of fileID finished naturally. A stale
// completion for a file that no longer holds the slot is ignored.
func (p *PlaybackSlot) Ended(fileID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing == fileID {
		p.playing = ""
	}
}

// Current returns the id holding the slot.
func (p *PlaybackSlot) Current() (fileID string, playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing, p.playing != ""
}
