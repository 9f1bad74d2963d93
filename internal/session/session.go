package session

import (
	"sync"

	"live-transcriber/internal/domain"
)

// State accumulates ordered terminal outcomes for one capture session.
// The queue is the only writer; UI reads go through snapshot accessors.
type State struct {
	mu        sync.RWMutex
	fragments []domain.TranscriptFragment
	errors    []domain.ErrorRecord
	maxErrors int
	feed      *Feed
}

// NewState creates session state with a bounded error list and event feed.
func NewState(maxErrors, maxEvents int) *State {
	if maxErrors <= 0 {
		maxErrors = 50
	}

	return &State{
		fragments: make([]domain.TranscriptFragment, 0, 64),
		errors:    make([]domain.ErrorRecord, 0, maxErrors),
		maxErrors: maxErrors,
		feed:      NewFeed(maxEvents),
	}
}

// RecordSuccess appends a fragment and removes any prior error record for
// the same chunk, so a later successful retry supersedes the failure.
func (s *State) RecordSuccess(fragment domain.TranscriptFragment) {
	s.mu.Lock()
	s.fragments = append(s.fragments, fragment)

	kept := s.errors[:0]
	for _, rec := range s.errors {
		if rec.ChunkSeq != fragment.ChunkSeq {
			kept = append(kept, rec)
		}
	}
	s.errors = kept
	s.mu.Unlock()

	s.feed.Publish(Event{
		Type:     EventTypeFragment,
		ChunkSeq: fragment.ChunkSeq,
		Text:     fragment.Text,
		Language: fragment.Language,
	})
}

// RecordFailure appends an error record, evicting the oldest entry when
// the bounded list is full.
func (s *State) RecordFailure(record domain.ErrorRecord) {
	s.mu.Lock()
	s.errors = append(s.errors, record)
	if len(s.errors) > s.maxErrors {
		trim := len(s.errors) - s.maxErrors
		s.errors = append([]domain.ErrorRecord(nil), s.errors[trim:]...)
	}
	s.mu.Unlock()

	s.feed.Publish(Event{
		Type:     EventTypeError,
		ChunkSeq: record.ChunkSeq,
		Message:  record.Cause,
	})
}

// Fragments returns a copy of the ordered transcript list.
func (s *State) Fragments() []domain.TranscriptFragment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.TranscriptFragment(nil), s.fragments...)
}

// Errors returns a copy of the bounded error list, oldest first.
func (s *State) Errors() []domain.ErrorRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.ErrorRecord(nil), s.errors...)
}

// Feed exposes the event feed for UI polling.
func (s *State) Feed() *Feed {
	return s.feed
}
