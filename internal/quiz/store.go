package quiz

import (
	"sync"
	"time"
)

type registryEntry struct {
	challenge Challenge
	expiresAt time.Time
	answered  bool
}

// Registry keeps issued multiple-choice challenges until they expire
type Registry struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*registryEntry
}

// NewRegistry creates an empty registry
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{ttl: ttl, entries: make(map[string]*registryEntry)}
}

// Put stores a challenge and drops expired ones
func (r *Registry) Put(ch Challenge, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, e := range r.entries {
		if !now.Before(e.expiresAt) {
			delete(r.entries, id)
		}
	}
	r.entries[ch.ID] = &registryEntry{challenge: ch, expiresAt: now.Add(r.ttl)}
}

// Get returns a live challenge. ok is false for unknown or expired ids.
func (r *Registry) Get(id string, now time.Time) (Challenge, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, found := r.entries[id]
	if !found {
		return Challenge{}, false
	}
	if !now.Before(e.expiresAt) {
		delete(r.entries, id)
		return Challenge{}, false
	}
	return e.challenge, true
}

// MarkAnswered flags the challenge as answered and reports whether it already was
func (r *Registry) MarkAnswered(id string) (already bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, found := r.entries[id]
	if !found {
		return false
	}
	already = e.answered
	e.answered = true
	return already
}

// Delete removes a challenge
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// Len returns the number of stored challenges, expired ones included
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// PendingStore holds at most one free-text challenge per subscriber
type PendingStore struct {
	mu      sync.Mutex
	pending map[int64]Challenge
}

// NewPendingStore creates an empty store
func NewPendingStore() *PendingStore {
	return &PendingStore{pending: make(map[int64]Challenge)}
}

// Set stores the challenge, replacing any earlier one for the subscriber
func (s *PendingStore) Set(ch Challenge) {
	s.mu.Lock()
	s.pending[ch.SubscriberID] = ch
	s.mu.Unlock()
}

// Take removes and returns the subscriber's pending challenge
func (s *PendingStore) Take(subscriberID int64) (Challenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.pending[subscriberID]
	if ok {
		delete(s.pending, subscriberID)
	}
	return ch, ok
}

// Has reports whether the subscriber has a pending challenge
func (s *PendingStore) Has(subscriberID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[subscriberID]
	return ok
}

// discard removes the subscriber's pending challenge if it is the given one
func (s *PendingStore) discard(subscriberID int64, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.pending[subscriberID]; ok && ch.ID == id {
		delete(s.pending, subscriberID)
	}
}
