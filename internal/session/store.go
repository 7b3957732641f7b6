package session

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type record struct {
	meta  Session
	turns []Turn
}

// Store keeps in-progress conversations in memory, keyed by session id with
// a source-address fallback. Entries idle longer than the TTL are evicted by
// the watchdog sweep.
type Store struct {
	mu      sync.Mutex
	records map[string]*record
	locks   map[string]*sync.Mutex
	ttl     time.Duration
	now     func() time.Time
}

func NewStore(idleTTL time.Duration) *Store {
	return &Store{
		records: make(map[string]*record),
		locks:   make(map[string]*sync.Mutex),
		ttl:     idleTTL,
		now:     time.Now,
	}
}

// Resolve returns the session for the given id when known. Otherwise it falls
// back to the most-recently-active session for the source address, so a
// client that lost its id resumes its own conversation deterministically.
// Failing both, a new session is created.
func (s *Store) Resolve(id, sourceAddr, linkAddr string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if rec, ok := s.records[id]; ok {
			return rec.meta, false
		}
	}

	var best *record
	for _, rec := range s.records {
		if rec.meta.SourceAddr != sourceAddr {
			continue
		}
		if best == nil || rec.meta.LastActive.After(best.meta.LastActive) {
			best = rec
		}
	}
	if best != nil {
		return best.meta, false
	}

	now := s.now()
	meta := Session{
		ID:         NewID(linkAddr, sourceAddr),
		LinkAddr:   linkAddr,
		SourceAddr: sourceAddr,
		CreatedAt:  now,
		LastActive: now,
	}
	s.records[meta.ID] = &record{meta: meta}
	return meta, true
}

// Create opens a session with a ulid token, used for conversations that have
// no access-control semantics and never need the address fallback.
func (s *Store) Create(sourceAddr, linkAddr string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	meta := Session{
		ID:         ulid.Make().String(),
		LinkAddr:   linkAddr,
		SourceAddr: sourceAddr,
		CreatedAt:  now,
		LastActive: now,
	}
	s.records[meta.ID] = &record{meta: meta}
	return meta
}

// Get returns the session by exact id only.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// Append adds a turn to the session history. Order is preserved; turns are
// never deduplicated or rewritten.
func (s *Store) Append(id string, t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return
	}
	rec.turns = append(rec.turns, t)
	rec.meta.LastActive = s.now()
}

// Turns returns a copy of the ordered history.
func (s *Store) Turns(id string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return nil
	}
	out := make([]Turn, len(rec.turns))
	copy(out, rec.turns)
	return out
}

// IncrementClarifications bumps the question counter and returns the new
// value. The counter never decreases.
func (s *Store) IncrementClarifications(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return 0
	}
	rec.meta.Clarifications++
	return rec.meta.Clarifications
}

// Clarifications returns the current question count.
func (s *Store) Clarifications(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[id]; ok {
		return rec.meta.Clarifications
	}
	return 0
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Prune evicts sessions idle longer than the TTL and returns the count.
func (s *Store) Prune() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	count := 0
	for id, rec := range s.records {
		if rec.meta.LastActive.Before(cutoff) {
			delete(s.records, id)
			delete(s.locks, id)
			count++
		}
	}
	return count
}

// Lock serializes processing for one session so concurrent turns from the
// same client cannot interleave around the oracle call.
func (s *Store) Lock(id string) {
	s.mu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	s.mu.Unlock()
	lock.Lock()
}

func (s *Store) Unlock(id string) {
	s.mu.Lock()
	lock, ok := s.locks[id]
	s.mu.Unlock()
	if ok {
		lock.Unlock()
	}
}
