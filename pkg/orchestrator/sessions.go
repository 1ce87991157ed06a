package orchestrator

import (
	"sync"
	"time"

	"github.com/ASHISH26940/scene-orchestrator-api/pkg/router"
	"github.com/google/uuid"
)

// Sessions keeps router state per conversation. Entries idle longer than
// the TTL are dropped by Sweep.
type Sessions struct {
	mu      sync.Mutex
	entries map[string]*sessionEntry
	ttl     time.Duration
	now     func() time.Time
}

type sessionEntry struct {
	state    router.Session
	lastSeen time.Time
}

func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{entries: make(map[string]*sessionEntry), ttl: ttl, now: time.Now}
}

// Get returns a copy of the session state for key.
func (s *Sessions) Get(key string) router.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.lastSeen = s.now()
		return e.state
	}
	return router.Session{}
}

// Advance records a turn outcome for key.
func (s *Sessions) Advance(key string, d router.Decision, touched uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &sessionEntry{}
		s.entries[key] = e
	}
	e.state.Advance(d, touched)
	e.lastSeen = s.now()
}

// Touch marks id as the last scene of key without counting a turn.
func (s *Sessions) Touch(key string, id uuid.UUID) {
	s.Advance(key, router.Decision{Operation: router.OpEdit}, id)
}

// Sweep drops idle sessions and returns how many it removed.
func (s *Sessions) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	n := 0
	for k, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// keyedLocks serializes structural writes per scene inside the process.
type keyedLocks struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedLocks() *keyedLocks {
	return &keyedLocks{locks: make(map[uuid.UUID]*keyedLock)}
}

// Lock blocks until id is free and returns the unlock function.
func (k *keyedLocks) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyedLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}

func (k *keyedLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
