package store

import (
	"context"
	"sync"
	"time"

	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
)

// Store is the in-memory conversation state shared between the session
// bridge and the orchestrator. Each session carries its own lock so
// concurrent calls never serialize against each other.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	ttl time.Duration
	now func() time.Time
}

type entry struct {
	mu      sync.Mutex
	session types.Session

	// turnMu serializes orchestration loops for this session. A second
	// inbound turn while one is in flight is rejected, never interleaved.
	turnMu sync.Mutex
}

func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Store{
		entries: make(map[string]*entry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	e := s.entries[id]
	s.mu.RUnlock()
	return e
}

// Ensure returns the session for id, creating it when absent. The second
// return reports whether the session already existed (reconnect).
func (s *Store) Ensure(id string, channel types.Channel) (types.Session, bool) {
	s.mu.Lock()
	e, existed := s.entries[id]
	if !existed {
		now := s.now()
		e = &entry{session: types.Session{
			ID:             id,
			Channel:        channel,
			History:        make([]types.Message, 0, 16),
			CreatedAt:      now,
			LastActivityAt: now,
		}}
		s.entries[id] = e
	}
	s.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.LastActivityAt = s.now()
	return snapshot(e.session), existed
}

// Get returns a snapshot of the session, or false when it does not exist.
func (s *Store) Get(id string) (types.Session, bool) {
	e := s.lookup(id)
	if e == nil {
		return types.Session{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.session), true
}

// Append adds messages to the session history atomically. Appending a
// function_call together with its function_result in one call is how the
// orchestrator maintains the pairing invariant.
func (s *Store) Append(id string, msgs ...types.Message) bool {
	e := s.lookup(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.History = append(e.session.History, msgs...)
	e.session.LastActivityAt = s.now()
	return true
}

// Replace swaps the session's entire history.
func (s *Store) Replace(id string, history []types.Message) bool {
	e := s.lookup(id)
	if e == nil {
		return false
	}
	copied := make([]types.Message, len(history))
	copy(copied, history)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.History = copied
	e.session.LastActivityAt = s.now()
	return true
}

// Touch refreshes the session's idle clock without mutating history.
func (s *Store) Touch(id string) {
	e := s.lookup(id)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.session.LastActivityAt = s.now()
	e.mu.Unlock()
}

// Evict removes the session outright.
func (s *Store) Evict(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()
}

// TryLockTurn acquires the session's turn lock without blocking. The caller
// must call the returned unlock exactly once. A false return means another
// orchestration loop is already running for this session.
func (s *Store) TryLockTurn(id string) (unlock func(), ok bool) {
	e := s.lookup(id)
	if e == nil {
		return nil, false
	}
	if !e.turnMu.TryLock() {
		return nil, false
	}
	return e.turnMu.Unlock, true
}

// Len reports the number of live sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// SweepOnce evicts sessions idle past the TTL and returns how many went.
func (s *Store) SweepOnce() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, e := range s.entries {
		e.mu.Lock()
		idle := e.session.LastActivityAt.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted
}

// Sweep runs SweepOnce on the interval until ctx is done.
func (s *Store) Sweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

func snapshot(sess types.Session) types.Session {
	out := sess
	out.History = make([]types.Message, len(sess.History))
	copy(out.History, sess.History)
	return out
}
