// Package sessions keeps the set of live bridge connections so shutdown
// can warn them, wait for them, and finally cancel the stragglers.
package sessions

import (
	"context"
	"sync"
)

// Session is the per-connection surface the tracker drives at shutdown.
// *session.Bridge satisfies it.
type Session interface {
	Cancel()
	Warn(code, message string) error
}

// Tracker is the registry of live sessions. All methods are safe for
// concurrent use.
type Tracker struct {
	mu   sync.Mutex
	live map[string]*member
	wg   sync.WaitGroup
}

// member pins one registration so a reconnect reusing the session id
// cannot release its predecessor's slot twice.
type member struct {
	s        Session
	released bool
}

func NewTracker() *Tracker {
	return &Tracker{live: make(map[string]*member)}
}

// Register tracks s under its session id and returns the release to call
// when the connection ends. Registering an id that is already live (a
// reconnect racing its predecessor) displaces the older registration.
func (t *Tracker) Register(sessionID string, s Session) (release func()) {
	if t == nil {
		return func() {}
	}

	m := &member{s: s}

	t.mu.Lock()
	if t.live == nil {
		t.live = make(map[string]*member)
	}
	displaced := t.live[sessionID]
	t.live[sessionID] = m
	t.wg.Add(1)
	t.mu.Unlock()

	if displaced != nil {
		t.release(sessionID, displaced)
	}

	return func() { t.release(sessionID, m) }
}

func (t *Tracker) release(sessionID string, m *member) {
	t.mu.Lock()
	if m.released {
		t.mu.Unlock()
		return
	}
	m.released = true
	if t.live[sessionID] == m {
		delete(t.live, sessionID)
	}
	t.mu.Unlock()
	t.wg.Done()
}

// Count reports how many sessions are live.
func (t *Tracker) Count() int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.live)
}

// snapshot copies the live set so Warn and Cancel calls run outside the
// tracker lock; a session's Warn may block on its outbound queue.
func (t *Tracker) snapshot() []Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Session, 0, len(t.live))
	for _, m := range t.live {
		out = append(out, m.s)
	}
	return out
}

// WarnAll pushes a warning frame to every live session, best effort.
func (t *Tracker) WarnAll(code, message string) (sent int) {
	if t == nil {
		return 0
	}
	for _, s := range t.snapshot() {
		if s == nil {
			continue
		}
		_ = s.Warn(code, message)
		sent++
	}
	return sent
}

// CancelAll force-closes every live session.
func (t *Tracker) CancelAll() (canceled int) {
	if t == nil {
		return 0
	}
	for _, s := range t.snapshot() {
		if s == nil {
			continue
		}
		s.Cancel()
		canceled++
	}
	return canceled
}

// Wait blocks until every live session has released or ctx expires.
func (t *Tracker) Wait(ctx context.Context) bool {
	if t == nil {
		return true
	}
	if ctx == nil {
		t.wg.Wait()
		return true
	}

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		t.wg.Wait()
	}()

	select {
	case <-drained:
		return true
	case <-ctx.Done():
		return false
	}
}
