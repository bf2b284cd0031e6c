// Package lifecycle tracks process-wide serving state shared by handlers.
package lifecycle

import "sync/atomic"

// State flips once at shutdown: new connections are refused while live
// sessions finish their in-flight turns.
type State struct {
	draining atomic.Bool
}

func (s *State) BeginDrain() {
	if s == nil {
		return
	}
	s.draining.Store(true)
}

func (s *State) Draining() bool {
	if s == nil {
		return false
	}
	return s.draining.Load()
}
