package sessions

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSession records tracker-driven calls.
type fakeSession struct {
	canceled atomic.Int64
	warned   atomic.Int64
	warnErr  error
}

func (f *fakeSession) Cancel() { f.canceled.Add(1) }

func (f *fakeSession) Warn(code, message string) error {
	_ = code
	_ = message
	f.warned.Add(1)
	return f.warnErr
}

func TestTrackerRegisterReleaseCountAndWait(t *testing.T) {
	tr := NewTracker()
	if tr.Count() != 0 {
		t.Fatalf("initial count=%d, want 0", tr.Count())
	}

	r1 := tr.Register("s1", &fakeSession{})
	r2 := tr.Register("s2", &fakeSession{})
	if tr.Count() != 2 {
		t.Fatalf("count=%d, want 2", tr.Count())
	}

	r1()
	r1() // releasing twice is a no-op
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}

	r2()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if ok := tr.Wait(ctx); !ok {
		t.Fatalf("expected Wait to return true")
	}
	if tr.Count() != 0 {
		t.Fatalf("count=%d, want 0", tr.Count())
	}
}

func TestTrackerReconnectDisplacesOldRegistration(t *testing.T) {
	tr := NewTracker()
	old := &fakeSession{}
	oldRelease := tr.Register("s1", old)

	// Reconnect with the same session id: the old registration is dropped.
	r := tr.Register("s1", &fakeSession{})
	if tr.Count() != 1 {
		t.Fatalf("count=%d, want 1", tr.Count())
	}
	tr.CancelAll()
	if old.canceled.Load() != 0 {
		t.Fatalf("stale session was canceled")
	}

	// The displaced connection's own deferred release must not free the
	// replacement's slot.
	oldRelease()
	if tr.Count() != 1 {
		t.Fatalf("count=%d after stale release, want 1", tr.Count())
	}
	r()
}

func TestTrackerCancelAll(t *testing.T) {
	tr := NewTracker()
	s1 := &fakeSession{}
	s2 := &fakeSession{}
	tr.Register("s1", s1)
	tr.Register("s2", s2)

	if n := tr.CancelAll(); n != 2 {
		t.Fatalf("canceled=%d, want 2", n)
	}
	if s1.canceled.Load() != 1 || s2.canceled.Load() != 1 {
		t.Fatalf("cancel calls=%d/%d, want 1/1", s1.canceled.Load(), s2.canceled.Load())
	}
}

func TestTrackerWarnAllBestEffort(t *testing.T) {
	tr := NewTracker()
	s1 := &fakeSession{}
	s2 := &fakeSession{warnErr: errors.New("nope")}
	tr.Register("s1", s1)
	tr.Register("s2", s2)

	if sent := tr.WarnAll("draining", "test"); sent != 2 {
		t.Fatalf("sent=%d, want 2", sent)
	}
	if s1.warned.Load() != 1 || s2.warned.Load() != 1 {
		t.Fatalf("warn calls=%d/%d, want 1/1", s1.warned.Load(), s2.warned.Load())
	}
}

func TestTrackerWaitTimesOutWhileSessionLive(t *testing.T) {
	tr := NewTracker()
	r := tr.Register("s1", &fakeSession{})
	defer r()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if tr.Wait(ctx) {
		t.Fatalf("Wait returned true with a live session")
	}
}
