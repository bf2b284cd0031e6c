package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/live/protocol"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/live/store"
)

type fakeConn struct {
	in     chan []byte
	writes chan map[string]any
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		writes: make(chan map[string]any, 64),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.in
	if !ok {
		return 0, nil, errors.New("connection closed")
	}
	return websocket.TextMessage, data, nil
}

func (c *fakeConn) SetReadLimit(int64)                  {}
func (c *fakeConn) SetReadDeadline(time.Time) error     { return nil }
func (c *fakeConn) SetPongHandler(func(string) error)   {}
func (c *fakeConn) SetWriteDeadline(time.Time) error    { return nil }
func (c *fakeConn) Close() error                        { return nil }
func (c *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	var frame map[string]any
	if err := json.Unmarshal(data, &frame); err != nil {
		return err
	}
	select {
	case c.writes <- frame:
	default:
	}
	return nil
}

func (c *fakeConn) send(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	c.in <- data
}

// blockingOrch holds every turn until release is closed.
type blockingOrch struct {
	release chan struct{}
	text    string
	err     error
	gotUser chan string
}

func (o *blockingOrch) Orchestrate(_ context.Context, _, userText string) (string, error) {
	if o.gotUser != nil {
		o.gotUser <- userText
	}
	if o.release != nil {
		<-o.release
	}
	return o.text, o.err
}

func waitFrame(t *testing.T, c *fakeConn, wantType string) map[string]any {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case frame := <-c.writes:
			if frame["type"] == wantType {
				return frame
			}
		case <-deadline:
			t.Fatalf("no %q frame within deadline", wantType)
		}
	}
}

func startBridge(t *testing.T, conn *fakeConn, st *store.Store, orch Orchestrator, start protocol.SessionStart) (*Bridge, chan error) {
	t.Helper()
	b, err := New(context.Background(), Dependencies{
		Conn:         conn,
		Store:        st,
		Orchestrator: orch,
		Start:        start,
		Config:       Config{Greeting: "Thanks for calling the clinic, how can I help?", HoldAnnounceAfter: time.Hour},
		Log:          slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- b.Run() }()
	t.Cleanup(b.Cancel)
	return b, done
}

func voiceStart(sessionID string) protocol.SessionStart {
	return protocol.SessionStart{
		InteractionType: protocol.InteractionSessionStart,
		ProtocolVersion: protocol.ProtocolVersion1,
		SessionID:       sessionID,
		Channel:         "voice",
	}
}

func TestFirstConnectSendsConfigWithGreeting(t *testing.T) {
	conn := newFakeConn()
	st := store.New(time.Hour)
	b, _ := startBridge(t, conn, st, &blockingOrch{text: "hi"}, voiceStart(""))

	cfg := waitFrame(t, conn, "session_config")
	if cfg["session_id"] == "" {
		t.Fatal("session_config missing minted session_id")
	}
	if cfg["resumed"] != false {
		t.Fatalf("resumed = %v on fresh session", cfg["resumed"])
	}
	if cfg["greeting"] == nil || cfg["greeting"] == "" {
		t.Fatal("greeting missing on first turn")
	}

	sess, ok := st.Get(b.SessionID())
	if !ok || len(sess.History) != 1 || sess.History[0].Kind != types.KindAssistantText {
		t.Fatalf("greeting not recorded in history: %+v", sess.History)
	}
}

func TestFirstConnectSynthesizesGreetingWhenUnconfigured(t *testing.T) {
	conn := newFakeConn()
	st := store.New(time.Hour)
	orch := &blockingOrch{text: "Good morning, this is the clinic front desk.", gotUser: make(chan string, 1)}

	b, err := New(context.Background(), Dependencies{
		Conn:         conn,
		Store:        st,
		Orchestrator: orch,
		Start:        voiceStart(""),
		Config:       Config{HoldAnnounceAfter: time.Hour},
		Log:          slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- b.Run() }()
	t.Cleanup(b.Cancel)

	cfg := waitFrame(t, conn, "session_config")
	if cfg["greeting"] != "Good morning, this is the clinic front desk." {
		t.Fatalf("greeting = %v, want synthesized text", cfg["greeting"])
	}
	if cue := <-orch.gotUser; cue != "[caller connected]" {
		t.Fatalf("cue = %q", cue)
	}
}

func TestResumeSkipsGreeting(t *testing.T) {
	st := store.New(time.Hour)
	st.Ensure("sess-7", types.ChannelVoice)
	st.Append("sess-7", types.UserText("hello"), types.AssistantText("hi there"))

	conn := newFakeConn()
	startBridge(t, conn, st, &blockingOrch{}, voiceStart("sess-7"))

	cfg := waitFrame(t, conn, "session_config")
	if cfg["resumed"] != true {
		t.Fatalf("resumed = %v, want true", cfg["resumed"])
	}
	if cfg["history_len"] != float64(2) {
		t.Fatalf("history_len = %v, want 2", cfg["history_len"])
	}
	if cfg["greeting"] != nil {
		t.Fatalf("greeting = %v on resumed session", cfg["greeting"])
	}
}

func TestKeepaliveAnsweredDuringSlowTurn(t *testing.T) {
	conn := newFakeConn()
	st := store.New(time.Hour)
	orch := &blockingOrch{release: make(chan struct{}), text: "booked", gotUser: make(chan string, 1)}
	startBridge(t, conn, st, orch, voiceStart("sess-1"))
	waitFrame(t, conn, "session_config")

	conn.send(t, map[string]any{
		"interaction_type": "turn_complete",
		"turn_id":          "t1",
		"transcript":       "book me a cleaning",
	})
	if got := <-orch.gotUser; got != "book me a cleaning" {
		t.Fatalf("orchestrator got %q", got)
	}

	// Turn is in flight; keepalive must be acked anyway.
	ts := int64(12345)
	conn.send(t, map[string]any{"interaction_type": "keepalive", "timestamp_ms": ts})
	ack := waitFrame(t, conn, "keepalive_ack")
	if ack["timestamp_ms"] != float64(ts) {
		t.Fatalf("ack timestamp = %v", ack["timestamp_ms"])
	}

	close(orch.release)
	resp := waitFrame(t, conn, "turn_response")
	if resp["turn_id"] != "t1" || resp["text"] != "booked" || resp["done"] != true {
		t.Fatalf("turn_response = %v", resp)
	}
}

func TestSecondTurnRejectedWhileInFlight(t *testing.T) {
	conn := newFakeConn()
	st := store.New(time.Hour)
	orch := &blockingOrch{release: make(chan struct{}), text: "ok", gotUser: make(chan string, 1)}
	startBridge(t, conn, st, orch, voiceStart("sess-1"))
	waitFrame(t, conn, "session_config")

	conn.send(t, map[string]any{"interaction_type": "turn_complete", "turn_id": "t1", "transcript": "first"})
	<-orch.gotUser

	conn.send(t, map[string]any{"interaction_type": "turn_complete", "turn_id": "t2", "transcript": "second"})
	warn := waitFrame(t, conn, "warning")
	if warn["code"] != "turn_in_flight" {
		t.Fatalf("warning code = %v", warn["code"])
	}

	close(orch.release)
	resp := waitFrame(t, conn, "turn_response")
	if resp["turn_id"] != "t1" {
		t.Fatalf("response for %v, want t1", resp["turn_id"])
	}
}

func TestCallEndWaitsForInFlightTurn(t *testing.T) {
	conn := newFakeConn()
	st := store.New(time.Hour)
	orch := &blockingOrch{release: make(chan struct{}), text: "done", gotUser: make(chan string, 1)}
	_, done := startBridge(t, conn, st, orch, voiceStart("sess-1"))
	waitFrame(t, conn, "session_config")

	conn.send(t, map[string]any{"interaction_type": "turn_complete", "turn_id": "t1", "transcript": "go"})
	<-orch.gotUser
	conn.send(t, map[string]any{"interaction_type": "call_end"})

	// The bridge must not exit before the turn completes.
	select {
	case <-done:
		t.Fatal("bridge exited before in-flight turn finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(orch.release)
	resp := waitFrame(t, conn, "turn_response")
	if resp["turn_id"] != "t1" {
		t.Fatalf("turn_response = %v", resp)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not exit after call_end")
	}
	if _, ok := st.Get("sess-1"); ok {
		t.Fatal("session not evicted after call_end")
	}
}

func TestCallEndWithoutTurnEvictsImmediately(t *testing.T) {
	conn := newFakeConn()
	st := store.New(time.Hour)
	_, done := startBridge(t, conn, st, &blockingOrch{}, voiceStart("sess-1"))
	waitFrame(t, conn, "session_config")

	conn.send(t, map[string]any{"interaction_type": "call_end", "reason": "hangup"})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not exit")
	}
	if _, ok := st.Get("sess-1"); ok {
		t.Fatal("session survived call_end")
	}
}

func TestDisconnectKeepsSession(t *testing.T) {
	conn := newFakeConn()
	st := store.New(time.Hour)
	_, done := startBridge(t, conn, st, &blockingOrch{}, voiceStart("sess-1"))
	waitFrame(t, conn, "session_config")

	close(conn.in)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge did not exit on disconnect")
	}
	if _, ok := st.Get("sess-1"); !ok {
		t.Fatal("disconnect must not evict the session")
	}
}

func TestOutOfBandTextGetsAnnouncement(t *testing.T) {
	conn := newFakeConn()
	st := store.New(time.Hour)
	startBridge(t, conn, st, &blockingOrch{text: "We are open until five."}, voiceStart("sess-1"))
	waitFrame(t, conn, "session_config")

	conn.send(t, map[string]any{"interaction_type": "out_of_band_text", "text": "what are your hours"})
	ann := waitFrame(t, conn, "standalone_announcement")
	if ann["text"] != "We are open until five." {
		t.Fatalf("announcement = %v", ann)
	}
}

func TestMalformedFrameGetsErrorAndKeepsConnection(t *testing.T) {
	conn := newFakeConn()
	st := store.New(time.Hour)
	startBridge(t, conn, st, &blockingOrch{text: "ok"}, voiceStart("sess-1"))
	waitFrame(t, conn, "session_config")

	conn.in <- []byte("{not json")
	errFrame := waitFrame(t, conn, "error")
	if errFrame["code"] != "bad_request" {
		t.Fatalf("error code = %v", errFrame["code"])
	}

	// Connection survives the bad frame.
	conn.send(t, map[string]any{"interaction_type": "turn_complete", "turn_id": "t1", "transcript": "hi"})
	waitFrame(t, conn, "turn_response")
}

func TestFailedTurnDeliversApology(t *testing.T) {
	conn := newFakeConn()
	st := store.New(time.Hour)
	orch := &blockingOrch{err: errors.New("planner rejected request")}
	startBridge(t, conn, st, orch, voiceStart("sess-1"))
	waitFrame(t, conn, "session_config")

	conn.send(t, map[string]any{"interaction_type": "turn_complete", "turn_id": "t1", "transcript": "hi"})
	resp := waitFrame(t, conn, "turn_response")
	if resp["text"] != apologyText {
		t.Fatalf("text = %v, want apology", resp["text"])
	}
	if resp["done"] != true {
		t.Fatal("failed turn must still complete")
	}
}

func TestHoldAnnouncementDuringLongTurn(t *testing.T) {
	conn := newFakeConn()
	st := store.New(time.Hour)
	orch := &blockingOrch{release: make(chan struct{}), text: "ok", gotUser: make(chan string, 1)}

	b, err := New(context.Background(), Dependencies{
		Conn:         conn,
		Store:        st,
		Orchestrator: orch,
		Start:        voiceStart("sess-1"),
		Config:       Config{HoldAnnounceAfter: 20 * time.Millisecond},
		Log:          slog.New(slog.DiscardHandler),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	go b.Run()
	t.Cleanup(b.Cancel)
	waitFrame(t, conn, "session_config")

	conn.send(t, map[string]any{"interaction_type": "turn_complete", "turn_id": "t1", "transcript": "slow one"})
	<-orch.gotUser

	ann := waitFrame(t, conn, "standalone_announcement")
	if ann["text"] != HoldText {
		t.Fatalf("announcement = %v", ann)
	}
	close(orch.release)
	waitFrame(t, conn, "turn_response")
}
