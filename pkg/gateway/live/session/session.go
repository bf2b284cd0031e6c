// Package session implements the per-connection bridge between a voice
// provider's websocket and the orchestration core. One Bridge serves one
// connection; the conversation itself lives in the store and survives
// reconnects.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/live/protocol"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/live/store"
)

// HoldText is announced when a turn is still working after HoldAnnounceAfter.
const HoldText = "One moment please, I'm checking that for you."

// apologyText is spoken when a turn fails outright. Callers hear a
// recoverable stall, never an error code.
const apologyText = "I'm sorry, I'm having a little trouble right now. Could you say that again?"

// Config bounds one connection.
type Config struct {
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	PingInterval      time.Duration
	MaxMessageBytes   int64
	HoldAnnounceAfter time.Duration
	Greeting          string
}

func (c *Config) applyDefaults() {
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = 64 * 1024
	}
	if c.HoldAnnounceAfter <= 0 {
		c.HoldAnnounceAfter = 4 * time.Second
	}
}

// Orchestrator runs one conversation turn to completion.
type Orchestrator interface {
	Orchestrate(ctx context.Context, sessionID, userText string) (string, error)
}

type wsConn interface {
	wsWriter
	ReadMessage() (int, []byte, error)
	SetReadLimit(int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(func(string) error)
}

// Dependencies wires one Bridge.
type Dependencies struct {
	Conn         wsConn
	Store        *store.Store
	Orchestrator Orchestrator
	Start        protocol.SessionStart
	Config       Config
	Log          *slog.Logger
}

type inboundFrame struct {
	data []byte
	err  error
}

type turnResult struct {
	turnID   string
	announce bool
	text     string
	err      error
}

// Bridge is one live connection's select loop plus its reader and writer
// goroutines.
type Bridge struct {
	ctx    context.Context
	cancel context.CancelFunc

	conn  wsConn
	store *store.Store
	orch  Orchestrator
	start protocol.SessionStart
	cfg   Config
	log   *slog.Logger

	sessionID string

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame
}

var errBackpressure = errors.New("outbound queue full")

// New builds a Bridge for an accepted, handshaken connection.
func New(ctx context.Context, deps Dependencies) (*Bridge, error) {
	if deps.Conn == nil || deps.Store == nil || deps.Orchestrator == nil {
		return nil, core.NewInvalidRequestError("incomplete bridge dependencies", "")
	}
	deps.Config.applyDefaults()
	if deps.Log == nil {
		deps.Log = slog.Default()
	}

	id := deps.Start.SessionID
	if id == "" {
		id = uuid.NewString()
	}

	bctx, cancel := context.WithCancel(ctx)
	return &Bridge{
		ctx:              bctx,
		cancel:           cancel,
		conn:             deps.Conn,
		store:            deps.Store,
		orch:             deps.Orchestrator,
		start:            deps.Start,
		cfg:              deps.Config,
		log:              deps.Log.With(slog.String("session_id", id)),
		sessionID:        id,
		outboundPriority: make(chan outboundFrame, 16),
		outboundNormal:   make(chan outboundFrame, 64),
	}, nil
}

// SessionID returns the id minted or resumed for this connection.
func (b *Bridge) SessionID() string { return b.sessionID }

// greetingCue is the synthetic first-turn utterance when no fixed greeting
// is configured; the orchestrator turns it into an opening line.
const greetingCue = "[caller connected]"

// greet produces the first-turn greeting. A configured greeting is used
// verbatim; otherwise one is synthesized through the orchestrator, which
// records the cue and reply in history itself.
func (b *Bridge) greet() string {
	if b.cfg.Greeting != "" {
		b.store.Append(b.sessionID, types.AssistantText(b.cfg.Greeting))
		return b.cfg.Greeting
	}
	text, err := b.orch.Orchestrate(b.ctx, b.sessionID, greetingCue)
	if err != nil {
		b.log.Warn("greeting synthesis failed", slog.String("error", err.Error()))
		return ""
	}
	return text
}

// Cancel tears the connection down. Used by the tracker on shutdown.
func (b *Bridge) Cancel() { b.cancel() }

// Warn sends an advisory frame on the priority path.
func (b *Bridge) Warn(code, message string) error {
	return b.sendWarning(code, message)
}

// Run serves the connection until the call ends, the peer disappears, or
// the server shuts down. The session entry outlives a disconnect so the
// provider can resume; only call_end evicts it.
func (b *Bridge) Run() error {
	defer b.cancel()

	b.conn.SetReadLimit(b.cfg.MaxMessageBytes)
	_ = b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
	b.conn.SetPongHandler(func(string) error {
		return b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))
	})

	channel := types.ChannelVoice
	if b.start.Channel == "text" {
		channel = types.ChannelText
	}
	sess, resumed := b.store.Ensure(b.sessionID, channel)

	readCh := make(chan inboundFrame, 16)
	writerErrCh := make(chan error, 1)
	go b.readLoop(readCh)
	go func() {
		w := outboundWriter{
			ws:       b.conn,
			ctx:      b.ctx,
			cfg:      b.cfg,
			priority: b.outboundPriority,
			normal:   b.outboundNormal,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	cfgFrame := protocol.SessionConfig{
		Type:       "session_config",
		SessionID:  b.sessionID,
		Resumed:    resumed,
		HistoryLen: len(sess.History),
	}
	if sess.IsFirstTurn() {
		cfgFrame.Greeting = b.greet()
	}
	if err := b.sendJSONPriority(cfgFrame); err != nil {
		return err
	}

	b.log.Info("session started",
		slog.Bool("resumed", resumed),
		slog.Int("history_len", len(sess.History)))

	var (
		resultCh   chan turnResult
		turnUnlock func()
		holdTimer  *time.Timer
		holdCh     <-chan time.Time
		endPending bool
	)
	stopHold := func() {
		if holdTimer != nil {
			holdTimer.Stop()
			holdTimer = nil
			holdCh = nil
		}
	}
	finishTurn := func() {
		stopHold()
		if turnUnlock != nil {
			turnUnlock()
			turnUnlock = nil
		}
		resultCh = nil
	}
	defer finishTurn()

	for {
		select {
		case <-b.ctx.Done():
			return nil

		case err := <-writerErrCh:
			// In-flight work keeps writing to the store; the provider can
			// resume and replay from there.
			b.log.Warn("writer stopped", slog.Any("error", err))
			return err

		case res := <-resultCh:
			finishTurn()
			b.deliver(res)
			if endPending {
				b.evictAndLog("call ended")
				return nil
			}

		case <-holdCh:
			holdCh = nil
			_ = b.sendJSON(protocol.NewStandaloneAnnouncement(HoldText))

		case frame, ok := <-readCh:
			if !ok {
				return nil
			}
			if frame.err != nil {
				b.log.Info("connection closed", slog.Any("error", frame.err))
				return nil
			}
			_ = b.conn.SetReadDeadline(time.Now().Add(b.cfg.ReadTimeout))

			decoded, err := protocol.DecodeClientFrame(frame.data)
			if err != nil {
				var decodeErr *protocol.DecodeError
				if errors.As(err, &decodeErr) {
					_ = b.sendError(decodeErr.Code, decodeErr.Error(), false)
				} else {
					_ = b.sendError("bad_request", err.Error(), false)
				}
				continue
			}

			switch msg := decoded.(type) {
			case protocol.Keepalive:
				// Answered here, on the frame-receive path, so a long
				// orchestration loop can never starve liveness.
				b.store.Touch(b.sessionID)
				_ = b.sendJSONPriority(protocol.NewKeepaliveAck(msg.TimestampMS))

			case protocol.SessionStart:
				_ = b.sendWarning("already_started", "session_start replayed on live connection")

			case protocol.InfoOnly:
				b.store.Append(b.sessionID, types.UserText(msg.Transcript))

			case protocol.TurnComplete:
				if resultCh != nil {
					_ = b.sendWarning("turn_in_flight", "a turn is already being processed")
					continue
				}
				unlock, ok := b.store.TryLockTurn(b.sessionID)
				if !ok {
					_ = b.sendWarning("turn_in_flight", "a turn is already being processed")
					continue
				}
				turnUnlock = unlock
				resultCh = b.startTurn(msg.TurnID, msg.Transcript, false)
				holdTimer = time.NewTimer(b.cfg.HoldAnnounceAfter)
				holdCh = holdTimer.C

			case protocol.OutOfBandText:
				if resultCh != nil {
					_ = b.sendWarning("turn_in_flight", "a turn is already being processed")
					continue
				}
				unlock, ok := b.store.TryLockTurn(b.sessionID)
				if !ok {
					_ = b.sendWarning("turn_in_flight", "a turn is already being processed")
					continue
				}
				turnUnlock = unlock
				resultCh = b.startTurn("", msg.Text, true)

			case protocol.CallEnd:
				if resultCh != nil {
					// Let the in-flight loop finish its round trips, then
					// deliver and evict.
					endPending = true
					continue
				}
				b.evictAndLog(msg.Reason)
				return nil
			}
		}
	}
}

// startTurn runs the orchestration loop on its own goroutine. The worker
// context is detached from the connection so a disconnect mid-turn does
// not abort writes to the store; the orchestrator's own timeouts bound it.
func (b *Bridge) startTurn(turnID, userText string, announce bool) chan turnResult {
	ch := make(chan turnResult, 1)
	ctx := context.WithoutCancel(b.ctx)
	go func() {
		text, err := b.orch.Orchestrate(ctx, b.sessionID, userText)
		ch <- turnResult{turnID: turnID, announce: announce, text: text, err: err}
	}()
	return ch
}

// deliver sends the turn's outcome to the provider.
func (b *Bridge) deliver(res turnResult) {
	text := res.text
	if res.err != nil {
		b.log.Error("turn failed", slog.Any("error", res.err))
		text = apologyText
	}
	if res.announce {
		_ = b.sendJSON(protocol.NewStandaloneAnnouncement(text))
		return
	}
	_ = b.sendJSON(protocol.NewTurnResponse(res.turnID, text))
}

func (b *Bridge) evictAndLog(reason string) {
	b.store.Evict(b.sessionID)
	b.log.Info("session ended", slog.String("reason", reason))
}

func (b *Bridge) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-b.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{data: data}:
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Bridge) sendWarning(code, message string) error {
	return b.sendJSONPriority(protocol.ServerWarning{Type: "warning", Code: code, Message: message})
}

func (b *Bridge) sendError(code, message string, close bool) error {
	return b.sendJSONPriority(protocol.ServerError{Type: "error", Code: code, Message: message, Close: close})
}

func (b *Bridge) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.enqueueNormal(outboundFrame{payload: payload})
}

func (b *Bridge) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.enqueuePriority(outboundFrame{payload: payload})
}

func (b *Bridge) enqueueNormal(frame outboundFrame) error {
	select {
	case b.outboundNormal <- frame:
		return nil
	default:
		return errBackpressure
	}
}

// enqueuePriority drops the oldest queued priority frame rather than
// block the select loop; liveness beats completeness for advisories.
func (b *Bridge) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case b.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-b.outboundPriority:
		default:
		}
	}
	select {
	case b.outboundPriority <- frame:
		return nil
	default:
		return errBackpressure
	}
}
