package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/config"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/lifecycle"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/live/protocol"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/live/session"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/live/sessions"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/live/store"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/mw"
)

// SessionHandler handles /v1/session websocket connections. The first frame
// on every connection must be session_start; everything after the handshake
// belongs to the bridge.
type SessionHandler struct {
	Config       config.Config
	Store        *store.Store
	Orchestrator session.Orchestrator
	Lifecycle    *lifecycle.State
	Sessions     *sessions.Tracker
	Logger       *slog.Logger
}

func (h SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, r, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed"}, http.StatusMethodNotAllowed)
		return
	}
	if h.Lifecycle.Draining() {
		writeErrorJSON(w, r, &core.Error{Type: core.ErrTransientUpstream, Message: "server is draining", Code: "draining"}, http.StatusServiceUnavailable)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxJSONMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxJSONMessageBytes)
	}

	start, ok := h.handshake(conn)
	if !ok {
		return
	}

	b, err := session.New(r.Context(), session.Dependencies{
		Conn:         conn,
		Store:        h.Store,
		Orchestrator: h.Orchestrator,
		Start:        start,
		Log:          h.logger(),
		Config: session.Config{
			ReadTimeout:       h.Config.WSReadTimeout,
			WriteTimeout:      h.Config.WSWriteTimeout,
			PingInterval:      h.Config.WSPingInterval,
			MaxMessageBytes:   h.Config.MaxJSONMessageBytes,
			HoldAnnounceAfter: h.Config.HoldAnnounceAfter,
			Greeting:          h.Config.Greeting,
		},
	})
	if err != nil {
		h.writeWSError(conn, "internal", "failed to initialize session")
		return
	}

	release := func() {}
	if h.Sessions != nil {
		release = h.Sessions.Register(b.SessionID(), b)
	}
	defer release()

	if err := b.Run(); err != nil {
		reqID, _ := mw.RequestIDFrom(r.Context())
		h.logger().Warn("session ended with error",
			slog.String("session_id", b.SessionID()),
			slog.String("request_id", reqID),
			slog.String("error", err.Error()))
	}
}

// handshake reads and validates the opening session_start frame under the
// handshake deadline. On failure it reports over the socket and closes.
func (h SessionHandler) handshake(conn *websocket.Conn) (protocol.SessionStart, bool) {
	timeout := h.Config.WSHandshakeTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(timeout))

	messageType, frame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read session_start")
		return protocol.SessionStart{}, false
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be session_start")
		return protocol.SessionStart{}, false
	}

	decoded, err := protocol.DecodeClientFrame(frame)
	if err != nil {
		h.writeWSError(conn, decodeCode(err), "invalid session_start frame")
		return protocol.SessionStart{}, false
	}
	start, ok := decoded.(protocol.SessionStart)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be session_start")
		return protocol.SessionStart{}, false
	}
	_ = conn.SetReadDeadline(time.Time{})
	return start, true
}

func (h SessionHandler) writeWSError(conn *websocket.Conn, code, message string) {
	_ = conn.WriteJSON(protocol.ServerError{Type: "error", Code: code, Message: message, Close: true})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message),
		time.Now().Add(2*time.Second))
}

func (h SessionHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func decodeCode(err error) string {
	if decErr, ok := err.(*protocol.DecodeError); ok {
		return decErr.Code
	}
	return "bad_request"
}

// errorEnvelope is the JSON error body for plain HTTP rejections.
type errorEnvelope struct {
	RequestID string      `json:"request_id,omitempty"`
	Error     *core.Error `json:"error"`
}

func writeErrorJSON(w http.ResponseWriter, r *http.Request, e *core.Error, status int) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{RequestID: reqID, Error: e})
}
