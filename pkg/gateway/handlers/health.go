package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/frontdesk-ai/frontdesk/pkg/gateway/config"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/lifecycle"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/live/sessions"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.State
	Sessions  *sessions.Tracker
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		Draining       bool     `json:"draining"`
		ActiveSessions int      `json:"active_sessions"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Config.SessionTTL <= 0 {
		issues = append(issues, "session ttl must be > 0")
	}
	if h.Config.SweepInterval <= 0 {
		issues = append(issues, "sweep interval must be > 0")
	}
	if h.Config.MaxRoundTrips <= 0 {
		issues = append(issues, "max round trips must be > 0")
	}
	if h.Config.RoundTripTimeout <= 0 {
		issues = append(issues, "round trip timeout must be > 0")
	}
	if h.Config.WSReadTimeout <= 0 || h.Config.WSHandshakeTimeout <= 0 {
		issues = append(issues, "websocket timeouts must be > 0")
	}
	if h.Config.MaxJSONMessageBytes <= 0 {
		issues = append(issues, "max json message bytes must be > 0")
	}

	draining := h.Lifecycle.Draining()
	active := 0
	if h.Sessions != nil {
		active = h.Sessions.Count()
	}

	ok := len(issues) == 0 && !draining
	status := http.StatusOK
	if draining {
		status = http.StatusServiceUnavailable
	} else if !ok {
		status = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(readyResp{
		OK:             ok,
		Draining:       draining,
		ActiveSessions: active,
		Issues:         issues,
	})
}
