package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/frontdesk-ai/frontdesk/pkg/gateway/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Addr:                ":0",
		Instructions:        "You are a scheduling assistant.",
		Greeting:            "Thanks for calling.",
		IncidentDBPath:      filepath.Join(t.TempDir(), "inc.db"),
		SessionTTL:          30 * time.Minute,
		SweepInterval:       time.Minute,
		PlannerAPIKey:       "sk-test",
		PlannerModel:        "gpt-4o",
		ValidatorAPIKey:     "sk-ant-test",
		PMSBaseURL:          "http://pms.invalid",
		PMSTimeout:          time.Second,
		MaxRoundTrips:       10,
		RoundTripTimeout:    30 * time.Second,
		WSReadTimeout:       60 * time.Second,
		WSHandshakeTimeout:  5 * time.Second,
		MaxJSONMessageBytes: 64 * 1024,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(t), slog.New(slog.NewJSONHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestServerUnknownRouteReturnsJSON404(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%q", ct)
	}
	if !strings.Contains(rr.Body.String(), `"type":"invalid_request_error"`) {
		t.Fatalf("unexpected body: %q", rr.Body.String())
	}
}

func TestServerHealthRouteReachable(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestServerRequestIDHeaderSet(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if id := rr.Header().Get("X-Request-ID"); !strings.HasPrefix(id, "req_") {
		t.Fatalf("X-Request-ID=%q", id)
	}
}

func TestServerDrainingFlipsReadyz(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}

	s.SetDraining()

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d after drain, want 503", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/session", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("session status=%d after drain, want 503", rr.Code)
	}
}

func TestServerWaitSessionsEmptyTracker(t *testing.T) {
	s := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if !s.WaitSessions(ctx) {
		t.Fatalf("WaitSessions = false with no live sessions")
	}
}

func TestServerIncidentsRouteReachable(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/incidents", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"incidents"`) {
		t.Fatalf("body=%q", rr.Body.String())
	}
}
