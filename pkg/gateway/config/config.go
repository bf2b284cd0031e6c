package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultGreeting = "Thank you for calling. How can I help you today?"

const defaultInstructions = "You are the front-desk assistant for a medical practice. " +
	"Help callers book, reschedule, and cancel appointments using the available functions. " +
	"Confirm names, dates, and phone numbers back to the caller before acting on them."

type Config struct {
	Addr string

	// Conversation behavior. Instructions are treated as opaque text; the
	// server never generates or rewrites them.
	Instructions string
	Greeting     string

	// Risk policy overlay file (TOML). Empty means shipped defaults.
	PolicyFile string

	// Incident audit database.
	IncidentDBPath string

	// Session store.
	SessionTTL    time.Duration
	SweepInterval time.Duration

	// Planner model (OpenAI-compatible).
	PlannerAPIKey  string
	PlannerBaseURL string
	PlannerModel   string

	// Validator model (Anthropic).
	ValidatorAPIKey  string
	ValidatorBaseURL string
	ValidatorModel   string

	// Practice-management API.
	PMSBaseURL string
	PMSAPIKey  string
	PMSTimeout time.Duration

	// Orchestration loop.
	MaxRoundTrips     int
	RoundTripTimeout  time.Duration
	PlannerMaxRetries int

	// Live websocket.
	WSPingInterval      time.Duration
	WSWriteTimeout      time.Duration
	WSReadTimeout       time.Duration
	WSHandshakeTimeout  time.Duration
	MaxJSONMessageBytes int64
	HoldAnnounceAfter   time.Duration

	// Operational defaults.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("FRONTDESK_ADDR", ":8080"),
		Instructions:        envOr("FRONTDESK_INSTRUCTIONS", defaultInstructions),
		Greeting:            envOr("FRONTDESK_GREETING", defaultGreeting),
		PolicyFile:          envOr("FRONTDESK_POLICY_FILE", ""),
		IncidentDBPath:      envOr("FRONTDESK_INCIDENT_DB", "frontdesk-incidents.db"),
		SessionTTL:          envDurationOr("FRONTDESK_SESSION_TTL", 30*time.Minute),
		SweepInterval:       envDurationOr("FRONTDESK_SWEEP_INTERVAL", time.Minute),
		PlannerAPIKey:       os.Getenv("FRONTDESK_OPENAI_API_KEY"),
		PlannerBaseURL:      envOr("FRONTDESK_OPENAI_BASE_URL", ""),
		PlannerModel:        envOr("FRONTDESK_PLANNER_MODEL", "gpt-4o"),
		ValidatorAPIKey:     os.Getenv("FRONTDESK_ANTHROPIC_API_KEY"),
		ValidatorBaseURL:    envOr("FRONTDESK_ANTHROPIC_BASE_URL", ""),
		ValidatorModel:      envOr("FRONTDESK_VALIDATOR_MODEL", ""),
		PMSBaseURL:          envOr("FRONTDESK_PMS_BASE_URL", ""),
		PMSAPIKey:           os.Getenv("FRONTDESK_PMS_API_KEY"),
		PMSTimeout:          envDurationOr("FRONTDESK_PMS_TIMEOUT", 15*time.Second),
		MaxRoundTrips:       envIntOr("FRONTDESK_MAX_ROUND_TRIPS", 10),
		RoundTripTimeout:    envDurationOr("FRONTDESK_ROUND_TRIP_TIMEOUT", 30*time.Second),
		PlannerMaxRetries:   envIntOr("FRONTDESK_PLANNER_MAX_RETRIES", 2),
		WSPingInterval:      envDurationOr("FRONTDESK_WS_PING_INTERVAL", 20*time.Second),
		WSWriteTimeout:      envDurationOr("FRONTDESK_WS_WRITE_TIMEOUT", 5*time.Second),
		WSReadTimeout:       envDurationOr("FRONTDESK_WS_READ_TIMEOUT", 60*time.Second),
		WSHandshakeTimeout:  envDurationOr("FRONTDESK_WS_HANDSHAKE_TIMEOUT", 5*time.Second),
		MaxJSONMessageBytes: envInt64Or("FRONTDESK_MAX_JSON_MESSAGE_BYTES", 64*1024),
		HoldAnnounceAfter:   envDurationOr("FRONTDESK_HOLD_ANNOUNCE_AFTER", 4*time.Second),
		ReadHeaderTimeout:   envDurationOr("FRONTDESK_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("FRONTDESK_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	if path := strings.TrimSpace(os.Getenv("FRONTDESK_INSTRUCTIONS_FILE")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("FRONTDESK_INSTRUCTIONS_FILE: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return Config{}, fmt.Errorf("FRONTDESK_INSTRUCTIONS_FILE must not be empty")
		}
		cfg.Instructions = string(data)
	}

	if strings.TrimSpace(cfg.PlannerAPIKey) == "" {
		return Config{}, fmt.Errorf("FRONTDESK_OPENAI_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.ValidatorAPIKey) == "" {
		return Config{}, fmt.Errorf("FRONTDESK_ANTHROPIC_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.PMSBaseURL) == "" {
		return Config{}, fmt.Errorf("FRONTDESK_PMS_BASE_URL must be set")
	}
	if strings.TrimSpace(cfg.IncidentDBPath) == "" {
		return Config{}, fmt.Errorf("FRONTDESK_INCIDENT_DB must not be empty")
	}
	if cfg.SessionTTL <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_SESSION_TTL must be > 0")
	}
	if cfg.SweepInterval <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_SWEEP_INTERVAL must be > 0")
	}
	if cfg.PMSTimeout <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_PMS_TIMEOUT must be > 0")
	}
	if cfg.MaxRoundTrips <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_MAX_ROUND_TRIPS must be > 0")
	}
	if cfg.RoundTripTimeout <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_ROUND_TRIP_TIMEOUT must be > 0")
	}
	if cfg.PlannerMaxRetries < 0 {
		return Config{}, fmt.Errorf("FRONTDESK_PLANNER_MAX_RETRIES must be >= 0")
	}
	if cfg.WSPingInterval <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_WS_PING_INTERVAL must be > 0")
	}
	if cfg.WSWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_WS_WRITE_TIMEOUT must be > 0")
	}
	if cfg.WSReadTimeout <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_WS_READ_TIMEOUT must be > 0")
	}
	if cfg.WSHandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if cfg.MaxJSONMessageBytes <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_MAX_JSON_MESSAGE_BYTES must be > 0")
	}
	if cfg.HoldAnnounceAfter <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_HOLD_ANNOUNCE_AFTER must be > 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("FRONTDESK_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}
