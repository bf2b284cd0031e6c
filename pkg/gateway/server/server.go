// Package server wires the gateway: session store, orchestration core,
// incident log, and the HTTP surface that fronts them.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/frontdesk-ai/frontdesk/pkg/core/llm"
	"github.com/frontdesk-ai/frontdesk/pkg/core/orchestrator"
	"github.com/frontdesk-ai/frontdesk/pkg/core/pms"
	"github.com/frontdesk-ai/frontdesk/pkg/core/validate"
	"github.com/frontdesk-ai/frontdesk/pkg/core/workflow"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/config"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/handlers"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/incident"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/lifecycle"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/live/sessions"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/live/store"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/mw"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/policy"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	store     *store.Store
	tracker   *sessions.Tracker
	life      *lifecycle.State
	incidents *incident.Log
	orch      *orchestrator.Orchestrator
}

func New(cfg config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pol, err := policy.Load(cfg.PolicyFile)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}

	incidents, err := incident.Open(cfg.IncidentDBPath)
	if err != nil {
		return nil, fmt.Errorf("open incident log: %w", err)
	}

	planner, err := llm.NewOpenAIPlanner(cfg.PlannerBaseURL, cfg.PlannerAPIKey, cfg.PlannerModel)
	if err != nil {
		incidents.Close()
		return nil, fmt.Errorf("planner: %w", err)
	}
	reviewer, err := validate.NewAnthropicReviewer(cfg.ValidatorBaseURL, cfg.ValidatorAPIKey, cfg.ValidatorModel)
	if err != nil {
		incidents.Close()
		return nil, fmt.Errorf("reviewer: %w", err)
	}

	executor := pms.NewExecutor(pms.NewClient(cfg.PMSBaseURL, cfg.PMSAPIKey, cfg.PMSTimeout, logger), logger)
	synth := workflow.New(planner, executor.Tools(), incidents, logger)
	toolset := workflow.NewToolset(executor, synth)
	validator := validate.New(reviewer, pol, incidents, logger)

	st := store.New(cfg.SessionTTL)

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		store:     st,
		tracker:   sessions.NewTracker(),
		life:      &lifecycle.State{},
		incidents: incidents,
		orch: orchestrator.New(planner, toolset, validator, st, orchestrator.Config{
			Instructions:     cfg.Instructions,
			MaxRoundTrips:    cfg.MaxRoundTrips,
			RoundTripTimeout: cfg.RoundTripTimeout,
			MaxRetries:       uint64(cfg.PlannerMaxRetries),
		}, logger),
	}

	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.life,
		Sessions:  s.tracker,
	})
	s.mux.Handle("/v1/session", handlers.SessionHandler{
		Config:       s.cfg,
		Store:        s.store,
		Orchestrator: s.orch,
		Lifecycle:    s.life,
		Sessions:     s.tracker,
		Logger:       s.logger,
	})
	s.mux.Handle("/v1/incidents", handlers.IncidentsHandler{Log: s.incidents})
	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Sweep evicts idle sessions until ctx is done. Run it on its own
// goroutine.
func (s *Server) Sweep(ctx context.Context) {
	s.store.Sweep(ctx, s.cfg.SweepInterval)
}

// SetDraining flips readiness off; new connections are refused while
// in-flight sessions keep running.
func (s *Server) SetDraining() {
	s.life.BeginDrain()
}

// WarnSessionsDraining tells every live session the server is going away.
func (s *Server) WarnSessionsDraining() {
	n := s.tracker.WarnAll("draining", "server is shutting down, please wrap up")
	if n > 0 {
		s.logger.Info("warned live sessions", slog.Int("count", n))
	}
}

// WaitSessions blocks until every live session ends or ctx expires.
func (s *Server) WaitSessions(ctx context.Context) bool {
	return s.tracker.Wait(ctx)
}

// CancelSessions force-closes whatever is still connected.
func (s *Server) CancelSessions() {
	n := s.tracker.CancelAll()
	if n > 0 {
		s.logger.Warn("canceled live sessions", slog.Int("count", n))
	}
}

// Close releases server-owned resources. Call after the HTTP listener has
// stopped.
func (s *Server) Close() error {
	return s.incidents.Close()
}
