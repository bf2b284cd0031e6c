// Package orchestrator runs the tool-execution loop for one conversation
// turn: planner round trips, validation gating, practice-system dispatch,
// and history maintenance under the call/result pairing invariant.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
	"github.com/frontdesk-ai/frontdesk/pkg/core/llm"
	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/live/store"
)

// FallbackText is spoken when a turn exhausts its round-trip cap. The
// caller hears a recoverable stall, never an error.
const FallbackText = "I need a moment, please try again."

// Executor dispatches one validated call against the practice system.
type Executor interface {
	Tools() []types.ToolSpec
	Known(name string) bool
	Execute(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// Validator judges one proposed call before it executes.
type Validator interface {
	Validate(ctx context.Context, sessionID string, call types.Message, history []types.Message) (types.ValidationVerdict, error)
}

// Config bounds one orchestration loop.
type Config struct {
	// Instructions is the rendered system prompt, supplied as opaque
	// configuration.
	Instructions string

	// MaxRoundTrips caps planner iterations per turn.
	MaxRoundTrips int

	// RoundTripTimeout bounds each planner attempt.
	RoundTripTimeout time.Duration

	// MaxRetries is how many extra attempts a transient planner failure
	// gets within one round trip.
	MaxRetries uint64
}

func (c *Config) applyDefaults() {
	if c.MaxRoundTrips <= 0 {
		c.MaxRoundTrips = 10
	}
	if c.RoundTripTimeout <= 0 {
		c.RoundTripTimeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
}

// Orchestrator drives turns for all sessions. Safe for concurrent use;
// per-session ordering comes from the store's turn lock, held by the
// bridge around each Orchestrate call.
type Orchestrator struct {
	planner   llm.Planner
	executor  Executor
	validator Validator
	store     *store.Store
	cfg       Config
	log       *slog.Logger
}

func New(planner llm.Planner, executor Executor, validator Validator, st *store.Store, cfg Config, log *slog.Logger) *Orchestrator {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		planner:   planner,
		executor:  executor,
		validator: validator,
		store:     st,
		cfg:       cfg,
		log:       log,
	}
}

// Orchestrate runs one turn to completion and returns the assistant's
// final utterance. The user message and every call/result pair land in
// the store as they happen, so a reconnect mid-turn loses nothing.
func (o *Orchestrator) Orchestrate(ctx context.Context, sessionID, userText string) (string, error) {
	sess, ok := o.store.Get(sessionID)
	if !ok {
		return "", core.NewInvalidRequestError("unknown session", "session_id")
	}

	userMsg := types.UserText(userText)
	o.store.Append(sessionID, userMsg)
	history := append(sess.History, userMsg)

	// Identifiers harvested from create-style results this turn, keyed by
	// argument name. A later call naming the same argument with no value
	// gets the harvested one.
	created := map[string]any{}

	tools := o.executor.Tools()
	for trip := 1; trip <= o.cfg.MaxRoundTrips; trip++ {
		decision, err := o.planRoundTrip(ctx, types.OrchestrationRequest{
			SessionID:    sessionID,
			Instructions: o.cfg.Instructions,
			Tools:        tools,
			Input:        history,
		})
		if err != nil {
			return "", err
		}

		if len(decision.Calls) == 0 {
			text := strings.TrimSpace(decision.Text)
			if text == "" {
				text = FallbackText
			}
			final := types.AssistantText(text)
			o.store.Append(sessionID, final)
			return text, nil
		}

		for _, call := range decision.Calls {
			if call.Arguments == nil {
				call.Arguments = map[string]any{}
			}
			propagateCreated(call.Arguments, created)
			result := o.executeCall(ctx, sessionID, call, history)
			if result.Error == nil {
				harvestCreated(call.Name, result.Payload, created)
			}
			// Call and result are appended together so a snapshot taken
			// between round trips never shows an unpaired call.
			o.store.Append(sessionID, call, result)
			history = append(history, call, result)
		}
	}

	capErr := core.NewIterationCapError(o.cfg.MaxRoundTrips)
	o.log.Error("turn exceeded round-trip cap",
		slog.String("session_id", sessionID),
		slog.String("error_type", string(capErr.Type)),
		slog.String("error", capErr.Message))
	o.store.Append(sessionID, types.AssistantText(FallbackText))
	return FallbackText, nil
}

// planRoundTrip calls the planner once, retrying transient failures with
// exponential backoff. Each attempt gets its own timeout.
func (o *Orchestrator) planRoundTrip(ctx context.Context, req types.OrchestrationRequest) (llm.TurnDecision, error) {
	var decision llm.TurnDecision
	backoff := retry.WithMaxRetries(o.cfg.MaxRetries, retry.NewExponential(250*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, o.cfg.RoundTripTimeout)
		defer cancel()

		d, err := o.planner.PlanTurn(attemptCtx, req)
		if err != nil {
			if IsTransient(err) {
				o.log.Warn("planner round trip failed, retrying",
					slog.String("session_id", req.SessionID),
					slog.Any("error", err))
				return retry.RetryableError(err)
			}
			return err
		}
		decision = d
		return nil
	})
	if err != nil {
		return llm.TurnDecision{}, core.AsError(err)
	}
	return decision, nil
}

// executeCall runs the validation gate and dispatch for one call, always
// producing the paired function result. Failures become result errors fed
// back to the planner, never loop aborts.
func (o *Orchestrator) executeCall(ctx context.Context, sessionID string, call types.Message, history []types.Message) types.Message {
	if !o.executor.Known(call.Name) {
		o.log.Error("planner requested unknown operation",
			slog.String("session_id", sessionID),
			slog.String("operation", call.Name))
		unknownErr := core.NewUnknownOperationError(call.Name)
		return types.FunctionResultError(call.CallID, unknownErr.Code, unknownErr.Message)
	}

	verdict, err := o.validator.Validate(ctx, sessionID, call, history)
	if err != nil {
		coreErr := core.AsError(err)
		return types.FunctionResultError(call.CallID, string(coreErr.Type), coreErr.Message)
	}
	if verdict.Blocks() {
		blockErr := core.NewValidationBlockedError(call.Name, verdict.Reasoning)
		return types.FunctionResultError(call.CallID, string(blockErr.Type), blockErr.Message)
	}

	payload, err := o.executor.Execute(core.WithSessionID(ctx, sessionID), call.Name, call.Arguments)
	if err != nil {
		coreErr := core.AsError(err)
		code := coreErr.Code
		if code == "" {
			code = string(coreErr.Type)
		}
		return types.FunctionResultError(call.CallID, code, coreErr.Message)
	}
	return types.FunctionResult(call.CallID, payload)
}

// propagateCreated fills arguments the planner left empty with ids
// harvested earlier in the same turn.
func propagateCreated(args map[string]any, created map[string]any) {
	for key, value := range created {
		current, ok := args[key]
		if !ok || current == nil || current == "" {
			args[key] = value
		}
	}
}

// harvestCreated remembers identifiers returned by create-style
// operations so the next call in the chain can use them.
func harvestCreated(operation string, payload json.RawMessage, created map[string]any) {
	if !strings.HasPrefix(operation, "create_") && !strings.HasPrefix(operation, "book_") {
		return
	}
	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		return
	}
	for key, value := range fields {
		if key != "id" && !strings.HasSuffix(key, "_id") {
			continue
		}
		if s, ok := value.(string); ok && s != "" {
			created[key] = s
		}
	}
}

// IsTransient reports whether err is worth surfacing to the caller as a
// temporary condition rather than a hard failure.
func IsTransient(err error) bool {
	var coreErr *core.Error
	return errors.As(err, &coreErr) && coreErr.IsRetryable()
}
