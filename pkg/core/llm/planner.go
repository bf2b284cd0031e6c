// Package llm holds the model clients: the planner that drives each
// conversation turn and decides which operations to call, and prompt
// plumbing shared with the validation and workflow layers.
package llm

import (
	"context"

	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
)

// TurnDecision is one planner round-trip result. Either Calls is non-empty
// and the turn continues with tool execution, or Text carries the final
// utterance for the caller.
type TurnDecision struct {
	// Text is the assistant's spoken reply. May accompany Calls, in which
	// case it is interim narration and not the final utterance.
	Text string

	// Calls are the function_call messages the planner requested, in order.
	// The orchestrator executes them one at a time.
	Calls []types.Message
}

// Planner produces one decision per round trip. Implementations must be
// safe for concurrent use across sessions.
type Planner interface {
	PlanTurn(ctx context.Context, req types.OrchestrationRequest) (TurnDecision, error)
}
