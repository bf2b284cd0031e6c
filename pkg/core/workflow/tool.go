package workflow

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
)

// ToolName is the pseudo-operation the planner calls when a caller request
// matches no known workflow and a fresh plan is needed.
const ToolName = "plan_workflow"

// Dispatcher is the executor the toolset wraps. Everything except
// plan_workflow passes straight through to it.
type Dispatcher interface {
	Tools() []types.ToolSpec
	Known(name string) bool
	Execute(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// Toolset layers workflow synthesis on top of a practice-system executor so
// the planner sees one flat tool catalogue.
type Toolset struct {
	next  Dispatcher
	synth *Synthesizer
}

func NewToolset(next Dispatcher, synth *Synthesizer) *Toolset {
	return &Toolset{next: next, synth: synth}
}

func (t *Toolset) Tools() []types.ToolSpec {
	tools := append([]types.ToolSpec(nil), t.next.Tools()...)
	return append(tools, types.ToolSpec{
		Name:        ToolName,
		Description: "Generate a step-by-step plan for a caller request that no existing workflow covers. Returns the ordered operations to perform and the details that must be collected from the caller first.",
		JSONSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"intent": map[string]any{
					"type":        "string",
					"description": "Short name for what the caller wants, e.g. new_patient_booking",
				},
			},
			"required": []string{"intent"},
		},
	})
}

// Known reports whether name is plan_workflow or a registered operation on
// the wrapped executor.
func (t *Toolset) Known(name string) bool {
	return name == ToolName || t.next.Known(name)
}

func (t *Toolset) Execute(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	if name != ToolName {
		return t.next.Execute(ctx, name, args)
	}

	intent, _ := args["intent"].(string)
	if strings.TrimSpace(intent) == "" {
		return nil, core.NewInvalidArgumentsError(ToolName, "intent", "intent is required")
	}

	sessionID, _ := core.SessionIDFrom(ctx)
	def, err := t.synth.Definition(ctx, sessionID, intent)
	if err != nil {
		return nil, err
	}
	return json.Marshal(def)
}
