// Package workflow synthesizes multi-step plans for caller intents that
// have no existing definition. Two generators propose independently, an
// arbiter judges both, and exactly one candidate is adopted whole. The
// arbiter never merges candidates: merged plans failed schema validation
// often enough that merging is disallowed outright.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/incident"
)

// Model runs one free-form completion at the given temperature.
type Model interface {
	Complete(ctx context.Context, system, user string, temperature float64) (string, error)
}

const maxRounds = 3

// Synthesizer generates and caches workflow definitions per intent.
// Safe for concurrent use.
type Synthesizer struct {
	model     Model
	tools     []types.ToolSpec
	incidents *incident.Log
	log       *slog.Logger

	mu    sync.Mutex
	cache map[string]types.WorkflowDefinition
}

// New builds a Synthesizer over the shared planner model. tools bounds
// what step functions a generated plan may reference.
func New(model Model, tools []types.ToolSpec, incidents *incident.Log, log *slog.Logger) *Synthesizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synthesizer{
		model:     model,
		tools:     tools,
		incidents: incidents,
		log:       log,
		cache:     map[string]types.WorkflowDefinition{},
	}
}

// Definition returns the workflow for intent, synthesizing one when the
// cache has none. sessionID is carried for the audit trail only.
func (s *Synthesizer) Definition(ctx context.Context, sessionID, intent string) (types.WorkflowDefinition, error) {
	if intent == "" {
		return types.WorkflowDefinition{}, core.NewInvalidRequestError("intent is required", "intent")
	}

	s.mu.Lock()
	if def, ok := s.cache[intent]; ok {
		s.mu.Unlock()
		return def, nil
	}
	s.mu.Unlock()

	def, err := s.synthesize(ctx, sessionID, intent)
	if err != nil {
		return types.WorkflowDefinition{}, err
	}

	s.mu.Lock()
	s.cache[intent] = def
	s.mu.Unlock()
	return def, nil
}

func (s *Synthesizer) synthesize(ctx context.Context, sessionID, intent string) (types.WorkflowDefinition, error) {
	// Rejected candidates accumulate here so a failed plan is never
	// re-proposed verbatim in a later round.
	var excluded []string

	for round := 1; round <= maxRounds; round++ {
		first, firstRaw, errA := s.generate(ctx, intent, excluded, 0.2,
			"Plan conservatively. Prefer the fewest steps that fully satisfy the intent.")
		second, secondRaw, errB := s.generate(ctx, intent, excluded, 0.8,
			"Plan thoroughly. Include every verification step a careful receptionist would take.")
		if errA != nil && errB != nil {
			return types.WorkflowDefinition{}, errA
		}

		ruling, err := s.arbitrate(ctx, intent, firstRaw, secondRaw)
		if err != nil {
			return types.WorkflowDefinition{}, err
		}

		// Structural failures override the arbiter: a plan that does not
		// parse or validate cannot be correct regardless of its prose.
		if errA != nil {
			ruling.FirstCorrect = false
		}
		if errB != nil {
			ruling.SecondCorrect = false
		}

		outcome, chosen := ruling.resolve(first, second)
		s.record(ctx, sessionID, intent, outcome, ruling.Reasoning)

		if chosen != nil {
			s.log.Info("workflow synthesized",
				slog.String("intent", intent),
				slog.String("arbitration", outcome),
				slog.Int("round", round))
			return *chosen, nil
		}

		if firstRaw != "" {
			excluded = append(excluded, firstRaw)
		}
		if secondRaw != "" {
			excluded = append(excluded, secondRaw)
		}
	}

	s.record(ctx, sessionID, intent, "synthesis_failed",
		fmt.Sprintf("no correct candidate after %d rounds", maxRounds))
	return types.WorkflowDefinition{}, core.NewAPIError(
		fmt.Sprintf("could not synthesize a workflow for intent %q", intent))
}

// generate asks one candidate generator for a plan and parses it. The raw
// reply comes back too so rejections can feed the exclusion list.
func (s *Synthesizer) generate(ctx context.Context, intent string, excluded []string, temperature float64, style string) (types.WorkflowDefinition, string, error) {
	reply, err := s.model.Complete(ctx, generatorSystem(style), generatorPrompt(intent, s.tools, excluded), temperature)
	if err != nil {
		return types.WorkflowDefinition{}, "", core.AsError(err)
	}

	raw := extractJSON(reply)
	if raw == "" {
		return types.WorkflowDefinition{}, reply, fmt.Errorf("no JSON plan in generator reply")
	}
	var def types.WorkflowDefinition
	if err := json.Unmarshal([]byte(raw), &def); err != nil {
		return types.WorkflowDefinition{}, raw, fmt.Errorf("decode plan: %w", err)
	}
	if def.Intent == "" {
		def.Intent = intent
	}
	if err := def.Validate(); err != nil {
		return types.WorkflowDefinition{}, raw, err
	}
	for _, step := range def.Steps {
		if !s.knownFunction(step.FunctionName) {
			return types.WorkflowDefinition{}, raw, fmt.Errorf("plan references unknown function %q", step.FunctionName)
		}
	}
	return def, raw, nil
}

func (s *Synthesizer) knownFunction(name string) bool {
	for _, tool := range s.tools {
		if tool.Name == name {
			return true
		}
	}
	return false
}

// ruling is the arbiter's JSON contract.
type ruling struct {
	FirstCorrect  bool   `json:"first_correct"`
	SecondCorrect bool   `json:"second_correct"`
	Chosen        int    `json:"chosen"`
	Reasoning     string `json:"reasoning"`
}

// resolve maps the ruling onto an outcome label and, when at least one
// candidate is correct, exactly one winner.
func (r ruling) resolve(first, second types.WorkflowDefinition) (string, *types.WorkflowDefinition) {
	switch {
	case r.FirstCorrect && r.SecondCorrect:
		if r.Chosen == 2 {
			return "both_correct", &second
		}
		return "both_correct", &first
	case r.FirstCorrect:
		return "first_correct", &first
	case r.SecondCorrect:
		return "second_correct", &second
	default:
		return "none_correct", nil
	}
}

func (s *Synthesizer) arbitrate(ctx context.Context, intent, first, second string) (ruling, error) {
	reply, err := s.model.Complete(ctx, arbiterSystem, arbiterPrompt(intent, first, second), 0)
	if err != nil {
		return ruling{}, core.AsError(err)
	}
	raw := extractJSON(reply)
	if raw == "" {
		return ruling{}, core.NewTransientUpstreamError("planner", fmt.Errorf("no JSON ruling in arbiter reply"))
	}
	var r ruling
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return ruling{}, core.NewTransientUpstreamError("planner", fmt.Errorf("decode ruling: %w", err))
	}
	return r, nil
}

func (s *Synthesizer) record(ctx context.Context, sessionID, intent, outcome, reasoning string) {
	if s.incidents == nil {
		return
	}
	if err := s.incidents.RecordArbitration(ctx, sessionID, intent, outcome, reasoning); err != nil {
		s.log.Warn("arbitration incident write failed", slog.Any("error", err))
	}
}

func generatorSystem(style string) string {
	return "You design call-handling workflows for a medical front desk. " + style
}

func generatorPrompt(intent string, tools []types.ToolSpec, excluded []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Design a workflow for the caller intent %q.\n\nAvailable functions:\n", intent)
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
	}
	b.WriteString("\nReply with exactly one JSON object:\n")
	b.WriteString(`{"intent": string, "steps": [{"function_name": string, "input_mapping": {param: source}}], "required_user_inputs": [string]}`)
	b.WriteString("\nEvery step's function_name must be one of the available functions.")
	if len(excluded) > 0 {
		b.WriteString("\n\nThe following plans were already rejected. Do not propose any of them again:\n")
		for _, plan := range excluded {
			b.WriteString(plan)
			b.WriteString("\n")
		}
	}
	return b.String()
}

const arbiterSystem = "You audit proposed front-desk workflows. Judge each candidate independently on " +
	"correctness, logical soundness, completeness, safety, and efficiency. " +
	"Never combine candidates; when both pass, choose the better one whole."

func arbiterPrompt(intent, first, second string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Intent: %s\n\nCandidate 1:\n%s\n\nCandidate 2:\n%s\n\n", intent, first, second)
	b.WriteString("Reply with exactly one JSON object:\n")
	b.WriteString(`{"first_correct": bool, "second_correct": bool, "chosen": 1|2, "reasoning": string}`)
	return b.String()
}

func extractJSON(reply string) string {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return ""
	}
	return reply[start : end+1]
}
