// Package validate gives a second, independent model a veto over mutating
// practice-system operations before they execute. The planner proposes,
// the reviewer judges; neither can both propose and approve a write.
package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/incident"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/policy"
)

// Reviewer answers one review prompt with the model's raw reply.
type Reviewer interface {
	Review(ctx context.Context, prompt string) (string, error)
}

// Validator applies the risk policy and the reviewer model to one call at
// a time. Safe for concurrent use across sessions.
type Validator struct {
	reviewer  Reviewer
	policy    policy.Policy
	incidents *incident.Log
	log       *slog.Logger
}

// New builds a Validator. incidents may be nil in tests that do not
// assert on the audit trail.
func New(reviewer Reviewer, pol policy.Policy, incidents *incident.Log, log *slog.Logger) *Validator {
	if log == nil {
		log = slog.Default()
	}
	return &Validator{reviewer: reviewer, policy: pol, incidents: incidents, log: log}
}

// Validate judges one proposed call. Reads and policy-disabled operations
// bypass review with a passing verdict. A blocking verdict means the
// caller must not execute the operation. A transient error means the
// reviewer was unreachable and the operation's failure mode is closed.
func (v *Validator) Validate(ctx context.Context, sessionID string, call types.Message, history []types.Message) (types.ValidationVerdict, error) {
	verdict := types.ValidationVerdict{
		CallID:        call.CallID,
		OperationType: call.Name,
		Valid:         true,
		Severity:      types.SeverityNone,
	}

	op := v.policy.For(call.Name)
	if !op.Mutating || !op.Validate {
		return verdict, nil
	}

	reply, err := v.reviewer.Review(ctx, buildPrompt(call, history))
	if err != nil {
		if op.FailureMode == policy.FailClosed {
			v.log.Error("validator unreachable, failing closed",
				slog.String("session_id", sessionID),
				slog.String("operation", call.Name),
				slog.Any("error", err))
			return verdict, core.NewTransientUpstreamError("validator", err)
		}
		v.log.Warn("validator unreachable, proceeding without review",
			slog.String("session_id", sessionID),
			slog.String("operation", call.Name),
			slog.Any("error", err))
		verdict.Reasoning = "validator unreachable, failed open"
		return verdict, nil
	}

	parsed, err := parseVerdict(reply)
	if err != nil {
		// An unparseable reply is treated like an unreachable reviewer.
		if op.FailureMode == policy.FailClosed {
			return verdict, core.NewTransientUpstreamError("validator", err)
		}
		v.log.Warn("validator reply unparseable, proceeding",
			slog.String("session_id", sessionID),
			slog.String("operation", call.Name),
			slog.Any("error", err))
		verdict.Reasoning = "validator reply unparseable, failed open"
		return verdict, nil
	}

	verdict.Valid = parsed.Valid
	verdict.Severity = parsed.Severity
	verdict.Reasoning = parsed.Reasoning
	verdict.CorrectedArguments = parsed.CorrectedArguments

	if v.incidents != nil {
		if err := v.incidents.RecordValidation(ctx, sessionID, verdict, call.Arguments); err != nil {
			v.log.Warn("incident write failed", slog.Any("error", err))
		}
	}

	if verdict.Blocks() {
		v.log.Warn("operation blocked by validator",
			slog.String("session_id", sessionID),
			slog.String("operation", call.Name),
			slog.String("reasoning", verdict.Reasoning))
	}
	return verdict, nil
}

// modelVerdict is the JSON contract the reviewer is prompted to emit.
type modelVerdict struct {
	Valid              bool           `json:"valid"`
	Severity           types.Severity `json:"severity"`
	Reasoning          string         `json:"reasoning"`
	CorrectedArguments map[string]any `json:"corrected_arguments,omitempty"`
}

func parseVerdict(reply string) (modelVerdict, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return modelVerdict{}, fmt.Errorf("no JSON object in reviewer reply")
	}
	var parsed modelVerdict
	if err := json.Unmarshal([]byte(reply[start:end+1]), &parsed); err != nil {
		return modelVerdict{}, fmt.Errorf("decode reviewer verdict: %w", err)
	}
	switch parsed.Severity {
	case types.SeverityNone, types.SeverityLow, types.SeverityHigh, types.SeverityCritical:
	case "":
		parsed.Severity = types.SeverityNone
	default:
		return modelVerdict{}, fmt.Errorf("unknown severity %q", parsed.Severity)
	}
	return parsed, nil
}

func buildPrompt(call types.Message, history []types.Message) string {
	args, err := json.Marshal(call.Arguments)
	if err != nil {
		args = []byte("{}")
	}

	var b strings.Builder
	b.WriteString("You are reviewing a proposed write to a medical practice-management system.\n")
	b.WriteString("Judge whether the operation and its arguments are consistent with the conversation.\n")
	b.WriteString("Watch for fabricated identifiers, dates the caller never confirmed, and arguments with no source in the transcript.\n\n")
	fmt.Fprintf(&b, "Operation: %s\nArguments: %s\n\nConversation:\n", call.Name, args)
	writeTranscript(&b, history)
	b.WriteString("\nReply with exactly one JSON object:\n")
	b.WriteString(`{"valid": bool, "severity": "none"|"low"|"high"|"critical", "reasoning": string, "corrected_arguments": object|null}`)
	b.WriteString("\nUse severity critical only when executing the call would harm the caller or corrupt records.")
	return b.String()
}

// writeTranscript renders the recent history in a compact reviewer-facing
// form. Only the last few entries matter for judging one call.
func writeTranscript(b *strings.Builder, history []types.Message) {
	const window = 20
	if len(history) > window {
		history = history[len(history)-window:]
	}
	for _, msg := range history {
		switch msg.Kind {
		case types.KindUserText:
			fmt.Fprintf(b, "caller: %s\n", msg.Text)
		case types.KindAssistantText:
			fmt.Fprintf(b, "assistant: %s\n", msg.Text)
		case types.KindFunctionCall:
			args, _ := json.Marshal(msg.Arguments)
			fmt.Fprintf(b, "call %s(%s)\n", msg.Name, args)
		case types.KindFunctionResult:
			if msg.Error != nil {
				fmt.Fprintf(b, "result error: %s\n", msg.Error.Error())
			} else {
				fmt.Fprintf(b, "result: %s\n", msg.Payload)
			}
		}
	}
}
