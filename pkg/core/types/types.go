package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind discriminates the history message union.
type MessageKind string

const (
	KindUserText       MessageKind = "user_text"
	KindAssistantText  MessageKind = "assistant_text"
	KindFunctionCall   MessageKind = "function_call"
	KindFunctionResult MessageKind = "function_result"
)

// Channel identifies how the caller reached us.
type Channel string

const (
	ChannelVoice Channel = "voice"
	ChannelText  Channel = "text"
)

// Message is one entry in a session's conversation history. Exactly the
// fields for its Kind are populated; everything else stays zero.
type Message struct {
	Kind MessageKind `json:"kind"`

	// user_text / assistant_text
	Text string `json:"text,omitempty"`

	// function_call
	Name      string         `json:"name,omitempty"`
	CallID    string         `json:"call_id,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// function_result
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *CallError      `json:"error,omitempty"`
}

// CallError is the error half of a function result, fed back to the
// planner so it can self-correct instead of aborting the turn.
type CallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CallError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func UserText(text string) Message {
	return Message{Kind: KindUserText, Text: text}
}

func AssistantText(text string) Message {
	return Message{Kind: KindAssistantText, Text: text}
}

func FunctionCall(callID, name string, args map[string]any) Message {
	return Message{Kind: KindFunctionCall, CallID: callID, Name: name, Arguments: args}
}

func FunctionResult(callID string, payload json.RawMessage) Message {
	return Message{Kind: KindFunctionResult, CallID: callID, Payload: payload}
}

func FunctionResultError(callID, code, message string) Message {
	return Message{Kind: KindFunctionResult, CallID: callID, Error: &CallError{Code: code, Message: message}}
}

// ValidatePairing checks the history pairing invariant: every function_call
// is immediately followed by exactly one function_result with the same call id.
func ValidatePairing(history []Message) error {
	for i, msg := range history {
		if msg.Kind != KindFunctionCall {
			continue
		}
		if i+1 >= len(history) {
			return fmt.Errorf("function_call %q at %d has no result", msg.CallID, i)
		}
		next := history[i+1]
		if next.Kind != KindFunctionResult {
			return fmt.Errorf("function_call %q at %d followed by %s, want function_result", msg.CallID, i, next.Kind)
		}
		if next.CallID != msg.CallID {
			return fmt.Errorf("function_call %q at %d paired with result %q", msg.CallID, i, next.CallID)
		}
	}
	return nil
}

// ToolSpec describes one external operation the planner may request.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	JSONSchema  map[string]any `json:"json_schema"`
}

// OrchestrationRequest is built fresh for every planner round trip and
// never persisted.
type OrchestrationRequest struct {
	SessionID    string     `json:"session_id"`
	Instructions string     `json:"instructions"`
	Tools        []ToolSpec `json:"tools"`
	Input        []Message  `json:"input"`
}

// Severity grades a validation verdict.
type Severity string

const (
	SeverityNone     Severity = "none"
	SeverityLow      Severity = "low"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidationVerdict is the validator's judgment on one mutating call.
// CorrectedArguments are recorded for operator visibility only; they are
// never substituted into the live call.
type ValidationVerdict struct {
	CallID             string         `json:"call_id"`
	OperationType      string         `json:"operation_type"`
	Valid              bool           `json:"valid"`
	Severity           Severity       `json:"severity"`
	Reasoning          string         `json:"reasoning"`
	CorrectedArguments map[string]any `json:"corrected_arguments,omitempty"`
}

// Blocks reports whether this verdict must stop the call from executing.
func (v ValidationVerdict) Blocks() bool {
	return !v.Valid && v.Severity == SeverityCritical
}

// WorkflowStep is one operation in a synthesized plan.
type WorkflowStep struct {
	FunctionName string            `json:"function_name"`
	InputMapping map[string]string `json:"input_mapping,omitempty"`
}

// WorkflowDefinition is a multi-step plan for a caller intent. Definitions
// are chosen whole from a single candidate; two candidates are never merged.
type WorkflowDefinition struct {
	Intent             string         `json:"intent"`
	Steps              []WorkflowStep `json:"steps"`
	RequiredUserInputs []string       `json:"required_user_inputs,omitempty"`
}

// Validate rejects structurally unusable definitions before they are cached.
func (w WorkflowDefinition) Validate() error {
	if w.Intent == "" {
		return fmt.Errorf("workflow intent is required")
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", w.Intent)
	}
	for i, step := range w.Steps {
		if step.FunctionName == "" {
			return fmt.Errorf("workflow %q step %d has no function name", w.Intent, i)
		}
	}
	return nil
}

// Session is one caller's conversation as held by the state store.
type Session struct {
	ID             string    `json:"id"`
	Channel        Channel   `json:"channel"`
	History        []Message `json:"history"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// IsFirstTurn reports whether the session has no history yet; the bridge
// greets the caller before any user input arrives in that case.
func (s *Session) IsFirstTurn() bool {
	return s == nil || len(s.History) == 0
}
