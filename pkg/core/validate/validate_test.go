package validate

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/incident"
	"github.com/frontdesk-ai/frontdesk/pkg/gateway/policy"
)

type fakeReviewer struct {
	reply      string
	err        error
	lastPrompt string
	calls      int
}

func (f *fakeReviewer) Review(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.lastPrompt = prompt
	return f.reply, f.err
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func bookCall(args map[string]any) types.Message {
	return types.FunctionCall("call-1", "book_appointment", args)
}

func TestReadsBypassReview(t *testing.T) {
	reviewer := &fakeReviewer{}
	v := New(reviewer, policy.Default(), nil, discard())

	verdict, err := v.Validate(context.Background(), "s1",
		types.FunctionCall("c1", "search_patient", map[string]any{"last_name": "Diaz"}), nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !verdict.Valid || reviewer.calls != 0 {
		t.Fatalf("read bypassed = %v, reviewer calls = %d", verdict.Valid, reviewer.calls)
	}
}

func TestPolicyDisabledOperationBypasses(t *testing.T) {
	reviewer := &fakeReviewer{}
	v := New(reviewer, policy.Default(), nil, discard())

	verdict, err := v.Validate(context.Background(), "s1",
		types.FunctionCall("c1", "cancel_appointment", map[string]any{"appointment_id": "apt-1"}), nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !verdict.Valid || reviewer.calls != 0 {
		t.Fatalf("cancel should bypass by default, reviewer calls = %d", reviewer.calls)
	}
}

func TestCriticalInvalidBlocks(t *testing.T) {
	reviewer := &fakeReviewer{
		reply: `{"valid": false, "severity": "critical", "reasoning": "patient_id was never established in the conversation"}`,
	}
	v := New(reviewer, policy.Default(), nil, discard())

	verdict, err := v.Validate(context.Background(), "s1",
		bookCall(map[string]any{"patient_id": "pat-999", "slot_id": "s1"}), nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !verdict.Blocks() {
		t.Fatalf("verdict = %+v, want blocking", verdict)
	}
}

func TestNonCriticalInvalidDoesNotBlock(t *testing.T) {
	reviewer := &fakeReviewer{
		reply: `{"valid": false, "severity": "low", "reasoning": "minor date format concern"}`,
	}
	v := New(reviewer, policy.Default(), nil, discard())

	verdict, err := v.Validate(context.Background(), "s1", bookCall(nil), nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict.Blocks() {
		t.Fatal("low severity must not block")
	}
}

func TestCorrectedArgumentsRecordedNotSubstituted(t *testing.T) {
	reviewer := &fakeReviewer{
		reply: `{"valid": false, "severity": "high", "reasoning": "slot mismatch", "corrected_arguments": {"slot_id": "s2"}}`,
	}
	log, err := incident.Open(filepath.Join(t.TempDir(), "inc.db"))
	if err != nil {
		t.Fatalf("incident.Open: %v", err)
	}
	defer log.Close()
	v := New(reviewer, policy.Default(), log, discard())

	call := bookCall(map[string]any{"patient_id": "pat-1", "slot_id": "s1"})
	verdict, err := v.Validate(context.Background(), "s1", call, nil)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if verdict.CorrectedArguments["slot_id"] != "s2" {
		t.Fatalf("corrected args = %v", verdict.CorrectedArguments)
	}
	// The live call's arguments are untouched.
	if call.Arguments["slot_id"] != "s1" {
		t.Fatalf("call arguments mutated: %v", call.Arguments)
	}

	incidents, err := log.List(context.Background(), 1)
	if err != nil || len(incidents) != 1 {
		t.Fatalf("incidents = %v, err = %v", incidents, err)
	}
	if incidents[0].CorrectedArgs["slot_id"] != "s2" {
		t.Fatalf("incident corrected args = %v", incidents[0].CorrectedArgs)
	}
}

func TestPassingVerdictRecorded(t *testing.T) {
	reviewer := &fakeReviewer{reply: `{"valid": true, "severity": "none", "reasoning": "consistent"}`}
	log, err := incident.Open(filepath.Join(t.TempDir(), "inc.db"))
	if err != nil {
		t.Fatalf("incident.Open: %v", err)
	}
	defer log.Close()
	v := New(reviewer, policy.Default(), log, discard())

	if _, err := v.Validate(context.Background(), "s1", bookCall(nil), nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	incidents, err := log.List(context.Background(), 1)
	if err != nil || len(incidents) != 1 {
		t.Fatalf("incidents = %v, err = %v", incidents, err)
	}
	if incidents[0].Verdict != "passed" {
		t.Fatalf("verdict = %q, want passed", incidents[0].Verdict)
	}
}

func TestUnreachableReviewerFailsOpenForReschedule(t *testing.T) {
	reviewer := &fakeReviewer{err: core.NewTransientUpstreamError("validator", errors.New("dial tcp: refused"))}
	v := New(reviewer, policy.Default(), nil, discard())

	verdict, err := v.Validate(context.Background(), "s1",
		types.FunctionCall("c1", "reschedule_appointment", map[string]any{"appointment_id": "apt-1"}), nil)
	if err != nil {
		t.Fatalf("reschedule should fail open, got %v", err)
	}
	if !verdict.Valid {
		t.Fatalf("fail-open verdict = %+v", verdict)
	}
}

func TestUnreachableReviewerFailsClosedForBooking(t *testing.T) {
	reviewer := &fakeReviewer{err: core.NewTransientUpstreamError("validator", errors.New("dial tcp: refused"))}
	v := New(reviewer, policy.Default(), nil, discard())

	_, err := v.Validate(context.Background(), "s1", bookCall(nil), nil)
	var coreErr *core.Error
	if !errors.As(err, &coreErr) || coreErr.Type != core.ErrTransientUpstream {
		t.Fatalf("err = %v, want transient_upstream_error", err)
	}
}

func TestPromptCarriesCallAndTranscript(t *testing.T) {
	reviewer := &fakeReviewer{reply: `{"valid": true, "severity": "none"}`}
	v := New(reviewer, policy.Default(), nil, discard())

	history := []types.Message{
		types.UserText("I'd like a cleaning next Tuesday"),
		types.AssistantText("Let me check availability."),
	}
	if _, err := v.Validate(context.Background(), "s1",
		bookCall(map[string]any{"slot_id": "s9"}), history); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	for _, want := range []string{"book_appointment", "s9", "cleaning next Tuesday"} {
		if !strings.Contains(reviewer.lastPrompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestParseVerdictExtractsEmbeddedJSON(t *testing.T) {
	parsed, err := parseVerdict("Here is my judgment:\n{\"valid\": false, \"severity\": \"critical\", \"reasoning\": \"x\"}\nDone.")
	if err != nil {
		t.Fatalf("parseVerdict: %v", err)
	}
	if parsed.Valid || parsed.Severity != types.SeverityCritical {
		t.Fatalf("parsed = %+v", parsed)
	}
}

func TestParseVerdictRejectsGarbage(t *testing.T) {
	if _, err := parseVerdict("I cannot answer that."); err == nil {
		t.Fatal("want error for reply with no JSON")
	}
	if _, err := parseVerdict(`{"valid": true, "severity": "catastrophic"}`); err == nil {
		t.Fatal("want error for unknown severity")
	}
}
