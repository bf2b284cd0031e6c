package incident

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "incidents.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestRecordValidationRoundTrip(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	verdict := types.ValidationVerdict{
		CallID:        "call-1",
		OperationType: "book_appointment",
		Valid:         false,
		Severity:      types.SeverityCritical,
		Reasoning:     "slot already taken",
		CorrectedArguments: map[string]any{
			"slot_id": "slot-9",
		},
	}
	args := map[string]any{"slot_id": "slot-3", "patient_id": "pat-1"}
	if err := log.RecordValidation(ctx, "sess-1", verdict, args); err != nil {
		t.Fatalf("RecordValidation: %v", err)
	}

	incidents, err := log.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(incidents) != 1 {
		t.Fatalf("len(incidents) = %d, want 1", len(incidents))
	}
	inc := incidents[0]
	if inc.Kind != KindValidation {
		t.Errorf("kind = %q, want validation", inc.Kind)
	}
	if inc.Verdict != "blocked" {
		t.Errorf("verdict = %q, want blocked", inc.Verdict)
	}
	if inc.Operation != "book_appointment" {
		t.Errorf("operation = %q", inc.Operation)
	}
	if inc.OriginalArgs["slot_id"] != "slot-3" {
		t.Errorf("original args = %v", inc.OriginalArgs)
	}
	if inc.CorrectedArgs["slot_id"] != "slot-9" {
		t.Errorf("corrected args = %v", inc.CorrectedArgs)
	}
}

func TestValidationOutcomes(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	cases := []struct {
		valid    bool
		severity types.Severity
		want     string
	}{
		{true, types.SeverityNone, "passed"},
		{false, types.SeverityLow, "flagged"},
		{false, types.SeverityCritical, "blocked"},
	}
	for _, tc := range cases {
		v := types.ValidationVerdict{OperationType: "book_appointment", Valid: tc.valid, Severity: tc.severity}
		if err := log.RecordValidation(ctx, "sess-1", v, nil); err != nil {
			t.Fatalf("RecordValidation: %v", err)
		}
	}

	incidents, err := log.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := map[string]bool{}
	for _, inc := range incidents {
		got[inc.Verdict] = true
	}
	for _, tc := range cases {
		if !got[tc.want] {
			t.Errorf("missing verdict %q in %v", tc.want, got)
		}
	}
}

func TestRecordArbitration(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	if err := log.RecordArbitration(ctx, "sess-2", "reschedule_existing", "first_correct", "candidate two skipped availability check"); err != nil {
		t.Fatalf("RecordArbitration: %v", err)
	}

	incidents, err := log.List(ctx, 1)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(incidents) != 1 || incidents[0].Kind != KindArbitration {
		t.Fatalf("incidents = %+v, want one arbitration row", incidents)
	}
	if incidents[0].Operation != "reschedule_existing" {
		t.Errorf("operation = %q", incidents[0].Operation)
	}
}

func TestListLimit(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := log.RecordArbitration(ctx, "sess-3", "book_new", "both_correct", ""); err != nil {
			t.Fatalf("RecordArbitration: %v", err)
		}
	}
	incidents, err := log.List(ctx, 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(incidents) != 3 {
		t.Fatalf("len = %d, want 3", len(incidents))
	}
}
