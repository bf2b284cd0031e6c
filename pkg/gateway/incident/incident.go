// Package incident persists an append-only record of validation and
// arbitration events for operator review. The bridge never reads from it
// during a call; it exists so a human can reconstruct why a mutating
// operation was blocked or why a workflow candidate was chosen.
package incident

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
)

// Kind discriminates incident rows.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindArbitration Kind = "arbitration"
)

// Incident is one recorded event.
type Incident struct {
	ID            string
	Timestamp     time.Time
	SessionID     string
	Kind          Kind
	Operation     string
	Severity      types.Severity
	Verdict       string
	Reasoning     string
	OriginalArgs  map[string]any
	CorrectedArgs map[string]any
}

// Log is a sqlite-backed incident store. Safe for concurrent use; the
// database/sql pool serializes writers.
type Log struct {
	db *sql.DB
}

// Open opens or creates the incident database at path. Use ":memory:" in
// tests.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open incident db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping incident db: %w", err)
	}

	log := &Log{db: db}
	if err := log.initialize(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize incident db: %w", err)
	}
	return log, nil
}

func (l *Log) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		ts DATETIME NOT NULL,
		session_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		operation TEXT NOT NULL,
		severity TEXT,
		verdict TEXT NOT NULL,
		reasoning TEXT,
		original_args TEXT,
		corrected_args TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_session ON incidents(session_id);
	CREATE INDEX IF NOT EXISTS idx_incidents_ts ON incidents(ts);
	`
	_, err := l.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	return l.db.Close()
}

// RecordValidation appends the verdict for one reviewed call.
func (l *Log) RecordValidation(ctx context.Context, sessionID string, verdict types.ValidationVerdict, originalArgs map[string]any) error {
	outcome := "passed"
	if !verdict.Valid {
		outcome = "flagged"
	}
	if verdict.Blocks() {
		outcome = "blocked"
	}
	return l.insert(ctx, Incident{
		SessionID:     sessionID,
		Kind:          KindValidation,
		Operation:     verdict.OperationType,
		Severity:      verdict.Severity,
		Verdict:       outcome,
		Reasoning:     verdict.Reasoning,
		OriginalArgs:  originalArgs,
		CorrectedArgs: verdict.CorrectedArguments,
	})
}

// RecordArbitration appends the outcome of one workflow arbitration round.
func (l *Log) RecordArbitration(ctx context.Context, sessionID, intent, outcome, reasoning string) error {
	return l.insert(ctx, Incident{
		SessionID: sessionID,
		Kind:      KindArbitration,
		Operation: intent,
		Verdict:   outcome,
		Reasoning: reasoning,
	})
}

func (l *Log) insert(ctx context.Context, inc Incident) error {
	if inc.ID == "" {
		inc.ID = uuid.NewString()
	}
	if inc.Timestamp.IsZero() {
		inc.Timestamp = time.Now().UTC()
	}

	original, err := marshalArgs(inc.OriginalArgs)
	if err != nil {
		return fmt.Errorf("encode original args: %w", err)
	}
	corrected, err := marshalArgs(inc.CorrectedArgs)
	if err != nil {
		return fmt.Errorf("encode corrected args: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		INSERT INTO incidents (id, ts, session_id, kind, operation, severity, verdict, reasoning, original_args, corrected_args)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.ID, inc.Timestamp, inc.SessionID, string(inc.Kind), inc.Operation,
		string(inc.Severity), inc.Verdict, inc.Reasoning, original, corrected,
	)
	if err != nil {
		return fmt.Errorf("insert incident: %w", err)
	}
	return nil
}

func marshalArgs(args map[string]any) (string, error) {
	if len(args) == 0 {
		return "", nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// List returns the most recent incidents, newest first.
func (l *Log) List(ctx context.Context, limit int) ([]Incident, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, ts, session_id, kind, operation, severity, verdict, reasoning, original_args, corrected_args
		FROM incidents ORDER BY ts DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query incidents: %w", err)
	}
	defer rows.Close()

	var out []Incident
	for rows.Next() {
		var inc Incident
		var kind, severity, original, corrected string
		if err := rows.Scan(&inc.ID, &inc.Timestamp, &inc.SessionID, &kind, &inc.Operation,
			&severity, &inc.Verdict, &inc.Reasoning, &original, &corrected); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.Kind = Kind(kind)
		inc.Severity = types.Severity(severity)
		if original != "" {
			if err := json.Unmarshal([]byte(original), &inc.OriginalArgs); err != nil {
				return nil, fmt.Errorf("decode original args: %w", err)
			}
		}
		if corrected != "" {
			if err := json.Unmarshal([]byte(corrected), &inc.CorrectedArgs); err != nil {
				return nil, fmt.Errorf("decode corrected args: %w", err)
			}
		}
		out = append(out, inc)
	}
	return out, rows.Err()
}
