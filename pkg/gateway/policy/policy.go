package policy

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// FailureMode decides what happens when the validator itself is unreachable.
type FailureMode string

const (
	// FailOpen proceeds without validation and logs a warning.
	FailOpen FailureMode = "open"
	// FailClosed blocks the call with a transient error.
	FailClosed FailureMode = "closed"
)

// Operation is the risk posture of one practice-management operation.
type Operation struct {
	Mutating    bool        `toml:"mutating"`
	Validate    bool        `toml:"validate"`
	FailureMode FailureMode `toml:"failure_mode"`
}

// Policy maps operation names to their risk posture. Unknown operations
// fall back to a conservative default: mutating, validated, fail closed.
type Policy struct {
	Operations map[string]Operation `toml:"operations"`
}

// Default returns the shipped posture. Bookings, reschedules, and patient
// creation are validated; cancellation is not (lower blast radius). Only
// create-class operations fail closed when the validator is down.
func Default() Policy {
	return Policy{Operations: map[string]Operation{
		"search_patient":         {Mutating: false},
		"plan_workflow":          {Mutating: false},
		"get_availability":       {Mutating: false},
		"get_appointment":        {Mutating: false},
		"create_patient":         {Mutating: true, Validate: true, FailureMode: FailClosed},
		"book_appointment":       {Mutating: true, Validate: true, FailureMode: FailClosed},
		"reschedule_appointment": {Mutating: true, Validate: true, FailureMode: FailOpen},
		"cancel_appointment":     {Mutating: true, Validate: false, FailureMode: FailOpen},
	}}
}

// Load reads a TOML policy file and overlays it on the defaults, so a
// deployment only declares the operations it wants to change.
func Load(path string) (Policy, error) {
	base := Default()
	if path == "" {
		return base, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("read policy file: %w", err)
	}

	var overlay Policy
	if err := toml.Unmarshal(data, &overlay); err != nil {
		return Policy{}, fmt.Errorf("parse policy file: %w", err)
	}

	for name, op := range overlay.Operations {
		if err := validateOperation(name, op); err != nil {
			return Policy{}, err
		}
		base.Operations[name] = op
	}
	return base, nil
}

func validateOperation(name string, op Operation) error {
	if name == "" {
		return fmt.Errorf("policy operation name must not be empty")
	}
	switch op.FailureMode {
	case "", FailOpen, FailClosed:
	default:
		return fmt.Errorf("policy operation %q: failure_mode must be open or closed", name)
	}
	if op.Validate && !op.Mutating {
		return fmt.Errorf("policy operation %q: validate requires mutating", name)
	}
	return nil
}

// For returns the posture for an operation name. Operations absent from the
// policy get the conservative default so a config gap never skips review.
func (p Policy) For(name string) Operation {
	if op, ok := p.Operations[name]; ok {
		if op.FailureMode == "" {
			op.FailureMode = FailOpen
		}
		return op
	}
	return Operation{Mutating: true, Validate: true, FailureMode: FailClosed}
}
