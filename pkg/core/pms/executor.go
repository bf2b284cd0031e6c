package pms

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/frontdesk-ai/frontdesk/pkg/core"
	"github.com/frontdesk-ai/frontdesk/pkg/core/types"
)

// operation is one registry entry: the tool declaration the planner sees
// plus the parameter names that must be present before dispatch.
type operation struct {
	spec     types.ToolSpec
	required []string
}

// Executor maps operation names onto practice-system calls. The registry
// is closed: a name the table does not carry is an error, never a
// pass-through.
type Executor struct {
	caller Caller
	ops    map[string]operation
	log    *slog.Logger
}

// NewExecutor builds the executor over a Caller with the full operation
// registry.
func NewExecutor(caller Caller, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	e := &Executor{caller: caller, ops: map[string]operation{}, log: log}
	for _, op := range registry() {
		e.ops[op.spec.Name] = op
	}
	return e
}

// Tools returns the planner-facing declarations for every registered
// operation, in stable order.
func (e *Executor) Tools() []types.ToolSpec {
	ops := registry()
	out := make([]types.ToolSpec, len(ops))
	for i, op := range ops {
		out[i] = op.spec
	}
	return out
}

// Known reports whether name is a registered operation.
func (e *Executor) Known(name string) bool {
	_, ok := e.ops[name]
	return ok
}

// Execute validates arguments against the operation's schema and
// dispatches. Unknown names and schema violations return typed errors so
// the orchestrator can feed them back to the planner as function results.
func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) (json.RawMessage, error) {
	op, ok := e.ops[name]
	if !ok {
		e.log.Error("unknown operation requested", slog.String("operation", name))
		return nil, core.NewUnknownOperationError(name)
	}

	for _, param := range op.required {
		if !present(args, param) {
			return nil, core.NewInvalidArgumentsError(name, param,
				"required parameter is missing or empty")
		}
	}

	return e.caller.Call(ctx, name, args)
}

func present(args map[string]any, param string) bool {
	v, ok := args[param]
	if !ok || v == nil {
		return false
	}
	if s, ok := v.(string); ok && s == "" {
		return false
	}
	return true
}

func schema(props map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func str(desc string) map[string]any {
	return map[string]any{"type": "string", "description": desc}
}

func registry() []operation {
	search := []string{}
	createPatient := []string{"first_name", "last_name", "phone_number"}
	availability := []string{"appointment_type"}
	book := []string{"patient_id", "slot_id", "appointment_type"}
	reschedule := []string{"appointment_id", "slot_id"}
	cancel := []string{"appointment_id"}
	get := []string{"appointment_id"}

	return []operation{
		{
			spec: types.ToolSpec{
				Name:        "search_patient",
				Description: "Look up an existing patient record by name, date of birth, or phone number.",
				JSONSchema: schema(map[string]any{
					"first_name":    str("Patient first name"),
					"last_name":     str("Patient last name"),
					"date_of_birth": str("Date of birth, YYYY-MM-DD"),
					"phone_number":  str("Phone number in E.164 form"),
				}, search),
			},
		},
		{
			spec: types.ToolSpec{
				Name:        "create_patient",
				Description: "Create a new patient record. Only use after search_patient found no match.",
				JSONSchema: schema(map[string]any{
					"first_name":    str("Patient first name"),
					"last_name":     str("Patient last name"),
					"date_of_birth": str("Date of birth, YYYY-MM-DD"),
					"phone_number":  str("Phone number in E.164 form"),
					"email":         str("Contact email, optional"),
				}, createPatient),
			},
			required: createPatient,
		},
		{
			spec: types.ToolSpec{
				Name:        "get_availability",
				Description: "List open appointment slots for a given appointment type and date range.",
				JSONSchema: schema(map[string]any{
					"appointment_type": str("Appointment type code"),
					"from_date":        str("Earliest acceptable date, YYYY-MM-DD"),
					"to_date":          str("Latest acceptable date, YYYY-MM-DD"),
					"provider_id":      str("Preferred provider, optional"),
				}, availability),
			},
			required: availability,
		},
		{
			spec: types.ToolSpec{
				Name:        "book_appointment",
				Description: "Book an open slot for a patient. Requires an existing patient_id and a slot_id from get_availability.",
				JSONSchema: schema(map[string]any{
					"patient_id":       str("Patient record id"),
					"slot_id":          str("Slot id from get_availability"),
					"appointment_type": str("Appointment type code"),
					"notes":            str("Free-text note for the practice, optional"),
				}, book),
			},
			required: book,
		},
		{
			spec: types.ToolSpec{
				Name:        "reschedule_appointment",
				Description: "Move an existing appointment to a new slot.",
				JSONSchema: schema(map[string]any{
					"appointment_id": str("Existing appointment id"),
					"slot_id":        str("New slot id from get_availability"),
				}, reschedule),
			},
			required: reschedule,
		},
		{
			spec: types.ToolSpec{
				Name:        "cancel_appointment",
				Description: "Cancel an existing appointment.",
				JSONSchema: schema(map[string]any{
					"appointment_id": str("Existing appointment id"),
					"reason":         str("Cancellation reason, optional"),
				}, cancel),
			},
			required: cancel,
		},
		{
			spec: types.ToolSpec{
				Name:        "get_appointment",
				Description: "Fetch the details of one appointment.",
				JSONSchema: schema(map[string]any{
					"appointment_id": str("Appointment id"),
				}, get),
			},
			required: get,
		},
	}
}
